package types

const redacted = "***REDACTED***"

var redactedJSON = []byte(`"` + redacted + `"`)

// SecretString holds a credential that must never appear in log output or
// serialized responses. Config carries the session signing key, the Stripe
// secret and webhook keys, the generation API key, and the database URL as
// this type, so a config dump through slog or json/encoding shows only a
// placeholder.
type SecretString string

// String satisfies fmt.Stringer with the placeholder, covering %v/%s
// formatting and slog attribute rendering.
func (s SecretString) String() string {
	return redacted
}

// MarshalJSON emits the placeholder so the value cannot escape through an
// API response or a JSON-encoded log entry.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the plaintext. Call sites are the only places the secret
// leaves the type: signing session tokens, authorizing upstream requests,
// opening the database pool.
func (s SecretString) Unmask() string {
	return string(s)
}
