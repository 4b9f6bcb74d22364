package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pitchcraft/internal/types"
)

// TokenSigner issues and verifies stateless session tokens. A token binds an
// account id to an expiry under an HMAC-SHA256 signature, so identity
// resolution needs no session table and keeps working when storage is
// degraded.
type TokenSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokenSigner creates a TokenSigner from the session signing key and TTL.
func NewTokenSigner(key types.SecretString, ttl time.Duration) *TokenSigner {
	return &TokenSigner{
		key: []byte(key.Unmask()),
		ttl: ttl,
		now: time.Now,
	}
}

// Token layout: base64url(accountID.expiryUnix) + "." + hex(hmac).

// Issue creates a signed token for the account.
func (s *TokenSigner) Issue(accountID string) (token string, expiresAt time.Time) {
	expiresAt = s.now().Add(s.ttl)
	payload := fmt.Sprintf("%s.%d", accountID, expiresAt.Unix())
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + s.sign(encoded), expiresAt
}

// Verify checks the signature and expiry and returns the account id.
func (s *TokenSigner) Verify(token string) (string, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed session token", nil)
	}
	if !hmac.Equal([]byte(s.sign(encoded)), []byte(sig)) {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "session token signature mismatch", nil)
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed session token payload", err)
	}
	accountID, expiryStr, ok := strings.Cut(string(raw), ".")
	if !ok || accountID == "" {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed session token payload", nil)
	}
	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed session token expiry", err)
	}
	if s.now().After(time.Unix(expiry, 0)) {
		return "", types.NewAppError(types.ErrCodeAuthTokenInvalid, "session token expired", nil)
	}
	return accountID, nil
}

func (s *TokenSigner) sign(encoded string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
