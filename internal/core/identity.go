package core

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"pitchcraft/internal/types"
)

// Cookie names used by the identity middleware.
const (
	// SessionCookieName carries the signed session token for authenticated
	// callers. Set by the account handlers on register/login.
	SessionCookieName = "pc_session"
	// FingerprintCookieName carries the anonymous caller fingerprint. Issued
	// on first contact and stable for the lifetime of the cookie.
	FingerprintCookieName = "pc_anon"
)

// fingerprintCookieMaxAge keeps the anonymous allowance attached to the same
// browser for a year. The allowance itself never resets, so a longer-lived
// cookie only preserves an already-spent counter.
const fingerprintCookieMaxAge = 365 * 24 * 3600

// TokenVerifier resolves a session token to an account ID.
// *auth.TokenSigner satisfies this interface.
type TokenVerifier interface {
	Verify(token string) (accountID string, err error)
}

// IdentityMiddleware resolves the caller identity for every request and
// stores it in the context via types.WithCaller.
//
// Resolution order:
//  1. Authorization: Bearer <token> header.
//  2. Session cookie.
//  3. Anonymous fingerprint cookie; a new fingerprint is minted and set as a
//     cookie when none is present.
//
// A present-but-invalid token is rejected with 401 rather than silently
// downgraded to anonymous: treating a broken session as a fresh anonymous
// caller would hand out a second free allowance.
func (s *Server) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractSessionToken(r)

		var caller types.CallerIdentity
		if token != "" {
			accountID, err := s.Tokens.Verify(token)
			if err != nil {
				Error(w, r, err)
				return
			}
			caller = types.CallerIdentity{AccountID: accountID}
		} else {
			caller = types.CallerIdentity{Fingerprint: s.resolveFingerprint(w, r)}
		}

		ctx := types.WithCaller(r.Context(), caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractSessionToken returns the session token from the Authorization header
// or the session cookie, preferring the header. Returns "" when neither is
// present.
func extractSessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}

// resolveFingerprint returns the caller's anonymous fingerprint, minting and
// setting a new one when the request carries none.
func (s *Server) resolveFingerprint(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(FingerprintCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	fp := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     FingerprintCookieName,
		Value:    fp,
		Path:     "/",
		MaxAge:   fingerprintCookieMaxAge,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
	return fp
}

// secureCookies reports whether cookies should carry the Secure attribute.
// Disabled only for local development over plain HTTP.
func (s *Server) secureCookies() bool {
	return s.Config == nil || s.Config.Environment != "local"
}
