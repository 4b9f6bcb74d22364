package core

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pitchcraft/internal/types"
)

// callerCapture returns a handler that records the resolved caller identity.
func callerCapture(caller *types.CallerIdentity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := types.GetCaller(r.Context())
		*caller = c
	})
}

func TestIdentityMiddleware_BearerToken(t *testing.T) {
	s := newTestServer(t, tokenVerifierFunc(func(token string) (string, error) {
		if token != "valid-token" {
			t.Fatalf("unexpected token %q", token)
		}
		return "acct_42", nil
	}))

	var caller types.CallerIdentity
	handler := s.IdentityMiddleware(callerCapture(&caller))

	r := httptest.NewRequest(http.MethodGet, "/v1/entitlement", nil)
	r.Header.Set("Authorization", "Bearer valid-token")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if caller.AccountID != "acct_42" {
		t.Errorf("expected account acct_42, got %q", caller.AccountID)
	}
	if caller.Fingerprint != "" {
		t.Errorf("authenticated caller must not carry a fingerprint, got %q", caller.Fingerprint)
	}
}

func TestIdentityMiddleware_SessionCookie(t *testing.T) {
	s := newTestServer(t, tokenVerifierFunc(func(token string) (string, error) {
		return "acct_7", nil
	}))

	var caller types.CallerIdentity
	handler := s.IdentityMiddleware(callerCapture(&caller))

	r := httptest.NewRequest(http.MethodGet, "/v1/entitlement", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "cookie-token"})
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if caller.AccountID != "acct_7" {
		t.Errorf("expected account acct_7, got %q", caller.AccountID)
	}
}

func TestIdentityMiddleware_InvalidTokenRejected(t *testing.T) {
	s := newTestServer(t, rejectAllTokens)

	reached := false
	handler := s.IdentityMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	r := httptest.NewRequest(http.MethodGet, "/v1/entitlement", nil)
	r.Header.Set("Authorization", "Bearer tampered")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if reached {
		t.Error("handler must not run for an invalid token")
	}
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Result().StatusCode)
	}

	var body APIErrorResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeAuthTokenInvalid) {
		t.Errorf("expected auth_token_invalid, got %q", body.Error.Code)
	}
}

func TestIdentityMiddleware_MintsFingerprint(t *testing.T) {
	s := newTestServer(t, nil)

	var caller types.CallerIdentity
	handler := s.IdentityMiddleware(callerCapture(&caller))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/entitlement", nil))

	if caller.Fingerprint == "" {
		t.Fatal("expected minted fingerprint for anonymous caller")
	}

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == FingerprintCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("expected fingerprint cookie to be set")
	}
	if cookie.Value != caller.Fingerprint {
		t.Errorf("cookie value %q does not match context fingerprint %q", cookie.Value, caller.Fingerprint)
	}
	if !cookie.HttpOnly {
		t.Error("fingerprint cookie must be HttpOnly")
	}
}

func TestIdentityMiddleware_ReusesFingerprintCookie(t *testing.T) {
	s := newTestServer(t, nil)

	var caller types.CallerIdentity
	handler := s.IdentityMiddleware(callerCapture(&caller))

	r := httptest.NewRequest(http.MethodGet, "/v1/entitlement", nil)
	r.AddCookie(&http.Cookie{Name: FingerprintCookieName, Value: "fp-existing"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if caller.Fingerprint != "fp-existing" {
		t.Errorf("expected fp-existing, got %q", caller.Fingerprint)
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("no new cookie should be set when one already exists")
	}
}
