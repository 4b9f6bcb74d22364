package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pitchcraft/internal/core"
	"pitchcraft/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testValidator() *core.Validator {
	return core.NewValidator(testLogger())
}

// jsonRequest builds a request with a JSON body and the given caller identity
// already resolved, mirroring what the identity middleware provides.
func jsonRequest(method, target, body string, caller types.CallerIdentity) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r.WithContext(types.WithCaller(r.Context(), caller))
}

func accountCaller(id string) types.CallerIdentity {
	return types.CallerIdentity{AccountID: id}
}

func anonCaller(fp string) types.CallerIdentity {
	return types.CallerIdentity{Fingerprint: fp}
}

// decodeData decodes the success envelope's data field into dst.
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, dst); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
}

// errorCode decodes the error envelope and returns the error code.
func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope core.APIErrorResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	return envelope.Error.Code
}
