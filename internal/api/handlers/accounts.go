// Package handlers contains the HTTP handler implementations for the
// PitchCraft API.
//
// Each handler is responsible for:
//   - Decoding and validating HTTP requests
//   - Delegating to service-layer logic
//   - Encoding responses and managing HTTP-specific concerns (headers, cookies)
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pitchcraft/internal/core"
	"pitchcraft/internal/types"
)

// --- DTOs ---

// RegisterRequest is the request body for POST /v1/accounts/register.
type RegisterRequest struct {
	Handle   string `json:"handle" validate:"required,handle"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the request body for POST /v1/accounts/login.
type LoginRequest struct {
	Handle   string `json:"handle" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse is the unified response for Register and Login. The session
// token is returned both in the body (for API callers) and as an HttpOnly
// cookie (for browsers).
type AuthResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	Account   *types.Account `json:"account"`
}

// --- Service interface ---

// AccountService orchestrates registration and credential verification.
// *auth.Service satisfies this interface.
type AccountService interface {
	// Register creates a trial account and issues a session token.
	Register(ctx context.Context, handle, email, password string) (*types.Account, string, time.Time, error)
	// Login verifies credentials and issues a session token.
	Login(ctx context.Context, handle, password string) (*types.Account, string, time.Time, error)
}

// --- Handler ---

// AccountsHandler maps HTTP requests to the account service and manages the
// session cookie.
type AccountsHandler struct {
	service       AccountService
	secureCookies bool
	logger        *slog.Logger
	validator     *core.Validator
}

// NewAccountsHandler creates an AccountsHandler with the provided dependencies.
func NewAccountsHandler(svc AccountService, secureCookies bool, logger *slog.Logger, v *core.Validator) *AccountsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountsHandler{
		service:       svc,
		secureCookies: secureCookies,
		logger:        logger,
		validator:     v,
	}
}

// RegisterRoutes mounts the account routes onto the provided router.
func (h *AccountsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/accounts/register", h.HandleRegister)
	r.Post("/accounts/login", h.HandleLogin)
}

// HandleRegister processes POST /v1/accounts/register.
//
// A new account always starts on the trial plan with a zero usage counter.
// Any anonymous allowance already spent under a fingerprint stays spent; the
// fresh account quota is independent of it.
func (h *AccountsHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	account, token, expiresAt, err := h.service.Register(r.Context(), req.Handle, req.Email, req.Password)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "account registered",
		slog.String("account_id", account.ID),
		slog.String("handle", account.Handle),
	)

	h.setSessionCookie(w, token, expiresAt)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Account:   account,
	}})
}

// HandleLogin processes POST /v1/accounts/login.
func (h *AccountsHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	account, token, expiresAt, err := h.service.Login(r.Context(), req.Handle, req.Password)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.setSessionCookie(w, token, expiresAt)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Account:   account,
	}})
}

// setSessionCookie writes the session token as an HttpOnly cookie scoped to
// the whole API.
func (h *AccountsHandler) setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     core.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// callerFrom extracts the resolved caller identity from the request context.
// The identity middleware runs on every /v1 route, so a missing identity is a
// wiring bug, not client error.
func callerFrom(r *http.Request) (types.CallerIdentity, error) {
	caller, ok := types.GetCaller(r.Context())
	if !ok {
		return types.CallerIdentity{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"caller identity missing from request context",
			nil,
		)
	}
	return caller, nil
}

// requireAccount returns the caller when it is an authenticated account, or
// an auth_login_required error for anonymous callers.
func requireAccount(r *http.Request) (types.CallerIdentity, error) {
	caller, err := callerFrom(r)
	if err != nil {
		return types.CallerIdentity{}, err
	}
	if caller.IsAnonymous() {
		return types.CallerIdentity{}, types.NewAppError(
			types.ErrCodeAuthNeedsLogin,
			"this operation requires an account",
			nil,
		)
	}
	return caller, nil
}
