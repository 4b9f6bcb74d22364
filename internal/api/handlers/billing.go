package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pitchcraft/internal/billing"
	"pitchcraft/internal/core"
	"pitchcraft/internal/external"
	"pitchcraft/internal/types"
)

// --- DTOs ---

// CheckoutRequest is the request body for POST /v1/billing/checkout.
type CheckoutRequest struct {
	Plan string `json:"plan" validate:"required,plantier"`
}

// CheckoutResponse carries the hosted checkout redirect.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// --- Service interfaces ---

// CheckoutStarter creates hosted checkout sessions.
// *external.StripeClient satisfies this interface.
type CheckoutStarter interface {
	CreateCheckoutSession(ctx context.Context, account *types.Account, plan types.PlanTier, urls external.CheckoutURLs) (checkoutURL string, sessionID string, err error)
}

// AccountReader loads an account by id. The store facade satisfies this
// interface.
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (*types.Account, error)
}

// --- Handler ---

// BillingHandler exposes the plan catalog and checkout session creation.
type BillingHandler struct {
	checkout  CheckoutStarter
	accounts  AccountReader
	plans     billing.PlanRegistry
	appURL    string
	logger    *slog.Logger
	validator *core.Validator
}

// NewBillingHandler creates a BillingHandler with the provided dependencies.
func NewBillingHandler(
	checkout CheckoutStarter,
	accounts AccountReader,
	plans billing.PlanRegistry,
	appURL string,
	logger *slog.Logger,
	v *core.Validator,
) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		checkout:  checkout,
		accounts:  accounts,
		plans:     plans,
		appURL:    appURL,
		logger:    logger,
		validator: v,
	}
}

// RegisterRoutes mounts the billing routes onto the provided router.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plans", h.HandleListPlans)
	r.Post("/billing/checkout", h.HandleCheckout)
}

// HandleListPlans processes GET /v1/plans. Public: the catalog is static and
// shown on the pricing page.
func (h *BillingHandler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.plans.All()})
}

// HandleCheckout processes POST /v1/billing/checkout.
//
// Requires an authenticated caller: the account id travels as the checkout
// client reference so the completion webhook can route back to the account.
func (h *BillingHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	caller, err := requireAccount(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req CheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), caller.AccountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	urls := external.CheckoutURLs{
		Success: h.appURL + "/billing/success",
		Cancel:  h.appURL + "/billing/cancel",
	}
	checkoutURL, sessionID, err := h.checkout.CreateCheckoutSession(r.Context(), account, types.PlanTier(req.Plan), urls)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		slog.String("account_id", account.ID),
		slog.String("plan", req.Plan),
		slog.String("session_id", sessionID),
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckoutResponse{
		CheckoutURL: checkoutURL,
		SessionID:   sessionID,
	}})
}
