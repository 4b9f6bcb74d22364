package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pitchcraft/internal/core"
	"pitchcraft/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload
// (64 KB). Stripe payloads are small; this limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// --- Service interfaces ---

// BillingEventParser verifies the webhook signature and normalizes the raw
// payload. *external.WebhookParser satisfies this interface.
type BillingEventParser interface {
	// Parse returns (nil, nil) for event types the platform does not track.
	Parse(payload []byte, sigHeader string) (*types.BillingEvent, error)
}

// BillingEventApplier advances local subscription state.
// *billing.SubscriptionMachine satisfies this interface.
type BillingEventApplier interface {
	Apply(ctx context.Context, event types.BillingEvent) error
}

// --- Handler ---

// StripeWebhookHandler handles asynchronous events from Stripe. It is not
// behind the identity middleware -- Stripe calls it directly. Security is
// provided by verifying the Stripe-Signature header.
type StripeWebhookHandler struct {
	parser  BillingEventParser
	applier BillingEventApplier
	logger  *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler with the provided
// dependencies.
func NewStripeWebhookHandler(parser BillingEventParser, applier BillingEventApplier, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		parser:  parser,
		applier: applier,
		logger:  logger,
	}
}

// RegisterRoutes mounts the webhook route onto the provided router.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.HandleWebhook)
}

// HandleWebhook processes POST /webhooks/stripe.
//
// Response contract:
//   - Unverifiable signature → 401, Stripe will alert, no retry storm.
//   - Verified but invalid/unroutable event → 200 ack. The event is terminal
//     for itself only; retrying cannot make it valid, and a non-2xx would
//     have Stripe redeliver it forever.
//   - Infrastructure failure while applying → 5xx so Stripe retries later.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "failed to read webhook body", err))
		return
	}
	if len(payload) > maxWebhookBodySize {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidJSON, "webhook payload too large", nil))
		return
	}

	event, err := h.parser.Parse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeAuthTokenInvalid {
			core.Error(w, r, err)
			return
		}
		// Verified but malformed: terminal for this event.
		h.logger.WarnContext(r.Context(), "discarding malformed billing event", slog.Any("error", err))
		h.ack(w, r)
		return
	}
	if event == nil {
		// Event type the platform does not track.
		h.ack(w, r)
		return
	}

	if err := h.applier.Apply(r.Context(), *event); err != nil {
		if types.IsInfrastructure(err) {
			core.Error(w, r, err)
			return
		}
		// Invalid, stale, or unroutable events are terminal for that event
		// only: log and ack so the processor stops redelivering.
		h.logger.WarnContext(r.Context(), "billing event rejected",
			slog.String("event_id", event.ID),
			slog.String("kind", string(event.Kind)),
			slog.Any("error", err),
		)
	}

	h.ack(w, r)
}

// ack acknowledges receipt to the processor.
func (h *StripeWebhookHandler) ack(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}
