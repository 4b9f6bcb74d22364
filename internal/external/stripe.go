package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"pitchcraft/internal/config"
	"pitchcraft/internal/types"
)

// stripeAPIBase is the default Stripe API base URL, overridable in tests.
const stripeAPIBase = "https://api.stripe.com"

// StripeClient creates checkout sessions against the Stripe REST API through
// BaseClient, so Stripe calls share the platform's circuit breaker and retry
// behavior and stay trivially testable with httptest.
type StripeClient struct {
	base      *BaseClient
	secretKey types.SecretString
	baseURL   string
	prices    map[types.PlanTier]string
	logger    *slog.Logger
}

// StripeClientOption configures a StripeClient.
type StripeClientOption func(*StripeClient)

// WithStripeBaseURL points the client at a test server.
func WithStripeBaseURL(baseURL string) StripeClientOption {
	return func(s *StripeClient) {
		s.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// NewStripeClient creates a StripeClient from billing config. The configured
// price map (plan tier -> Stripe price id) drives checkout line items.
func NewStripeClient(httpClient *http.Client, cfg config.BillingConfig, logger *slog.Logger, opts ...StripeClientOption) (*StripeClient, error) {
	prices := make(map[types.PlanTier]string)
	raw := map[string]string{}
	if err := json.Unmarshal([]byte(cfg.PriceIDs), &raw); err != nil {
		return nil, fmt.Errorf("parsing STRIPE_PRICE_IDS_JSON: %w", err)
	}
	for tier, priceID := range raw {
		prices[types.PlanTier(tier)] = priceID
	}

	if logger == nil {
		logger = slog.Default()
	}
	s := &StripeClient{
		base:      NewBaseClient(httpClient, "stripe", DefaultRetryPolicy(), "PitchCraft/1.0"),
		secretKey: cfg.StripeSecretKey,
		baseURL:   stripeAPIBase,
		prices:    prices,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CheckoutURLs carries the redirect targets for a checkout session.
type CheckoutURLs struct {
	Success string
	Cancel  string
}

// CreateCheckoutSession opens a subscription checkout for the account. The
// account id rides along as client_reference_id and metadata so the webhook
// can route the completed checkout back to the account.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, account *types.Account, plan types.PlanTier, urls CheckoutURLs) (checkoutURL string, sessionID string, err error) {
	priceID, ok := s.prices[plan]
	if !ok {
		return "", "", types.NewAppError(types.ErrCodeValidationInvalidPlan,
			fmt.Sprintf("no price configured for plan %q", plan), nil)
	}

	params := url.Values{}
	params.Set("mode", "subscription")
	params.Set("client_reference_id", account.ID)
	params.Set("success_url", urls.Success)
	params.Set("cancel_url", urls.Cancel)
	params.Set("metadata[account_id]", account.ID)
	params.Set("metadata[plan]", string(plan))
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")
	if account.BillingCustomerID != "" {
		params.Set("customer", account.BillingCustomerID)
	} else if account.Email != "" {
		params.Set("customer_email", account.Email)
	}

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to decode checkout session response", err)
	}
	return session.URL, session.ID, nil
}

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey.Unmask())
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	return s.base.Do(req)
}

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with unreadable body", operation, resp.StatusCode), readErr)
	}
	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode), jsonErr)
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message), nil)
}

func (s *StripeClient) wrapStripeError(operation string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed", operation), err)
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ---------------------------------------------------------------------------
// Webhook parsing
// ---------------------------------------------------------------------------

// WebhookParser verifies Stripe webhook signatures and normalizes the events
// the subscription state machine consumes.
type WebhookParser struct {
	secret types.SecretString
}

// NewWebhookParser creates a WebhookParser with the endpoint signing secret.
func NewWebhookParser(secret types.SecretString) *WebhookParser {
	return &WebhookParser{secret: secret}
}

// Parse verifies the payload signature and maps the event to the normalized
// BillingEvent. Event types outside the handled set return (nil, nil): the
// caller acknowledges them without applying anything. A bad signature or an
// unparsable payload is an error.
func (p *WebhookParser) Parse(payload []byte, sigHeader string) (*types.BillingEvent, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, p.secret.Unmask())
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid,
			"webhook signature verification failed", err)
	}

	switch event.Type {
	case "checkout.session.completed":
		return mapCheckoutCompleted(&event)
	case "invoice.paid":
		return mapInvoiceEvent(&event, types.BillingInvoicePaid)
	case "invoice.payment_failed":
		return mapInvoiceEvent(&event, types.BillingInvoiceFailed)
	case "customer.subscription.deleted":
		return mapSubscriptionDeleted(&event)
	default:
		return nil, nil
	}
}

// Minimal payload shapes: only the fields the state machine needs are
// decoded, keeping the parser independent of stripe-go's full object model.

type checkoutSessionPayload struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

type invoicePayload struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	PeriodEnd    int64  `json:"period_end"`
	Lines        struct {
		Data []struct {
			Period struct {
				End int64 `json:"end"`
			} `json:"period"`
			Subscription string `json:"subscription"`
		} `json:"data"`
	} `json:"lines"`
}

type subscriptionPayload struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
}

func mapCheckoutCompleted(event *stripe.Event) (*types.BillingEvent, error) {
	var sess checkoutSessionPayload
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, types.NewAppError(types.ErrCodeBillingInvalidEvent,
			"malformed checkout session payload", err)
	}
	accountID := sess.ClientReferenceID
	if accountID == "" {
		accountID = sess.Metadata["account_id"]
	}
	return &types.BillingEvent{
		ID:             event.ID,
		Kind:           types.BillingCheckoutCompleted,
		AccountID:      accountID,
		CustomerID:     sess.Customer,
		SubscriptionID: sess.Subscription,
		Plan:           types.PlanTier(sess.Metadata["plan"]),
		OccurredAt:     time.Unix(event.Created, 0).UTC(),
	}, nil
}

func mapInvoiceEvent(event *stripe.Event, kind types.BillingEventKind) (*types.BillingEvent, error) {
	var inv invoicePayload
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return nil, types.NewAppError(types.ErrCodeBillingInvalidEvent,
			"malformed invoice payload", err)
	}

	subscriptionID := inv.Subscription
	var periodEnd *time.Time
	if inv.PeriodEnd > 0 {
		t := time.Unix(inv.PeriodEnd, 0).UTC()
		periodEnd = &t
	}
	// Newer API versions move subscription and period onto the line items.
	if len(inv.Lines.Data) > 0 {
		line := inv.Lines.Data[0]
		if subscriptionID == "" {
			subscriptionID = line.Subscription
		}
		if line.Period.End > 0 {
			t := time.Unix(line.Period.End, 0).UTC()
			periodEnd = &t
		}
	}

	return &types.BillingEvent{
		ID:             event.ID,
		Kind:           kind,
		CustomerID:     inv.Customer,
		SubscriptionID: subscriptionID,
		PeriodEnd:      periodEnd,
		OccurredAt:     time.Unix(event.Created, 0).UTC(),
	}, nil
}

func mapSubscriptionDeleted(event *stripe.Event) (*types.BillingEvent, error) {
	var sub subscriptionPayload
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, types.NewAppError(types.ErrCodeBillingInvalidEvent,
			"malformed subscription payload", err)
	}
	return &types.BillingEvent{
		ID:             event.ID,
		Kind:           types.BillingSubscriptionCanceled,
		CustomerID:     sub.Customer,
		SubscriptionID: sub.ID,
		OccurredAt:     time.Unix(event.Created, 0).UTC(),
	}, nil
}
