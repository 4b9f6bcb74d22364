package external

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchcraft/internal/config"
	"pitchcraft/internal/types"
)

func newStripeUnderTest(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewStripeClient(srv.Client(), config.BillingConfig{
		StripeSecretKey:     "sk_test_123",
		StripeWebhookSecret: "whsec_test",
		PriceIDs:            `{"pro":"price_pro_123","agency":"price_agency_456"}`,
	}, nil, WithStripeBaseURL(srv.URL))
	require.NoError(t, err)
	return client
}

func TestStripeClient_CreateCheckoutSession_Success(t *testing.T) {
	var gotPath, gotAuth string
	var gotForm map[string][]string
	client := newStripeUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm

		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":  "cs_test_123",
			"url": "https://checkout.stripe.com/c/pay/cs_test_123",
		})
	})

	account := &types.Account{ID: "acct_1", Email: "j@example.com"}
	urls := CheckoutURLs{Success: "https://app.example.com/ok", Cancel: "https://app.example.com/cancel"}

	checkoutURL, sessionID, err := client.CreateCheckoutSession(context.Background(), account, types.PlanPro, urls)
	require.NoError(t, err)

	assert.Equal(t, "/v1/checkout/sessions", gotPath)
	assert.Equal(t, "Bearer sk_test_123", gotAuth)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_123", checkoutURL)
	assert.Equal(t, "cs_test_123", sessionID)

	assert.Equal(t, []string{"subscription"}, gotForm["mode"])
	assert.Equal(t, []string{"acct_1"}, gotForm["client_reference_id"])
	assert.Equal(t, []string{"price_pro_123"}, gotForm["line_items[0][price]"])
	assert.Equal(t, []string{"j@example.com"}, gotForm["customer_email"])
	assert.Equal(t, []string{"pro"}, gotForm["metadata[plan]"])
}

func TestStripeClient_CreateCheckoutSession_ReusesExistingCustomer(t *testing.T) {
	var gotForm map[string][]string
	client := newStripeUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "cs_1", "url": "https://x"})
	})

	account := &types.Account{ID: "acct_1", Email: "j@example.com", BillingCustomerID: "cus_9"}
	_, _, err := client.CreateCheckoutSession(context.Background(), account, types.PlanAgency, CheckoutURLs{Success: "s", Cancel: "c"})
	require.NoError(t, err)

	assert.Equal(t, []string{"cus_9"}, gotForm["customer"])
	assert.Empty(t, gotForm["customer_email"])
	assert.Equal(t, []string{"price_agency_456"}, gotForm["line_items[0][price]"])
}

func TestStripeClient_CreateCheckoutSession_UnconfiguredPlan(t *testing.T) {
	client := newStripeUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for an unconfigured plan")
	})

	_, _, err := client.CreateCheckoutSession(context.Background(),
		&types.Account{ID: "acct_1"}, types.PlanTrial, CheckoutURLs{})
	require.Error(t, err)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationInvalidPlan, appErr.Code)
}

func TestStripeClient_CreateCheckoutSession_StripeError(t *testing.T) {
	client := newStripeUnderTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"type": "invalid_request_error", "message": "no such price"},
		})
	})

	_, _, err := client.CreateCheckoutSession(context.Background(),
		&types.Account{ID: "acct_1"}, types.PlanPro, CheckoutURLs{})
	require.Error(t, err)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamStripe, appErr.Code)
	assert.Contains(t, appErr.Message, "no such price")
}

func TestNewStripeClient_MalformedPriceJSON(t *testing.T) {
	_, err := NewStripeClient(http.DefaultClient, config.BillingConfig{
		StripeSecretKey:     "sk_test",
		StripeWebhookSecret: "whsec_test",
		PriceIDs:            "not json",
	}, nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// WebhookParser Tests
// ---------------------------------------------------------------------------

// signPayload builds a valid Stripe-Signature header for the payload.
func signPayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(t *testing.T, id, kind string, created time.Time, object map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":      id,
		"type":    kind,
		"created": created.Unix(),
		"data":    map[string]any{"object": json.RawMessage(raw)},
	})
	require.NoError(t, err)
	return payload
}

func TestWebhookParser_Parse_CheckoutCompleted(t *testing.T) {
	parser := NewWebhookParser("whsec_test")
	now := time.Now()

	payload := eventPayload(t, "evt_1", "checkout.session.completed", now, map[string]any{
		"id":                  "cs_1",
		"client_reference_id": "acct_1",
		"customer":            "cus_9",
		"subscription":        "sub_5",
		"metadata":            map[string]string{"plan": "pro"},
	})

	event, err := parser.Parse(payload, signPayload(payload, "whsec_test", now))
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, types.BillingCheckoutCompleted, event.Kind)
	assert.Equal(t, "acct_1", event.AccountID)
	assert.Equal(t, "cus_9", event.CustomerID)
	assert.Equal(t, "sub_5", event.SubscriptionID)
	assert.Equal(t, types.PlanPro, event.Plan)
}

func TestWebhookParser_Parse_CheckoutCompleted_AccountFromMetadata(t *testing.T) {
	parser := NewWebhookParser("whsec_test")
	now := time.Now()

	payload := eventPayload(t, "evt_1", "checkout.session.completed", now, map[string]any{
		"id":       "cs_1",
		"metadata": map[string]string{"account_id": "acct_meta", "plan": "agency"},
	})

	event, err := parser.Parse(payload, signPayload(payload, "whsec_test", now))
	require.NoError(t, err)
	assert.Equal(t, "acct_meta", event.AccountID)
}

func TestWebhookParser_Parse_InvoicePaid(t *testing.T) {
	parser := NewWebhookParser("whsec_test")
	now := time.Now()
	periodEnd := now.Add(30 * 24 * time.Hour).Truncate(time.Second)

	payload := eventPayload(t, "evt_2", "invoice.paid", now, map[string]any{
		"id":           "in_1",
		"customer":     "cus_9",
		"subscription": "sub_5",
		"period_end":   periodEnd.Unix(),
	})

	event, err := parser.Parse(payload, signPayload(payload, "whsec_test", now))
	require.NoError(t, err)
	assert.Equal(t, types.BillingInvoicePaid, event.Kind)
	assert.Equal(t, "sub_5", event.SubscriptionID)
	require.NotNil(t, event.PeriodEnd)
	assert.True(t, periodEnd.UTC().Equal(*event.PeriodEnd))
}

func TestWebhookParser_Parse_InvoicePaid_LineItemFallback(t *testing.T) {
	parser := NewWebhookParser("whsec_test")
	now := time.Now()
	periodEnd := now.Add(30 * 24 * time.Hour).Truncate(time.Second)

	payload := eventPayload(t, "evt_2b", "invoice.paid", now, map[string]any{
		"id":       "in_2",
		"customer": "cus_9",
		"lines": map[string]any{
			"data": []map[string]any{
				{
					"subscription": "sub_7",
					"period":       map[string]int64{"end": periodEnd.Unix()},
				},
			},
		},
	})

	event, err := parser.Parse(payload, signPayload(payload, "whsec_test", now))
	require.NoError(t, err)
	assert.Equal(t, "sub_7", event.SubscriptionID)
	require.NotNil(t, event.PeriodEnd)
	assert.True(t, periodEnd.UTC().Equal(*event.PeriodEnd))
}

func TestWebhookParser_Parse_InvoiceFailed(t *testing.T) {
	parser := NewWebhookParser("whsec_test")
	now := time.Now()

	payload := eventPayload(t, "evt_3", "invoice.payment_failed", now, map[string]any{
		"id":           "in_1",
		"subscription": "sub_5",
	})

	event, err := parser.Parse(payload, signPayload(payload, "whsec_test", now))
	require.NoError(t, err)
	assert.Equal(t, types.BillingInvoiceFailed, event.Kind)
}

func TestWebhookParser_Parse_SubscriptionDeleted(t *testing.T) {
	parser := NewWebhookParser("whsec_test")
	now := time.Now()

	payload := eventPayload(t, "evt_4", "customer.subscription.deleted", now, map[string]any{
		"id":       "sub_5",
		"customer": "cus_9",
	})

	event, err := parser.Parse(payload, signPayload(payload, "whsec_test", now))
	require.NoError(t, err)
	assert.Equal(t, types.BillingSubscriptionCanceled, event.Kind)
	assert.Equal(t, "sub_5", event.SubscriptionID)
	assert.Equal(t, "cus_9", event.CustomerID)
}

func TestWebhookParser_Parse_UnhandledTypeIgnored(t *testing.T) {
	parser := NewWebhookParser("whsec_test")
	now := time.Now()

	payload := eventPayload(t, "evt_5", "customer.updated", now, map[string]any{"id": "cus_9"})

	event, err := parser.Parse(payload, signPayload(payload, "whsec_test", now))
	require.NoError(t, err)
	assert.Nil(t, event)
}

func TestWebhookParser_Parse_BadSignature(t *testing.T) {
	parser := NewWebhookParser("whsec_test")
	now := time.Now()
	payload := eventPayload(t, "evt_6", "invoice.paid", now, map[string]any{"id": "in_1"})

	_, err := parser.Parse(payload, signPayload(payload, "whsec_wrong", now))
	require.Error(t, err)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeAuthTokenInvalid, appErr.Code)
}

func TestWebhookParser_Parse_StaleTimestampRejected(t *testing.T) {
	parser := NewWebhookParser("whsec_test")
	old := time.Now().Add(-time.Hour)
	payload := eventPayload(t, "evt_7", "invoice.paid", old, map[string]any{"id": "in_1"})

	_, err := parser.Parse(payload, signPayload(payload, "whsec_test", old))
	require.Error(t, err)
}
