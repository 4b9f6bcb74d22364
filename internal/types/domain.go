// Package types defines the shared domain model for the PitchCraft platform:
// accounts, plans, usage records, generated artifacts, and the billing events
// consumed from the payment processor.
package types

import "time"

// PlanTier identifies the billing plan for an account.
type PlanTier string

const (
	PlanTrial  PlanTier = "trial"
	PlanPro    PlanTier = "pro"
	PlanAgency PlanTier = "agency"
)

// SubscriptionStatus represents the billing lifecycle state of an account.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// PlanLimits defines the resource allowances for a plan tier.
type PlanLimits struct {
	// MonthlyMessages is the number of generated messages allowed per
	// billing period.
	MonthlyMessages int `json:"monthly_messages"`
	// AllowTemplates enables saved outreach templates.
	AllowTemplates bool `json:"allow_templates"`
	// AllowBulk enables bulk generation from a list of profiles.
	AllowBulk bool `json:"allow_bulk"`
}

// PlanInfo combines a tier's identity and display metadata with its limits.
type PlanInfo struct {
	Tier        PlanTier   `json:"tier"`
	DisplayName string     `json:"display_name"`
	Limits      PlanLimits `json:"limits"`
}

// Account is the identity for an authenticated caller. The usage counter is
// written only by the usage ledger; plan, status, period end, and billing
// references are written only by the subscription state machine.
type Account struct {
	ID           string `json:"id" db:"id"`
	Handle       string `json:"handle" db:"handle"`
	Email        string `json:"email,omitempty" db:"email"`
	PasswordHash string `json:"-" db:"password_hash"`

	Plan               PlanTier           `json:"plan" db:"plan"`
	UsageCount         int                `json:"usage_count" db:"usage_count"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status" db:"subscription_status"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end,omitempty" db:"current_period_end"`

	// External billing references. Empty until the first completed checkout.
	BillingCustomerID     string `json:"-" db:"billing_customer_id"`
	BillingSubscriptionID string `json:"-" db:"billing_subscription_id"`

	// LastBillingEventAt and LastBillingEventID identify the most recently
	// applied billing event, used for optimistic locking against
	// out-of-order and duplicate webhook delivery. Both are needed:
	// processor timestamps have one-second resolution, so two distinct
	// in-order events can share a timestamp and only the id tells a
	// replay from a successor.
	LastBillingEventAt *time.Time `json:"-" db:"last_billing_event_at"`
	LastBillingEventID string     `json:"-" db:"last_billing_event_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AnonymousQuotaRecord tracks the zero-signup trial allowance for one caller
// fingerprint. Counters are a lifetime allowance: they only grow and are
// never linked to an Account created later.
type AnonymousQuotaRecord struct {
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	UsageCount  int       `json:"usage_count" db:"usage_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Artifact is the stored result of one successful generation. Append-only:
// created exactly once per successful generation and never mutated.
type Artifact struct {
	ID string `json:"id" db:"id"`

	// Exactly one of AccountID / Fingerprint is set, matching the caller
	// identity that produced the artifact.
	AccountID   string `json:"account_id,omitempty" db:"account_id"`
	Fingerprint string `json:"-" db:"fingerprint"`

	Text  string  `json:"text" db:"text"`
	Score float64 `json:"score" db:"score"`
	Model string  `json:"model,omitempty" db:"model"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CallerIdentity is the resolved identity of an inbound request: either an
// authenticated account or an anonymous fingerprint, never both.
type CallerIdentity struct {
	AccountID   string
	Fingerprint string
}

// IsAnonymous reports whether the caller has no authenticated account.
func (c CallerIdentity) IsAnonymous() bool {
	return c.AccountID == ""
}

// Key returns a stable string key for the identity, used for per-identity
// locking in the in-memory store.
func (c CallerIdentity) Key() string {
	if c.AccountID != "" {
		return "acct:" + c.AccountID
	}
	return "anon:" + c.Fingerprint
}

// DecisionReason explains a denied entitlement check.
type DecisionReason string

const (
	// ReasonNeedsLogin: an anonymous caller has exhausted the lifetime
	// allowance and must register to continue.
	ReasonNeedsLogin DecisionReason = "needs_login"
	// ReasonNeedsUpgrade: an account has exhausted its plan quota for the
	// current period.
	ReasonNeedsUpgrade DecisionReason = "needs_upgrade"
)

// Entitlement is the result of an entitlement check, shaped for direct UI
// display ("N messages remaining").
type Entitlement struct {
	Allowed   bool           `json:"allowed"`
	Reason    DecisionReason `json:"reason,omitempty"`
	Used      int            `json:"used"`
	Limit     int            `json:"limit"`
	Remaining int            `json:"remaining"`
}

// BillingEventKind tags an inbound payment-processor event.
type BillingEventKind string

const (
	BillingCheckoutCompleted    BillingEventKind = "checkout_completed"
	BillingInvoicePaid          BillingEventKind = "invoice_paid"
	BillingInvoiceFailed        BillingEventKind = "invoice_failed"
	BillingSubscriptionCanceled BillingEventKind = "subscription_canceled"
)

// BillingEvent is the normalized form of a payment-processor webhook event.
// It is consumed, never persisted: only its side effects on Account survive.
type BillingEvent struct {
	ID   string
	Kind BillingEventKind

	// AccountID is present on checkout events (carried as the client
	// reference); subscription/invoice events are resolved through
	// SubscriptionID instead.
	AccountID      string
	CustomerID     string
	SubscriptionID string

	// Plan is the plan hint carried by checkout events.
	Plan PlanTier

	// PeriodEnd is the end of the billing period the event belongs to.
	// Used for idempotent application of invoice events.
	PeriodEnd *time.Time

	// OccurredAt is the processor-side creation time of the event, used
	// for optimistic locking against out-of-order delivery.
	OccurredAt time.Time
}

// SubscriptionChange is the single atomic write the subscription state
// machine issues against an account. The storage layer applies every set
// field in one update, guarded by optimistic locking on EventID and
// EventTime: a change replaying the last applied event id, or carrying a
// timestamp strictly older than the last applied event, is a silent no-op.
// A change with an equal timestamp but a different event id still applies,
// since processor timestamps have one-second resolution and a checkout and
// its first paid invoice routinely land in the same second.
type SubscriptionChange struct {
	AccountID string
	Plan      PlanTier
	Status    SubscriptionStatus

	// EventID is the processor-side id of the triggering event, used to
	// detect replays.
	EventID string

	// PeriodEnd, when non-nil, replaces the account's current period end.
	PeriodEnd *time.Time

	// CustomerID/SubscriptionID, when non-empty, store billing references.
	CustomerID     string
	SubscriptionID string

	// ResetUsage zeroes the usage counter in the same write. Set only for
	// new-billing-period events.
	ResetUsage bool

	// EventTime is the processor-side timestamp of the triggering event.
	EventTime time.Time
}

// UsageReceipt is returned after a unit of quota has been consumed.
type UsageReceipt struct {
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}
