package billing

import (
	"context"
	"log/slog"

	"pitchcraft/internal/types"
)

// SubscriptionStore is the subset of the storage facade the state machine
// needs. It is the ONLY writer of plan, status, period end, and billing
// references on an account; the usage ledger owns the counter.
type SubscriptionStore interface {
	// GetAccount retrieves an account by id.
	GetAccount(ctx context.Context, id string) (*types.Account, error)

	// GetAccountByBillingSubscription resolves the account owning the given
	// external subscription reference.
	GetAccountByBillingSubscription(ctx context.Context, subscriptionID string) (*types.Account, error)

	// ApplySubscriptionChange applies the change atomically, no-oping on a
	// replay of the last applied event id or an EventTime older than the
	// last applied event.
	ApplySubscriptionChange(ctx context.Context, change types.SubscriptionChange) error
}

// SubscriptionMachine applies billing-processor events to account state.
//
// Transitions:
//
//	CheckoutCompleted(plan)   any          -> active   (sets plan + refs)
//	InvoicePaid               active|past_due -> active (resets period usage)
//	InvoiceFailed             active       -> past_due (quota untouched)
//	SubscriptionCanceled      any          -> canceled (plan reverts to trial)
//
// Event application is idempotent: a replayed InvoicePaid for an already
// applied period end is a no-op, and stale events lose the optimistic lock
// in the store.
type SubscriptionMachine struct {
	store  SubscriptionStore
	plans  PlanRegistry
	logger *slog.Logger
}

// NewSubscriptionMachine creates a SubscriptionMachine with the provided
// dependencies.
func NewSubscriptionMachine(store SubscriptionStore, plans PlanRegistry, logger *slog.Logger) *SubscriptionMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionMachine{store: store, plans: plans, logger: logger}
}

// Apply routes a billing event to its transition. Malformed or unroutable
// events are rejected with billing_invalid_event and cause no state change;
// the error is terminal for that event only.
func (m *SubscriptionMachine) Apply(ctx context.Context, event types.BillingEvent) error {
	if event.ID == "" {
		return types.NewAppError(types.ErrCodeBillingInvalidEvent, "billing event has no id", nil)
	}

	account, err := m.resolveAccount(ctx, event)
	if err != nil {
		return err
	}

	switch event.Kind {
	case types.BillingCheckoutCompleted:
		return m.applyCheckoutCompleted(ctx, account, event)
	case types.BillingInvoicePaid:
		return m.applyInvoicePaid(ctx, account, event)
	case types.BillingInvoiceFailed:
		return m.applyInvoiceFailed(ctx, account, event)
	case types.BillingSubscriptionCanceled:
		return m.applySubscriptionCanceled(ctx, account, event)
	default:
		return types.NewAppError(types.ErrCodeBillingInvalidEvent,
			"unknown billing event kind", nil).
			WithDetails(map[string]any{"kind": string(event.Kind), "event_id": event.ID})
	}
}

// resolveAccount locates the account targeted by the event. Checkout events
// carry the account id directly (client reference); everything else resolves
// through the external subscription reference.
func (m *SubscriptionMachine) resolveAccount(ctx context.Context, event types.BillingEvent) (*types.Account, error) {
	if event.AccountID != "" {
		account, err := m.store.GetAccount(ctx, event.AccountID)
		if err != nil {
			return nil, m.rejectUnroutable(event, err)
		}
		return account, nil
	}
	if event.SubscriptionID != "" {
		account, err := m.store.GetAccountByBillingSubscription(ctx, event.SubscriptionID)
		if err != nil {
			return nil, m.rejectUnroutable(event, err)
		}
		return account, nil
	}
	return nil, types.NewAppError(types.ErrCodeBillingInvalidEvent,
		"billing event carries neither account nor subscription reference", nil).
		WithDetails(map[string]any{"event_id": event.ID})
}

// rejectUnroutable converts a lookup failure into an event rejection while
// preserving infrastructure errors for the caller to surface.
func (m *SubscriptionMachine) rejectUnroutable(event types.BillingEvent, err error) error {
	if types.IsInfrastructure(err) {
		return err
	}
	m.logger.Warn("billing event targets unknown account",
		"event_id", event.ID,
		"kind", string(event.Kind),
	)
	return types.NewAppError(types.ErrCodeBillingInvalidEvent,
		"billing event targets unknown account", err).
		WithDetails(map[string]any{"event_id": event.ID})
}

// applyCheckoutCompleted activates the purchased plan and stores billing
// references. The counter is NOT reset here: only a paid invoice starts a
// fresh period.
func (m *SubscriptionMachine) applyCheckoutCompleted(ctx context.Context, account *types.Account, event types.BillingEvent) error {
	if event.Plan == "" {
		return types.NewAppError(types.ErrCodeBillingInvalidEvent,
			"checkout event carries no plan", nil).
			WithDetails(map[string]any{"event_id": event.ID})
	}
	// The plan hint must name a catalog entry; fail the event rather than
	// silently activating the fail-closed fallback.
	if m.plans.Info(event.Plan).Tier != event.Plan {
		return types.NewAppError(types.ErrCodeBillingInvalidEvent,
			"checkout event names an unknown plan", nil).
			WithDetails(map[string]any{"event_id": event.ID, "plan": string(event.Plan)})
	}

	m.logger.Info("applying checkout completed",
		"event_id", event.ID,
		"account_id", account.ID,
		"plan", string(event.Plan),
	)

	return m.store.ApplySubscriptionChange(ctx, types.SubscriptionChange{
		AccountID:      account.ID,
		EventID:        event.ID,
		Plan:           event.Plan,
		Status:         types.SubStatusActive,
		PeriodEnd:      event.PeriodEnd,
		CustomerID:     event.CustomerID,
		SubscriptionID: event.SubscriptionID,
		EventTime:      event.OccurredAt,
	})
}

// applyInvoicePaid starts a new billing period: status returns to active,
// the period end advances, and the usage counter resets -- all in one write.
// A replay for an already-applied period end is detected here and no-ops.
func (m *SubscriptionMachine) applyInvoicePaid(ctx context.Context, account *types.Account, event types.BillingEvent) error {
	switch account.SubscriptionStatus {
	case types.SubStatusActive, types.SubStatusPastDue:
		// Valid source states.
	default:
		return types.NewAppError(types.ErrCodeBillingInvalidEvent,
			"invoice paid for account not in active or past_due state", nil).
			WithDetails(map[string]any{
				"event_id": event.ID,
				"status":   string(account.SubscriptionStatus),
			})
	}

	if event.PeriodEnd != nil && account.CurrentPeriodEnd != nil &&
		event.PeriodEnd.Equal(*account.CurrentPeriodEnd) {
		m.logger.Info("duplicate invoice paid event ignored",
			"event_id", event.ID,
			"account_id", account.ID,
			"period_end", event.PeriodEnd,
		)
		return nil
	}

	m.logger.Info("applying invoice paid",
		"event_id", event.ID,
		"account_id", account.ID,
	)

	return m.store.ApplySubscriptionChange(ctx, types.SubscriptionChange{
		AccountID:  account.ID,
		EventID:    event.ID,
		Plan:       account.Plan,
		Status:     types.SubStatusActive,
		PeriodEnd:  event.PeriodEnd,
		ResetUsage: true,
		EventTime:  event.OccurredAt,
	})
}

// applyInvoiceFailed moves an active account into dunning. Quota already
// granted for the current period is not revoked. A repeat failure while
// already past_due is a no-op.
func (m *SubscriptionMachine) applyInvoiceFailed(ctx context.Context, account *types.Account, event types.BillingEvent) error {
	switch account.SubscriptionStatus {
	case types.SubStatusPastDue:
		m.logger.Info("repeat invoice failure ignored",
			"event_id", event.ID,
			"account_id", account.ID,
		)
		return nil
	case types.SubStatusActive:
		// Valid source state.
	default:
		return types.NewAppError(types.ErrCodeBillingInvalidEvent,
			"invoice failure for account not in active state", nil).
			WithDetails(map[string]any{
				"event_id": event.ID,
				"status":   string(account.SubscriptionStatus),
			})
	}

	m.logger.Warn("applying invoice failed",
		"event_id", event.ID,
		"account_id", account.ID,
	)

	return m.store.ApplySubscriptionChange(ctx, types.SubscriptionChange{
		AccountID: account.ID,
		EventID:   event.ID,
		Plan:      account.Plan,
		Status:    types.SubStatusPastDue,
		EventTime: event.OccurredAt,
	})
}

// applySubscriptionCanceled retires the subscription from any state. The
// plan reverts to trial so future entitlement checks fall back to the free
// quota; the account itself is never destroyed.
func (m *SubscriptionMachine) applySubscriptionCanceled(ctx context.Context, account *types.Account, event types.BillingEvent) error {
	m.logger.Info("applying subscription canceled",
		"event_id", event.ID,
		"account_id", account.ID,
	)

	return m.store.ApplySubscriptionChange(ctx, types.SubscriptionChange{
		AccountID: account.ID,
		EventID:   event.ID,
		Plan:      types.PlanTrial,
		Status:    types.SubStatusCanceled,
		EventTime: event.OccurredAt,
	})
}
