// Package metering implements the quota pipeline: the read-only entitlement
// evaluator, the usage ledger that performs atomic consumption, and the
// orchestrator that sequences authorize -> generate -> commit.
package metering

import (
	"context"
	"errors"
	"log/slog"

	"pitchcraft/internal/billing"
	"pitchcraft/internal/types"
)

// UsageReader is the read-only slice of the store the evaluator needs.
type UsageReader interface {
	GetAccount(ctx context.Context, id string) (*types.Account, error)
	AnonymousUsage(ctx context.Context, fingerprint string) (int, error)
}

// Evaluator answers "may this caller generate one more message right now".
// It is side-effect free and must never be used as a reservation: the actual
// consumption happens in the Ledger's single atomic statement.
type Evaluator struct {
	reader        UsageReader
	plans         billing.PlanRegistry
	anonAllowance int
	logger        *slog.Logger
}

// NewEvaluator creates an Evaluator. anonAllowance is the lifetime anonymous
// budget from config; it is independent of the plan catalog.
func NewEvaluator(reader UsageReader, plans billing.PlanRegistry, anonAllowance int, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		reader:        reader,
		plans:         plans,
		anonAllowance: anonAllowance,
		logger:        logger,
	}
}

// Check evaluates the caller's current entitlement. Unknown fingerprints and
// unknown accounts read as zero usage; only infrastructure failures surface
// as errors.
func (e *Evaluator) Check(ctx context.Context, caller types.CallerIdentity) (types.Entitlement, error) {
	if caller.IsAnonymous() {
		return e.checkAnonymous(ctx, caller.Fingerprint)
	}
	return e.checkAccount(ctx, caller.AccountID)
}

func (e *Evaluator) checkAnonymous(ctx context.Context, fingerprint string) (types.Entitlement, error) {
	used, err := e.reader.AnonymousUsage(ctx, fingerprint)
	if err != nil {
		return types.Entitlement{}, err
	}
	return buildEntitlement(used, e.anonAllowance, types.ReasonNeedsLogin), nil
}

func (e *Evaluator) checkAccount(ctx context.Context, accountID string) (types.Entitlement, error) {
	account, err := e.reader.GetAccount(ctx, accountID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundAccount {
			// A session pointing at a purged account reads as a fresh
			// trial with zero usage rather than an error.
			limits := e.plans.Limits(types.PlanTrial)
			return buildEntitlement(0, limits.MonthlyMessages, types.ReasonNeedsUpgrade), nil
		}
		return types.Entitlement{}, err
	}

	limits := e.plans.Limits(account.Plan)
	return buildEntitlement(account.UsageCount, limits.MonthlyMessages, types.ReasonNeedsUpgrade), nil
}

func buildEntitlement(used, limit int, denyReason types.DecisionReason) types.Entitlement {
	ent := types.Entitlement{
		Used:      used,
		Limit:     limit,
		Remaining: limit - used,
	}
	if ent.Remaining < 0 {
		ent.Remaining = 0
	}
	if used < limit {
		ent.Allowed = true
	} else {
		ent.Reason = denyReason
	}
	return ent
}
