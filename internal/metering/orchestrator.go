package metering

import (
	"context"
	"errors"
	"log/slog"

	"pitchcraft/internal/types"
)

// Orchestrator is the only component that sequences entitlement, external
// generation, and consumption. The contract with its callers:
//
//	ent, err := orch.Authorize(ctx, caller)   // pre-flight, consumes nothing
//	... run the external generation ...
//	receipt, err := orch.Commit(ctx, caller, artifact)
//
// A request aborted between Authorize and Commit consumes nothing; the
// atomic increment inside Commit is the sole admission decision under
// concurrency.
type Orchestrator struct {
	evaluator *Evaluator
	ledger    *Ledger
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(evaluator *Evaluator, ledger *Ledger, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		evaluator: evaluator,
		ledger:    ledger,
		logger:    logger,
	}
}

// Authorize runs the pre-flight entitlement check. A denied caller gets the
// entitlement snapshot plus a typed denial error; allowed callers get only
// the snapshot. Authorize reserves nothing: two callers may both pass with
// one unit left, and Commit decides the race.
func (o *Orchestrator) Authorize(ctx context.Context, caller types.CallerIdentity) (types.Entitlement, error) {
	ent, err := o.evaluator.Check(ctx, caller)
	if err != nil {
		return types.Entitlement{}, err
	}
	if !ent.Allowed {
		return ent, denialError(caller, ent)
	}
	return ent, nil
}

// Commit consumes one unit and records the artifact atomically. When the
// conditional increment loses (the counter reached the ceiling since
// Authorize), Commit re-evaluates and returns the quota denial instead of
// the raw conflict, so callers always see the caller-facing error.
func (o *Orchestrator) Commit(ctx context.Context, caller types.CallerIdentity, artifact *types.Artifact) (types.UsageReceipt, error) {
	used, err := o.ledger.Consume(ctx, caller, artifact)
	if err == nil {
		ent, entErr := o.evaluator.Check(ctx, caller)
		if entErr != nil {
			// Consumption succeeded; a failed follow-up read only costs
			// the remaining figure.
			o.logger.WarnContext(ctx, "entitlement re-read failed after consume",
				"caller", caller.Key(), "error", entErr)
			return types.UsageReceipt{Used: used}, nil
		}
		return types.UsageReceipt{Used: used, Remaining: ent.Remaining}, nil
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeConflictConcurrent {
		ent, entErr := o.evaluator.Check(ctx, caller)
		if entErr != nil {
			return types.UsageReceipt{}, entErr
		}
		o.logger.InfoContext(ctx, "consume lost the admission race",
			"caller", caller.Key(), "used", ent.Used, "limit", ent.Limit)
		return types.UsageReceipt{}, denialError(caller, ent)
	}
	return types.UsageReceipt{}, err
}

// denialError maps a denied entitlement to the caller-facing error: an
// exhausted anonymous allowance asks for registration, an exhausted plan
// quota asks for an upgrade.
func denialError(caller types.CallerIdentity, ent types.Entitlement) error {
	details := map[string]any{
		"used":  ent.Used,
		"limit": ent.Limit,
	}
	if caller.IsAnonymous() {
		return types.NewAppError(types.ErrCodeAuthNeedsLogin,
			"anonymous allowance exhausted, create an account to continue", nil).
			WithDetails(details)
	}
	return types.NewAppError(types.ErrCodeLimitMessages,
		"plan quota exhausted for the current period", nil).
		WithDetails(details)
}
