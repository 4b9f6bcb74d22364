package metering

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"pitchcraft/internal/billing"
	"pitchcraft/internal/types"
)

// UsageWriter is the consuming slice of the store the ledger needs. The
// Consume methods are the storage layer's atomic conditional increments;
// the ledger never evaluates-then-increments across two calls.
type UsageWriter interface {
	GetAccount(ctx context.Context, id string) (*types.Account, error)
	ConsumeAccount(ctx context.Context, accountID string, limit int, artifact *types.Artifact) (int, error)
	ConsumeAnonymous(ctx context.Context, fingerprint string, limit int, artifact *types.Artifact) (int, error)
	ResetPeriod(ctx context.Context, accountID string) error
}

// Ledger records usage. Each successful Consume advances the caller's
// counter by exactly one and stores the artifact in the same commit.
type Ledger struct {
	writer        UsageWriter
	plans         billing.PlanRegistry
	anonAllowance int
	logger        *slog.Logger
}

// NewLedger creates a Ledger.
func NewLedger(writer UsageWriter, plans billing.PlanRegistry, anonAllowance int, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		writer:        writer,
		plans:         plans,
		anonAllowance: anonAllowance,
		logger:        logger,
	}
}

// Consume atomically takes one unit from the caller's budget and records the
// artifact. It returns the post-increment counter. When the caller is at the
// ceiling (including losing a concurrent race for the final unit) the store
// returns conflict_concurrent_modification with the current counter, and
// nothing is written.
func (l *Ledger) Consume(ctx context.Context, caller types.CallerIdentity, artifact *types.Artifact) (int, error) {
	stampArtifact(caller, artifact)

	if caller.IsAnonymous() {
		return l.writer.ConsumeAnonymous(ctx, caller.Fingerprint, l.anonAllowance, artifact)
	}

	// The plan read and the increment are two calls: a plan change
	// committing between them leaves this consume bounded by the ceiling
	// that was current at the read. The increment itself stays conditional
	// on that ceiling, so the counter can never pass whichever limit was
	// used; the next consume sees the new plan.
	account, err := l.writer.GetAccount(ctx, caller.AccountID)
	if err != nil {
		return 0, err
	}
	limit := l.plans.Limits(account.Plan).MonthlyMessages
	return l.writer.ConsumeAccount(ctx, caller.AccountID, limit, artifact)
}

// ResetPeriod zeroes an account's period counter. Only the subscription
// state machine calls this; anonymous budgets are lifetime and never reset.
func (l *Ledger) ResetPeriod(ctx context.Context, accountID string) error {
	return l.writer.ResetPeriod(ctx, accountID)
}

// stampArtifact binds the artifact to the caller identity and assigns an id
// when the caller did not provide one.
func stampArtifact(caller types.CallerIdentity, artifact *types.Artifact) {
	if artifact == nil {
		return
	}
	if artifact.ID == "" {
		artifact.ID = uuid.NewString()
	}
	if caller.IsAnonymous() {
		artifact.Fingerprint = caller.Fingerprint
		artifact.AccountID = ""
	} else {
		artifact.AccountID = caller.AccountID
		artifact.Fingerprint = ""
	}
}
