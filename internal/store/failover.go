package store

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"pitchcraft/internal/types"
)

// Failover composes a durable primary Store with an in-memory fallback.
//
// The policy is deliberately one-directional: the first infrastructure-level
// failure of the primary (including a bounded-timeout expiry) flips a
// process-wide flag, the failed call is replayed against the fallback so the
// caller sees no error, and every future call routes to the fallback until
// the process restarts. There is no health-check retry loop; once degraded,
// memory-only durability is accepted rather than risking two backends mixing
// as sources of truth.
//
// Domain outcomes (quota denials, not-found, handle conflicts) pass through
// untouched and never trip the flag.
type Failover struct {
	primary  Store
	fallback Store
	degraded atomic.Bool

	// callTimeout bounds each primary call; zero disables the bound.
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewFailover builds the decorator and probes the primary backend. A failed
// probe starts the process degraded: every call is served by the fallback
// from the first request onward, with no error surfaced to callers.
func NewFailover(ctx context.Context, primary, fallback Store, callTimeout time.Duration, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Failover{
		primary:     primary,
		fallback:    fallback,
		callTimeout: callTimeout,
		logger:      logger,
	}

	probeCtx := ctx
	if callTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, callTimeout)
		defer cancel()
	}
	if err := primary.Ping(probeCtx); err != nil {
		f.trip("ping", err)
	}
	return f
}

// Degraded reports whether the facade has switched to the fallback backend.
func (f *Failover) Degraded() bool {
	return f.degraded.Load()
}

// trip flips the process-wide flag. Only the first flip logs the transition.
func (f *Failover) trip(op string, err error) {
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("durable storage backend unavailable, failing over to in-memory store",
			"operation", op,
			"error", err,
		)
	}
}

// do routes one operation: fallback when degraded, otherwise the primary
// under a bounded timeout, replaying against the fallback on infrastructure
// failure.
func do[T any](ctx context.Context, f *Failover, op string,
	primary func(ctx context.Context) (T, error),
	fallback func(ctx context.Context) (T, error),
) (T, error) {
	if f.degraded.Load() {
		return fallback(ctx)
	}

	callCtx := ctx
	if f.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.callTimeout)
		defer cancel()
	}

	out, err := primary(callCtx)
	if err != nil && types.IsInfrastructure(err) {
		f.trip(op, err)
		return fallback(ctx)
	}
	return out, err
}

// doErr is do for operations returning only an error.
func doErr(ctx context.Context, f *Failover, op string,
	primary func(ctx context.Context) error,
	fallback func(ctx context.Context) error,
) error {
	_, err := do(ctx, f, op,
		func(ctx context.Context) (struct{}, error) { return struct{}{}, primary(ctx) },
		func(ctx context.Context) (struct{}, error) { return struct{}{}, fallback(ctx) },
	)
	return err
}

func (f *Failover) CreateAccount(ctx context.Context, account *types.Account) error {
	return doErr(ctx, f, "create_account",
		func(ctx context.Context) error { return f.primary.CreateAccount(ctx, account) },
		func(ctx context.Context) error { return f.fallback.CreateAccount(ctx, account) },
	)
}

func (f *Failover) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	return do(ctx, f, "get_account",
		func(ctx context.Context) (*types.Account, error) { return f.primary.GetAccount(ctx, id) },
		func(ctx context.Context) (*types.Account, error) { return f.fallback.GetAccount(ctx, id) },
	)
}

func (f *Failover) GetAccountByHandle(ctx context.Context, handle string) (*types.Account, error) {
	return do(ctx, f, "get_account_by_handle",
		func(ctx context.Context) (*types.Account, error) { return f.primary.GetAccountByHandle(ctx, handle) },
		func(ctx context.Context) (*types.Account, error) { return f.fallback.GetAccountByHandle(ctx, handle) },
	)
}

func (f *Failover) GetAccountByBillingSubscription(ctx context.Context, subscriptionID string) (*types.Account, error) {
	return do(ctx, f, "get_account_by_billing_subscription",
		func(ctx context.Context) (*types.Account, error) {
			return f.primary.GetAccountByBillingSubscription(ctx, subscriptionID)
		},
		func(ctx context.Context) (*types.Account, error) {
			return f.fallback.GetAccountByBillingSubscription(ctx, subscriptionID)
		},
	)
}

func (f *Failover) ApplySubscriptionChange(ctx context.Context, change types.SubscriptionChange) error {
	return doErr(ctx, f, "apply_subscription_change",
		func(ctx context.Context) error { return f.primary.ApplySubscriptionChange(ctx, change) },
		func(ctx context.Context) error { return f.fallback.ApplySubscriptionChange(ctx, change) },
	)
}

func (f *Failover) AccountUsage(ctx context.Context, accountID string) (int, error) {
	return do(ctx, f, "account_usage",
		func(ctx context.Context) (int, error) { return f.primary.AccountUsage(ctx, accountID) },
		func(ctx context.Context) (int, error) { return f.fallback.AccountUsage(ctx, accountID) },
	)
}

func (f *Failover) AnonymousUsage(ctx context.Context, fingerprint string) (int, error) {
	return do(ctx, f, "anonymous_usage",
		func(ctx context.Context) (int, error) { return f.primary.AnonymousUsage(ctx, fingerprint) },
		func(ctx context.Context) (int, error) { return f.fallback.AnonymousUsage(ctx, fingerprint) },
	)
}

func (f *Failover) ConsumeAccount(ctx context.Context, accountID string, limit int, artifact *types.Artifact) (int, error) {
	return do(ctx, f, "consume_account",
		func(ctx context.Context) (int, error) {
			return f.primary.ConsumeAccount(ctx, accountID, limit, artifact)
		},
		func(ctx context.Context) (int, error) {
			return f.fallback.ConsumeAccount(ctx, accountID, limit, artifact)
		},
	)
}

func (f *Failover) ConsumeAnonymous(ctx context.Context, fingerprint string, limit int, artifact *types.Artifact) (int, error) {
	return do(ctx, f, "consume_anonymous",
		func(ctx context.Context) (int, error) {
			return f.primary.ConsumeAnonymous(ctx, fingerprint, limit, artifact)
		},
		func(ctx context.Context) (int, error) {
			return f.fallback.ConsumeAnonymous(ctx, fingerprint, limit, artifact)
		},
	)
}

func (f *Failover) ResetPeriod(ctx context.Context, accountID string) error {
	return doErr(ctx, f, "reset_period",
		func(ctx context.Context) error { return f.primary.ResetPeriod(ctx, accountID) },
		func(ctx context.Context) error { return f.fallback.ResetPeriod(ctx, accountID) },
	)
}

func (f *Failover) ListArtifacts(ctx context.Context, caller types.CallerIdentity, limit, offset int) ([]*types.Artifact, error) {
	return do(ctx, f, "list_artifacts",
		func(ctx context.Context) ([]*types.Artifact, error) {
			return f.primary.ListArtifacts(ctx, caller, limit, offset)
		},
		func(ctx context.Context) ([]*types.Artifact, error) {
			return f.fallback.ListArtifacts(ctx, caller, limit, offset)
		},
	)
}

func (f *Failover) GetArtifact(ctx context.Context, id string) (*types.Artifact, error) {
	return do(ctx, f, "get_artifact",
		func(ctx context.Context) (*types.Artifact, error) { return f.primary.GetArtifact(ctx, id) },
		func(ctx context.Context) (*types.Artifact, error) { return f.fallback.GetArtifact(ctx, id) },
	)
}

// Ping reports the health of whichever backend is currently active.
func (f *Failover) Ping(ctx context.Context) error {
	return doErr(ctx, f, "ping",
		func(ctx context.Context) error { return f.primary.Ping(ctx) },
		func(ctx context.Context) error { return f.fallback.Ping(ctx) },
	)
}

// Compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*Failover)(nil)
)
