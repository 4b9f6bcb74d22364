// Package store defines the persistence boundary for accounts, usage
// counters, and generated-artifact records. One Store interface fronts two
// backends: the durable PostgreSQL implementation (internal/db) and the
// in-memory fallback in this package, composed by the Failover decorator.
package store

import (
	"context"

	"pitchcraft/internal/types"
)

// Store is the single persistence interface every component depends on.
// Implementations must make ConsumeAccount/ConsumeAnonymous atomic per
// identity: a conditional increment plus the artifact insert commit together
// or not at all.
type Store interface {
	// CreateAccount persists a new account. The handle must be unique;
	// a duplicate returns conflict_handle_exists.
	CreateAccount(ctx context.Context, account *types.Account) error

	// GetAccount retrieves an account by id, or not_found_account.
	GetAccount(ctx context.Context, id string) (*types.Account, error)

	// GetAccountByHandle retrieves an account by its unique handle.
	GetAccountByHandle(ctx context.Context, handle string) (*types.Account, error)

	// GetAccountByBillingSubscription resolves the account holding the
	// given external subscription reference.
	GetAccountByBillingSubscription(ctx context.Context, subscriptionID string) (*types.Account, error)

	// ApplySubscriptionChange applies a billing transition atomically.
	// Changes replaying the account's last applied billing event id, or
	// carrying an EventTime older than that event, are silent no-ops
	// (idempotent replay/out-of-order protection). An equal EventTime with
	// a different event id applies: processor timestamps have one-second
	// resolution, so distinct in-order events can share a second.
	ApplySubscriptionChange(ctx context.Context, change types.SubscriptionChange) error

	// AccountUsage returns the account's consumed units this period.
	AccountUsage(ctx context.Context, accountID string) (int, error)

	// AnonymousUsage returns the lifetime units consumed by a fingerprint.
	// An unknown fingerprint reads as zero, never an error.
	AnonymousUsage(ctx context.Context, fingerprint string) (int, error)

	// ConsumeAccount atomically increments the account's usage counter iff
	// it is below limit, recording the artifact in the same commit. Returns
	// the post-increment value. When the counter already reached the limit
	// (including losing a concurrent race), it returns
	// conflict_concurrent_modification and writes nothing.
	ConsumeAccount(ctx context.Context, accountID string, limit int, artifact *types.Artifact) (int, error)

	// ConsumeAnonymous is ConsumeAccount for a fingerprint's lifetime
	// allowance, creating the record lazily on first use.
	ConsumeAnonymous(ctx context.Context, fingerprint string, limit int, artifact *types.Artifact) (int, error)

	// ResetPeriod zeroes an account's usage counter. Called only by the
	// subscription state machine; anonymous counters are never reset.
	ResetPeriod(ctx context.Context, accountID string) error

	// ListArtifacts returns the caller's artifacts, newest first.
	ListArtifacts(ctx context.Context, caller types.CallerIdentity, limit, offset int) ([]*types.Artifact, error)

	// GetArtifact retrieves one artifact by id, or not_found_artifact.
	GetArtifact(ctx context.Context, id string) (*types.Artifact, error)

	// Ping probes backend availability.
	Ping(ctx context.Context) error
}
