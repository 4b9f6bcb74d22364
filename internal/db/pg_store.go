package db

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"pitchcraft/internal/store"
	"pitchcraft/internal/types"
)

// PgStore is the durable store.Store implementation, composing the account,
// anonymous-usage, and artifact repositories over one connection pool.
// Consume operations run the conditional increment and the artifact insert
// in a single transaction so they commit together or not at all.
type PgStore struct {
	pool      *pgxpool.Pool
	accounts  *AccountRepo
	anonymous *AnonUsageRepo
	artifacts *ArtifactRepo
	logger    *slog.Logger
}

// NewPgStore creates a PgStore over the given pool.
func NewPgStore(pool *pgxpool.Pool, logger *slog.Logger) *PgStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PgStore{
		pool:      pool,
		accounts:  NewAccountRepo(pool, logger),
		anonymous: NewAnonUsageRepo(pool),
		artifacts: NewArtifactRepo(pool),
		logger:    logger,
	}
}

func (s *PgStore) CreateAccount(ctx context.Context, account *types.Account) error {
	return s.accounts.Create(ctx, account)
}

func (s *PgStore) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *PgStore) GetAccountByHandle(ctx context.Context, handle string) (*types.Account, error) {
	return s.accounts.GetByHandle(ctx, handle)
}

func (s *PgStore) GetAccountByBillingSubscription(ctx context.Context, subscriptionID string) (*types.Account, error) {
	return s.accounts.GetByBillingSubscription(ctx, subscriptionID)
}

func (s *PgStore) ApplySubscriptionChange(ctx context.Context, change types.SubscriptionChange) error {
	return s.accounts.ApplySubscriptionChange(ctx, change)
}

func (s *PgStore) AccountUsage(ctx context.Context, accountID string) (int, error) {
	return s.accounts.Usage(ctx, accountID)
}

func (s *PgStore) AnonymousUsage(ctx context.Context, fingerprint string) (int, error) {
	return s.anonymous.Usage(ctx, fingerprint)
}

// ConsumeAccount increments the account counter and inserts the artifact in
// one transaction.
func (s *PgStore) ConsumeAccount(ctx context.Context, accountID string, limit int, artifact *types.Artifact) (int, error) {
	var used int
	err := s.inTx(ctx, func(tx DBTX) error {
		var err error
		used, err = NewAccountRepo(tx, s.logger).ConsumeUsage(ctx, accountID, limit)
		if err != nil {
			return err
		}
		if artifact != nil {
			return NewArtifactRepo(tx).Insert(ctx, artifact)
		}
		return nil
	})
	return used, err
}

// ConsumeAnonymous increments the fingerprint counter and inserts the
// artifact in one transaction.
func (s *PgStore) ConsumeAnonymous(ctx context.Context, fingerprint string, limit int, artifact *types.Artifact) (int, error) {
	var used int
	err := s.inTx(ctx, func(tx DBTX) error {
		var err error
		used, err = NewAnonUsageRepo(tx).Consume(ctx, fingerprint, limit)
		if err != nil {
			return err
		}
		if artifact != nil {
			return NewArtifactRepo(tx).Insert(ctx, artifact)
		}
		return nil
	})
	return used, err
}

func (s *PgStore) ResetPeriod(ctx context.Context, accountID string) error {
	return s.accounts.ResetUsage(ctx, accountID)
}

func (s *PgStore) ListArtifacts(ctx context.Context, caller types.CallerIdentity, limit, offset int) ([]*types.Artifact, error) {
	return s.artifacts.ListByCaller(ctx, caller, limit, offset)
}

func (s *PgStore) GetArtifact(ctx context.Context, id string) (*types.Artifact, error) {
	return s.artifacts.GetByID(ctx, id)
}

// Ping probes backend availability.
func (s *PgStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "database ping failed", err)
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error. A commit or
// begin failure is an infrastructure error; domain errors from fn pass
// through unchanged.
func (s *PgStore) inTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}

// Compile-time interface check.
var _ store.Store = (*PgStore)(nil)
