package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"pitchcraft/internal/types"
)

// AnonUsageRepo provides data access for the anonymous_usage table, keyed by
// caller fingerprint. Rows are created lazily on first consumption and are
// never reset: the anonymous allowance is a one-time lifetime budget.
type AnonUsageRepo struct {
	db DBTX
}

// NewAnonUsageRepo creates a new AnonUsageRepo backed by the given database
// connection (pool or transaction).
func NewAnonUsageRepo(db DBTX) *AnonUsageRepo {
	return &AnonUsageRepo{db: db}
}

// Usage returns the lifetime units consumed by a fingerprint. A fingerprint
// never seen before reads as zero, not as an error.
func (r *AnonUsageRepo) Usage(ctx context.Context, fingerprint string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT usage_count FROM anonymous_usage WHERE fingerprint = $1`,
		fingerprint,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read anonymous usage", err)
	}
	return count, nil
}

// Consume performs the atomic conditional increment for a fingerprint. The
// upsert creates the row on first use and only advances the counter while it
// is below limit; the post-increment value returns from the same statement.
func (r *AnonUsageRepo) Consume(ctx context.Context, fingerprint string, limit int) (int, error) {
	if limit <= 0 {
		current, err := r.Usage(ctx, fingerprint)
		if err != nil {
			return 0, err
		}
		return current, types.NewAppError(types.ErrCodeConflictConcurrent,
			"anonymous allowance already exhausted", nil)
	}

	var used int
	err := r.db.QueryRow(ctx,
		`INSERT INTO anonymous_usage (fingerprint, usage_count, created_at)
		 VALUES ($1, 1, NOW())
		 ON CONFLICT (fingerprint) DO UPDATE
		   SET usage_count = anonymous_usage.usage_count + 1
		   WHERE anonymous_usage.usage_count < $2
		 RETURNING usage_count`,
		fingerprint,
		limit,
	).Scan(&used)
	if err == nil {
		return used, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to consume anonymous unit", err)
	}

	// The conflict branch declined the update: allowance exhausted.
	current, err := r.Usage(ctx, fingerprint)
	if err != nil {
		return 0, err
	}
	return current, types.NewAppError(types.ErrCodeConflictConcurrent,
		"anonymous allowance already exhausted", nil)
}
