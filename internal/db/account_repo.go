package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pitchcraft/internal/types"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// AccountRepo provides data access for the accounts table. The usage counter
// column is written only through the conditional-increment in ConsumeUsage
// and the reset paths; subscription fields are written only through
// ApplySubscriptionChange.
type AccountRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewAccountRepo creates a new AccountRepo backed by the given database
// connection (pool or transaction).
func NewAccountRepo(db DBTX, logger *slog.Logger) *AccountRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountRepo{db: db, logger: logger}
}

// accountColumns defines the standard set of columns selected for account
// queries. Used consistently across all query methods to avoid column drift.
const accountColumns = `a.id, a.handle, a.email, a.password_hash, a.plan, a.usage_count,
	a.subscription_status, a.current_period_end, a.billing_customer_id,
	a.billing_subscription_id, a.last_billing_event_at, a.last_billing_event_id,
	a.created_at, a.updated_at`

// scanAccount scans a single account row into a types.Account struct.
// The columns must match the order defined in accountColumns. Uses nullable
// scan targets for columns that may be NULL in the database.
func scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	var (
		email          *string
		customerID     *string
		subscriptionID *string
		lastEventID    *string
	)
	err := row.Scan(
		&a.ID,
		&a.Handle,
		&email,
		&a.PasswordHash,
		&a.Plan,
		&a.UsageCount,
		&a.SubscriptionStatus,
		&a.CurrentPeriodEnd,
		&customerID,
		&subscriptionID,
		&a.LastBillingEventAt,
		&lastEventID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if email != nil {
		a.Email = *email
	}
	if customerID != nil {
		a.BillingCustomerID = *customerID
	}
	if subscriptionID != nil {
		a.BillingSubscriptionID = *subscriptionID
	}
	if lastEventID != nil {
		a.LastBillingEventID = *lastEventID
	}
	return &a, nil
}

// Create inserts a new account row. A duplicate handle maps to
// conflict_handle_exists via the unique index.
func (r *AccountRepo) Create(ctx context.Context, account *types.Account) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO accounts
		   (id, handle, email, password_hash, plan, usage_count,
		    subscription_status, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NOW(), NOW())`,
		account.ID,
		account.Handle,
		account.Email,
		account.PasswordHash,
		account.Plan,
		account.UsageCount,
		account.SubscriptionStatus,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return types.NewAppError(types.ErrCodeConflictHandle, "handle already registered", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create account", err)
	}
	return nil
}

// GetByID retrieves an account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts a WHERE a.id = $1`,
		id,
	)
	return r.oneAccount(row)
}

// GetByHandle retrieves an account by its unique handle.
func (r *AccountRepo) GetByHandle(ctx context.Context, handle string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts a WHERE a.handle = $1`,
		handle,
	)
	return r.oneAccount(row)
}

// GetByBillingSubscription resolves the account holding the given external
// subscription reference.
func (r *AccountRepo) GetByBillingSubscription(ctx context.Context, subscriptionID string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts a WHERE a.billing_subscription_id = $1`,
		subscriptionID,
	)
	return r.oneAccount(row)
}

func (r *AccountRepo) oneAccount(row pgx.Row) (*types.Account, error) {
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve account", err)
	}
	return a, nil
}

// Usage returns the account's consumed units this period.
func (r *AccountRepo) Usage(ctx context.Context, id string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT usage_count FROM accounts WHERE id = $1`,
		id,
	).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to read usage counter", err)
	}
	return count, nil
}

// ConsumeUsage performs the atomic conditional increment: the counter
// advances only while it is below limit, and the post-increment value is
// returned from the same statement. Two racing callers can never both
// consume the final unit; the loser sees conflict_concurrent_modification.
func (r *AccountRepo) ConsumeUsage(ctx context.Context, id string, limit int) (int, error) {
	var used int
	err := r.db.QueryRow(ctx,
		`UPDATE accounts
		 SET usage_count = usage_count + 1,
		     updated_at = NOW()
		 WHERE id = $1
		   AND usage_count < $2
		 RETURNING usage_count`,
		id,
		limit,
	).Scan(&used)
	if err == nil {
		return used, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to consume usage unit", err)
	}

	// No row updated: either the account is missing or the counter is at
	// the ceiling. Disambiguate with a plain read.
	current, err := r.Usage(ctx, id)
	if err != nil {
		return 0, err
	}
	return current, types.NewAppError(types.ErrCodeConflictConcurrent,
		"usage counter already at quota", nil)
}

// ResetUsage zeroes the account's usage counter.
func (r *AccountRepo) ResetUsage(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET usage_count = 0, updated_at = NOW() WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reset usage counter", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return nil
}

// ApplySubscriptionChange atomically updates plan, status, period end, and
// billing references in a single UPDATE guarded by optimistic locking on
// last_billing_event_id and last_billing_event_at. A replay of the last
// applied event id, or an event older than the last applied one, affects
// zero rows and is an idempotent no-op. The timestamp guard is <=, not <:
// processor timestamps have one-second resolution, so a distinct in-order
// event sharing a second with its predecessor must still apply.
func (r *AccountRepo) ApplySubscriptionChange(ctx context.Context, change types.SubscriptionChange) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET plan = $1,
		     subscription_status = $2,
		     current_period_end = COALESCE($3, current_period_end),
		     billing_customer_id = COALESCE(NULLIF($4, ''), billing_customer_id),
		     billing_subscription_id = COALESCE(NULLIF($5, ''), billing_subscription_id),
		     usage_count = CASE WHEN $6 THEN 0 ELSE usage_count END,
		     last_billing_event_at = $7,
		     last_billing_event_id = $8,
		     updated_at = NOW()
		 WHERE id = $9
		   AND (last_billing_event_id IS NULL OR last_billing_event_id <> $8)
		   AND (last_billing_event_at IS NULL OR last_billing_event_at <= $7)`,
		change.Plan,
		change.Status,
		change.PeriodEnd,
		change.CustomerID,
		change.SubscriptionID,
		change.ResetUsage,
		change.EventTime,
		change.EventID,
		change.AccountID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to apply subscription change", err)
	}

	if tag.RowsAffected() == 0 {
		// Either the account does not exist or the event lost the
		// optimistic lock. A missing account is an error; a stale event
		// is an idempotent no-op.
		var exists bool
		err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`,
			change.AccountID,
		).Scan(&exists)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to verify account after stale update", err)
		}
		if !exists {
			return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		r.logger.Info("stale billing event ignored (optimistic lock)",
			"account_id", change.AccountID,
			"event_id", change.EventID,
			"event_time", change.EventTime,
		)
	}
	return nil
}
