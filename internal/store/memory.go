package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"pitchcraft/internal/types"
)

// MemoryStore is the in-memory Store implementation. It serves two roles:
// the process-wide fallback backend behind the Failover decorator, and an
// isolated per-test store (it is always constructed, never shared globally).
//
// Consume operations lock per caller identity so unrelated callers are never
// serialized against each other; the coarse mu guards only map/index access.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*types.Account
	byHandle  map[string]string // handle -> account id
	bySubRef  map[string]string // billing subscription id -> account id
	anonymous map[string]*types.AnonymousQuotaRecord
	artifacts map[string]*types.Artifact

	locks keyedMutex
	clock func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*types.Account),
		byHandle:  make(map[string]string),
		bySubRef:  make(map[string]string),
		anonymous: make(map[string]*types.AnonymousQuotaRecord),
		artifacts: make(map[string]*types.Artifact),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// keyedMutex provides one mutex per string key, created lazily.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	return l
}

// CreateAccount persists a new account, enforcing handle uniqueness.
func (s *MemoryStore) CreateAccount(ctx context.Context, account *types.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byHandle[account.Handle]; exists {
		return types.NewAppError(types.ErrCodeConflictHandle, "handle already registered", nil)
	}
	cp := *account
	s.accounts[cp.ID] = &cp
	s.byHandle[cp.Handle] = cp.ID
	if cp.BillingSubscriptionID != "" {
		s.bySubRef[cp.BillingSubscriptionID] = cp.ID
	}
	return nil
}

// GetAccount retrieves an account copy by id.
func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountLocked(id)
}

// accountLocked returns a copy of the stored account. Caller holds mu.
func (s *MemoryStore) accountLocked(id string) (*types.Account, error) {
	acct, ok := s.accounts[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	cp := *acct
	return &cp, nil
}

// GetAccountByHandle retrieves an account copy by its unique handle.
func (s *MemoryStore) GetAccountByHandle(ctx context.Context, handle string) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHandle[handle]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return s.accountLocked(id)
}

// GetAccountByBillingSubscription resolves an account via its external
// subscription reference.
func (s *MemoryStore) GetAccountByBillingSubscription(ctx context.Context, subscriptionID string) (*types.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySubRef[subscriptionID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return s.accountLocked(id)
}

// ApplySubscriptionChange applies a billing transition under the account's
// identity lock. Replays of the last applied event id and changes older
// than the last applied event are silent no-ops; an equal timestamp with a
// different event id still applies.
func (s *MemoryStore) ApplySubscriptionChange(ctx context.Context, change types.SubscriptionChange) error {
	key := types.CallerIdentity{AccountID: change.AccountID}.Key()
	l := s.locks.get(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[change.AccountID]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}

	if change.EventID != "" && change.EventID == acct.LastBillingEventID {
		// Replay of the last applied event, idempotent no-op.
		return nil
	}
	if acct.LastBillingEventAt != nil && change.EventTime.Before(*acct.LastBillingEventAt) {
		// Optimistic lock: older event delivered late, no-op. An equal
		// timestamp with a different event id still applies: processor
		// timestamps have one-second resolution.
		return nil
	}

	acct.Plan = change.Plan
	acct.SubscriptionStatus = change.Status
	if change.PeriodEnd != nil {
		pe := *change.PeriodEnd
		acct.CurrentPeriodEnd = &pe
	}
	if change.CustomerID != "" {
		acct.BillingCustomerID = change.CustomerID
	}
	if change.SubscriptionID != "" {
		if prev := acct.BillingSubscriptionID; prev != "" && prev != change.SubscriptionID {
			delete(s.bySubRef, prev)
		}
		acct.BillingSubscriptionID = change.SubscriptionID
		s.bySubRef[change.SubscriptionID] = acct.ID
	}
	if change.ResetUsage {
		acct.UsageCount = 0
	}
	et := change.EventTime
	acct.LastBillingEventAt = &et
	acct.LastBillingEventID = change.EventID
	acct.UpdatedAt = s.clock()
	return nil
}

// AccountUsage returns the account's consumed units this period.
func (s *MemoryStore) AccountUsage(ctx context.Context, accountID string) (int, error) {
	acct, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acct.UsageCount, nil
}

// AnonymousUsage returns the lifetime units consumed by a fingerprint.
// Unknown fingerprints read as zero usage, not as an error.
func (s *MemoryStore) AnonymousUsage(ctx context.Context, fingerprint string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.anonymous[fingerprint]
	if !ok {
		return 0, nil
	}
	return rec.UsageCount, nil
}

// ConsumeAccount performs the conditional increment and artifact insert as
// one step under the account's identity lock.
func (s *MemoryStore) ConsumeAccount(ctx context.Context, accountID string, limit int, artifact *types.Artifact) (int, error) {
	key := types.CallerIdentity{AccountID: accountID}.Key()
	l := s.locks.get(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return 0, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	if acct.UsageCount >= limit {
		return acct.UsageCount, types.NewAppError(types.ErrCodeConflictConcurrent,
			"usage counter already at quota", nil)
	}
	acct.UsageCount++
	acct.UpdatedAt = s.clock()
	s.insertArtifactLocked(artifact)
	return acct.UsageCount, nil
}

// ConsumeAnonymous performs the conditional increment for a fingerprint's
// lifetime allowance, creating the record lazily.
func (s *MemoryStore) ConsumeAnonymous(ctx context.Context, fingerprint string, limit int, artifact *types.Artifact) (int, error) {
	key := types.CallerIdentity{Fingerprint: fingerprint}.Key()
	l := s.locks.get(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.anonymous[fingerprint]
	if !ok {
		rec = &types.AnonymousQuotaRecord{
			Fingerprint: fingerprint,
			CreatedAt:   s.clock(),
		}
		s.anonymous[fingerprint] = rec
	}
	if rec.UsageCount >= limit {
		return rec.UsageCount, types.NewAppError(types.ErrCodeConflictConcurrent,
			"anonymous allowance already exhausted", nil)
	}
	rec.UsageCount++
	s.insertArtifactLocked(artifact)
	return rec.UsageCount, nil
}

// insertArtifactLocked stores a copy of the artifact. Caller holds mu.
func (s *MemoryStore) insertArtifactLocked(artifact *types.Artifact) {
	if artifact == nil {
		return
	}
	cp := *artifact
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.clock()
	}
	s.artifacts[cp.ID] = &cp
}

// ResetPeriod zeroes an account's usage counter.
func (s *MemoryStore) ResetPeriod(ctx context.Context, accountID string) error {
	key := types.CallerIdentity{AccountID: accountID}.Key()
	l := s.locks.get(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	acct.UsageCount = 0
	acct.UpdatedAt = s.clock()
	return nil
}

// ListArtifacts returns the caller's artifacts, newest first.
func (s *MemoryStore) ListArtifacts(ctx context.Context, caller types.CallerIdentity, limit, offset int) ([]*types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*types.Artifact
	for _, art := range s.artifacts {
		if caller.IsAnonymous() {
			if art.Fingerprint == caller.Fingerprint && art.Fingerprint != "" {
				matched = append(matched, art)
			}
		} else if art.AccountID == caller.AccountID {
			matched = append(matched, art)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*types.Artifact, len(matched))
	for i, art := range matched {
		cp := *art
		out[i] = &cp
	}
	return out, nil
}

// GetArtifact retrieves one artifact copy by id.
func (s *MemoryStore) GetArtifact(ctx context.Context, id string) (*types.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	art, ok := s.artifacts[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundArtifact, "artifact not found", nil)
	}
	cp := *art
	return &cp, nil
}

// Ping always succeeds: the in-memory backend cannot be unavailable.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
