package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pitchcraft/internal/types"
)

func newTestAccount(id, handle string) *types.Account {
	return &types.Account{
		ID:                 id,
		Handle:             handle,
		Plan:               types.PlanTrial,
		SubscriptionStatus: types.SubStatusActive,
		CreatedAt:          time.Now().UTC(),
	}
}

func TestMemoryStore_CreateAndGetAccount(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	got, err := s.GetAccount(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "dana", got.Handle)

	byHandle, err := s.GetAccountByHandle(ctx, "dana")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", byHandle.ID)
}

func TestMemoryStore_DuplicateHandle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))
	err := s.CreateAccount(ctx, newTestAccount("acct_2", "dana"))

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictHandle, appErr.Code)
}

func TestMemoryStore_GetAccountReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	first, err := s.GetAccount(ctx, "acct_1")
	require.NoError(t, err)
	first.UsageCount = 99

	second, err := s.GetAccount(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.UsageCount, "mutating a returned account must not affect the store")
}

func TestMemoryStore_AnonymousUsageDefaultsToZero(t *testing.T) {
	s := NewMemoryStore()

	used, err := s.AnonymousUsage(context.Background(), "fp_never_seen")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestMemoryStore_ConsumeAccount_IncrementsAndRecordsArtifact(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	used, err := s.ConsumeAccount(ctx, "acct_1", 10, &types.Artifact{
		ID:        "art_1",
		AccountID: "acct_1",
		Text:      "Hi there, loved your post about Go generics.",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, used)

	art, err := s.GetArtifact(ctx, "art_1")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", art.AccountID)
	assert.False(t, art.CreatedAt.IsZero())
}

func TestMemoryStore_ConsumeAccount_AtQuota(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	_, err := s.ConsumeAccount(ctx, "acct_1", 1, &types.Artifact{ID: "art_1", AccountID: "acct_1"})
	require.NoError(t, err)

	used, err := s.ConsumeAccount(ctx, "acct_1", 1, &types.Artifact{ID: "art_2", AccountID: "acct_1"})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictConcurrent, appErr.Code)
	assert.Equal(t, 1, used, "failed consume reports the current counter")

	// The denied consume must not have recorded its artifact.
	_, err = s.GetArtifact(ctx, "art_2")
	require.Error(t, err)
}

// TestMemoryStore_ConsumeAccount_ConcurrentQuota verifies the quota
// monotonicity property: N concurrent consumes against quota Q succeed
// exactly min(N, Q) times and the counter never exceeds Q.
func TestMemoryStore_ConsumeAccount_ConcurrentQuota(t *testing.T) {
	const (
		workers = 32
		quota   = 10
	)
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	var wg sync.WaitGroup
	successes := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			used, err := s.ConsumeAccount(ctx, "acct_1", quota, &types.Artifact{
				ID:        fmt.Sprintf("art_%d", n),
				AccountID: "acct_1",
			})
			if err == nil {
				successes <- used
			}
		}(i)
	}
	wg.Wait()
	close(successes)

	var count int
	seen := make(map[int]bool)
	for used := range successes {
		count++
		assert.False(t, seen[used], "post-increment value %d returned twice", used)
		seen[used] = true
		assert.LessOrEqual(t, used, quota)
	}
	assert.Equal(t, quota, count, "exactly quota consumes must succeed")

	final, err := s.AccountUsage(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, quota, final)
}

func TestMemoryStore_ConsumeAnonymous_LazyCreationAndCeiling(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		used, err := s.ConsumeAnonymous(ctx, "fp_1", 3, &types.Artifact{
			ID:          fmt.Sprintf("art_%d", i),
			Fingerprint: "fp_1",
		})
		require.NoError(t, err)
		assert.Equal(t, i, used)
	}

	_, err := s.ConsumeAnonymous(ctx, "fp_1", 3, &types.Artifact{ID: "art_4", Fingerprint: "fp_1"})
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeConflictConcurrent, appErr.Code)

	used, err := s.AnonymousUsage(ctx, "fp_1")
	require.NoError(t, err)
	assert.Equal(t, 3, used)
}

func TestMemoryStore_ResetPeriod(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	_, err := s.ConsumeAccount(ctx, "acct_1", 10, &types.Artifact{ID: "art_1", AccountID: "acct_1"})
	require.NoError(t, err)

	require.NoError(t, s.ResetPeriod(ctx, "acct_1"))
	used, err := s.AccountUsage(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestMemoryStore_ApplySubscriptionChange(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	periodEnd := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	eventTime := time.Now().UTC()
	require.NoError(t, s.ApplySubscriptionChange(ctx, types.SubscriptionChange{
		AccountID:      "acct_1",
		Plan:           types.PlanPro,
		Status:         types.SubStatusActive,
		PeriodEnd:      &periodEnd,
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
		EventTime:      eventTime,
	}))

	acct, err := s.GetAccount(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanPro, acct.Plan)
	assert.Equal(t, "cus_1", acct.BillingCustomerID)

	bySub, err := s.GetAccountByBillingSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", bySub.ID)
}

func TestMemoryStore_ApplySubscriptionChange_StaleEventIgnored(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	now := time.Now().UTC()
	require.NoError(t, s.ApplySubscriptionChange(ctx, types.SubscriptionChange{
		AccountID: "acct_1",
		Plan:      types.PlanPro,
		Status:    types.SubStatusActive,
		EventTime: now,
	}))

	// An older cancellation delivered late must not clobber the newer state.
	require.NoError(t, s.ApplySubscriptionChange(ctx, types.SubscriptionChange{
		AccountID: "acct_1",
		Plan:      types.PlanTrial,
		Status:    types.SubStatusCanceled,
		EventTime: now.Add(-time.Minute),
	}))

	acct, err := s.GetAccount(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanPro, acct.Plan)
	assert.Equal(t, types.SubStatusActive, acct.SubscriptionStatus)
}

func TestMemoryStore_ApplySubscriptionChange_SameSecondSuccessorApplies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	// Processor timestamps have one-second resolution: a checkout and its
	// first paid invoice routinely share a timestamp. The invoice must
	// still apply.
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.ApplySubscriptionChange(ctx, types.SubscriptionChange{
		AccountID:      "acct_1",
		EventID:        "evt_checkout",
		Plan:           types.PlanPro,
		Status:         types.SubStatusActive,
		SubscriptionID: "sub_1",
		EventTime:      now,
	}))

	_, err := s.ConsumeAccount(ctx, "acct_1", 500, &types.Artifact{ID: "art_1", AccountID: "acct_1"})
	require.NoError(t, err)

	periodEnd := now.Add(30 * 24 * time.Hour)
	require.NoError(t, s.ApplySubscriptionChange(ctx, types.SubscriptionChange{
		AccountID:  "acct_1",
		EventID:    "evt_invoice",
		Plan:       types.PlanPro,
		Status:     types.SubStatusActive,
		PeriodEnd:  &periodEnd,
		ResetUsage: true,
		EventTime:  now,
	}))

	acct, err := s.GetAccount(ctx, "acct_1")
	require.NoError(t, err)
	require.NotNil(t, acct.CurrentPeriodEnd)
	assert.True(t, periodEnd.Equal(*acct.CurrentPeriodEnd))
	assert.Equal(t, 0, acct.UsageCount)
	assert.Equal(t, "evt_invoice", acct.LastBillingEventID)
}

func TestMemoryStore_ApplySubscriptionChange_ReplayedEventIDIgnored(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	now := time.Now().UTC().Truncate(time.Second)
	change := types.SubscriptionChange{
		AccountID:  "acct_1",
		EventID:    "evt_invoice",
		Plan:       types.PlanPro,
		Status:     types.SubStatusActive,
		ResetUsage: true,
		EventTime:  now,
	}
	require.NoError(t, s.ApplySubscriptionChange(ctx, change))

	_, err := s.ConsumeAccount(ctx, "acct_1", 500, &types.Artifact{ID: "art_1", AccountID: "acct_1"})
	require.NoError(t, err)

	// Redelivery of the same event must not reset the counter again.
	require.NoError(t, s.ApplySubscriptionChange(ctx, change))

	used, err := s.AccountUsage(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}

func TestMemoryStore_ApplySubscriptionChange_ResetUsage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	_, err := s.ConsumeAccount(ctx, "acct_1", 10, &types.Artifact{ID: "art_1", AccountID: "acct_1"})
	require.NoError(t, err)

	require.NoError(t, s.ApplySubscriptionChange(ctx, types.SubscriptionChange{
		AccountID:  "acct_1",
		Plan:       types.PlanPro,
		Status:     types.SubStatusActive,
		ResetUsage: true,
		EventTime:  time.Now().UTC(),
	}))

	used, err := s.AccountUsage(ctx, "acct_1")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestMemoryStore_ListArtifacts_NewestFirstScopedToCaller(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	base := time.Now().UTC()
	s.clock = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		s.clock = func() time.Time { return ts }
		_, err := s.ConsumeAccount(ctx, "acct_1", 10, &types.Artifact{
			ID:        fmt.Sprintf("art_%d", i),
			AccountID: "acct_1",
			CreatedAt: ts,
		})
		require.NoError(t, err)
	}
	_, err := s.ConsumeAnonymous(ctx, "fp_1", 3, &types.Artifact{ID: "art_anon", Fingerprint: "fp_1"})
	require.NoError(t, err)

	arts, err := s.ListArtifacts(ctx, types.CallerIdentity{AccountID: "acct_1"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, arts, 3)
	assert.Equal(t, "art_2", arts[0].ID)
	assert.Equal(t, "art_0", arts[2].ID)

	anonArts, err := s.ListArtifacts(ctx, types.CallerIdentity{Fingerprint: "fp_1"}, 10, 0)
	require.NoError(t, err)
	require.Len(t, anonArts, 1)
	assert.Equal(t, "art_anon", anonArts[0].ID)
}

func TestMemoryStore_ListArtifacts_Pagination(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateAccount(ctx, newTestAccount("acct_1", "dana")))

	for i := 0; i < 5; i++ {
		_, err := s.ConsumeAccount(ctx, "acct_1", 10, &types.Artifact{
			ID:        fmt.Sprintf("art_%d", i),
			AccountID: "acct_1",
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	page, err := s.ListArtifacts(ctx, types.CallerIdentity{AccountID: "acct_1"}, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "art_2", page[0].ID)

	empty, err := s.ListArtifacts(ctx, types.CallerIdentity{AccountID: "acct_1"}, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
