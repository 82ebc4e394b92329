package loyalty

import (
	"context"
	"sync"
	"testing"
	"time"

	"commerce-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLedger() *Ledger {
	return NewLedger(NewMemoryGrantStore(), zap.NewNop())
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		points int64
		want   string
	}{
		{0, models.LevelBronze},
		{499, models.LevelBronze},
		{500, models.LevelSilver},
		{1999, models.LevelSilver},
		{2000, models.LevelGold},
		{4999, models.LevelGold},
		{5000, models.LevelPlatinum},
		{100000, models.LevelPlatinum},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.points), "points=%d", tt.points)
	}
}

func TestLevelMonotonicity(t *testing.T) {
	rank := map[string]int{
		models.LevelBronze:   0,
		models.LevelSilver:   1,
		models.LevelGold:     2,
		models.LevelPlatinum: 3,
	}

	prev := rank[LevelFor(0)]
	for p := int64(1); p <= 6000; p++ {
		cur := rank[LevelFor(p)]
		require.GreaterOrEqual(t, cur, prev, "level dropped at %d points", p)
		prev = cur
	}
}

func TestNextThreshold(t *testing.T) {
	assert.Equal(t, int64(500), NextThreshold(0))
	assert.Equal(t, int64(2000), NextThreshold(500))
	assert.Equal(t, int64(5000), NextThreshold(2999))
	assert.Zero(t, NextThreshold(5000))
}

func TestGrantAccumulates(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	account, granted, err := ledger.Grant(ctx, "u1", "order-1", 300)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, int64(300), account.Points)
	assert.Equal(t, models.LevelBronze, account.Level)

	account, granted, err = ledger.Grant(ctx, "u1", "order-2", 300)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, int64(600), account.Points)
	assert.Equal(t, models.LevelSilver, account.Level)
}

func TestGrantIdempotentPerOrder(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	_, granted, err := ledger.Grant(ctx, "u1", "order-1", 100)
	require.NoError(t, err)
	assert.True(t, granted)

	// Retried grant for the same order must not double-award.
	account, granted, err := ledger.Grant(ctx, "u1", "order-1", 100)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, int64(100), account.Points)
}

func TestGrantRejectsNegative(t *testing.T) {
	ledger := newTestLedger()

	_, _, err := ledger.Grant(context.Background(), "u1", "order-1", -5)
	assert.ErrorIs(t, err, ErrInvalidGrant)
}

func TestGrantZeroIsValid(t *testing.T) {
	ledger := newTestLedger()

	account, granted, err := ledger.Grant(context.Background(), "u1", "order-1", 0)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Zero(t, account.Points)
}

func TestAccountUnknownUserIsBronzeZero(t *testing.T) {
	ledger := newTestLedger()

	account, err := ledger.Account(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, account.Points)
	assert.Equal(t, models.LevelBronze, account.Level)
}

func TestConcurrentGrantsSameOrder(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	var wg sync.WaitGroup
	grantedCount := int32(0)
	var mu sync.Mutex

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, granted, err := ledger.Grant(ctx, "u1", "order-1", 50)
			assert.NoError(t, err)
			if granted {
				mu.Lock()
				grantedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), grantedCount)

	account, err := ledger.Account(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), account.Points)
}

type fakeClaimer struct {
	mu      sync.Mutex
	claimed map[string]bool
	fail    bool
}

func (f *fakeClaimer) ClaimGrant(_ context.Context, orderID string, _ int64, _ time.Duration) (bool, error) {
	if f.fail {
		return false, assert.AnError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimed[orderID] {
		return false, nil
	}
	if f.claimed == nil {
		f.claimed = make(map[string]bool)
	}
	f.claimed[orderID] = true
	return true, nil
}

func TestClaimedGrantStoreFastPath(t *testing.T) {
	claimer := &fakeClaimer{claimed: make(map[string]bool)}
	grants := NewClaimedGrantStore(claimer, NewMemoryGrantStore(), 0)
	ctx := context.Background()

	granted, err := grants.TryGrant(ctx, models.LoyaltyGrant{OrderID: "o1", UserID: "u1", Points: 10})
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = grants.TryGrant(ctx, models.LoyaltyGrant{OrderID: "o1", UserID: "u1", Points: 10})
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestClaimedGrantStoreFallsBackOnClaimerError(t *testing.T) {
	grants := NewClaimedGrantStore(&fakeClaimer{fail: true}, NewMemoryGrantStore(), 0)
	ctx := context.Background()

	// The durable store still enforces idempotency on its own.
	granted, err := grants.TryGrant(ctx, models.LoyaltyGrant{OrderID: "o1", UserID: "u1", Points: 10})
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = grants.TryGrant(ctx, models.LoyaltyGrant{OrderID: "o1", UserID: "u1", Points: 10})
	require.NoError(t, err)
	assert.False(t, granted)
}
