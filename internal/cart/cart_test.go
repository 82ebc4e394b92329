package cart

import (
	"sync"
	"testing"

	"commerce-core/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(productID, variant string, qty int) models.CartLine {
	return models.CartLine{
		ProductID:     productID,
		VariantKey:    variant,
		UnitBasePrice: decimal.NewFromInt(10),
		Quantity:      qty,
	}
}

func TestAddItemMerges(t *testing.T) {
	s := NewStore("u1")

	require.NoError(t, s.AddItem(line("p1", "m", 1)))
	require.NoError(t, s.AddItem(line("p1", "m", 2)))

	snap := s.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 3, snap.Lines[0].Quantity)
}

func TestAddItemDistinctVariants(t *testing.T) {
	s := NewStore("u1")

	require.NoError(t, s.AddItem(line("p1", "m", 1)))
	require.NoError(t, s.AddItem(line("p1", "l", 1)))

	snap := s.Snapshot()
	assert.Len(t, snap.Lines, 2)
}

func TestAddItemRejectsInvalidQuantity(t *testing.T) {
	s := NewStore("u1")

	assert.ErrorIs(t, s.AddItem(line("p1", "", 0)), ErrInvalidQuantity)
	assert.ErrorIs(t, s.AddItem(line("p1", "", -3)), ErrInvalidQuantity)
	assert.Empty(t, s.Snapshot().Lines)
}

func TestUpdateQuantityFloorRemoves(t *testing.T) {
	s := NewStore("u1")
	require.NoError(t, s.AddItem(line("p1", "", 2)))

	s.UpdateQuantity("p1", "", 0)
	assert.Empty(t, s.Snapshot().Lines)
}

func TestUpdateQuantityMissingIsNoop(t *testing.T) {
	s := NewStore("u1")
	require.NoError(t, s.AddItem(line("p1", "", 2)))

	s.UpdateQuantity("missing", "", 5)

	snap := s.Snapshot()
	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 2, snap.Lines[0].Quantity)
}

func TestUpdateQuantitySets(t *testing.T) {
	s := NewStore("u1")
	require.NoError(t, s.AddItem(line("p1", "", 2)))

	s.UpdateQuantity("p1", "", 7)
	assert.Equal(t, 7, s.Snapshot().Lines[0].Quantity)
}

func TestRemoveItemMissingIsNoop(t *testing.T) {
	s := NewStore("u1")
	require.NoError(t, s.AddItem(line("p1", "", 1)))

	s.RemoveItem("missing", "")
	assert.Len(t, s.Snapshot().Lines, 1)

	s.RemoveItem("p1", "")
	assert.Empty(t, s.Snapshot().Lines)
}

func TestClearDropsCoupon(t *testing.T) {
	s := NewStore("u1")
	require.NoError(t, s.AddItem(line("p1", "", 1)))
	s.ApplyCoupon("LUXURY10")

	s.Clear()
	assert.Empty(t, s.Snapshot().Lines)
	assert.Empty(t, s.CouponCode())
}

func TestApplyCouponReplaces(t *testing.T) {
	s := NewStore("u1")

	s.ApplyCoupon("LUXURY10")
	assert.Equal(t, "LUXURY10", s.CouponCode())

	s.ApplyCoupon("YOUSSEF20")
	assert.Equal(t, "YOUSSEF20", s.CouponCode())

	s.RemoveCoupon()
	assert.Empty(t, s.CouponCode())
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewStore("u1")
	require.NoError(t, s.AddItem(line("p1", "", 2)))

	snap := s.Snapshot()

	s.UpdateQuantity("p1", "", 9)
	s.AddItem(line("p2", "", 1))
	s.ApplyCoupon("GOLD15")

	require.Len(t, snap.Lines, 1)
	assert.Equal(t, 2, snap.Lines[0].Quantity)
	assert.Empty(t, snap.CouponCode)
}

func TestInsertionOrderPreserved(t *testing.T) {
	s := NewStore("u1")
	require.NoError(t, s.AddItem(line("p3", "", 1)))
	require.NoError(t, s.AddItem(line("p1", "", 1)))
	require.NoError(t, s.AddItem(line("p2", "", 1)))
	require.NoError(t, s.AddItem(line("p1", "", 1)))

	snap := s.Snapshot()
	require.Len(t, snap.Lines, 3)
	assert.Equal(t, "p3", snap.Lines[0].ProductID)
	assert.Equal(t, "p1", snap.Lines[1].ProductID)
	assert.Equal(t, "p2", snap.Lines[2].ProductID)
}

func TestItemCount(t *testing.T) {
	s := NewStore("u1")
	require.NoError(t, s.AddItem(line("p1", "", 2)))
	require.NoError(t, s.AddItem(line("p2", "", 3)))
	assert.Equal(t, 5, s.ItemCount())
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	s := NewStore("u1")

	var mu sync.Mutex
	var changes []Change
	unsubscribe := s.Subscribe(func(c Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	require.NoError(t, s.AddItem(line("p1", "", 1)))
	s.UpdateQuantity("p1", "", 3)
	s.RemoveItem("p1", "")

	mu.Lock()
	require.Len(t, changes, 3)
	assert.Equal(t, OpAdd, changes[0].Op)
	assert.Equal(t, OpUpdate, changes[1].Op)
	assert.Equal(t, OpRemove, changes[2].Op)
	assert.Equal(t, 3, changes[1].ItemCount)
	mu.Unlock()

	unsubscribe()
	require.NoError(t, s.AddItem(line("p2", "", 1)))

	mu.Lock()
	assert.Len(t, changes, 3)
	mu.Unlock()
}

func TestNoopMutationsDoNotNotify(t *testing.T) {
	s := NewStore("u1")

	var mu sync.Mutex
	count := 0
	s.Subscribe(func(Change) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	s.UpdateQuantity("missing", "", 5)
	s.RemoveItem("missing", "")

	mu.Lock()
	assert.Zero(t, count)
	mu.Unlock()
}

func TestConcurrentMutationsAndSnapshots(t *testing.T) {
	s := NewStore("u1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.AddItem(line("p1", "", 1))
				snap := s.Snapshot()
				for _, l := range snap.Lines {
					// The quantity floor invariant must hold in
					// every observed snapshot.
					assert.GreaterOrEqual(t, l.Quantity, 1)
				}
				s.UpdateQuantity("p1", "", 1)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.Snapshot().Lines, 1)
}
