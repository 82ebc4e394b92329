package loyalty

import (
	"context"
	"sync"
	"time"

	"commerce-core/internal/models"
)

// MemoryGrantStore is an in-process GrantStore. It backs tests and
// single-node deployments without a database.
type MemoryGrantStore struct {
	mu       sync.Mutex
	balances map[string]int64
	grants   map[string]models.LoyaltyGrant
	updated  map[string]time.Time
}

// NewMemoryGrantStore creates an empty in-memory grant store.
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{
		balances: make(map[string]int64),
		grants:   make(map[string]models.LoyaltyGrant),
		updated:  make(map[string]time.Time),
	}
}

// TryGrant records the grant and increments the balance under one lock.
// A repeated order id leaves everything unchanged.
func (m *MemoryGrantStore) TryGrant(_ context.Context, grant models.LoyaltyGrant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.grants[grant.OrderID]; exists {
		return false, nil
	}

	grant.GrantedAt = time.Now()
	m.grants[grant.OrderID] = grant
	m.balances[grant.UserID] += grant.Points
	m.updated[grant.UserID] = grant.GrantedAt
	return true, nil
}

// GetAccount returns the stored balance, or nil if the user has none.
func (m *MemoryGrantStore) GetAccount(_ context.Context, userID string) (*models.LoyaltyAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	points, ok := m.balances[userID]
	if !ok {
		return nil, nil
	}
	return &models.LoyaltyAccount{
		UserID:    userID,
		Points:    points,
		UpdatedAt: m.updated[userID],
	}, nil
}
