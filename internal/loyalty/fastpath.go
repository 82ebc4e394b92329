package loyalty

import (
	"context"
	"time"

	"commerce-core/internal/models"
	"commerce-core/internal/util"

	"go.uber.org/zap"
)

// GrantClaimer is the fast-path check on a grant's idempotency key,
// typically Redis. The durable store behind it remains authoritative.
type GrantClaimer interface {
	ClaimGrant(ctx context.Context, orderID string, points int64, ttl time.Duration) (bool, error)
}

// ClaimedGrantStore fronts a GrantStore with a claimer so repeated grant
// attempts for an order are rejected without a database round trip. A
// claimer failure falls back to the durable store, which enforces the same
// idempotency on its own.
type ClaimedGrantStore struct {
	claimer GrantClaimer
	next    GrantStore
	ttl     time.Duration
	logger  *zap.Logger
}

// NewClaimedGrantStore wraps a grant store with a fast-path claimer.
func NewClaimedGrantStore(claimer GrantClaimer, next GrantStore, ttl time.Duration) *ClaimedGrantStore {
	return &ClaimedGrantStore{
		claimer: claimer,
		next:    next,
		ttl:     ttl,
		logger:  util.NamedLogger("loyalty"),
	}
}

// TryGrant claims the order id on the fast path before applying the grant
// durably.
func (c *ClaimedGrantStore) TryGrant(ctx context.Context, grant models.LoyaltyGrant) (bool, error) {
	claimed, err := c.claimer.ClaimGrant(ctx, grant.OrderID, grant.Points, c.ttl)
	if err != nil {
		c.logger.Warn("Grant claim fast path failed, falling back to store",
			zap.String("order_id", grant.OrderID),
			zap.Error(err))
		return c.next.TryGrant(ctx, grant)
	}
	if !claimed {
		return false, nil
	}
	return c.next.TryGrant(ctx, grant)
}

// GetAccount reads from the durable store.
func (c *ClaimedGrantStore) GetAccount(ctx context.Context, userID string) (*models.LoyaltyAccount, error) {
	return c.next.GetAccount(ctx, userID)
}
