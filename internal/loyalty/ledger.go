package loyalty

import (
	"context"
	"errors"
	"fmt"

	"commerce-core/internal/models"
	"commerce-core/internal/util"

	"go.uber.org/zap"
)

// ErrInvalidGrant is returned for a negative point amount.
var ErrInvalidGrant = errors.New("grant amount must be non-negative")

// Level thresholds: a tier applies from Min points up to the next tier's Min.
// Boundaries are inclusive, so exactly 2000 points is Gold.
var levels = []struct {
	Name string
	Min  int64
}{
	{models.LevelBronze, 0},
	{models.LevelSilver, 500},
	{models.LevelGold, 2000},
	{models.LevelPlatinum, 5000},
}

// LevelFor returns the loyalty tier for a points balance.
func LevelFor(points int64) string {
	level := levels[0].Name
	for _, l := range levels {
		if points >= l.Min {
			level = l.Name
		}
	}
	return level
}

// NextThreshold returns the points needed for the next tier, or 0 if the
// balance is already at the top tier.
func NextThreshold(points int64) int64 {
	for _, l := range levels {
		if points < l.Min {
			return l.Min
		}
	}
	return 0
}

// GrantStore persists point balances and the per-order grant records that
// make grants idempotent. TryGrant must record the grant and increment the
// balance as a single atomic step, returning false without side effects when
// the order id has already been granted.
type GrantStore interface {
	TryGrant(ctx context.Context, grant models.LoyaltyGrant) (bool, error)
	GetAccount(ctx context.Context, userID string) (*models.LoyaltyAccount, error)
}

// Ledger owns loyalty point state. Grants are keyed by order id so a retried
// or duplicated call for the same order never awards points twice.
type Ledger struct {
	store  GrantStore
	logger *zap.Logger
}

// NewLedger creates a loyalty ledger backed by a grant store.
func NewLedger(store GrantStore, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Grant awards points to a user for an order. The order id is the
// idempotency key: the first call for an order applies the grant, every
// later call is a no-op that returns the current account with granted=false.
func (l *Ledger) Grant(ctx context.Context, userID, orderID string, points int64) (*models.LoyaltyAccount, bool, error) {
	if points < 0 {
		return nil, false, fmt.Errorf("%w: %d", ErrInvalidGrant, points)
	}

	granted, err := l.store.TryGrant(ctx, models.LoyaltyGrant{
		OrderID: orderID,
		UserID:  userID,
		Points:  points,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to apply grant: %w", err)
	}

	account, err := l.Account(ctx, userID)
	if err != nil {
		return nil, granted, err
	}

	if granted {
		l.logger.Info("Loyalty points granted",
			zap.String("user_id", userID),
			zap.String("order_id", orderID),
			zap.Int64("points", points),
			zap.Int64("balance", account.Points),
			zap.String("level", account.Level))
	} else {
		util.DuplicateGrantsTotal.Inc()
		l.logger.Info("Duplicate grant ignored",
			zap.String("user_id", userID),
			zap.String("order_id", orderID))
	}

	return account, granted, nil
}

// Account returns a user's loyalty account with the level derived from the
// stored points balance. A user with no recorded grants is Bronze at zero.
func (l *Ledger) Account(ctx context.Context, userID string) (*models.LoyaltyAccount, error) {
	account, err := l.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loyalty account: %w", err)
	}
	if account == nil {
		account = &models.LoyaltyAccount{UserID: userID}
	}
	account.Level = LevelFor(account.Points)
	return account, nil
}
