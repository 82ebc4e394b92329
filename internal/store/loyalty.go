package store

import (
	"context"
	"database/sql"
	"fmt"

	"commerce-core/internal/models"
)

// TryGrant records a loyalty grant and increments the user's balance as one
// transaction. The loyalty_grants primary key is the order id, so a second
// attempt for the same order inserts nothing and the balance is untouched.
func (s *Store) TryGrant(ctx context.Context, grant models.LoyaltyGrant) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO loyalty_grants (order_id, user_id, points)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING`,
		grant.OrderID, grant.UserID, grant.Points)
	if err != nil {
		return false, fmt.Errorf("failed to insert grant: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if inserted == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO loyalty_accounts (user_id, points)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET points = loyalty_accounts.points + EXCLUDED.points, updated_at = NOW()`,
		grant.UserID, grant.Points)
	if err != nil {
		return false, fmt.Errorf("failed to increment balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// GetAccount retrieves a user's loyalty balance, or nil if none exists yet
func (s *Store) GetAccount(ctx context.Context, userID string) (*models.LoyaltyAccount, error) {
	var account models.LoyaltyAccount
	err := s.db.GetContext(ctx, &account,
		"SELECT user_id, points, updated_at FROM loyalty_accounts WHERE user_id = $1", userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListGrants retrieves the grant history for a user, newest first
func (s *Store) ListGrants(ctx context.Context, userID string) ([]models.LoyaltyGrant, error) {
	var grants []models.LoyaltyGrant
	err := s.db.SelectContext(ctx, &grants,
		"SELECT * FROM loyalty_grants WHERE user_id = $1 ORDER BY granted_at DESC", userID)
	return grants, err
}
