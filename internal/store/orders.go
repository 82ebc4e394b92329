package store

import (
	"context"
	"database/sql"
	"fmt"

	"commerce-core/internal/models"
	"commerce-core/internal/order"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// orderRow is the flat orders table shape
type orderRow struct {
	ID            string          `db:"id"`
	UserID        string          `db:"user_id"`
	Status        string          `db:"status"`
	Subtotal      decimal.Decimal `db:"subtotal"`
	ShippingFee   decimal.Decimal `db:"shipping_fee"`
	Discount      decimal.Decimal `db:"discount"`
	Total         decimal.Decimal `db:"total"`
	CouponCode    string          `db:"coupon_code"`
	PaymentMethod string          `db:"payment_method"`
	ShipName      string          `db:"ship_name"`
	ShipPhone     string          `db:"ship_phone"`
	ShipAddress   string          `db:"ship_address"`
	ShipCity      string          `db:"ship_city"`
	CreatedAt     sql.NullTime    `db:"created_at"`
	UpdatedAt     sql.NullTime    `db:"updated_at"`
}

func (r orderRow) toModel(lines []models.PricedLine) models.Order {
	o := models.Order{
		ID:     r.ID,
		UserID: r.UserID,
		Snapshot: models.PricedOrderSnapshot{
			Lines: lines,
			Totals: models.Totals{
				Subtotal: r.Subtotal,
				Shipping: r.ShippingFee,
				Discount: r.Discount,
				Total:    r.Total,
			},
		},
		Shipping: models.ShippingInfo{
			Name:    r.ShipName,
			Phone:   r.ShipPhone,
			Address: r.ShipAddress,
			City:    r.ShipCity,
		},
		PaymentMethod: r.PaymentMethod,
		CouponCode:    r.CouponCode,
		Status:        r.Status,
	}
	if r.CreatedAt.Valid {
		o.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		o.UpdatedAt = r.UpdatedAt.Time
	}
	return o
}

// Save persists an order with create-if-absent semantics keyed by id. A
// retried save for an existing id succeeds without modifying the stored
// order, so the frozen total never changes after creation.
func (s *Store) Save(ctx context.Context, o *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, user_id, status, subtotal, shipping_fee, discount, total,
			coupon_code, payment_method, ship_name, ship_phone, ship_address, ship_city
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.UserID, o.Status,
		o.Snapshot.Totals.Subtotal, o.Snapshot.Totals.Shipping,
		o.Snapshot.Totals.Discount, o.Snapshot.Totals.Total,
		o.CouponCode, o.PaymentMethod,
		o.Shipping.Name, o.Shipping.Phone, o.Shipping.Address, o.Shipping.City)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		return nil
	}

	for _, line := range o.Snapshot.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, product_id, variant_key, unit_price, quantity)
			VALUES ($1, $2, $3, $4, $5)`,
			o.ID, line.ProductID, line.VariantKey, line.UnitPrice, line.Quantity)
		if err != nil {
			return fmt.Errorf("failed to insert order line: %w", err)
		}
	}

	return tx.Commit()
}

// Get retrieves an order with its frozen lines
func (s *Store) Get(ctx context.Context, orderID string) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM orders WHERE id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", order.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	var lines []models.PricedLine
	err = s.db.SelectContext(ctx, &lines,
		"SELECT product_id, variant_key, unit_price, quantity FROM order_lines WHERE order_id = $1", orderID)
	if err != nil {
		return nil, err
	}

	o := row.toModel(lines)
	return &o, nil
}

// UpdateStatus updates an order's status
func (s *Store) UpdateStatus(ctx context.Context, orderID, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", order.ErrOrderNotFound, orderID)
	}
	return nil
}

// ListByUser retrieves a user's orders, newest first
func (s *Store) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	return s.attachLines(ctx, rows)
}

// ListAll retrieves every order, newest first
func (s *Store) ListAll(ctx context.Context) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows, "SELECT * FROM orders ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	return s.attachLines(ctx, rows)
}

type lineRow struct {
	OrderID string `db:"order_id"`
	models.PricedLine
}

func (s *Store) attachLines(ctx context.Context, rows []orderRow) ([]models.Order, error) {
	if len(rows) == 0 {
		return []models.Order{}, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	query, args, err := sqlx.In(
		"SELECT order_id, product_id, variant_key, unit_price, quantity FROM order_lines WHERE order_id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var lines []lineRow
	if err := s.db.SelectContext(ctx, &lines, query, args...); err != nil {
		return nil, err
	}

	byOrder := make(map[string][]models.PricedLine, len(rows))
	for _, line := range lines {
		byOrder[line.OrderID] = append(byOrder[line.OrderID], line.PricedLine)
	}

	orders := make([]models.Order, len(rows))
	for i, r := range rows {
		orders[i] = r.toModel(byOrder[r.ID])
	}
	return orders, nil
}
