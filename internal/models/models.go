package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog product as seen by this service
type Product struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	BasePrice decimal.Decimal `db:"base_price" json:"base_price"`
	Stock     int             `db:"stock" json:"stock"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// CartLine is one product+variant entry in a cart
type CartLine struct {
	ProductID     string          `json:"product_id"`
	VariantKey    string          `json:"variant_key,omitempty"`
	UnitBasePrice decimal.Decimal `json:"unit_base_price"`
	Quantity      int             `json:"quantity"`
}

// CartSnapshot is an immutable copy of a cart taken at a point in time
type CartSnapshot struct {
	Lines      []CartLine `json:"lines"`
	CouponCode string     `json:"coupon_code,omitempty"`
	TakenAt    time.Time  `json:"taken_at"`
}

// Empty reports whether the snapshot has no lines
func (s CartSnapshot) Empty() bool {
	return len(s.Lines) == 0
}

// Totals holds the monetary breakdown of a priced order
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// PricedLine is a cart line with its unit price frozen at checkout
type PricedLine struct {
	ProductID  string          `db:"product_id" json:"product_id"`
	VariantKey string          `db:"variant_key" json:"variant_key,omitempty"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity   int             `db:"quantity" json:"quantity"`
}

// PricedOrderSnapshot is the frozen pricing of an order. Once an order is
// created its monetary fields never change, regardless of later policy drift.
type PricedOrderSnapshot struct {
	Lines  []PricedLine `json:"lines"`
	Totals Totals       `json:"totals"`
}

// ShippingInfo is the destination captured at checkout
type ShippingInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address"`
	City    string `json:"city"`
}

// Order represents a placed customer order
type Order struct {
	ID            string              `json:"id"`
	UserID        string              `json:"user_id"`
	Snapshot      PricedOrderSnapshot `json:"snapshot"`
	Shipping      ShippingInfo        `json:"shipping"`
	PaymentMethod string              `json:"payment_method"`
	CouponCode    string              `json:"coupon_code,omitempty"`
	Status        string              `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusShipped   = "shipped"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

// Loyalty levels, lowest tier first
const (
	LevelBronze   = "Bronze"
	LevelSilver   = "Silver"
	LevelGold     = "Gold"
	LevelPlatinum = "Platinum"
)

// LoyaltyAccount holds a user's points balance. Level is always derived
// from points, never stored on its own.
type LoyaltyAccount struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Points    int64     `db:"points" json:"points"`
	Level     string    `db:"-" json:"level"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// LoyaltyGrant records a point grant tied to an order id, the idempotency key
type LoyaltyGrant struct {
	OrderID   string    `db:"order_id" json:"order_id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Points    int64     `db:"points" json:"points"`
	GrantedAt time.Time `db:"granted_at" json:"granted_at"`
}

// AuditEntry is one row of the append-only audit trail
type AuditEntry struct {
	ID         int64     `db:"id" json:"id"`
	EventID    string    `db:"event_id" json:"event_id"`
	EventType  string    `db:"event_type" json:"event_type"`
	SubjectID  string    `db:"subject_id" json:"subject_id"`
	Payload    []byte    `db:"payload" json:"payload"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
