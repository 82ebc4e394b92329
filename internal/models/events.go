package models

import "time"

// Event types published for analytics and UI. Fire-and-forget: no core
// behavior depends on a listener seeing them.
const (
	EventTypeCartChanged        = "cart.changed"
	EventTypeOrderCreated       = "order.created"
	EventTypeOrderStatusChanged = "order.status_changed"
	EventTypePointsGranted      = "loyalty.points_granted"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CartChangedEvent published on any cart mutation
type CartChangedEvent struct {
	BaseEvent
	UserID    string `json:"user_id"`
	Op        string `json:"op"`
	ProductID string `json:"product_id,omitempty"`
	LineCount int    `json:"line_count"`
	ItemCount int    `json:"item_count"`
}

// OrderCreatedEvent published when an order is placed
type OrderCreatedEvent struct {
	BaseEvent
	OrderID string       `json:"order_id"`
	UserID  string       `json:"user_id"`
	Total   string       `json:"total"`
	Lines   []PricedLine `json:"lines"`
}

// OrderStatusChangedEvent published on every status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    string `json:"order_id"`
	UserID     string `json:"user_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// PointsGrantedEvent published when loyalty points are awarded
type PointsGrantedEvent struct {
	BaseEvent
	OrderID  string `json:"order_id"`
	UserID   string `json:"user_id"`
	Points   int64  `json:"points"`
	NewTotal int64  `json:"new_total"`
	NewLevel string `json:"new_level"`
}
