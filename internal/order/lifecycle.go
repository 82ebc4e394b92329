package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"commerce-core/internal/cart"
	"commerce-core/internal/loyalty"
	"commerce-core/internal/models"
	"commerce-core/internal/pricing"
	"commerce-core/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Repository is the durable order storage collaborator. Save must have
// create-if-absent semantics keyed by order id so that a retried placement
// with the same id never produces a second order. Get and UpdateStatus
// report a missing order as ErrOrderNotFound, possibly wrapped.
type Repository interface {
	Save(ctx context.Context, order *models.Order) error
	Get(ctx context.Context, orderID string) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID, status string) error
	ListByUser(ctx context.Context, userID string) ([]models.Order, error)
	ListAll(ctx context.Context) ([]models.Order, error)
}

// CatalogGateway supplies authoritative product data. Checkout re-prices
// against it rather than trusting prices cached in the cart.
type CatalogGateway interface {
	GetProducts(ctx context.Context, ids []string) (map[string]models.Product, error)
}

// Events receives the lifecycle's published events. Publishing is
// fire-and-forget: failures are logged, never propagated.
type Events interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPointsGranted(ctx context.Context, event *models.PointsGrantedEvent) error
}

// transitions is the legal status graph. Terminal states have no entry.
var transitions = map[string][]string{
	models.OrderStatusPending: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped: {models.OrderStatusDelivered, models.OrderStatusCancelled},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(status string) bool {
	return len(transitions[status]) == 0
}

// Lifecycle builds orders from cart snapshots and drives them through the
// pending -> shipped -> delivered / cancelled state machine.
type Lifecycle struct {
	repo          Repository
	catalog       CatalogGateway
	policy        *pricing.Policy
	ledger        *loyalty.Ledger
	events        Events
	logger        *zap.Logger
	pointsDivisor int64

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// NewLifecycle creates an order lifecycle. events may be nil when no
// publisher is wired.
func NewLifecycle(
	repo Repository,
	catalog CatalogGateway,
	policy *pricing.Policy,
	ledger *loyalty.Ledger,
	events Events,
	pointsDivisor int64,
	logger *zap.Logger,
) *Lifecycle {
	if pointsDivisor < 1 {
		pointsDivisor = 10
	}
	return &Lifecycle{
		repo:          repo,
		catalog:       catalog,
		policy:        policy,
		ledger:        ledger,
		events:        events,
		logger:        logger,
		pointsDivisor: pointsDivisor,
		inflight:      make(map[string]struct{}),
	}
}

// PlaceOrderRequest carries the checkout input. IdempotencyKey becomes the
// order id; a caller retrying a failed placement must reuse it so the retry
// collapses onto the same order.
type PlaceOrderRequest struct {
	Shipping       models.ShippingInfo
	PaymentMethod  string
	CouponCode     string
	IdempotencyKey string
}

// PlaceOrder snapshots the cart, freezes pricing against the current
// catalog, persists the order, grants loyalty points keyed by the order id,
// and clears the cart. The cart is cleared only after persistence and the
// grant succeed; any earlier failure leaves it intact for retry. A retry
// that finds its order already persisted still finishes the grant and the
// cart clear before returning it.
func (l *Lifecycle) PlaceOrder(ctx context.Context, c *cart.Store, req PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Lifecycle.PlaceOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	userID := c.UserID()
	if !l.beginCheckout(userID) {
		return nil, ErrCheckoutInFlight
	}
	defer l.endCheckout(userID)

	orderID := req.IdempotencyKey
	if orderID == "" {
		orderID = uuid.New().String()
	} else {
		util.SpanOrderID(span, orderID)
		existing, err := l.repo.Get(ctx, orderID)
		if err == nil {
			l.logger.Info("Duplicate placement collapsed onto existing order",
				zap.String("order_id", existing.ID))
			// The first attempt may have died between persisting the order
			// and granting points or clearing the cart.
			if err := l.finishPlacement(ctx, c, existing); err != nil {
				return nil, err
			}
			return existing, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
		}
	}

	snap := c.Snapshot()
	if snap.Empty() {
		util.OrdersFailedTotal.WithLabelValues("empty_cart").Inc()
		return nil, ErrEmptyCart
	}

	couponCode := req.CouponCode
	if couponCode == "" {
		couponCode = snap.CouponCode
	}

	repriced, err := l.repriceAgainstCatalog(ctx, snap.Lines)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, err
	}

	now := time.Now()
	frozen := l.policy.FreezeLines(repriced, now)
	totals, err := l.policy.OrderTotal(frozen, couponCode)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("pricing").Inc()
		return nil, err
	}

	order := &models.Order{
		ID:     orderID,
		UserID: userID,
		Snapshot: models.PricedOrderSnapshot{
			Lines:  frozen,
			Totals: totals,
		},
		Shipping:      req.Shipping,
		PaymentMethod: req.PaymentMethod,
		CouponCode:    couponCode,
		Status:        models.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := l.repo.Save(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("persistence").Inc()
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if err := l.finishPlacement(ctx, c, order); err != nil {
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	l.logger.Info("Order placed",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.String("total", totals.Total.StringFixed(2)))

	l.publishCreated(ctx, order)

	return order, nil
}

// finishPlacement completes a persisted order: grant points keyed by the
// order id, then consume the cart. Both steps are idempotent, so repeating
// them for an order whose first attempt failed partway is safe; a fully
// completed placement repeats them as no-ops.
func (l *Lifecycle) finishPlacement(ctx context.Context, c *cart.Store, order *models.Order) error {
	points := order.Snapshot.Totals.Total.Div(decimal.NewFromInt(l.pointsDivisor)).Floor().IntPart()
	account, granted, err := l.ledger.Grant(ctx, order.UserID, order.ID, points)
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues("loyalty").Inc()
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	c.Clear()

	if granted {
		util.PointsGrantedTotal.Add(float64(points))
		l.publishPointsGranted(ctx, order, points, account)
	}
	return nil
}

// UpdateStatus applies one state-machine transition and persists it.
func (l *Lifecycle) UpdateStatus(ctx context.Context, orderID, newStatus string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "Lifecycle.UpdateStatus")
	defer span.End()
	util.SpanOrderID(span, orderID)

	order, err := l.repo.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	if !CanTransition(order.Status, newStatus) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, newStatus)
	}

	if err := l.repo.UpdateStatus(ctx, orderID, newStatus); err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	from := order.Status
	order.Status = newStatus
	order.UpdatedAt = time.Now()

	if newStatus == models.OrderStatusCancelled {
		util.OrdersCancelledTotal.Inc()
	}
	l.logger.Info("Order status changed",
		zap.String("order_id", orderID),
		zap.String("from", from),
		zap.String("to", newStatus))

	l.publishStatusChanged(ctx, order, from)
	return order, nil
}

// Cancel moves an order to cancelled, legal only from non-terminal states.
func (l *Lifecycle) Cancel(ctx context.Context, orderID string) (*models.Order, error) {
	return l.UpdateStatus(ctx, orderID, models.OrderStatusCancelled)
}

// Get returns a persisted order.
func (l *Lifecycle) Get(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := l.repo.Get(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return order, nil
}

// ListByUser returns a user's orders, newest first.
func (l *Lifecycle) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := l.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return orders, nil
}

// ListAll returns every order for the admin dashboard.
func (l *Lifecycle) ListAll(ctx context.Context) ([]models.Order, error) {
	orders, err := l.repo.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return orders, nil
}

func (l *Lifecycle) beginCheckout(userID string) bool {
	l.inflightMu.Lock()
	defer l.inflightMu.Unlock()
	if _, busy := l.inflight[userID]; busy {
		return false
	}
	l.inflight[userID] = struct{}{}
	return true
}

func (l *Lifecycle) endCheckout(userID string) {
	l.inflightMu.Lock()
	delete(l.inflight, userID)
	l.inflightMu.Unlock()
}

// repriceAgainstCatalog replaces cart-cached base prices with the catalog's
// current ones, rejecting lines for products the catalog does not know.
func (l *Lifecycle) repriceAgainstCatalog(ctx context.Context, lines []models.CartLine) ([]models.CartLine, error) {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			ids = append(ids, line.ProductID)
		}
	}

	products, err := l.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	repriced := make([]models.CartLine, len(lines))
	for i, line := range lines {
		product, ok := products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, line.ProductID)
		}
		line.UnitBasePrice = product.BasePrice
		repriced[i] = line
	}
	return repriced, nil
}

func (l *Lifecycle) publishCreated(ctx context.Context, order *models.Order) {
	if l.events == nil {
		return
	}
	event := &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
		UserID:  order.UserID,
		Total:   order.Snapshot.Totals.Total.StringFixed(2),
		Lines:   order.Snapshot.Lines,
	}
	if err := l.events.PublishOrderCreated(ctx, event); err != nil {
		l.logger.Error("Failed to publish order.created", zap.Error(err))
	}
}

func (l *Lifecycle) publishStatusChanged(ctx context.Context, order *models.Order, from string) {
	if l.events == nil {
		return
	}
	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: time.Now(),
		},
		OrderID:    order.ID,
		UserID:     order.UserID,
		FromStatus: from,
		ToStatus:   order.Status,
	}
	if err := l.events.PublishOrderStatusChanged(ctx, event); err != nil {
		l.logger.Error("Failed to publish order.status_changed", zap.Error(err))
	}
}

func (l *Lifecycle) publishPointsGranted(ctx context.Context, order *models.Order, points int64, account *models.LoyaltyAccount) {
	if l.events == nil {
		return
	}
	event := &models.PointsGrantedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypePointsGranted,
			Timestamp: time.Now(),
		},
		OrderID:  order.ID,
		UserID:   order.UserID,
		Points:   points,
		NewTotal: account.Points,
		NewLevel: account.Level,
	}
	if err := l.events.PublishPointsGranted(ctx, event); err != nil {
		l.logger.Error("Failed to publish loyalty.points_granted", zap.Error(err))
	}
}
