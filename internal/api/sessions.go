package api

import (
	"context"
	"sync"
	"time"

	"commerce-core/internal/broker"
	"commerce-core/internal/cart"
	"commerce-core/internal/models"
	"commerce-core/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionCarts owns one cart per user session. Carts are explicit objects
// handed to whoever needs them, never ambient globals.
type SessionCarts struct {
	mu        sync.Mutex
	carts     map[string]*cart.Store
	publisher *broker.EventPublisher
	logger    *zap.Logger
}

// NewSessionCarts creates the session cart registry. publisher may be nil
// when no broker is wired; cart changes are then only observable in-process.
func NewSessionCarts(publisher *broker.EventPublisher) *SessionCarts {
	return &SessionCarts{
		carts:     make(map[string]*cart.Store),
		publisher: publisher,
		logger:    util.NamedLogger("sessions"),
	}
}

// Get returns the user's cart, creating an empty one on first use.
func (sc *SessionCarts) Get(userID string) *cart.Store {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if c, ok := sc.carts[userID]; ok {
		return c
	}

	c := cart.NewStore(userID)
	c.Subscribe(sc.bridge(userID))
	sc.carts[userID] = c
	return c
}

// bridge forwards cart change notifications to metrics and the broker
func (sc *SessionCarts) bridge(userID string) func(cart.Change) {
	return func(change cart.Change) {
		util.CartMutationsTotal.WithLabelValues(change.Op).Inc()

		if sc.publisher == nil {
			return
		}

		event := &models.CartChangedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeCartChanged,
				Timestamp: time.Now(),
			},
			UserID:    userID,
			Op:        change.Op,
			ProductID: change.ProductID,
			LineCount: change.LineCount,
			ItemCount: change.ItemCount,
		}

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := sc.publisher.PublishCartChanged(ctx, event); err != nil {
			sc.logger.Warn("Failed to publish cart.changed", zap.Error(err))
		}
	}
}
