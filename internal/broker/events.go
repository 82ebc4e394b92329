package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"commerce-core/internal/models"
	"commerce-core/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes the storefront's domain events. It satisfies the
// order lifecycle's Events interface.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishCartChanged publishes a cart.changed event
func (ep *EventPublisher) PublishCartChanged(ctx context.Context, event *models.CartChangedEvent) error {
	key := fmt.Sprintf("cart-%s", event.UserID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderCreated publishes an order.created event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderStatusChanged publishes an order.status_changed event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishPointsGranted publishes a loyalty.points_granted event
func (ep *EventPublisher) PublishPointsGranted(ctx context.Context, event *models.PointsGrantedEvent) error {
	key := fmt.Sprintf("order-%s", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes consumed messages to registered handlers
type EventHandler struct {
	logger         *zap.Logger
	onOrderCreated func(context.Context, *models.OrderCreatedEvent) error
	onStatusChange func(context.Context, *models.OrderStatusChangedEvent) error
	onPointsGrant  func(context.Context, *models.PointsGrantedEvent) error
	onCartChanged  func(context.Context, *models.CartChangedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.NamedLogger("events")}
}

// OnOrderCreated registers a handler for order.created events
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// OnOrderStatusChanged registers a handler for order.status_changed events
func (eh *EventHandler) OnOrderStatusChanged(handler func(context.Context, *models.OrderStatusChangedEvent) error) {
	eh.onStatusChange = handler
}

// OnPointsGranted registers a handler for loyalty.points_granted events
func (eh *EventHandler) OnPointsGranted(handler func(context.Context, *models.PointsGrantedEvent) error) {
	eh.onPointsGrant = handler
}

// OnCartChanged registers a handler for cart.changed events
func (eh *EventHandler) OnCartChanged(handler func(context.Context, *models.CartChangedEvent) error) {
	eh.onCartChanged = handler
}

// HandleMessage routes messages to the appropriate handler
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		if eh.onOrderCreated != nil {
			var event models.OrderCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal order.created event: %w", err)
			}
			return eh.onOrderCreated(ctx, &event)
		}

	case models.EventTypeOrderStatusChanged:
		if eh.onStatusChange != nil {
			var event models.OrderStatusChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal order.status_changed event: %w", err)
			}
			return eh.onStatusChange(ctx, &event)
		}

	case models.EventTypePointsGranted:
		if eh.onPointsGrant != nil {
			var event models.PointsGrantedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal loyalty.points_granted event: %w", err)
			}
			return eh.onPointsGrant(ctx, &event)
		}

	case models.EventTypeCartChanged:
		if eh.onCartChanged != nil {
			var event models.CartChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal cart.changed event: %w", err)
			}
			return eh.onCartChanged(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
