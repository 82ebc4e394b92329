package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"commerce-core/internal/broker"
	"commerce-core/internal/models"
	"commerce-core/internal/util"

	"go.uber.org/zap"
)

// AuditStore persists the audit trail and the processed-event markers that
// keep redeliveries from producing duplicate entries.
type AuditStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
}

// AuditWorker consumes published events and records them as an append-only
// audit trail. It is a pure observer: nothing in checkout depends on it.
type AuditWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        AuditStore
	logger       *zap.Logger
}

// NewAuditWorker creates an audit worker
func NewAuditWorker(consumer *broker.Consumer, store AuditStore) *AuditWorker {
	w := &AuditWorker{
		consumer: consumer,
		store:    store,
		logger:   util.NamedLogger("audit"),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderCreated(func(ctx context.Context, e *models.OrderCreatedEvent) error {
		return w.record(ctx, e.BaseEvent, e.OrderID, e)
	})
	eventHandler.OnOrderStatusChanged(func(ctx context.Context, e *models.OrderStatusChangedEvent) error {
		return w.record(ctx, e.BaseEvent, e.OrderID, e)
	})
	eventHandler.OnPointsGranted(func(ctx context.Context, e *models.PointsGrantedEvent) error {
		return w.record(ctx, e.BaseEvent, e.OrderID, e)
	})
	eventHandler.OnCartChanged(func(ctx context.Context, e *models.CartChangedEvent) error {
		return w.record(ctx, e.BaseEvent, e.UserID, e)
	})
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *AuditWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting audit worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AuditWorker) Stop() error {
	w.logger.Info("Stopping audit worker")
	return w.consumer.Close()
}

// record appends one audit entry, skipping event ids it has seen before
func (w *AuditWorker) record(ctx context.Context, base models.BaseEvent, subjectID string, payload interface{}) error {
	processed, err := w.store.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Debug("Event already recorded", zap.String("event_id", base.EventID))
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	entry := &models.AuditEntry{
		EventID:   base.EventID,
		EventType: base.EventType,
		SubjectID: subjectID,
		Payload:   raw,
	}
	if err := w.store.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	if err := w.store.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	util.AuditEntriesTotal.WithLabelValues(base.EventType).Inc()
	return nil
}
