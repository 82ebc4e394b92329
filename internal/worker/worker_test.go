package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"commerce-core/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memAuditStore struct {
	processed map[string]bool
	entries   []models.AuditEntry
}

func newMemAuditStore() *memAuditStore {
	return &memAuditStore{processed: make(map[string]bool)}
}

func (s *memAuditStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	return s.processed[eventID], nil
}

func (s *memAuditStore) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	s.processed[eventID] = true
	return nil
}

func (s *memAuditStore) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	s.entries = append(s.entries, *entry)
	return nil
}

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: raw}
}

func orderCreatedEvent(eventID, orderID string) *models.OrderCreatedEvent {
	return &models.OrderCreatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   eventID,
			EventType: models.EventTypeOrderCreated,
			Timestamp: time.Now(),
		},
		OrderID: orderID,
		UserID:  "u1",
		Total:   "90.00",
	}
}

func TestAuditWorkerRecordsEvents(t *testing.T) {
	store := newMemAuditStore()
	w := NewAuditWorker(nil, store)
	ctx := context.Background()

	err := w.eventHandler.HandleMessage(ctx, message(t, orderCreatedEvent("evt-1", "o1")))
	require.NoError(t, err)

	require.Len(t, store.entries, 1)
	assert.Equal(t, "evt-1", store.entries[0].EventID)
	assert.Equal(t, models.EventTypeOrderCreated, store.entries[0].EventType)
	assert.Equal(t, "o1", store.entries[0].SubjectID)
	assert.True(t, store.processed["evt-1"])
}

func TestAuditWorkerSkipsRedelivery(t *testing.T) {
	store := newMemAuditStore()
	w := NewAuditWorker(nil, store)
	ctx := context.Background()

	msg := message(t, orderCreatedEvent("evt-1", "o1"))
	require.NoError(t, w.eventHandler.HandleMessage(ctx, msg))
	require.NoError(t, w.eventHandler.HandleMessage(ctx, msg))

	assert.Len(t, store.entries, 1)
}

func TestAuditWorkerRoutesAllEventTypes(t *testing.T) {
	store := newMemAuditStore()
	w := NewAuditWorker(nil, store)
	ctx := context.Background()

	events := []interface{}{
		orderCreatedEvent("evt-1", "o1"),
		&models.OrderStatusChangedEvent{
			BaseEvent:  models.BaseEvent{EventID: "evt-2", EventType: models.EventTypeOrderStatusChanged, Timestamp: time.Now()},
			OrderID:    "o1",
			UserID:     "u1",
			FromStatus: models.OrderStatusPending,
			ToStatus:   models.OrderStatusShipped,
		},
		&models.PointsGrantedEvent{
			BaseEvent: models.BaseEvent{EventID: "evt-3", EventType: models.EventTypePointsGranted, Timestamp: time.Now()},
			OrderID:   "o1",
			UserID:    "u1",
			Points:    9,
			NewTotal:  9,
			NewLevel:  models.LevelBronze,
		},
		&models.CartChangedEvent{
			BaseEvent: models.BaseEvent{EventID: "evt-4", EventType: models.EventTypeCartChanged, Timestamp: time.Now()},
			UserID:    "u1",
			Op:        "add",
			ItemCount: 1,
		},
	}

	for _, event := range events {
		require.NoError(t, w.eventHandler.HandleMessage(ctx, message(t, event)))
	}

	require.Len(t, store.entries, 4)
	// Cart events key the trail by user, order events by order id.
	assert.Equal(t, "o1", store.entries[0].SubjectID)
	assert.Equal(t, "u1", store.entries[3].SubjectID)
}

func TestAuditWorkerPayloadRoundTrips(t *testing.T) {
	store := newMemAuditStore()
	w := NewAuditWorker(nil, store)

	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), message(t, orderCreatedEvent("evt-1", "o1"))))

	var decoded models.OrderCreatedEvent
	require.NoError(t, json.Unmarshal(store.entries[0].Payload, &decoded))
	assert.Equal(t, "o1", decoded.OrderID)
	assert.Equal(t, "90.00", decoded.Total)
}
