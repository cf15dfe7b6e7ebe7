package kafka

import (
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// EventType определяет тип события
type EventType string

const (
	// EventTypeOrderSynced: заказ сохранён очередным запуском.
	EventTypeOrderSynced EventType = "order.synced"

	// EventTypeSyncCompleted и EventTypeSyncFailed описывают итог запуска.
	EventTypeSyncCompleted EventType = "sync.completed"
	EventTypeSyncFailed    EventType = "sync.failed"
)

// Topics для Kafka
const (
	TopicOrderEvents = "ordersync.order.events"
	TopicSyncEvents  = "ordersync.sync.events"
)

// HeaderEventType дублирует тип события в заголовке сообщения.
const HeaderEventType = "x-event-type"

// OrderSyncedEvent сообщает о сохранённом заказе.
type OrderSyncedEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	RunID         int64     `json:"run_id"`
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number,omitempty"`
	Status        string    `json:"status,omitempty"`
	Total         string    `json:"total"`
	Currency      string    `json:"currency,omitempty"`
	Outcome       string    `json:"outcome"`
	Credits       int       `json:"credits"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e *OrderSyncedEvent) eventType() EventType { return e.EventType }

// SyncRunEvent сообщает о завершении запуска.
type SyncRunEvent struct {
	EventID          string     `json:"event_id"`
	EventType        EventType  `json:"event_type"`
	RunID            int64      `json:"run_id"`
	Mode             string     `json:"mode"`
	Status           string     `json:"status"`
	Since            time.Time  `json:"since"`
	OrdersFetched    int        `json:"orders_fetched"`
	OrdersProcessed  int        `json:"orders_processed"`
	OrdersSkipped    int        `json:"orders_skipped"`
	CreditsProcessed int        `json:"credits_processed"`
	Replayed         int        `json:"replayed"`
	Watermark        *time.Time `json:"watermark,omitempty"`
	APIVersion       string     `json:"api_version,omitempty"`
	Error            string     `json:"error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       time.Time  `json:"finished_at"`
	Timestamp        time.Time  `json:"timestamp"`
}

func (e *SyncRunEvent) eventType() EventType { return e.EventType }

// NewOrderSyncedEvent создает событие сохранения заказа
func NewOrderSyncedEvent(runID int64, order domain.Order, outcome domain.UpsertOutcome) *OrderSyncedEvent {
	return &OrderSyncedEvent{
		EventID:       uuid.NewString(),
		EventType:     EventTypeOrderSynced,
		RunID:         runID,
		OrderID:       order.ExternalID,
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		Total:         order.Total.StringFixed(2),
		Currency:      order.Currency,
		Outcome:       string(outcome),
		Credits:       len(order.Credits),
		LastUpdatedAt: order.LastUpdatedAt.UTC(),
		Timestamp:     time.Now().UTC(),
	}
}

// NewSyncRunEvent создает событие завершения запуска
func NewSyncRunEvent(report domain.SyncReport) *SyncRunEvent {
	eventType := EventTypeSyncCompleted
	if report.Status != domain.SyncStatusSuccess {
		eventType = EventTypeSyncFailed
	}

	event := &SyncRunEvent{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		RunID:            report.RunID,
		Mode:             string(report.Mode),
		Status:           string(report.Status),
		Since:            report.Since.UTC(),
		OrdersFetched:    report.OrdersFetched,
		OrdersProcessed:  report.OrdersProcessed,
		OrdersSkipped:    report.Skipped(),
		CreditsProcessed: report.CreditsProcessed,
		Replayed:         report.Replayed,
		Watermark:        report.Watermark,
		APIVersion:       report.APIVersion,
		StartedAt:        report.StartedAt.UTC(),
		FinishedAt:       report.FinishedAt.UTC(),
		Timestamp:        time.Now().UTC(),
	}
	if report.Err != nil {
		event.Error = report.Err.Error()
	}
	return event
}
