package domain

import "context"

// OrderFetcher выбирает все записи заказов из upstream API по фильтру.
type OrderFetcher interface {
	FetchOrders(ctx context.Context, filter FetchFilter) (FetchResult, error)
}

// OrderParser приводит исходную запись к агрегату заказа.
type OrderParser interface {
	// ParseOrder возвращает *ParseError, если запись непригодна.
	ParseOrder(raw RawOrder) (Order, error)
}

// EventPublisher уведомляет внешние системы о результатах синхронизации.
// Ошибки публикации не влияют на исход запуска.
type EventPublisher interface {
	// OrderSynced сообщает о сохранённом заказе.
	OrderSynced(ctx context.Context, runID int64, order Order, outcome UpsertOutcome) error
	// RunFinished сообщает о завершении запуска.
	RunFinished(ctx context.Context, report SyncReport) error
}

// SyncStep задаёт константы этапов запуска для метрик/логов.
type SyncStep string

const (
	SyncStepFetch   SyncStep = "fetch"
	SyncStepParse   SyncStep = "parse"
	SyncStepPersist SyncStep = "persist"
	SyncStepReplay  SyncStep = "replay"
)
