package domain

import (
	"context"
	"time"
)

// OrderRepository описывает требования к хранилищу агрегатов заказа.
type OrderRepository interface {
	// Upsert сохраняет агрегат в одной транзакции: родитель, полная замена позиций
	// и адресов, добавление новых кредитов. Ошибка означает, что ничего не записано.
	Upsert(ctx context.Context, order Order, runID int64) (UpsertOutcome, error)
	// Get возвращает заказ со всеми дочерними записями или ErrOrderNotFound.
	Get(ctx context.Context, externalID string) (Order, error)
	// Count возвращает общее число заказов.
	Count(ctx context.Context) (int, error)
	// Recent возвращает последние изменённые заказы.
	Recent(ctx context.Context, limit int) ([]OrderSummary, error)
}

// SyncHistoryRepository хранит аудит запусков и отдаёт watermark.
type SyncHistoryRepository interface {
	// LastWatermark возвращает максимальный last_order_date успешных запусков указанных режимов
	// (всех режимов, если список пуст). ok=false, если такого значения нет.
	LastWatermark(ctx context.Context, modes ...SyncMode) (watermark time.Time, ok bool, err error)
	// StartRun создаёт запись в статусе running. Возвращает ErrSyncAlreadyRunning,
	// если другой запуск ещё не завершён.
	StartRun(ctx context.Context, mode SyncMode, startedAt time.Time) (SyncRun, error)
	// EndRun переводит запуск в терминальный статус ровно один раз.
	EndRun(ctx context.Context, runID int64, result RunResult) error
	// LastRun возвращает самый свежий запуск или ErrNoSyncHistory.
	LastRun(ctx context.Context) (SyncRun, error)
	// FailStale завершает как failed запуски, зависшие в running с момента до before.
	FailStale(ctx context.Context, before time.Time, reason string) (int, error)
}

// DeadLetterRepository хранит пропущенные записи для повторной обработки.
type DeadLetterRepository interface {
	// Record добавляет запись или обновляет нерешённую запись с тем же ключом.
	Record(ctx context.Context, letter DeadLetter) error
	// ListUnresolved возвращает нерешённые записи, давно не повторявшиеся первыми.
	ListUnresolved(ctx context.Context, limit int) ([]DeadLetter, error)
	// Resolve помечает нерешённую запись с ключом как обработанную; отсутствие записи не ошибка.
	Resolve(ctx context.Context, recordKey string, runID int64) error
	// CountUnresolved возвращает число нерешённых записей.
	CountUnresolved(ctx context.Context) (int, error)
}
