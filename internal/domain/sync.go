package domain

import "time"

// SyncMode определяет, каким фильтром ограничивается выборка заказов.
type SyncMode string

const (
	// SyncModeInitial: первый запуск: фильтр по дате создания от настроенной даты.
	SyncModeInitial SyncMode = "initial"
	// SyncModeIncremental: последующие запуски: фильтр по дате изменения от watermark.
	SyncModeIncremental SyncMode = "incremental"
)

// Valid проверяет, что режим поддерживается.
func (m SyncMode) Valid() bool {
	return m == SyncModeInitial || m == SyncModeIncremental
}

// SyncStatus описывает жизненный цикл записи sync_history.
type SyncStatus string

const (
	// SyncStatusRunning: запуск начат и ещё не завершён.
	SyncStatusRunning SyncStatus = "running"
	// SyncStatusSuccess: запуск завершён успешно, его watermark можно использовать.
	SyncStatusSuccess SyncStatus = "success"
	// SyncStatusFailed: запуск завершён ошибкой, watermark не продвигается.
	SyncStatusFailed SyncStatus = "failed"
)

// Valid проверяет, что статус поддерживается.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusRunning, SyncStatusSuccess, SyncStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что статус конечный и больше не меняется.
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusSuccess || s == SyncStatusFailed
}

// SyncRun: запись аудита одного запуска синхронизации.
type SyncRun struct {
	ID               int64
	Mode             SyncMode
	Status           SyncStatus
	StartedAt        time.Time
	FinishedAt       *time.Time
	OrdersFetched    int
	OrdersProcessed  int
	OrdersSkipped    int
	CreditsProcessed int
	LastOrderDate    *time.Time
	APIVersion       string
	ErrorMessage     string
}

// RunResult: терминальные данные, которыми закрывается запуск.
type RunResult struct {
	Status           SyncStatus
	FinishedAt       time.Time
	OrdersFetched    int
	OrdersProcessed  int
	OrdersSkipped    int
	CreditsProcessed int
	LastOrderDate    *time.Time
	APIVersion       string
	ErrorMessage     string
}

// FetchFilter задаёт окно выборки; в одном запросе активен ровно один фильтр.
type FetchFilter struct {
	Mode  SyncMode
	Since time.Time
}

// FetchResult: все записи, полученные за один проход по страницам.
type FetchResult struct {
	Orders     []RawOrder
	APIVersion string
	Pages      int
}

// SyncReport: итог запуска, который видит вызывающая сторона.
type SyncReport struct {
	RunID            int64
	Mode             SyncMode
	Since            time.Time
	Status           SyncStatus
	OrdersFetched    int
	OrdersProcessed  int
	ParseFailures    int
	PersistFailures  int
	CreditsProcessed int
	Replayed         int
	Watermark        *time.Time
	APIVersion       string
	StartedAt        time.Time
	FinishedAt       time.Time
	Err              error
}

// Skipped возвращает общее число пропущенных записей.
func (r SyncReport) Skipped() int {
	return r.ParseFailures + r.PersistFailures
}

// DeadLetterStage: этап, на котором запись не удалось обработать.
type DeadLetterStage string

const (
	// DeadLetterStageParse: запись не прошла разбор.
	DeadLetterStageParse DeadLetterStage = "parse"
	// DeadLetterStagePersist: запись разобрана, но не сохранена.
	DeadLetterStagePersist DeadLetterStage = "persist"
)

// DeadLetter хранит запись, пропущенную в одном из запусков, для повторной обработки.
type DeadLetter struct {
	ID         int64
	RecordKey  string
	Stage      DeadLetterStage
	Error      string
	Payload    RawDocument
	Attempts   int
	FirstRunID int64
	LastRunID  int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ResolvedAt *time.Time
}

// StatusReport собирает данные для команды status.
type StatusReport struct {
	LastRun       *SyncRun
	TotalOrders   int
	RecentOrders  []OrderSummary
	PendingLetter int
}
