package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/metrics"
)

const (
	// DefaultStaleRunTimeout: после этого времени запуск в статусе running считается брошенным.
	DefaultStaleRunTimeout = 6 * time.Hour
	// DefaultDeadLetterReplayLimit: сколько пропущенных записей повторяется за один запуск.
	DefaultDeadLetterReplayLimit = 100

	// auditTimeout ограничивает запись терминального статуса после отмены ctx.
	auditTimeout = 10 * time.Second

	staleRunReason = "abandoned: run exceeded stale run timeout"
)

// Config задаёт параметры оркестратора.
type Config struct {
	InitialSyncDate       time.Time
	StaleRunTimeout       time.Duration
	DeadLetterReplayLimit int
}

// Dependencies: порты, через которые работает оркестратор.
// Publisher и Metrics необязательны.
type Dependencies struct {
	Fetcher     domain.OrderFetcher
	Parser      domain.OrderParser
	Orders      domain.OrderRepository
	History     domain.SyncHistoryRepository
	DeadLetters domain.DeadLetterRepository
	Publisher   domain.EventPublisher
	Metrics     *metrics.SyncMetrics
	Logger      *log.Entry
}

// RunOptions параметры одного запуска.
type RunOptions struct {
	// ForceInitial игнорирует сохранённый watermark и выполняет initial-выборку.
	ForceInitial bool
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator выполняет один запуск синхронизации: watermark, выборка, разбор,
// сохранение, повтор пропущенных записей и фиксация результата в sync_history.
type Orchestrator struct {
	deps Dependencies
	cfg  Config
	log  *log.Entry
	now  func() time.Time

	// running не даёт запустить два прогона на одном оркестраторе.
	running sync.Mutex
}

// NewOrchestrator проверяет зависимости и создаёт оркестратор.
func NewOrchestrator(deps Dependencies, cfg Config, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("syncer: fetcher is required")
	case deps.Parser == nil:
		return nil, errors.New("syncer: parser is required")
	case deps.Orders == nil:
		return nil, errors.New("syncer: order repository is required")
	case deps.History == nil:
		return nil, errors.New("syncer: sync history repository is required")
	case deps.DeadLetters == nil:
		return nil, errors.New("syncer: dead letter repository is required")
	}

	if cfg.InitialSyncDate.IsZero() {
		return nil, &domain.ConfigurationError{Field: "sync.initial_sync_date", Reason: "must be set"}
	}
	if cfg.StaleRunTimeout < 0 {
		cfg.StaleRunTimeout = DefaultStaleRunTimeout
	}
	if cfg.DeadLetterReplayLimit < 0 {
		cfg.DeadLetterReplayLimit = 0
	}

	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "sync-orchestrator")
	}

	o := &Orchestrator{
		deps: deps,
		cfg:  cfg,
		log:  logger,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run выполняет один запуск. Ошибка возвращается, если запуск завершился статусом failed
// или не мог быть начат; отчёт при этом заполнен настолько, насколько запуск продвинулся.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (report domain.SyncReport, err error) {
	if !o.running.TryLock() {
		return domain.SyncReport{}, domain.ErrSyncAlreadyRunning
	}
	defer o.running.Unlock()

	if err := o.recoverStaleRuns(ctx); err != nil {
		return domain.SyncReport{}, err
	}

	mode, since, err := o.resolveWindow(ctx, opts.ForceInitial)
	if err != nil {
		return domain.SyncReport{}, fmt.Errorf("resolve sync window: %w", err)
	}

	run, err := o.deps.History.StartRun(ctx, mode, o.now())
	if err != nil {
		return domain.SyncReport{}, fmt.Errorf("start sync run: %w", err)
	}

	report = domain.SyncReport{
		RunID:     run.ID,
		Mode:      mode,
		Since:     since,
		Status:    domain.SyncStatusRunning,
		StartedAt: run.StartedAt,
	}
	logger := o.log.WithFields(log.Fields{
		"run_id": run.ID,
		"mode":   mode,
		"since":  domain.FormatAPITime(since),
	})
	logger.Info("Sync run started")
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordRunStarted()
	}

	// recorded выставляется, когда терминальный статус success уже записан в историю
	recorded := false
	defer func() {
		if rec := recover(); rec != nil {
			if recorded {
				logger.WithField("panic", rec).Error("Sync run panicked after success was recorded")
				err = nil
				return
			}
			err = fmt.Errorf("sync run panicked: %v", rec)
			report = o.fail(ctx, logger, report, err)
		}
	}()

	report, err = o.execute(ctx, logger, report)
	if err != nil {
		return o.fail(ctx, logger, report, err), err
	}
	report, err = o.succeed(ctx, logger, report)
	if err != nil {
		return report, err
	}
	recorded = true
	o.announce(ctx, logger, report)
	return report, nil
}

func (o *Orchestrator) recoverStaleRuns(ctx context.Context) error {
	if o.cfg.StaleRunTimeout <= 0 {
		return nil
	}
	before := o.now().Add(-o.cfg.StaleRunTimeout)
	n, err := o.deps.History.FailStale(ctx, before, staleRunReason)
	if err != nil {
		return fmt.Errorf("recover stale runs: %w", err)
	}
	if n > 0 {
		o.log.WithFields(log.Fields{
			"runs":   n,
			"before": before,
		}).Warn("Stale running sync runs marked as failed")
	}
	return nil
}

// resolveWindow выбирает режим: watermark любого успешного запуска даёт incremental.
func (o *Orchestrator) resolveWindow(ctx context.Context, forceInitial bool) (domain.SyncMode, time.Time, error) {
	if forceInitial {
		return domain.SyncModeInitial, o.cfg.InitialSyncDate.UTC(), nil
	}

	watermark, ok, err := o.deps.History.LastWatermark(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	if ok {
		return domain.SyncModeIncremental, watermark.UTC(), nil
	}
	return domain.SyncModeInitial, o.cfg.InitialSyncDate.UTC(), nil
}

// execute выполняет выборку и обработку пачки. Ошибки отдельных записей не прерывают запуск.
func (o *Orchestrator) execute(ctx context.Context, logger *log.Entry, report domain.SyncReport) (domain.SyncReport, error) {
	fetchStarted := time.Now()
	result, err := o.deps.Fetcher.FetchOrders(ctx, domain.FetchFilter{Mode: report.Mode, Since: report.Since})
	o.observeStep(domain.SyncStepFetch, fetchStarted)
	if err != nil {
		return report, err
	}
	report.OrdersFetched = len(result.Orders)
	report.APIVersion = result.APIVersion

	logger.WithFields(log.Fields{
		"orders":      report.OrdersFetched,
		"pages":       result.Pages,
		"api_version": result.APIVersion,
	}).Info("Orders fetched")

	for _, raw := range result.Orders {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("sync interrupted: %w", err)
		}

		order, outcome, ok := o.processRecord(ctx, logger, report.RunID, raw, &report)
		if !ok {
			continue
		}
		report.OrdersProcessed++
		if outcome != domain.UpsertStale {
			report.CreditsProcessed += len(order.Credits)
		}

		watermark := order.Watermark()
		if report.Watermark == nil || watermark.After(*report.Watermark) {
			wm := watermark
			report.Watermark = &wm
		}
	}

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("sync interrupted: %w", err)
	}
	o.replayDeadLetters(ctx, logger, &report)
	return report, nil
}

// processRecord разбирает и сохраняет одну запись; при ошибке запись уходит в dead letters.
func (o *Orchestrator) processRecord(ctx context.Context, logger *log.Entry, runID int64, raw domain.RawOrder, report *domain.SyncReport) (domain.Order, domain.UpsertOutcome, bool) {
	parseStarted := time.Now()
	order, err := o.deps.Parser.ParseOrder(raw)
	o.observeStep(domain.SyncStepParse, parseStarted)
	if err != nil {
		report.ParseFailures++
		key := recordKey(err, raw)
		logger.WithError(err).WithField("record_key", key).Warn("Order record skipped: parse failed")
		o.recordSkipped(domain.DeadLetterStageParse)
		o.deadLetter(ctx, logger, runID, key, domain.DeadLetterStageParse, raw, err)
		return domain.Order{}, "", false
	}

	outcome, err := o.persist(ctx, runID, order)
	if err != nil {
		report.PersistFailures++
		logger.WithError(err).WithField("order_id", order.ExternalID).Error("Order skipped: persist failed")
		o.recordSkipped(domain.DeadLetterStagePersist)
		o.deadLetter(ctx, logger, runID, order.ExternalID, domain.DeadLetterStagePersist, raw, err)
		return domain.Order{}, "", false
	}

	if err := o.deps.DeadLetters.Resolve(ctx, order.ExternalID, runID); err != nil {
		logger.WithError(err).WithField("order_id", order.ExternalID).Warn("Failed to resolve dead letter")
	}
	o.publishOrder(ctx, logger, runID, order, outcome)
	return order, outcome, true
}

func (o *Orchestrator) persist(ctx context.Context, runID int64, order domain.Order) (domain.UpsertOutcome, error) {
	started := time.Now()
	outcome, err := o.deps.Orders.Upsert(ctx, order, runID)
	o.observeStep(domain.SyncStepPersist, started)
	if err != nil {
		return "", err
	}
	if o.deps.Metrics != nil {
		credits := len(order.Credits)
		if outcome == domain.UpsertStale {
			credits = 0
		}
		o.deps.Metrics.RecordOrderProcessed(string(outcome), credits)
	}
	return outcome, nil
}

// replayDeadLetters повторяет записи, пропущенные предыдущими запусками.
// Повторённые заказы не влияют на watermark.
func (o *Orchestrator) replayDeadLetters(ctx context.Context, logger *log.Entry, report *domain.SyncReport) {
	if o.cfg.DeadLetterReplayLimit <= 0 {
		return
	}

	started := time.Now()
	defer o.observeStep(domain.SyncStepReplay, started)

	letters, err := o.deps.DeadLetters.ListUnresolved(ctx, o.cfg.DeadLetterReplayLimit)
	if err != nil {
		logger.WithError(err).Warn("Failed to list dead letters for replay")
		return
	}

	for _, letter := range letters {
		if ctx.Err() != nil {
			return
		}
		// записи, упавшие в этом же запуске, ждут следующего
		if letter.LastRunID == report.RunID {
			continue
		}

		entry := logger.WithFields(log.Fields{
			"record_key": letter.RecordKey,
			"attempts":   letter.Attempts,
		})

		order, err := o.deps.Parser.ParseOrder(letter.Payload)
		if err != nil {
			o.recordReplay("failed")
			o.deadLetter(ctx, entry, report.RunID, letter.RecordKey, domain.DeadLetterStageParse, letter.Payload, err)
			entry.WithError(err).Debug("Dead letter replay failed: parse")
			continue
		}

		outcome, err := o.persist(ctx, report.RunID, order)
		if err != nil {
			o.recordReplay("failed")
			o.deadLetter(ctx, entry, report.RunID, letter.RecordKey, domain.DeadLetterStagePersist, letter.Payload, err)
			entry.WithError(err).Debug("Dead letter replay failed: persist")
			continue
		}

		if err := o.deps.DeadLetters.Resolve(ctx, letter.RecordKey, report.RunID); err != nil {
			entry.WithError(err).Warn("Failed to resolve replayed dead letter")
			continue
		}
		o.recordReplay("ok")
		report.Replayed++
		o.publishOrder(ctx, entry, report.RunID, order, outcome)
		entry.WithField("outcome", outcome).Info("Dead letter replayed")
	}
}

func (o *Orchestrator) succeed(ctx context.Context, logger *log.Entry, report domain.SyncReport) (domain.SyncReport, error) {
	report.FinishedAt = o.now()
	report.Status = domain.SyncStatusSuccess

	auditCtx, cancel := auditContext(ctx)
	defer cancel()

	if err := o.deps.History.EndRun(auditCtx, report.RunID, runResult(report)); err != nil {
		endErr := fmt.Errorf("record sync run success: %w", err)
		return o.fail(ctx, logger, report, endErr), endErr
	}
	return report, nil
}

// announce сообщает об уже записанном успешном запуске: метрики, событие и лог.
func (o *Orchestrator) announce(ctx context.Context, logger *log.Entry, report domain.SyncReport) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordRunFinished(string(report.Mode), string(report.Status), report.FinishedAt.Sub(report.StartedAt))
		o.deps.Metrics.RecordSuccess(report.Watermark, report.FinishedAt)
	}
	o.publishRun(ctx, logger, report)

	entry := logger.WithFields(log.Fields{
		"fetched":          report.OrdersFetched,
		"processed":        report.OrdersProcessed,
		"skipped":          report.Skipped(),
		"credits":          report.CreditsProcessed,
		"replayed":         report.Replayed,
		"duration_seconds": report.FinishedAt.Sub(report.StartedAt).Seconds(),
	})
	if report.Watermark != nil {
		entry = entry.WithField("watermark", domain.FormatAPITime(*report.Watermark))
	}
	entry.Info("Sync run completed")
}

// fail записывает терминальный статус failed. Ошибка записи только логируется:
// исходная ошибка запуска важнее.
func (o *Orchestrator) fail(ctx context.Context, logger *log.Entry, report domain.SyncReport, cause error) domain.SyncReport {
	report.FinishedAt = o.now()
	report.Status = domain.SyncStatusFailed
	report.Err = cause
	report.Watermark = nil

	auditCtx, cancel := auditContext(ctx)
	defer cancel()

	if err := o.deps.History.EndRun(auditCtx, report.RunID, runResult(report)); err != nil {
		logger.WithError(err).Error("Failed to record sync run failure")
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordRunFinished(string(report.Mode), string(report.Status), report.FinishedAt.Sub(report.StartedAt))
	}
	o.publishRun(ctx, logger, report)

	logger.WithError(cause).WithFields(log.Fields{
		"fetched":   report.OrdersFetched,
		"processed": report.OrdersProcessed,
	}).Error("Sync run failed")
	return report
}

func (o *Orchestrator) deadLetter(ctx context.Context, logger *log.Entry, runID int64, key string, stage domain.DeadLetterStage, raw domain.RawOrder, cause error) {
	if key == "" {
		key = payloadKey(raw)
	}
	err := o.deps.DeadLetters.Record(ctx, domain.DeadLetter{
		RecordKey: key,
		Stage:     stage,
		Error:     cause.Error(),
		Payload:   raw,
		LastRunID: runID,
	})
	if err != nil {
		logger.WithError(err).WithField("record_key", key).Error("Failed to record dead letter")
	}
}

func (o *Orchestrator) publishOrder(ctx context.Context, logger *log.Entry, runID int64, order domain.Order, outcome domain.UpsertOutcome) {
	if o.deps.Publisher == nil || outcome == domain.UpsertStale {
		return
	}
	if err := o.deps.Publisher.OrderSynced(ctx, runID, order, outcome); err != nil {
		logger.WithError(err).WithField("order_id", order.ExternalID).Warn("Failed to publish order synced event")
	}
}

func (o *Orchestrator) publishRun(ctx context.Context, logger *log.Entry, report domain.SyncReport) {
	if o.deps.Publisher == nil {
		return
	}
	pubCtx, cancel := auditContext(ctx)
	defer cancel()
	if err := o.deps.Publisher.RunFinished(pubCtx, report); err != nil {
		logger.WithError(err).Warn("Failed to publish sync run event")
	}
}

func (o *Orchestrator) observeStep(step domain.SyncStep, started time.Time) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordStepDuration(string(step), time.Since(started))
	}
}

func (o *Orchestrator) recordSkipped(stage domain.DeadLetterStage) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordOrderSkipped(string(stage))
	}
}

func (o *Orchestrator) recordReplay(result string) {
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordReplay(result)
	}
}

func runResult(report domain.SyncReport) domain.RunResult {
	result := domain.RunResult{
		Status:           report.Status,
		FinishedAt:       report.FinishedAt,
		OrdersFetched:    report.OrdersFetched,
		OrdersProcessed:  report.OrdersProcessed,
		OrdersSkipped:    report.Skipped(),
		CreditsProcessed: report.CreditsProcessed,
		LastOrderDate:    report.Watermark,
		APIVersion:       report.APIVersion,
	}
	if report.Err != nil {
		result.ErrorMessage = report.Err.Error()
	}
	return result
}

// auditContext переживает отмену ctx, чтобы терминальный статус всё равно был записан.
func auditContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
}

// recordKey берёт идентификатор из ошибки разбора или вычисляет его по содержимому.
func recordKey(err error, raw domain.RawOrder) string {
	var parseErr *domain.ParseError
	if errors.As(err, &parseErr) && parseErr.RecordKey != "" {
		return parseErr.RecordKey
	}
	return payloadKey(raw)
}

func payloadKey(raw domain.RawOrder) string {
	sum := sha256.Sum256(raw.Body)
	return "sha256:" + hex.EncodeToString(sum[:])
}
