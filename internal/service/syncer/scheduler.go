package syncer

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

const defaultSyncInterval = 15 * time.Minute

// RunFunc выполняет один запуск синхронизации.
type RunFunc func(ctx context.Context) (domain.SyncReport, error)

// SchedulerOptions задает параметры периодического запуска.
type SchedulerOptions struct {
	Logger   *log.Entry
	Interval time.Duration
	OnReport func(domain.SyncReport, error)
}

// SchedulerOption настраивает Scheduler.
type SchedulerOption func(*SchedulerOptions)

// WithLogger задает logger для планировщика.
func WithLogger(logger *log.Entry) SchedulerOption {
	return func(opts *SchedulerOptions) {
		opts.Logger = logger
	}
}

// WithInterval задает интервал между запусками.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(opts *SchedulerOptions) {
		opts.Interval = interval
	}
}

// WithReportHook вызывается после каждого запуска, в том числе неудачного.
func WithReportHook(hook func(domain.SyncReport, error)) SchedulerOption {
	return func(opts *SchedulerOptions) {
		opts.OnReport = hook
	}
}

// Scheduler периодически запускает синхронизацию. Следующий запуск начинается
// только после завершения предыдущего.
type Scheduler struct {
	run      RunFunc
	logger   *log.Entry
	interval time.Duration
	onReport func(domain.SyncReport, error)
}

// NewScheduler создает планировщик запусков.
func NewScheduler(run RunFunc, options ...SchedulerOption) *Scheduler {
	opts := SchedulerOptions{Interval: defaultSyncInterval}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sync-scheduler")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSyncInterval
	}

	return &Scheduler{
		run:      run,
		logger:   logger,
		interval: opts.Interval,
		onReport: opts.OnReport,
	}
}

// Run выполняет запуск сразу и затем по таймеру до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) {
	if s.run == nil {
		s.logger.Warn("sync scheduler is disabled: run func is nil")
		return
	}

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	report, err := s.run(ctx)
	if s.onReport != nil {
		s.onReport(report, err)
	}

	switch {
	case err == nil:
		s.logger.WithFields(log.Fields{
			"run_id":    report.RunID,
			"mode":      report.Mode,
			"processed": report.OrdersProcessed,
			"skipped":   report.Skipped(),
		}).Debug("scheduled sync finished")
	case errors.Is(err, domain.ErrSyncAlreadyRunning):
		s.logger.Info("scheduled sync skipped: another run is in progress")
	case errors.Is(err, context.Canceled):
		return
	default:
		s.logger.WithError(err).Warn("scheduled sync failed")
	}
}
