package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/client/onesaas"
	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordersync/internal/metrics"
	"github.com/vladislavdragonenkov/ordersync/internal/service/syncer"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/postgres"
)

// Направления команды migrate.
const (
	MigrateUp     = "up"
	MigrateDown   = "down"
	MigrateStatus = "status"
)

// RuntimeOption настраивает Runtime.
type RuntimeOption func(*Runtime)

// WithLogger задаёт базовый логгер.
func WithLogger(logger *log.Entry) RuntimeOption {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegisterer задаёт реестр метрик (по умолчанию глобальный).
func WithRegisterer(registerer prometheus.Registerer) RuntimeOption {
	return func(r *Runtime) {
		r.registerer = registerer
	}
}

// WithMemoryStore подменяет общее in-memory хранилище.
func WithMemoryStore(store *memory.Store) RuntimeOption {
	return func(r *Runtime) {
		if store != nil {
			r.memory = store
		}
	}
}

// Runtime открывает ресурсы под каждую операцию и закрывает их по её завершении.
type Runtime struct {
	cfg        Config
	logger     *log.Entry
	registerer prometheus.Registerer
	metrics    *metrics.SyncMetrics
	memory     *memory.Store
}

// NewRuntime проверяет конфигурацию и создаёт Runtime.
func NewRuntime(cfg Config, opts ...RuntimeOption) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Runtime{
		cfg:        cfg,
		logger:     log.WithField("component", "app"),
		registerer: prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.memory == nil && cfg.Database.Driver == StorageDriverMemory {
		r.memory = memory.NewStore()
	}
	r.metrics = metrics.NewSyncMetricsWithRegisterer(r.registerer)
	return r, nil
}

// Config возвращает конфигурацию.
func (r *Runtime) Config() Config {
	return r.cfg
}

// OpenStorage открывает хранилище; вызывающий обязан закрыть его.
func (r *Runtime) OpenStorage(ctx context.Context) (*Storage, error) {
	return openStorage(ctx, r.cfg.Database, r.memory, r.logger)
}

func (r *Runtime) newClient() (*onesaas.Client, error) {
	if err := r.cfg.ValidateAPI(); err != nil {
		return nil, err
	}
	return onesaas.NewClient(r.cfg.clientConfig(),
		onesaas.WithLogger(r.logger.WithField("component", "onesaas-client")),
		onesaas.WithMetrics(r.metrics),
	)
}

// Sync выполняет один запуск синхронизации со своими подключениями.
func (r *Runtime) Sync(ctx context.Context, opts syncer.RunOptions) (domain.SyncReport, error) {
	initialSync, err := r.cfg.InitialSyncTime()
	if err != nil {
		return domain.SyncReport{}, err
	}

	client, err := r.newClient()
	if err != nil {
		return domain.SyncReport{}, err
	}

	storage, err := r.OpenStorage(ctx)
	if err != nil {
		return domain.SyncReport{}, fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := storage.Close(); err != nil {
			r.logger.WithError(err).Warn("failed to close storage")
		}
	}()

	deps := syncer.Dependencies{
		Fetcher:     client,
		Parser:      onesaas.NewParser(r.logger.WithField("component", "onesaas-parser")),
		Orders:      storage.Orders,
		History:     storage.History,
		DeadLetters: storage.DeadLetters,
		Metrics:     r.metrics,
		Logger:      r.logger.WithField("component", "sync-orchestrator"),
	}

	if producer := initKafkaProducer(r.cfg.Kafka, r.logger); producer != nil {
		defer closeKafka(producer, r.logger)
		deps.Publisher = kafka.NewPublisher(producer, r.cfg.Kafka.OrderTopic, r.cfg.Kafka.SyncTopic)
	}

	orchestrator, err := syncer.NewOrchestrator(deps, syncer.Config{
		InitialSyncDate:       initialSync,
		StaleRunTimeout:       r.cfg.Sync.StaleRunTimeout,
		DeadLetterReplayLimit: r.cfg.Sync.DeadLetterReplayLimit,
	})
	if err != nil {
		return domain.SyncReport{}, err
	}
	return orchestrator.Run(ctx, opts)
}

// ConnectionReport итог проверки соединений.
type ConnectionReport struct {
	APIVersion string
	APIErr     error
	StorageErr error
}

// OK сообщает, что обе проверки прошли.
func (c ConnectionReport) OK() bool {
	return c.APIErr == nil && c.StorageErr == nil
}

// TestConnection проверяет upstream API и хранилище независимо друг от друга.
func (r *Runtime) TestConnection(ctx context.Context) ConnectionReport {
	var report ConnectionReport

	client, err := r.newClient()
	if err == nil {
		report.APIVersion, err = client.Ping(ctx)
	}
	report.APIErr = err

	storage, err := r.OpenStorage(ctx)
	if err != nil {
		report.StorageErr = err
		return report
	}
	defer storage.Close()
	report.StorageErr = storage.Ping(ctx)
	return report
}

// Status собирает отчёт о состоянии синхронизации.
func (r *Runtime) Status(ctx context.Context) (domain.StatusReport, error) {
	storage, err := r.OpenStorage(ctx)
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()
	return syncer.BuildStatus(ctx, storage.History, storage.Orders, storage.DeadLetters, syncer.DefaultRecentOrders)
}

// Clear удаляет все синхронизированные данные.
func (r *Runtime) Clear(ctx context.Context) error {
	storage, err := r.OpenStorage(ctx)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()
	return storage.Clear(ctx)
}

// Init создаёт схему хранилища.
func (r *Runtime) Init(ctx context.Context) error {
	storage, err := r.OpenStorage(ctx)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()
	return storage.EnsureSchema(ctx)
}

// Migrate применяет или откатывает миграции и возвращает итоговое состояние.
func (r *Runtime) Migrate(ctx context.Context, direction string, steps int) (postgres.MigrationState, error) {
	if r.cfg.Database.Driver != StorageDriverPostgres {
		return postgres.MigrationState{}, ErrMigrationsUnsupported
	}

	// схема управляется явно, автоприменение здесь отключено
	dbCfg := r.cfg.Database
	dbCfg.AutoMigrate = false
	storage, err := openStorage(ctx, dbCfg, nil, r.logger)
	if err != nil {
		return postgres.MigrationState{}, fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	store, err := storage.Postgres()
	if err != nil {
		return postgres.MigrationState{}, err
	}

	switch strings.ToLower(strings.TrimSpace(direction)) {
	case MigrateUp:
		err = store.MigrateUp(ctx, steps)
	case MigrateDown:
		err = store.MigrateDown(ctx, steps)
	case MigrateStatus:
	default:
		return postgres.MigrationState{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", direction)
	}
	if err != nil {
		return postgres.MigrationState{}, fmt.Errorf("migrate %s: %w", direction, err)
	}
	return store.MigrationStatus(ctx)
}
