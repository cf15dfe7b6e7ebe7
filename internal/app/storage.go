package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/postgres"
)

// ErrMigrationsUnsupported возвращается для хранилищ без схемы.
var ErrMigrationsUnsupported = errors.New("migrations are supported only by the postgres driver")

// Storage объединяет репозитории выбранного драйвера.
type Storage struct {
	Orders      domain.OrderRepository
	History     domain.SyncHistoryRepository
	DeadLetters domain.DeadLetterRepository

	pg  *postgres.Store
	mem *memory.Store
}

// openStorage открывает хранилище по конфигурации. Для memory используется
// переданный общий экземпляр, чтобы данные жили дольше одного запуска.
func openStorage(ctx context.Context, cfg DatabaseConfig, shared *memory.Store, logger *log.Entry) (*Storage, error) {
	switch cfg.Driver {
	case StorageDriverMemory:
		if shared == nil {
			shared = memory.NewStore()
		}
		return &Storage{
			Orders:      shared.Orders,
			History:     shared.History,
			DeadLetters: shared.DeadLetters,
			mem:         shared,
		}, nil
	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.DSN)
		if dsn == "" {
			return nil, &domain.ConfigurationError{Field: "database.dsn", Reason: "is required for postgres driver"}
		}

		store, err := postgres.Open(ctx, dsn, logger.WithField("component", "postgres"))
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}
		return &Storage{
			Orders:      postgres.NewOrderRepository(store),
			History:     postgres.NewSyncHistoryRepository(store),
			DeadLetters: postgres.NewDeadLetterRepository(store),
			pg:          store,
		}, nil
	default:
		return nil, &domain.ConfigurationError{Field: "database.driver", Reason: fmt.Sprintf("unsupported storage driver %q", cfg.Driver)}
	}
}

// Ping проверяет доступность хранилища.
func (s *Storage) Ping(ctx context.Context) error {
	if s.pg != nil {
		return s.pg.Ping(ctx)
	}
	return ctx.Err()
}

// EnsureSchema создаёт схему, если её ещё нет.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if s.pg != nil {
		return s.pg.EnsureSchema(ctx)
	}
	return nil
}

// Clear удаляет все синхронизированные данные и историю запусков.
func (s *Storage) Clear(ctx context.Context) error {
	if s.pg != nil {
		return s.pg.ClearAll(ctx)
	}
	return s.mem.ClearAll(ctx)
}

// Postgres возвращает postgres-хранилище или ErrMigrationsUnsupported.
func (s *Storage) Postgres() (*postgres.Store, error) {
	if s.pg == nil {
		return nil, ErrMigrationsUnsupported
	}
	return s.pg, nil
}

// Close освобождает подключения.
func (s *Storage) Close() error {
	if s == nil || s.pg == nil {
		return nil
	}
	return s.pg.Close()
}
