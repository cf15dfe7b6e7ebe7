package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

const syncRunColumns = `
	id, mode, status, started_at, finished_at,
	orders_fetched, orders_processed, orders_skipped, credits_processed,
	last_order_date, api_version, error_message
`

type syncHistoryRepository struct {
	db *sql.DB
}

// NewSyncHistoryRepository создаёт PostgreSQL-реализацию SyncHistoryRepository.
func NewSyncHistoryRepository(store *Store) domain.SyncHistoryRepository {
	return &syncHistoryRepository{db: store.DB()}
}

// LastWatermark возвращает максимальный last_order_date среди успешных запусков.
func (r *syncHistoryRepository) LastWatermark(ctx context.Context, modes ...domain.SyncMode) (time.Time, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT MAX(last_order_date)
		FROM sync_history
		WHERE status = 'success'
	`
	args := make([]any, 0, 1)
	if len(modes) > 0 {
		names := make([]string, 0, len(modes))
		for _, mode := range modes {
			names = append(names, string(mode))
		}
		query += ` AND mode = ANY($1)`
		args = append(args, names)
	}

	var watermark sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&watermark); err != nil {
		return time.Time{}, false, domain.NewStorageError("last watermark", err)
	}
	if !watermark.Valid {
		return time.Time{}, false, nil
	}
	return watermark.Time.UTC(), true, nil
}

// StartRun создаёт запись запуска в статусе running.
func (r *syncHistoryRepository) StartRun(ctx context.Context, mode domain.SyncMode, startedAt time.Time) (domain.SyncRun, error) {
	if !mode.Valid() {
		return domain.SyncRun{}, domain.NewStorageError("start run", fmt.Errorf("unsupported sync mode %q", mode))
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	run := domain.SyncRun{
		Mode:      mode,
		Status:    domain.SyncStatusRunning,
		StartedAt: startedAt.UTC(),
	}
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO sync_history (mode, status, started_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, string(mode), string(domain.SyncStatusRunning), run.StartedAt).Scan(&run.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.SyncRun{}, domain.ErrSyncAlreadyRunning
		}
		return domain.SyncRun{}, domain.NewStorageError("start run", err)
	}

	return run, nil
}

// EndRun переводит запуск из running в терминальный статус.
func (r *syncHistoryRepository) EndRun(ctx context.Context, runID int64, result domain.RunResult) error {
	if !result.Status.Terminal() {
		return domain.NewStorageError("end run", fmt.Errorf("status %q is not terminal", result.Status))
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_history
		SET status = $1,
		    finished_at = $2,
		    orders_fetched = $3,
		    orders_processed = $4,
		    orders_skipped = $5,
		    credits_processed = $6,
		    last_order_date = $7,
		    api_version = $8,
		    error_message = $9
		WHERE id = $10
		  AND status = 'running'
	`,
		string(result.Status), result.FinishedAt.UTC(),
		result.OrdersFetched, result.OrdersProcessed, result.OrdersSkipped, result.CreditsProcessed,
		nullableTime(result.LastOrderDate), result.APIVersion, result.ErrorMessage,
		runID,
	)
	if err != nil {
		return domain.NewStorageError("end run", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.NewStorageError("end run", fmt.Errorf("rows affected: %w", err))
	}
	if affected == 0 {
		var status string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM sync_history WHERE id = $1`, runID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrRunNotFound
		}
		if err != nil {
			return domain.NewStorageError("end run", err)
		}
		return domain.ErrRunNotRunning
	}

	return nil
}

// LastRun возвращает самый свежий запуск.
func (r *syncHistoryRepository) LastRun(ctx context.Context) (domain.SyncRun, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+syncRunColumns+` FROM sync_history ORDER BY id DESC LIMIT 1`)
	run, err := scanSyncRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.SyncRun{}, domain.ErrNoSyncHistory
		}
		return domain.SyncRun{}, domain.NewStorageError("last run", err)
	}
	return run, nil
}

// FailStale завершает зависшие запуски, начатые раньше before.
func (r *syncHistoryRepository) FailStale(ctx context.Context, before time.Time, reason string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_history
		SET status = 'failed',
		    finished_at = NOW(),
		    error_message = $1
		WHERE status = 'running'
		  AND started_at < $2
	`, reason, before.UTC())
	if err != nil {
		return 0, domain.NewStorageError("fail stale runs", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, domain.NewStorageError("fail stale runs", fmt.Errorf("rows affected: %w", err))
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSyncRun(row rowScanner) (domain.SyncRun, error) {
	var (
		run           domain.SyncRun
		mode, status  string
		finishedAt    sql.NullTime
		lastOrderDate sql.NullTime
	)
	if err := row.Scan(
		&run.ID, &mode, &status, &run.StartedAt, &finishedAt,
		&run.OrdersFetched, &run.OrdersProcessed, &run.OrdersSkipped, &run.CreditsProcessed,
		&lastOrderDate, &run.APIVersion, &run.ErrorMessage,
	); err != nil {
		return domain.SyncRun{}, err
	}
	run.Mode = domain.SyncMode(mode)
	run.Status = domain.SyncStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = timePtr(finishedAt)
	run.LastOrderDate = timePtr(lastOrderDate)
	return run, nil
}
