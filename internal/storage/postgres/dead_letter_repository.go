package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

type deadLetterRepository struct {
	db *sql.DB
}

// NewDeadLetterRepository создаёт PostgreSQL-реализацию DeadLetterRepository.
func NewDeadLetterRepository(store *Store) domain.DeadLetterRepository {
	return &deadLetterRepository{db: store.DB()}
}

// Record добавляет запись или увеличивает счётчик попыток нерешённой записи с тем же ключом.
func (r *deadLetterRepository) Record(ctx context.Context, letter domain.DeadLetter) error {
	if letter.RecordKey == "" {
		return domain.NewStorageError("record dead letter", fmt.Errorf("record key is required"))
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_dead_letters (
			record_key, stage, error, raw_format, payload, attempts, first_run_id, last_run_id
		) VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		ON CONFLICT (record_key) WHERE resolved_at IS NULL
		DO UPDATE SET
			stage = EXCLUDED.stage,
			error = EXCLUDED.error,
			raw_format = EXCLUDED.raw_format,
			payload = EXCLUDED.payload,
			attempts = sync_dead_letters.attempts + 1,
			last_run_id = EXCLUDED.last_run_id,
			updated_at = NOW()
	`,
		letter.RecordKey, string(letter.Stage), letter.Error,
		rawFormat(letter.Payload), rawBody(letter.Payload), nullableRunID(letter.LastRunID),
	)
	if err != nil {
		return domain.NewStorageError("record dead letter", err)
	}
	return nil
}

// ListUnresolved возвращает нерешённые записи, давно не повторявшиеся первыми,
// чтобы безнадёжные записи уходили в конец очереди.
func (r *deadLetterRepository) ListUnresolved(ctx context.Context, limit int) ([]domain.DeadLetter, error) {
	if limit <= 0 {
		return []domain.DeadLetter{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, record_key, stage, error, raw_format, payload::text, attempts,
		       COALESCE(first_run_id, 0), COALESCE(last_run_id, 0), created_at, updated_at
		FROM sync_dead_letters
		WHERE resolved_at IS NULL
		ORDER BY updated_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, domain.NewStorageError("list dead letters", err)
	}
	defer rows.Close()

	letters := make([]domain.DeadLetter, 0)
	for rows.Next() {
		var (
			letter  domain.DeadLetter
			stage   string
			format  string
			payload []byte
		)
		if err := rows.Scan(
			&letter.ID, &letter.RecordKey, &stage, &letter.Error, &format, &payload, &letter.Attempts,
			&letter.FirstRunID, &letter.LastRunID, &letter.CreatedAt, &letter.UpdatedAt,
		); err != nil {
			return nil, domain.NewStorageError("list dead letters", fmt.Errorf("scan dead letter: %w", err))
		}
		letter.Stage = domain.DeadLetterStage(stage)
		letter.Payload = domain.NewJSONDocument(payload)
		letter.Payload.Format = domain.DocumentFormat(format)
		letter.CreatedAt = letter.CreatedAt.UTC()
		letter.UpdatedAt = letter.UpdatedAt.UTC()
		letters = append(letters, letter)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list dead letters", fmt.Errorf("iterate dead letters: %w", err))
	}

	return letters, nil
}

// Resolve помечает нерешённую запись как обработанную.
func (r *deadLetterRepository) Resolve(ctx context.Context, recordKey string, runID int64) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE sync_dead_letters
		SET resolved_at = NOW(),
		    last_run_id = COALESCE($2, last_run_id),
		    updated_at = NOW()
		WHERE record_key = $1
		  AND resolved_at IS NULL
	`, recordKey, nullableRunID(runID)); err != nil {
		return domain.NewStorageError("resolve dead letter", err)
	}
	return nil
}

// CountUnresolved возвращает число нерешённых записей.
func (r *deadLetterRepository) CountUnresolved(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_dead_letters WHERE resolved_at IS NULL
	`).Scan(&count); err != nil {
		return 0, domain.NewStorageError("count dead letters", err)
	}
	return count, nil
}
