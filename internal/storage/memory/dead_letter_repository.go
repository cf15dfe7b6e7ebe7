package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

type deadLetterRepositoryInMemory struct {
	mu       sync.Mutex
	nextID   int64
	letters  []domain.DeadLetter
	lastTime time.Time
}

// touch возвращает строго возрастающую отметку времени, чтобы порядок обновлений
// не зависел от разрешения часов.
func (r *deadLetterRepositoryInMemory) touch() time.Time {
	now := time.Now().UTC()
	if !now.After(r.lastTime) {
		now = r.lastTime.Add(time.Nanosecond)
	}
	r.lastTime = now
	return now
}

// NewDeadLetterRepository возвращает in-memory очередь пропущенных записей.
func NewDeadLetterRepository() domain.DeadLetterRepository {
	return &deadLetterRepositoryInMemory{}
}

func (r *deadLetterRepositoryInMemory) Record(_ context.Context, letter domain.DeadLetter) error {
	if letter.RecordKey == "" {
		return domain.NewStorageError("record dead letter", fmt.Errorf("record key is required"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.touch()
	for i := range r.letters {
		existing := &r.letters[i]
		if existing.RecordKey != letter.RecordKey || existing.ResolvedAt != nil {
			continue
		}
		existing.Stage = letter.Stage
		existing.Error = letter.Error
		existing.Payload = domain.RawDocument{Format: letter.Payload.Format, Body: append([]byte(nil), letter.Payload.Body...)}
		existing.Attempts++
		existing.LastRunID = letter.LastRunID
		existing.UpdatedAt = now
		return nil
	}

	r.nextID++
	r.letters = append(r.letters, domain.DeadLetter{
		ID:         r.nextID,
		RecordKey:  letter.RecordKey,
		Stage:      letter.Stage,
		Error:      letter.Error,
		Payload:    domain.RawDocument{Format: letter.Payload.Format, Body: append([]byte(nil), letter.Payload.Body...)},
		Attempts:   1,
		FirstRunID: letter.LastRunID,
		LastRunID:  letter.LastRunID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	return nil
}

func (r *deadLetterRepositoryInMemory) ListUnresolved(_ context.Context, limit int) ([]domain.DeadLetter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.DeadLetter, 0)
	if limit <= 0 {
		return result, nil
	}
	for _, letter := range r.letters {
		if letter.ResolvedAt == nil {
			result = append(result, letter)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.Before(result[j].UpdatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *deadLetterRepositoryInMemory) Resolve(_ context.Context, recordKey string, runID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.touch()
	for i := range r.letters {
		letter := &r.letters[i]
		if letter.RecordKey != recordKey || letter.ResolvedAt != nil {
			continue
		}
		resolved := now
		letter.ResolvedAt = &resolved
		letter.UpdatedAt = now
		if runID > 0 {
			letter.LastRunID = runID
		}
	}
	return nil
}

func (r *deadLetterRepositoryInMemory) CountUnresolved(context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, letter := range r.letters {
		if letter.ResolvedAt == nil {
			count++
		}
	}
	return count, nil
}

// Clear удаляет все записи.
func (r *deadLetterRepositoryInMemory) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.letters = nil
	r.nextID = 0
}
