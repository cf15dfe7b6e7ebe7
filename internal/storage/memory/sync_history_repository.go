package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// syncHistoryRepositoryInMemory хранит журнал запусков; единственность running
// обеспечивается мьютексом.
type syncHistoryRepositoryInMemory struct {
	mu     sync.Mutex
	nextID int64
	runs   []domain.SyncRun
}

// NewSyncHistoryRepository возвращает in-memory журнал запусков.
func NewSyncHistoryRepository() domain.SyncHistoryRepository {
	return &syncHistoryRepositoryInMemory{}
}

func (r *syncHistoryRepositoryInMemory) LastWatermark(_ context.Context, modes ...domain.SyncMode) (time.Time, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		watermark time.Time
		found     bool
	)
	for _, run := range r.runs {
		if run.Status != domain.SyncStatusSuccess || run.LastOrderDate == nil {
			continue
		}
		if len(modes) > 0 && !containsMode(modes, run.Mode) {
			continue
		}
		if !found || run.LastOrderDate.After(watermark) {
			watermark = *run.LastOrderDate
			found = true
		}
	}
	return watermark, found, nil
}

func (r *syncHistoryRepositoryInMemory) StartRun(_ context.Context, mode domain.SyncMode, startedAt time.Time) (domain.SyncRun, error) {
	if !mode.Valid() {
		return domain.SyncRun{}, domain.NewStorageError("start run", fmt.Errorf("unsupported sync mode %q", mode))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, run := range r.runs {
		if run.Status == domain.SyncStatusRunning {
			return domain.SyncRun{}, domain.ErrSyncAlreadyRunning
		}
	}

	r.nextID++
	run := domain.SyncRun{
		ID:        r.nextID,
		Mode:      mode,
		Status:    domain.SyncStatusRunning,
		StartedAt: startedAt.UTC(),
	}
	r.runs = append(r.runs, run)
	return run, nil
}

func (r *syncHistoryRepositoryInMemory) EndRun(_ context.Context, runID int64, result domain.RunResult) error {
	if !result.Status.Terminal() {
		return domain.NewStorageError("end run", fmt.Errorf("status %q is not terminal", result.Status))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.runs {
		run := &r.runs[i]
		if run.ID != runID {
			continue
		}
		if run.Status != domain.SyncStatusRunning {
			return domain.ErrRunNotRunning
		}
		finished := result.FinishedAt.UTC()
		run.Status = result.Status
		run.FinishedAt = &finished
		run.OrdersFetched = result.OrdersFetched
		run.OrdersProcessed = result.OrdersProcessed
		run.OrdersSkipped = result.OrdersSkipped
		run.CreditsProcessed = result.CreditsProcessed
		run.LastOrderDate = copyTime(result.LastOrderDate)
		run.APIVersion = result.APIVersion
		run.ErrorMessage = result.ErrorMessage
		return nil
	}
	return domain.ErrRunNotFound
}

func (r *syncHistoryRepositoryInMemory) LastRun(context.Context) (domain.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.runs) == 0 {
		return domain.SyncRun{}, domain.ErrNoSyncHistory
	}
	run := r.runs[len(r.runs)-1]
	run.FinishedAt = copyTime(run.FinishedAt)
	run.LastOrderDate = copyTime(run.LastOrderDate)
	return run, nil
}

func (r *syncHistoryRepositoryInMemory) FailStale(_ context.Context, before time.Time, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	failed := 0
	for i := range r.runs {
		run := &r.runs[i]
		if run.Status != domain.SyncStatusRunning || !run.StartedAt.Before(before) {
			continue
		}
		finished := now
		run.Status = domain.SyncStatusFailed
		run.FinishedAt = &finished
		run.ErrorMessage = reason
		failed++
	}
	return failed, nil
}

// Clear удаляет историю запусков.
func (r *syncHistoryRepositoryInMemory) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = nil
	r.nextID = 0
}

func containsMode(modes []domain.SyncMode, mode domain.SyncMode) bool {
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}

func copyTime(ts *time.Time) *time.Time {
	if ts == nil {
		return nil
	}
	cp := ts.UTC()
	return &cp
}
