package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/memory"
)

type brokenHistory struct {
	domain.SyncHistoryRepository
}

func (brokenHistory) LastRun(context.Context) (domain.SyncRun, error) {
	return domain.SyncRun{}, errors.New("connection refused")
}

func TestSyncChecker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 7, 10, 12, 0, 0, 0, time.UTC)

	history := memory.NewSyncHistoryRepository()
	checker := NewSyncChecker(history, time.Hour)
	checker.now = func() time.Time { return now }

	if check := checker.Check(ctx); check.Status != StatusDegraded || check.Name != "sync" {
		t.Fatalf("empty history must be degraded, got %+v", check)
	}

	run, err := history.StartRun(ctx, domain.SyncModeInitial, now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if check := checker.Check(ctx); check.Status != StatusHealthy {
		t.Fatalf("running sync must be healthy, got %+v", check)
	}

	if err := history.EndRun(ctx, run.ID, domain.RunResult{Status: domain.SyncStatusSuccess, FinishedAt: now.Add(-90 * time.Minute)}); err != nil {
		t.Fatalf("end run: %v", err)
	}
	if check := checker.Check(ctx); check.Status != StatusDegraded {
		t.Fatalf("outdated sync must be degraded, got %+v", check)
	}

	run, err = history.StartRun(ctx, domain.SyncModeIncremental, now.Add(-10*time.Minute))
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := history.EndRun(ctx, run.ID, domain.RunResult{Status: domain.SyncStatusSuccess, FinishedAt: now.Add(-5 * time.Minute)}); err != nil {
		t.Fatalf("end run: %v", err)
	}
	if check := checker.Check(ctx); check.Status != StatusHealthy {
		t.Fatalf("fresh sync must be healthy, got %+v", check)
	}

	run, err = history.StartRun(ctx, domain.SyncModeIncremental, now)
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := history.EndRun(ctx, run.ID, domain.RunResult{Status: domain.SyncStatusFailed, FinishedAt: now, ErrorMessage: "boom"}); err != nil {
		t.Fatalf("end run: %v", err)
	}
	if check := checker.Check(ctx); check.Status != StatusDegraded {
		t.Fatalf("failed sync must be degraded, got %+v", check)
	}
}

func TestSyncChecker_StorageError(t *testing.T) {
	checker := NewSyncChecker(brokenHistory{}, 0)
	if check := checker.Check(context.Background()); check.Status != StatusUnhealthy {
		t.Fatalf("storage error must be unhealthy, got %+v", check)
	}
}

func TestHandlerEvaluate_Degraded(t *testing.T) {
	handler := NewHandler("test")
	handler.RegisterChecker("sync", NewSyncChecker(memory.NewSyncHistoryRepository(), 0))

	if response := handler.Evaluate(context.Background()); response.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", response.Status)
	}
}
