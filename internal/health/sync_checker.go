package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// SyncChecker оценивает свежесть синхронизации по последнему запуску.
// Неудачный или слишком старый запуск даёт degraded, ошибка хранилища даёт unhealthy.
type SyncChecker struct {
	history domain.SyncHistoryRepository
	maxAge  time.Duration
	now     func() time.Time
}

// NewSyncChecker создаёт проверку; maxAge <= 0 отключает проверку возраста.
func NewSyncChecker(history domain.SyncHistoryRepository, maxAge time.Duration) *SyncChecker {
	return &SyncChecker{
		history: history,
		maxAge:  maxAge,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Check выполняет проверку
func (c *SyncChecker) Check(ctx context.Context) Check {
	start := time.Now()
	check := c.evaluate(ctx)
	check.Name = "sync"
	check.DurationMs = time.Since(start).Milliseconds()
	return check
}

func (c *SyncChecker) evaluate(ctx context.Context) Check {
	run, err := c.history.LastRun(ctx)
	if errors.Is(err, domain.ErrNoSyncHistory) {
		return Check{Status: StatusDegraded, Message: "no sync runs recorded yet"}
	}
	if err != nil {
		return Check{Status: StatusUnhealthy, Message: err.Error()}
	}

	switch run.Status {
	case domain.SyncStatusFailed:
		return Check{Status: StatusDegraded, Message: fmt.Sprintf("last run %d failed: %s", run.ID, run.ErrorMessage)}
	case domain.SyncStatusRunning:
		return Check{Status: StatusHealthy, Message: fmt.Sprintf("run %d in progress", run.ID)}
	}

	if c.maxAge > 0 && run.FinishedAt != nil {
		if age := c.now().Sub(*run.FinishedAt); age > c.maxAge {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("last successful run finished %s ago", age.Truncate(time.Second))}
		}
	}
	return Check{Status: StatusHealthy, Message: fmt.Sprintf("last run %d succeeded", run.ID)}
}
