package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// DefaultRecentOrders: сколько последних заказов показывает отчёт о состоянии.
const DefaultRecentOrders = 5

// BuildStatus собирает отчёт о состоянии: последний запуск, число заказов,
// последние изменённые заказы и очередь пропущенных записей.
func BuildStatus(ctx context.Context, history domain.SyncHistoryRepository, orders domain.OrderRepository, letters domain.DeadLetterRepository, recent int) (domain.StatusReport, error) {
	var report domain.StatusReport

	run, err := history.LastRun(ctx)
	switch {
	case err == nil:
		report.LastRun = &run
	case errors.Is(err, domain.ErrNoSyncHistory):
	default:
		return report, fmt.Errorf("load last run: %w", err)
	}

	if report.TotalOrders, err = orders.Count(ctx); err != nil {
		return report, fmt.Errorf("count orders: %w", err)
	}

	if recent <= 0 {
		recent = DefaultRecentOrders
	}
	if report.RecentOrders, err = orders.Recent(ctx, recent); err != nil {
		return report, fmt.Errorf("load recent orders: %w", err)
	}

	if letters != nil {
		if report.PendingLetter, err = letters.CountUnresolved(ctx); err != nil {
			return report, fmt.Errorf("count dead letters: %w", err)
		}
	}
	return report, nil
}
