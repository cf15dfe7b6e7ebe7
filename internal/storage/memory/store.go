package memory

import (
	"context"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

type clearer interface {
	Clear()
}

// Store объединяет in-memory репозитории одного процесса.
type Store struct {
	Orders      domain.OrderRepository
	History     domain.SyncHistoryRepository
	DeadLetters domain.DeadLetterRepository
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		Orders:      NewOrderRepository(),
		History:     NewSyncHistoryRepository(),
		DeadLetters: NewDeadLetterRepository(),
	}
}

// ClearAll очищает все репозитории.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, repo := range []any{s.Orders, s.History, s.DeadLetters} {
		if c, ok := repo.(clearer); ok {
			c.Clear()
		}
	}
	return nil
}
