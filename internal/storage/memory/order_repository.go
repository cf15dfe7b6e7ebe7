package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// orderRepositoryInMemory: in-memory реализация OrderRepository с той же семантикой upsert,
// что и PostgreSQL: полная замена позиций и адресов, неизменяемые кредиты.
type orderRepositoryInMemory struct {
	mu      sync.RWMutex
	items   map[string]domain.Order
	credits map[string]domain.Credit
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items:   make(map[string]domain.Order),
		credits: make(map[string]domain.Credit),
	}
}

// Upsert сохраняет агрегат целиком или ничего.
func (r *orderRepositoryInMemory) Upsert(ctx context.Context, order domain.Order, _ int64) (domain.UpsertOutcome, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewStorageError("upsert order", err)
	}
	if order.ExternalID == "" {
		return "", domain.NewStorageError("upsert order", domain.ErrExternalIDRequired)
	}
	for _, addr := range order.Addresses {
		if !addr.Type.Valid() {
			return "", domain.NewStorageError("upsert order "+order.ExternalID, fmt.Errorf("unsupported address type %q", addr.Type))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	outcome := domain.UpsertInserted
	next := cloneOrder(order)
	next.Credits = nil

	if current, ok := r.items[order.ExternalID]; ok {
		if order.LastUpdatedAt.Before(current.LastUpdatedAt) {
			return domain.UpsertStale, nil
		}
		outcome = domain.UpsertUpdated

		// изменяемые поля берём из новой версии, идентичность оставляем прежней
		updated := current
		updated.Status = next.Status
		updated.Total = next.Total
		updated.LastUpdatedAt = next.LastUpdatedAt
		updated.Raw = next.Raw
		updated.Items = next.Items
		updated.Addresses = next.Addresses
		next = updated
	}

	r.items[order.ExternalID] = next
	for _, credit := range order.Credits {
		if _, exists := r.credits[credit.EntityID]; exists {
			continue
		}
		credit.OrderExternalID = order.ExternalID
		r.credits[credit.EntityID] = credit
	}

	return outcome, nil
}

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (r *orderRepositoryInMemory) Get(_ context.Context, externalID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[externalID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order = cloneOrder(order)

	credits := make([]domain.Credit, 0)
	for _, credit := range r.credits {
		if credit.OrderExternalID == externalID {
			credits = append(credits, credit)
		}
	}
	sort.Slice(credits, func(i, j int) bool { return credits[i].EntityID < credits[j].EntityID })
	order.Credits = credits

	return order, nil
}

// Count возвращает число заказов.
func (r *orderRepositoryInMemory) Count(context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

// Recent возвращает limit последних изменённых заказов.
func (r *orderRepositoryInMemory) Recent(_ context.Context, limit int) ([]domain.OrderSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.OrderSummary, 0, len(r.items))
	for _, order := range r.items {
		result = append(result, domain.OrderSummary{
			ExternalID:    order.ExternalID,
			OrderNumber:   order.OrderNumber,
			Status:        order.Status,
			Total:         order.Total,
			Currency:      order.Currency,
			CreatedAt:     order.CreatedAt,
			LastUpdatedAt: order.LastUpdatedAt,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastUpdatedAt.Equal(result[j].LastUpdatedAt) {
			return result[i].LastUpdatedAt.After(result[j].LastUpdatedAt)
		}
		return result[i].ExternalID > result[j].ExternalID
	})

	if limit <= 0 {
		return []domain.OrderSummary{}, nil
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Clear удаляет все заказы и кредиты.
func (r *orderRepositoryInMemory) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make(map[string]domain.Order)
	r.credits = make(map[string]domain.Credit)
}

// cloneOrder копирует срезы, чтобы вызывающий не мог изменить сохранённое состояние.
func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	order.Addresses = append([]domain.Address(nil), order.Addresses...)
	order.Credits = append([]domain.Credit(nil), order.Credits...)
	order.Raw.Body = append([]byte(nil), order.Raw.Body...)
	return order
}
