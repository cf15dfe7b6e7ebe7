package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/storage/memory"
)

func newOrder(id string, updated time.Time) domain.Order {
	return domain.Order{
		ExternalID:    id,
		OrderNumber:   "N-" + id,
		Status:        "processing",
		Total:         decimal.RequireFromString("10.00"),
		CreatedAt:     updated.Add(-time.Hour),
		LastUpdatedAt: updated,
		Items: []domain.OrderItem{
			{ProductCode: "sku-1", Quantity: decimal.NewFromInt(1)},
			{ProductCode: "sku-2", Quantity: decimal.NewFromInt(2)},
		},
		Addresses: []domain.Address{{Type: domain.AddressTypeBilling, City: "York"}},
		Credits:   []domain.Credit{{EntityID: "c-" + id, GrandTotal: decimal.RequireFromString("1")}},
		Raw:       domain.NewJSONDocument([]byte(`{"Id":"` + id + `"}`)),
	}
}

func TestOrderRepository_UpsertOutcomes(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	order := newOrder("1", base)

	outcome, err := repo.Upsert(ctx, order, 1)
	if err != nil || outcome != domain.UpsertInserted {
		t.Fatalf("expected inserted, got %s err=%v", outcome, err)
	}

	outcome, err = repo.Upsert(ctx, order, 2)
	if err != nil || outcome != domain.UpsertUpdated {
		t.Fatalf("expected updated on equal timestamp, got %s err=%v", outcome, err)
	}

	older := order
	older.Status = "pending"
	older.LastUpdatedAt = base.Add(-time.Minute)
	outcome, err = repo.Upsert(ctx, older, 3)
	if err != nil || outcome != domain.UpsertStale {
		t.Fatalf("expected stale, got %s err=%v", outcome, err)
	}

	stored, err := repo.Get(ctx, "1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != "processing" {
		t.Fatalf("stale record must not overwrite status, got %s", stored.Status)
	}
	if len(stored.Items) != 2 || len(stored.Credits) != 1 {
		t.Fatalf("unexpected children: items=%d credits=%d", len(stored.Items), len(stored.Credits))
	}
}

func TestOrderRepository_UpdateReplacesChildren(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	order := newOrder("2", base)
	if _, err := repo.Upsert(ctx, order, 1); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	next := newOrder("2", base.Add(time.Hour))
	next.OrderNumber = "other"
	next.Items = next.Items[:1]
	next.Credits = []domain.Credit{
		{EntityID: "c-2", GrandTotal: decimal.RequireFromString("99")},
		{EntityID: "c-2b", GrandTotal: decimal.RequireFromString("3")},
	}
	if _, err := repo.Upsert(ctx, next, 2); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	stored, err := repo.Get(ctx, "2")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.OrderNumber != "N-2" {
		t.Fatalf("identity fields must stay untouched, got %s", stored.OrderNumber)
	}
	if len(stored.Items) != 1 {
		t.Fatalf("items must be replaced, got %d", len(stored.Items))
	}
	if len(stored.Credits) != 2 {
		t.Fatalf("expected 2 credits, got %d", len(stored.Credits))
	}
	if !stored.Credits[0].GrandTotal.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("existing credit must be immutable, got %s", stored.Credits[0].GrandTotal)
	}
}

func TestOrderRepository_RejectsInvalidOrders(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()

	_, err := repo.Upsert(ctx, domain.Order{}, 1)
	if !domain.IsStorageError(err) || !errors.Is(err, domain.ErrExternalIDRequired) {
		t.Fatalf("expected storage error for empty id, got %v", err)
	}

	bad := newOrder("3", time.Now().UTC())
	bad.Addresses = append(bad.Addresses, domain.Address{Type: "office"})
	if _, err := repo.Upsert(ctx, bad, 1); !domain.IsStorageError(err) {
		t.Fatalf("expected storage error for invalid address, got %v", err)
	}
	if _, err := repo.Get(ctx, "3"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("failed upsert must not write anything, got %v", err)
	}
}

func TestOrderRepository_RecentAndCount(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	base := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if _, err := repo.Upsert(ctx, newOrder(id, base.Add(time.Duration(i)*time.Hour)), 1); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	count, err := repo.Count(ctx)
	if err != nil || count != 3 {
		t.Fatalf("expected 3 orders, got %d err=%v", count, err)
	}

	recent, err := repo.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 2 || recent[0].ExternalID != "c" || recent[1].ExternalID != "b" {
		t.Fatalf("unexpected recent orders: %+v", recent)
	}
}

func TestOrderRepository_StoredCopyIsIsolated(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	order := newOrder("4", time.Now().UTC())
	if _, err := repo.Upsert(ctx, order, 1); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	order.Items[0].ProductCode = "mutated"
	stored, err := repo.Get(ctx, "4")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Items[0].ProductCode != "sku-1" {
		t.Fatalf("stored order must not share slices with caller")
	}
}
