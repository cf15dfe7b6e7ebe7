package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

type OrderRepositorySuite struct {
	suite.Suite

	store *Store
	repo  domain.OrderRepository
	run   domain.SyncRun
	ctx   context.Context
}

func TestOrderRepositorySuite(t *testing.T) {
	suite.Run(t, new(OrderRepositorySuite))
}

func (s *OrderRepositorySuite) SetupTest() {
	s.store = openPostgresStoreForIntegrationTest(s.T())
	s.repo = NewOrderRepository(s.store)
	s.run = startRunForIntegrationTest(s.T(), s.store, domain.SyncModeInitial)
	s.ctx = context.Background()
}

func (s *OrderRepositorySuite) TestInsertThenGetRoundTrip() {
	order := sampleOrder("1001", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))

	outcome, err := s.repo.Upsert(s.ctx, order, s.run.ID)
	s.Require().NoError(err)
	s.Equal(domain.UpsertInserted, outcome)

	stored, err := s.repo.Get(s.ctx, "1001")
	s.Require().NoError(err)
	s.Equal(order.OrderNumber, stored.OrderNumber)
	s.True(order.Total.Equal(stored.Total))
	s.True(order.Shipping.Amount.Equal(stored.Shipping.Amount))
	s.Equal(order.CreatedAt, stored.CreatedAt)
	s.Equal(order.LastUpdatedAt, stored.LastUpdatedAt)
	s.Len(stored.Items, 2)
	s.Equal("SKU-1", stored.Items[0].ProductCode)
	s.True(stored.Items[1].Quantity.Equal(decimal.NewFromInt(3)))
	s.Len(stored.Addresses, 2)
	s.Len(stored.Credits, 1)
	s.Equal("1001", stored.Credits[0].OrderExternalID)
	s.JSONEq(order.Raw.String(), stored.Raw.String())
	s.Equal(domain.DocumentFormatJSON, stored.Raw.Format)
}

func (s *OrderRepositorySuite) TestUpsertIsIdempotent() {
	order := sampleOrder("1002", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))

	_, err := s.repo.Upsert(s.ctx, order, s.run.ID)
	s.Require().NoError(err)
	first, err := s.repo.Get(s.ctx, "1002")
	s.Require().NoError(err)

	outcome, err := s.repo.Upsert(s.ctx, order, s.run.ID)
	s.Require().NoError(err)
	s.Equal(domain.UpsertUpdated, outcome)

	second, err := s.repo.Get(s.ctx, "1002")
	s.Require().NoError(err)
	s.Equal(len(first.Items), len(second.Items))
	s.Equal(len(first.Addresses), len(second.Addresses))
	s.Equal(len(first.Credits), len(second.Credits))

	count, err := s.repo.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, count)

	var items, credits int
	s.Require().NoError(s.store.DB().QueryRowContext(s.ctx, `SELECT COUNT(*) FROM order_items WHERE order_id = '1002'`).Scan(&items))
	s.Require().NoError(s.store.DB().QueryRowContext(s.ctx, `SELECT COUNT(*) FROM order_credits WHERE order_id = '1002'`).Scan(&credits))
	s.Equal(2, items)
	s.Equal(1, credits)
}

func (s *OrderRepositorySuite) TestUpdateReplacesChildrenAndKeepsCredits() {
	created := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	order := sampleOrder("1003", created)
	_, err := s.repo.Upsert(s.ctx, order, s.run.ID)
	s.Require().NoError(err)

	updated := order
	updated.Status = "complete"
	updated.OrderNumber = "changed-number"
	updated.LastUpdatedAt = order.LastUpdatedAt.Add(time.Hour)
	updated.Items = order.Items[:1]
	updated.Addresses = order.Addresses[:1]
	updated.Credits = append([]domain.Credit{{
		EntityID:   "9001",
		GrandTotal: decimal.RequireFromString("999"),
	}}, domain.Credit{EntityID: "9002", GrandTotal: decimal.RequireFromString("5")})

	outcome, err := s.repo.Upsert(s.ctx, updated, s.run.ID)
	s.Require().NoError(err)
	s.Equal(domain.UpsertUpdated, outcome)

	stored, err := s.repo.Get(s.ctx, "1003")
	s.Require().NoError(err)
	s.Equal("complete", stored.Status)
	s.Equal(order.OrderNumber, stored.OrderNumber, "identity fields must stay untouched")
	s.Len(stored.Items, 1)
	s.Len(stored.Addresses, 1)
	s.Len(stored.Credits, 2)
	for _, credit := range stored.Credits {
		if credit.EntityID == "9001" {
			s.True(credit.GrandTotal.Equal(decimal.RequireFromString("20")), "existing credit must not change")
		}
	}
}

func (s *OrderRepositorySuite) TestOlderRecordIsStale() {
	order := sampleOrder("1004", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	_, err := s.repo.Upsert(s.ctx, order, s.run.ID)
	s.Require().NoError(err)

	older := order
	older.Status = "pending"
	older.LastUpdatedAt = order.LastUpdatedAt.Add(-time.Hour)
	older.Items = nil

	outcome, err := s.repo.Upsert(s.ctx, older, s.run.ID)
	s.Require().NoError(err)
	s.Equal(domain.UpsertStale, outcome)

	stored, err := s.repo.Get(s.ctx, "1004")
	s.Require().NoError(err)
	s.Equal(order.Status, stored.Status)
	s.Len(stored.Items, 2)
}

func (s *OrderRepositorySuite) TestFailedUpsertLeavesNoPartialWrite() {
	order := sampleOrder("1005", time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC))
	order.Addresses = append(order.Addresses, domain.Address{Type: "office"})

	_, err := s.repo.Upsert(s.ctx, order, s.run.ID)
	s.Require().Error(err)
	s.True(domain.IsStorageError(err))

	_, err = s.repo.Get(s.ctx, "1005")
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func (s *OrderRepositorySuite) TestRecentAndCount() {
	base := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"2001", "2002", "2003"} {
		order := sampleOrder(id, base.Add(time.Duration(i)*time.Hour))
		_, err := s.repo.Upsert(s.ctx, order, s.run.ID)
		s.Require().NoError(err)
	}

	count, err := s.repo.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, count)

	recent, err := s.repo.Recent(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(recent, 2)
	s.Equal("2003", recent[0].ExternalID)
	s.Equal("2002", recent[1].ExternalID)
}

func (s *OrderRepositorySuite) TestGetMissingOrder() {
	_, err := s.repo.Get(s.ctx, "missing")
	s.ErrorIs(err, domain.ErrOrderNotFound)
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected unique violation for code 23505")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "22001"}) {
		t.Fatal("unexpected unique violation for non-unique code")
	}
	if isUniqueViolation(errors.New("plain error")) {
		t.Fatal("plain error must not be unique violation")
	}
}

func sampleOrder(id string, createdAt time.Time) domain.Order {
	createdCredit := createdAt.Add(48 * time.Hour)
	return domain.Order{
		ExternalID:    id,
		OrderNumber:   "10000" + id,
		Type:          "Order",
		Status:        "processing",
		Currency:      "GBP",
		Total:         decimal.RequireFromString("120.50"),
		Discounts:     decimal.RequireFromString("5"),
		Shipping:      domain.Shipping{Method: "Royal Mail", Amount: decimal.RequireFromString("4.99")},
		Payment:       domain.Payment{Method: "card", Amount: decimal.RequireFromString("120.50")},
		CreatedAt:     createdAt,
		LastUpdatedAt: createdAt.Add(24 * time.Hour),
		Items: []domain.OrderItem{
			{ProductID: "77", ProductCode: "SKU-1", ProductName: "Kettle", Quantity: decimal.NewFromInt(1), Price: decimal.RequireFromString("50")},
			{ProductID: "78", ProductCode: "SKU-2", ProductName: "Mug", Quantity: decimal.NewFromInt(3), Price: decimal.RequireFromString("6.83")},
		},
		Addresses: []domain.Address{
			{Type: domain.AddressTypeBilling, FirstName: "Ada", City: "London"},
			{Type: domain.AddressTypeShipping, FirstName: "Ada", City: "Leeds"},
		},
		Credits: []domain.Credit{
			{EntityID: "9001", StoreID: "1", GrandTotal: decimal.RequireFromString("20"), CreatedAt: &createdCredit},
		},
		Raw: domain.NewJSONDocument([]byte(`{"Id":"` + id + `","Total":"120.50"}`)),
	}
}
