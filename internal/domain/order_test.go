package domain_test

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// helper для создания базового заказа с одним адресом.
func makeOrder(created, updated time.Time) domain.Order {
	return domain.Order{
		ExternalID:    "1001",
		OrderNumber:   "100000001",
		CreatedAt:     created,
		LastUpdatedAt: updated,
		Addresses: []domain.Address{
			{Type: domain.AddressTypeShipping, City: "Leeds"},
		},
	}
}

func TestOrderWatermark(t *testing.T) {
	base := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		created time.Time
		updated time.Time
		want    time.Time
	}{
		{name: "updated after created", created: base, updated: base.Add(time.Hour), want: base.Add(time.Hour)},
		{name: "equal", created: base, updated: base, want: base},
		{name: "created after updated", created: base.Add(time.Minute), updated: base, want: base.Add(time.Minute)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder(tc.created, tc.updated)
			if got := order.Watermark(); !got.Equal(tc.want) {
				t.Fatalf("unexpected watermark: got=%s want=%s", got, tc.want)
			}
		})
	}
}

func TestOrderAddressLookup(t *testing.T) {
	order := makeOrder(time.Now().UTC(), time.Now().UTC())

	addr, ok := order.Address(domain.AddressTypeShipping)
	if !ok || addr.City != "Leeds" {
		t.Fatalf("expected shipping address, got %+v ok=%v", addr, ok)
	}
	if _, ok := order.Address(domain.AddressTypeBilling); ok {
		t.Fatal("billing address must be absent")
	}
}

func TestAddressTypeValid(t *testing.T) {
	if !domain.AddressTypeBilling.Valid() || !domain.AddressTypeShipping.Valid() {
		t.Fatal("known address types must be valid")
	}
	if domain.AddressType("office").Valid() {
		t.Fatal("unknown address type must be invalid")
	}
}

func TestRawDocumentLookup(t *testing.T) {
	body := []byte(`{"Id":"42","Total":"10.50"}`)
	doc := domain.NewJSONDocument(body)
	body[2] = 'X'

	value, ok := doc.Lookup("Id")
	if !ok || string(value) != `"42"` {
		t.Fatalf("unexpected lookup result: %s ok=%v", value, ok)
	}
	if _, ok := doc.Lookup("Missing"); ok {
		t.Fatal("missing key must not be found")
	}
	if doc.String() != `{"Id":"42","Total":"10.50"}` {
		t.Fatalf("document must be copied verbatim, got %s", doc.String())
	}

	if _, ok := domain.NewJSONDocument([]byte(`[1,2]`)).Lookup("Id"); ok {
		t.Fatal("lookup on non-object must fail")
	}
	if !(domain.RawDocument{}).IsZero() {
		t.Fatal("empty document must be zero")
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 7, 1, 7, 41, 16, 0, time.UTC)

	for _, input := range []string{"2025-07-01 07:41:16", "2025-07-01T07:41:16", " 2025-07-01 07:41:16 "} {
		got, ok := domain.ParseTimestamp(input)
		if !ok || !got.Equal(want) {
			t.Fatalf("parse %q: got=%s ok=%v", input, got, ok)
		}
	}

	for _, input := range []string{"", "01/07/2025", "2025-07-01"} {
		if _, ok := domain.ParseTimestamp(input); ok {
			t.Fatalf("parse %q must fail", input)
		}
	}

	if got := domain.FormatAPITime(want); got != "2025-07-01T07:41:16" {
		t.Fatalf("unexpected api time: %s", got)
	}
}

func TestSyncModeAndStatus(t *testing.T) {
	if !domain.SyncModeInitial.Valid() || !domain.SyncModeIncremental.Valid() || domain.SyncMode("full").Valid() {
		t.Fatal("unexpected sync mode validity")
	}
	if domain.SyncStatusRunning.Terminal() {
		t.Fatal("running must not be terminal")
	}
	if !domain.SyncStatusSuccess.Terminal() || !domain.SyncStatusFailed.Terminal() {
		t.Fatal("success and failed must be terminal")
	}
	if domain.SyncStatus("paused").Valid() {
		t.Fatal("unknown status must be invalid")
	}

	report := domain.SyncReport{ParseFailures: 2, PersistFailures: 1}
	if report.Skipped() != 3 {
		t.Fatalf("unexpected skipped: %d", report.Skipped())
	}
}
