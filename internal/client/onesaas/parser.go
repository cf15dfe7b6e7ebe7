package onesaas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

const defaultOrderType = "Order"

// Ключи адресов в объекте Addresses.
var addressKeys = []struct {
	key string
	typ domain.AddressType
}{
	{key: "BillingAddress", typ: domain.AddressTypeBilling},
	{key: "ShippingAddress", typ: domain.AddressTypeShipping},
}

// text принимает строку, число или bool; null и составные значения дают пустую строку.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*t = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text(strings.TrimSpace(s))
	case '{', '[', 'n':
		*t = ""
	default:
		*t = text(data)
	}
	return nil
}

// amount принимает число или строку с числом; отсутствующее значение считается нулём.
type amount struct {
	decimal.Decimal
}

func (a *amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		a.Decimal = decimal.Zero
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			a.Decimal = decimal.Zero
			return nil
		}
	}

	value, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAmount, raw)
	}
	a.Decimal = value
	return nil
}

// object декодирует вложенный JSON-объект. PHP-сериализатор upstream отдаёт пустые
// объекты как [], поэтому null и [] дают нулевое значение.
type object[T any] struct {
	Value T
}

func (o *object[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err == nil && len(items) == 0 {
			return nil
		}
		return fmt.Errorf("expected object, got %s", truncate(data, 32))
	}
	return json.Unmarshal(data, &o.Value)
}

func truncate(data []byte, limit int) string {
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit]) + "..."
}

type wireTaxes struct {
	TaxRate   amount `json:"TaxRate"`
	TaxAmount amount `json:"TaxAmount"`
}

type wireShipping struct {
	ShippingMethod text              `json:"ShippingMethod"`
	Amount         amount            `json:"Amount"`
	Taxes          object[wireTaxes] `json:"Taxes"`
}

type wirePaymentMethod struct {
	MethodName text   `json:"MethodName"`
	Amount     amount `json:"Amount"`
}

type wirePayments struct {
	PaymentMethod object[wirePaymentMethod] `json:"PaymentMethod"`
}

type wireItem struct {
	ProductID       text              `json:"ProductId"`
	ProductCode     text              `json:"ProductCode"`
	ProductName     text              `json:"ProductName"`
	Quantity        amount            `json:"Quantity"`
	Price           amount            `json:"Price"`
	UnitPriceExTax  amount            `json:"UnitPriceExTax"`
	Taxes           object[wireTaxes] `json:"Taxes"`
	LineTotalIncTax amount            `json:"LineTotalIncTax"`
}

type wireAddress struct {
	Salutation       text `json:"Salutation"`
	FirstName        text `json:"FirstName"`
	LastName         text `json:"LastName"`
	OrganizationName text `json:"OrganizationName"`
	WorkPhone        text `json:"WorkPhone"`
	Line1            text `json:"Line1"`
	Line2            text `json:"Line2"`
	City             text `json:"City"`
	PostCode         text `json:"PostCode"`
	State            text `json:"State"`
	CountryCode      text `json:"CountryCode"`
}

type wireCredit struct {
	EntityID           text   `json:"entity_id"`
	StoreID            text   `json:"store_id"`
	AdjustmentPositive amount `json:"adjustment_positive"`
	AdjustmentNegative amount `json:"adjustment_negative"`
	GrandTotal         amount `json:"grand_total"`
	IncrementID        text   `json:"increment_id"`
	CreatedAt          text   `json:"created_at"`
	UpdatedAt          text   `json:"updated_at"`
}

type wireOrder struct {
	ID                 text                               `json:"Id"`
	OrderNumber        text                               `json:"OrderNumber"`
	ReplaceOrderNumber text                               `json:"ReplaceOrderNumber"`
	Date               text                               `json:"Date"`
	LastUpdatedDate    text                               `json:"LastUpdatedDate"`
	Type               text                               `json:"Type"`
	Status             text                               `json:"Status"`
	CurrencyCode       text                               `json:"CurrencyCode"`
	Notes              text                               `json:"Notes"`
	Tags               text                               `json:"Tags"`
	Discounts          amount                             `json:"Discounts"`
	Total              amount                             `json:"Total"`
	Shipping           object[wireShipping]               `json:"Shipping"`
	Payments           object[wirePayments]               `json:"Payments"`
	Items              []json.RawMessage                  `json:"Items"`
	Addresses          object[map[string]json.RawMessage] `json:"Addresses"`
	Credits            []json.RawMessage                  `json:"Credits"`
}

// Parser превращает исходные записи OneSaas в агрегаты domain.Order.
type Parser struct {
	logger *log.Entry
}

// NewParser создаёт парсер.
func NewParser(logger *log.Entry) *Parser {
	if logger == nil {
		logger = log.New().WithField("component", "onesaas-parser")
	}
	return &Parser{logger: logger}
}

// ParseOrder разбирает одну запись. Ошибка всегда *domain.ParseError.
func (p *Parser) ParseOrder(raw domain.RawOrder) (domain.Order, error) {
	var head struct {
		ID text `json:"Id"`
	}
	if err := json.Unmarshal(raw.Body, &head); err != nil {
		return domain.Order{}, &domain.ParseError{Err: fmt.Errorf("decode record: %w", err)}
	}
	key := string(head.ID)
	if key == "" {
		return domain.Order{}, &domain.ParseError{Err: domain.ErrExternalIDRequired}
	}

	var wire wireOrder
	if err := json.Unmarshal(raw.Body, &wire); err != nil {
		return domain.Order{}, &domain.ParseError{RecordKey: key, Err: err}
	}

	createdAt, ok := domain.ParseTimestamp(string(wire.Date))
	if !ok {
		return domain.Order{}, &domain.ParseError{RecordKey: key, Err: fmt.Errorf("%w: Date=%q", domain.ErrMissingTimestamp, wire.Date)}
	}
	updatedAt, ok := domain.ParseTimestamp(string(wire.LastUpdatedDate))
	if !ok {
		return domain.Order{}, &domain.ParseError{RecordKey: key, Err: fmt.Errorf("%w: LastUpdatedDate=%q", domain.ErrMissingTimestamp, wire.LastUpdatedDate)}
	}

	orderType := string(wire.Type)
	if orderType == "" {
		orderType = defaultOrderType
	}

	order := domain.Order{
		ExternalID:         key,
		OrderNumber:        string(wire.OrderNumber),
		ReplaceOrderNumber: string(wire.ReplaceOrderNumber),
		Type:               orderType,
		Status:             string(wire.Status),
		Currency:           string(wire.CurrencyCode),
		Notes:              string(wire.Notes),
		Tags:               string(wire.Tags),
		Discounts:          wire.Discounts.Decimal,
		Total:              wire.Total.Decimal,
		Shipping: domain.Shipping{
			Method:    string(wire.Shipping.Value.ShippingMethod),
			Amount:    wire.Shipping.Value.Amount.Decimal,
			TaxAmount: wire.Shipping.Value.Taxes.Value.TaxAmount.Decimal,
		},
		Payment: domain.Payment{
			Method: string(wire.Payments.Value.PaymentMethod.Value.MethodName),
			Amount: wire.Payments.Value.PaymentMethod.Value.Amount.Decimal,
		},
		CreatedAt:     createdAt,
		LastUpdatedAt: updatedAt,
		Raw:           raw,
	}

	items, err := parseItems(wire.Items)
	if err != nil {
		return domain.Order{}, &domain.ParseError{RecordKey: key, Err: err}
	}
	order.Items = items

	addresses, err := parseAddresses(wire.Addresses.Value)
	if err != nil {
		return domain.Order{}, &domain.ParseError{RecordKey: key, Err: err}
	}
	order.Addresses = addresses

	credits, err := p.parseCredits(key, wire.Credits)
	if err != nil {
		return domain.Order{}, &domain.ParseError{RecordKey: key, Err: err}
	}
	order.Credits = credits

	return order, nil
}

func parseItems(raws []json.RawMessage) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(raws))
	for i, raw := range raws {
		if isEmptyObject(raw) {
			continue
		}
		var wire wireItem
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		items = append(items, domain.OrderItem{
			ProductID:       string(wire.ProductID),
			ProductCode:     string(wire.ProductCode),
			ProductName:     string(wire.ProductName),
			Quantity:        wire.Quantity.Decimal,
			Price:           wire.Price.Decimal,
			UnitPriceExTax:  wire.UnitPriceExTax.Decimal,
			TaxRate:         wire.Taxes.Value.TaxRate.Decimal,
			TaxAmount:       wire.Taxes.Value.TaxAmount.Decimal,
			LineTotalIncTax: wire.LineTotalIncTax.Decimal,
		})
	}
	return items, nil
}

func parseAddresses(raws map[string]json.RawMessage) ([]domain.Address, error) {
	addresses := make([]domain.Address, 0, len(addressKeys))
	for _, ak := range addressKeys {
		raw, ok := raws[ak.key]
		if !ok || isEmptyObject(raw) {
			continue
		}
		var wire wireAddress
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("%s: %w", ak.key, err)
		}
		addr := domain.Address{
			Type:             ak.typ,
			Salutation:       string(wire.Salutation),
			FirstName:        string(wire.FirstName),
			LastName:         string(wire.LastName),
			OrganizationName: string(wire.OrganizationName),
			WorkPhone:        string(wire.WorkPhone),
			Line1:            string(wire.Line1),
			Line2:            string(wire.Line2),
			City:             string(wire.City),
			PostCode:         string(wire.PostCode),
			State:            string(wire.State),
			CountryCode:      string(wire.CountryCode),
		}
		if addr == (domain.Address{Type: ak.typ}) {
			continue
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

func (p *Parser) parseCredits(orderID string, raws []json.RawMessage) ([]domain.Credit, error) {
	credits := make([]domain.Credit, 0, len(raws))
	for i, raw := range raws {
		if isEmptyObject(raw) {
			continue
		}
		var wire wireCredit
		if err := json.Unmarshal(raw, &wire); err != nil {
			return nil, fmt.Errorf("credit %d: %w", i, err)
		}
		if wire.EntityID == "" {
			p.logger.WithFields(log.Fields{
				"order_id": orderID,
				"index":    i,
			}).Warn("Credit without entity_id dropped")
			continue
		}
		credits = append(credits, domain.Credit{
			EntityID:           string(wire.EntityID),
			OrderExternalID:    orderID,
			StoreID:            string(wire.StoreID),
			IncrementID:        string(wire.IncrementID),
			AdjustmentPositive: wire.AdjustmentPositive.Decimal,
			AdjustmentNegative: wire.AdjustmentNegative.Decimal,
			GrandTotal:         wire.GrandTotal.Decimal,
			CreatedAt:          optionalTime(string(wire.CreatedAt)),
			UpdatedAt:          optionalTime(string(wire.UpdatedAt)),
		})
	}
	return credits, nil
}

func optionalTime(value string) *time.Time {
	ts, ok := domain.ParseTimestamp(value)
	if !ok {
		return nil
	}
	return &ts
}

func isEmptyObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	if trimmed[0] != '{' {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return false
	}
	return len(fields) == 0
}
