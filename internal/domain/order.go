package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AddressType различает платёжный и адрес доставки заказа.
type AddressType string

const (
	// AddressTypeBilling: платёжный адрес.
	AddressTypeBilling AddressType = "billing"
	// AddressTypeShipping: адрес доставки.
	AddressTypeShipping AddressType = "shipping"
)

// Valid проверяет, что тип адреса поддерживается схемой.
func (t AddressType) Valid() bool {
	return t == AddressTypeBilling || t == AddressTypeShipping
}

// OrderItem представляет одну позицию заказа в том виде, в каком её отдаёт upstream.
type OrderItem struct {
	ProductID       string
	ProductCode     string
	ProductName     string
	Quantity        decimal.Decimal
	Price           decimal.Decimal
	UnitPriceExTax  decimal.Decimal
	TaxRate         decimal.Decimal
	TaxAmount       decimal.Decimal
	LineTotalIncTax decimal.Decimal
}

// Address не имеет собственной идентичности: ключом служит пара (order id, type).
type Address struct {
	Type             AddressType
	Salutation       string
	FirstName        string
	LastName         string
	OrganizationName string
	WorkPhone        string
	Line1            string
	Line2            string
	City             string
	PostCode         string
	State            string
	CountryCode      string
}

// Credit: кредит-нота (возврат/корректировка). EntityID уникален во всей системе,
// записанный однажды кредит больше не меняется.
type Credit struct {
	EntityID           string
	OrderExternalID    string
	StoreID            string
	IncrementID        string
	AdjustmentPositive decimal.Decimal
	AdjustmentNegative decimal.Decimal
	GrandTotal         decimal.Decimal
	CreatedAt          *time.Time
	UpdatedAt          *time.Time
}

// Shipping: данные о доставке, извлечённые из заказа.
type Shipping struct {
	Method    string
	Amount    decimal.Decimal
	TaxAmount decimal.Decimal
}

// Payment: данные о способе оплаты.
type Payment struct {
	Method string
	Amount decimal.Decimal
}

// Order агрегирует заказ вместе с позициями, адресами и кредитами.
// Агрегат всегда сохраняется целиком.
type Order struct {
	ExternalID         string
	OrderNumber        string
	ReplaceOrderNumber string
	Type               string
	Status             string
	Currency           string
	Notes              string
	Tags               string
	Discounts          decimal.Decimal
	Total              decimal.Decimal
	Shipping           Shipping
	Payment            Payment
	CreatedAt          time.Time
	LastUpdatedAt      time.Time
	Items              []OrderItem
	Addresses          []Address
	Credits            []Credit
	Raw                RawDocument
}

// Watermark возвращает отметку времени, которой заказ продвигает watermark:
// максимум из даты создания и даты последнего изменения.
func (o Order) Watermark() time.Time {
	if o.CreatedAt.After(o.LastUpdatedAt) {
		return o.CreatedAt
	}
	return o.LastUpdatedAt
}

// Address возвращает адрес заданного типа, если он есть в заказе.
func (o Order) Address(t AddressType) (Address, bool) {
	for _, addr := range o.Addresses {
		if addr.Type == t {
			return addr, true
		}
	}
	return Address{}, false
}

// UpsertOutcome описывает, что произошло с заказом при сохранении.
type UpsertOutcome string

const (
	// UpsertInserted: заказ появился впервые.
	UpsertInserted UpsertOutcome = "inserted"
	// UpsertUpdated: существующий заказ перезаписан (в том числе теми же значениями).
	UpsertUpdated UpsertOutcome = "updated"
	// UpsertStale: в хранилище уже более свежая версия, ничего не изменено.
	UpsertStale UpsertOutcome = "stale"
)

// OrderSummary: короткая проекция заказа для отчёта о состоянии.
type OrderSummary struct {
	ExternalID    string
	OrderNumber   string
	Status        string
	Total         decimal.Decimal
	Currency      string
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

// RawOrder: одна запись заказа в исходном виде, как её вернул API.
type RawOrder = RawDocument
