package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Upsert сохраняет агрегат заказа в одной транзакции.
func (r *orderRepository) Upsert(ctx context.Context, order domain.Order, runID int64) (domain.UpsertOutcome, error) {
	if order.ExternalID == "" {
		return "", domain.NewStorageError("upsert order", domain.ErrExternalIDRequired)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.NewStorageError("upsert order", fmt.Errorf("begin tx: %w", err))
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	outcome, err := upsertOrderTx(ctx, tx, order, runID)
	if err != nil {
		return "", domain.NewStorageError("upsert order "+order.ExternalID, err)
	}

	if err = tx.Commit(); err != nil {
		return "", domain.NewStorageError("upsert order "+order.ExternalID, fmt.Errorf("commit: %w", err))
	}

	return outcome, nil
}

func upsertOrderTx(ctx context.Context, tx *sql.Tx, order domain.Order, runID int64) (domain.UpsertOutcome, error) {
	var stored time.Time
	err := tx.QueryRowContext(ctx, `
		SELECT last_updated_at
		FROM orders
		WHERE external_id = $1
		FOR UPDATE
	`, order.ExternalID).Scan(&stored)

	var outcome domain.UpsertOutcome
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := insertOrderTx(ctx, tx, order, runID); err != nil {
			return "", err
		}
		outcome = domain.UpsertInserted
	case err != nil:
		return "", fmt.Errorf("lock order: %w", err)
	default:
		if order.LastUpdatedAt.Before(stored) {
			return domain.UpsertStale, nil
		}
		if err := updateOrderTx(ctx, tx, order, runID); err != nil {
			return "", err
		}
		outcome = domain.UpsertUpdated
	}

	if err := replaceChildrenTx(ctx, tx, order); err != nil {
		return "", err
	}
	if err := insertCreditsTx(ctx, tx, order); err != nil {
		return "", err
	}
	return outcome, nil
}

func insertOrderTx(ctx context.Context, tx *sql.Tx, order domain.Order, runID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (
			external_id, order_number, replace_order_number, order_type, status, currency,
			notes, tags, discounts, total,
			shipping_method, shipping_amount, shipping_tax_amount,
			payment_method, payment_amount,
			created_at, last_updated_at, raw_format, raw_payload, last_sync_run_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`,
		order.ExternalID, order.OrderNumber, order.ReplaceOrderNumber, order.Type, order.Status, order.Currency,
		order.Notes, order.Tags, order.Discounts, order.Total,
		order.Shipping.Method, order.Shipping.Amount, order.Shipping.TaxAmount,
		order.Payment.Method, order.Payment.Amount,
		order.CreatedAt.UTC(), order.LastUpdatedAt.UTC(), rawFormat(order.Raw), rawBody(order.Raw), nullableRunID(runID),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// updateOrderTx меняет только изменяемые поля; идентичность заказа не трогается.
func updateOrderTx(ctx context.Context, tx *sql.Tx, order domain.Order, runID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    total = $2,
		    last_updated_at = $3,
		    raw_format = $4,
		    raw_payload = $5,
		    last_sync_run_id = $6,
		    updated_at = NOW()
		WHERE external_id = $7
	`,
		order.Status, order.Total, order.LastUpdatedAt.UTC(),
		rawFormat(order.Raw), rawBody(order.Raw), nullableRunID(runID),
		order.ExternalID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

func replaceChildrenTx(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ExternalID); err != nil {
		return fmt.Errorf("delete order items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_addresses WHERE order_id = $1`, order.ExternalID); err != nil {
		return fmt.Errorf("delete order addresses: %w", err)
	}

	for i, item := range order.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (
				order_id, position, product_id, product_code, product_name,
				quantity, price, unit_price_ex_tax, tax_rate, tax_amount, line_total_inc_tax
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			order.ExternalID, i, item.ProductID, item.ProductCode, item.ProductName,
			item.Quantity, item.Price, item.UnitPriceExTax, item.TaxRate, item.TaxAmount, item.LineTotalIncTax,
		); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	for _, addr := range order.Addresses {
		if !addr.Type.Valid() {
			return fmt.Errorf("unsupported address type %q", addr.Type)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_addresses (
				order_id, address_type, salutation, first_name, last_name, organization_name,
				work_phone, line1, line2, city, post_code, state, country_code
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`,
			order.ExternalID, string(addr.Type), addr.Salutation, addr.FirstName, addr.LastName, addr.OrganizationName,
			addr.WorkPhone, addr.Line1, addr.Line2, addr.City, addr.PostCode, addr.State, addr.CountryCode,
		); err != nil {
			return fmt.Errorf("insert order address: %w", err)
		}
	}

	return nil
}

// insertCreditsTx добавляет только новые кредиты: записанный кредит неизменяем.
func insertCreditsTx(ctx context.Context, tx *sql.Tx, order domain.Order) error {
	for _, credit := range order.Credits {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_credits (
				entity_id, order_id, store_id, increment_id,
				adjustment_positive, adjustment_negative, grand_total, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (entity_id) DO NOTHING
		`,
			credit.EntityID, order.ExternalID, credit.StoreID, credit.IncrementID,
			credit.AdjustmentPositive, credit.AdjustmentNegative, credit.GrandTotal,
			nullableTime(credit.CreatedAt), nullableTime(credit.UpdatedAt),
		); err != nil {
			return fmt.Errorf("insert order credit: %w", err)
		}
	}
	return nil
}

// Get возвращает заказ со всеми дочерними записями.
func (r *orderRepository) Get(ctx context.Context, externalID string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		order   domain.Order
		format  string
		payload []byte
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT external_id, order_number, replace_order_number, order_type, status, currency,
		       notes, tags, discounts, total,
		       shipping_method, shipping_amount, shipping_tax_amount,
		       payment_method, payment_amount,
		       created_at, last_updated_at, raw_format, raw_payload::text
		FROM orders
		WHERE external_id = $1
	`, externalID).Scan(
		&order.ExternalID, &order.OrderNumber, &order.ReplaceOrderNumber, &order.Type, &order.Status, &order.Currency,
		&order.Notes, &order.Tags, &order.Discounts, &order.Total,
		&order.Shipping.Method, &order.Shipping.Amount, &order.Shipping.TaxAmount,
		&order.Payment.Method, &order.Payment.Amount,
		&order.CreatedAt, &order.LastUpdatedAt, &format, &payload,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.NewStorageError("get order", err)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.LastUpdatedAt = order.LastUpdatedAt.UTC()
	order.Raw = domain.NewJSONDocument(payload)
	order.Raw.Format = domain.DocumentFormat(format)

	if order.Items, err = r.loadItems(ctx, externalID); err != nil {
		return domain.Order{}, domain.NewStorageError("get order", err)
	}
	if order.Addresses, err = r.loadAddresses(ctx, externalID); err != nil {
		return domain.Order{}, domain.NewStorageError("get order", err)
	}
	if order.Credits, err = r.loadCredits(ctx, externalID); err != nil {
		return domain.Order{}, domain.NewStorageError("get order", err)
	}

	return order, nil
}

// Count возвращает общее число заказов.
func (r *orderRepository) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		return 0, domain.NewStorageError("count orders", err)
	}
	return count, nil
}

// Recent возвращает последние изменённые заказы.
func (r *orderRepository) Recent(ctx context.Context, limit int) ([]domain.OrderSummary, error) {
	if limit <= 0 {
		return []domain.OrderSummary{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT external_id, order_number, status, total, currency, created_at, last_updated_at
		FROM orders
		ORDER BY last_updated_at DESC, external_id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, domain.NewStorageError("recent orders", err)
	}
	defer rows.Close()

	summaries := make([]domain.OrderSummary, 0, limit)
	for rows.Next() {
		var s domain.OrderSummary
		if err := rows.Scan(&s.ExternalID, &s.OrderNumber, &s.Status, &s.Total, &s.Currency, &s.CreatedAt, &s.LastUpdatedAt); err != nil {
			return nil, domain.NewStorageError("recent orders", fmt.Errorf("scan order summary: %w", err))
		}
		s.CreatedAt = s.CreatedAt.UTC()
		s.LastUpdatedAt = s.LastUpdatedAt.UTC()
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("recent orders", fmt.Errorf("iterate order summaries: %w", err))
	}

	return summaries, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, product_code, product_name, quantity, price,
		       unit_price_ex_tax, tax_rate, tax_amount, line_total_inc_tax
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ProductID, &item.ProductCode, &item.ProductName, &item.Quantity, &item.Price,
			&item.UnitPriceExTax, &item.TaxRate, &item.TaxAmount, &item.LineTotalIncTax,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func (r *orderRepository) loadAddresses(ctx context.Context, orderID string) ([]domain.Address, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address_type, salutation, first_name, last_name, organization_name,
		       work_phone, line1, line2, city, post_code, state, country_code
		FROM order_addresses
		WHERE order_id = $1
		ORDER BY address_type ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order addresses: %w", err)
	}
	defer rows.Close()

	addresses := make([]domain.Address, 0, 2)
	for rows.Next() {
		var (
			addr domain.Address
			typ  string
		)
		if err := rows.Scan(
			&typ, &addr.Salutation, &addr.FirstName, &addr.LastName, &addr.OrganizationName,
			&addr.WorkPhone, &addr.Line1, &addr.Line2, &addr.City, &addr.PostCode, &addr.State, &addr.CountryCode,
		); err != nil {
			return nil, fmt.Errorf("scan order address: %w", err)
		}
		addr.Type = domain.AddressType(typ)
		addresses = append(addresses, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order addresses: %w", err)
	}

	return addresses, nil
}

func (r *orderRepository) loadCredits(ctx context.Context, orderID string) ([]domain.Credit, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT entity_id, order_id, store_id, increment_id,
		       adjustment_positive, adjustment_negative, grand_total, created_at, updated_at
		FROM order_credits
		WHERE order_id = $1
		ORDER BY inserted_at ASC, entity_id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order credits: %w", err)
	}
	defer rows.Close()

	credits := make([]domain.Credit, 0)
	for rows.Next() {
		var (
			credit             domain.Credit
			createdAt, updated sql.NullTime
		)
		if err := rows.Scan(
			&credit.EntityID, &credit.OrderExternalID, &credit.StoreID, &credit.IncrementID,
			&credit.AdjustmentPositive, &credit.AdjustmentNegative, &credit.GrandTotal, &createdAt, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan order credit: %w", err)
		}
		credit.CreatedAt = timePtr(createdAt)
		credit.UpdatedAt = timePtr(updated)
		credits = append(credits, credit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order credits: %w", err)
	}

	return credits, nil
}

func rawFormat(doc domain.RawDocument) string {
	if doc.Format == "" {
		return string(domain.DocumentFormatJSON)
	}
	return string(doc.Format)
}

func rawBody(doc domain.RawDocument) string {
	if doc.IsZero() {
		return "null"
	}
	return string(doc.Body)
}

func nullableRunID(runID int64) any {
	if runID <= 0 {
		return nil
	}
	return runID
}
