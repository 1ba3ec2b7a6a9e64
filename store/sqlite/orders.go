package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// PURCHASE ORDERS
// =============================================================================

const purchaseOrderColumns = `id, supplier_id, order_number, status, order_date, expected_delivery,
	received_date, total_amount, notes, created_by, created_at, updated_at`

const purchaseOrderItemColumns = `id, purchase_order_id, line_number, product_id, quantity_ordered,
	unit_cost, received_quantity`

func (s *Store) GetPurchaseOrder(ctx context.Context, id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	return loadPurchaseOrder(ctx, s.db, id, "")
}

func (ts *txStore) LockPurchaseOrder(ctx context.Context, id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	return loadPurchaseOrder(ctx, ts.tx, id, ts.dialect.forUpdate)
}

func loadPurchaseOrder(ctx context.Context, q sqlx.ExtContext, id stock.PurchaseOrderID, forUpdate string) (*stock.PurchaseOrder, error) {
	var po stock.PurchaseOrder
	err := getOne(ctx, q, &po, "purchase_order", string(id),
		`SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE id = ?`+forUpdate, id)
	if err != nil {
		return nil, err
	}
	err = selectAll(ctx, q, &po.Items,
		`SELECT `+purchaseOrderItemColumns+` FROM purchase_order_items
		WHERE purchase_order_id = ? ORDER BY line_number`+forUpdate, id)
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (ts *txStore) InsertPurchaseOrder(ctx context.Context, po *stock.PurchaseOrder) error {
	_, err := exec(ctx, ts.tx, `
		INSERT INTO purchase_orders (`+purchaseOrderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		po.ID, po.SupplierID, po.OrderNumber, po.Status, po.OrderDate.UTC(), utcPtr(po.ExpectedDelivery),
		utcPtr(po.ReceivedDate), po.TotalAmount, po.Notes, po.CreatedBy, po.CreatedAt.UTC(), po.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert purchase order: %w", err)
	}

	for _, item := range po.Items {
		_, err := exec(ctx, ts.tx, `
			INSERT INTO purchase_order_items (`+purchaseOrderItemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, item.ID, po.ID, item.Line, item.ProductID, item.QuantityOrdered, item.UnitCost, item.ReceivedQuantity)
		if err != nil {
			return fmt.Errorf("failed to insert purchase order line %d: %w", item.Line, err)
		}
	}
	return nil
}

func (ts *txStore) UpdatePurchaseOrderStatus(ctx context.Context, po *stock.PurchaseOrder) error {
	return execOne(ctx, ts.tx, "purchase_order", string(po.ID), `
		UPDATE purchase_orders SET status = ?, received_date = ?, updated_at = ? WHERE id = ?
	`, po.Status, utcPtr(po.ReceivedDate), po.UpdatedAt.UTC(), po.ID)
}

func (ts *txStore) UpdateReceivedQuantity(ctx context.Context, itemID stock.PurchaseOrderItemID, received int64) error {
	return execOne(ctx, ts.tx, "purchase_order_item", string(itemID),
		`UPDATE purchase_order_items SET received_quantity = ? WHERE id = ?`, received, itemID)
}

// =============================================================================
// SALES
// =============================================================================

const saleColumns = `id, sale_number, order_id, idempotency_key, customer_id, customer_name,
	subtotal, tax_amount, total_amount, payment_method, payment_status, sale_date, created_by`

const saleItemColumns = `id, sale_id, line_number, product_id, quantity, unit_price, line_total`

func (s *Store) GetSale(ctx context.Context, id stock.SaleID) (*stock.Sale, error) {
	return loadSale(ctx, s.db, id, "")
}

func (ts *txStore) LockSale(ctx context.Context, id stock.SaleID) (*stock.Sale, error) {
	return loadSale(ctx, ts.tx, id, ts.dialect.forUpdate)
}

func loadSale(ctx context.Context, q sqlx.ExtContext, id stock.SaleID, forUpdate string) (*stock.Sale, error) {
	var sale stock.Sale
	err := getOne(ctx, q, &sale, "sale", string(id),
		`SELECT `+saleColumns+` FROM sales WHERE id = ?`+forUpdate, id)
	if err != nil {
		return nil, err
	}
	if err := loadSaleItems(ctx, q, &sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

func loadSaleItems(ctx context.Context, q sqlx.ExtContext, sale *stock.Sale) error {
	return selectAll(ctx, q, &sale.Items,
		`SELECT `+saleItemColumns+` FROM sale_items WHERE sale_id = ? ORDER BY line_number`, sale.ID)
}

// findSale returns (nil, nil) when no sale matches.
func findSale(ctx context.Context, q sqlx.ExtContext, where string, arg any) (*stock.Sale, error) {
	var sale stock.Sale
	err := getOne(ctx, q, &sale, "sale", "", `SELECT `+saleColumns+` FROM sales WHERE `+where, arg)
	if errors.Is(err, stock.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := loadSaleItems(ctx, q, &sale); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (ts *txStore) SaleByOrderID(ctx context.Context, orderID stock.OrderID) (*stock.Sale, error) {
	return findSale(ctx, ts.tx, "order_id = ?", orderID)
}

func (ts *txStore) SaleByIdempotencyKey(ctx context.Context, key string) (*stock.Sale, error) {
	return findSale(ctx, ts.tx, "idempotency_key = ?", key)
}

// InsertSale writes the header and its items. A unique violation on order_id
// or idempotency_key means a concurrent call fulfilled the same key first.
func (ts *txStore) InsertSale(ctx context.Context, sale *stock.Sale) error {
	_, err := exec(ctx, ts.tx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sale.ID, sale.SaleNumber, sale.OrderID, sale.IdempotencyKey, sale.CustomerID, sale.CustomerName,
		sale.Subtotal, sale.TaxAmount, sale.TotalAmount, sale.PaymentMethod, sale.PaymentStatus,
		sale.SaleDate.UTC(), sale.CreatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &stock.AlreadyFulfilledError{Key: saleKey(sale)}
		}
		return fmt.Errorf("failed to insert sale: %w", err)
	}

	for _, item := range sale.Items {
		_, err := exec(ctx, ts.tx, `
			INSERT INTO sale_items (`+saleItemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, item.ID, sale.ID, item.Line, item.ProductID, item.Quantity, item.UnitPrice, item.LineTotal)
		if err != nil {
			return fmt.Errorf("failed to insert sale line %d: %w", item.Line, err)
		}
	}
	return nil
}

func saleKey(sale *stock.Sale) string {
	switch {
	case sale.OrderID != nil:
		return string(*sale.OrderID)
	case sale.IdempotencyKey != nil:
		return *sale.IdempotencyKey
	}
	return sale.SaleNumber
}

func (ts *txStore) UpdatePaymentStatus(ctx context.Context, id stock.SaleID, status stock.PaymentStatus) error {
	return execOne(ctx, ts.tx, "sale", string(id),
		`UPDATE sales SET payment_status = ? WHERE id = ?`, status, id)
}

func (s *Store) SalesInRange(ctx context.Context, from, to time.Time) ([]stock.Sale, error) {
	var out []stock.Sale
	err := selectAll(ctx, s.db, &out,
		`SELECT `+saleColumns+` FROM sales
		WHERE sale_date >= ? AND sale_date < ?
		ORDER BY sale_date, sale_number`, from.UTC(), to.UTC())
	return out, err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
