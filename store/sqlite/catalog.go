package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// PRODUCT CATALOG
// =============================================================================
//
// The catalog subsystem owns products. The engine only reads them; these
// writers exist so the catalog (and tests) can seed the shared database.

const productColumns = `id, sku, name, price, cost, active, created_at, updated_at`

// SaveProduct inserts or updates a product. A new product also gets its
// inventory balance row at zero.
func (s *Store) SaveProduct(ctx context.Context, p *stock.Product) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return translate(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	_, err = exec(ctx, tx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			sku = excluded.sku,
			name = excluded.name,
			price = excluded.price,
			cost = excluded.cost,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, p.ID, p.SKU, p.Name, p.Price, p.Cost, p.Active, p.CreatedAt.UTC(), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	if err := insertBalance(ctx, tx, &stock.InventoryBalance{ProductID: p.ID, UpdatedAt: now}); err != nil {
		return err
	}
	return translate(tx.Commit())
}

func (s *Store) GetProduct(ctx context.Context, id stock.ProductID) (*stock.Product, error) {
	return getProduct(ctx, s.db, id)
}

func (s *Store) ListProducts(ctx context.Context) ([]stock.Product, error) {
	var out []stock.Product
	err := selectAll(ctx, s.db, &out, `SELECT `+productColumns+` FROM products ORDER BY sku`)
	return out, err
}

func (ts *txStore) GetProduct(ctx context.Context, id stock.ProductID) (*stock.Product, error) {
	return getProduct(ctx, ts.tx, id)
}

func getProduct(ctx context.Context, q sqlx.ExtContext, id stock.ProductID) (*stock.Product, error) {
	var p stock.Product
	err := getOne(ctx, q, &p, "product", string(id),
		`SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// CHECKOUT ORDERS
// =============================================================================

const orderColumns = `id, customer_id, customer_name, payment_method, payment_status, created_at`

const orderItemColumns = `order_id, line_number, product_id, quantity, unit_price`

// SaveOrder records a checkout order with its lines. Line numbers are
// assigned in slice order when missing. Unknown products are a NotFound.
func (s *Store) SaveOrder(ctx context.Context, o *stock.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = stock.PaymentPending
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return translate(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	_, err = exec(ctx, tx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.ID, o.CustomerID, o.CustomerName, o.PaymentMethod, o.PaymentStatus, o.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return &stock.ValidationError{Field: "id", Message: fmt.Sprintf("order %s already recorded", o.ID)}
	}
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		item.OrderID = o.ID
		if item.Line == 0 {
			item.Line = i + 1
		}
		if _, err := getProduct(ctx, tx, item.ProductID); err != nil {
			return err
		}
		_, err := exec(ctx, tx, `
			INSERT INTO order_items (`+orderItemColumns+`)
			VALUES (?, ?, ?, ?, ?)
		`, o.ID, item.Line, item.ProductID, item.Quantity, item.UnitPrice)
		if err != nil {
			return fmt.Errorf("failed to save order line %d: %w", item.Line, err)
		}
	}
	return translate(tx.Commit())
}

func (ts *txStore) GetOrder(ctx context.Context, id stock.OrderID) (*stock.Order, error) {
	var o stock.Order
	err := getOne(ctx, ts.tx, &o, "order", string(id),
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	err = selectAll(ctx, ts.tx, &o.Items,
		`SELECT `+orderItemColumns+` FROM order_items WHERE order_id = ? ORDER BY line_number`, id)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
