package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// INVENTORY BALANCES
// =============================================================================

const balanceColumns = `product_id, on_hand, reserved, reorder_level, reorder_quantity, updated_at`

func (s *Store) GetBalance(ctx context.Context, productID stock.ProductID) (*stock.InventoryBalance, error) {
	var b stock.InventoryBalance
	err := getOne(ctx, s.db, &b, "balance", string(productID),
		`SELECT `+balanceColumns+` FROM inventory_balances WHERE product_id = ?`, productID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Store) ListBalances(ctx context.Context) ([]stock.InventoryBalance, error) {
	var out []stock.InventoryBalance
	err := selectAll(ctx, s.db, &out,
		`SELECT `+balanceColumns+` FROM inventory_balances ORDER BY product_id`)
	return out, err
}

// LockBalance reads the balance row and holds it until the transaction ends.
func (ts *txStore) LockBalance(ctx context.Context, productID stock.ProductID) (*stock.InventoryBalance, error) {
	var b stock.InventoryBalance
	err := getOne(ctx, ts.tx, &b, "balance", string(productID),
		`SELECT `+balanceColumns+` FROM inventory_balances WHERE product_id = ?`+ts.dialect.forUpdate, productID)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (ts *txStore) InsertBalance(ctx context.Context, b *stock.InventoryBalance) error {
	return insertBalance(ctx, ts.tx, b)
}

func insertBalance(ctx context.Context, q sqlx.ExtContext, b *stock.InventoryBalance) error {
	_, err := exec(ctx, q, `
		INSERT INTO inventory_balances (`+balanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (product_id) DO NOTHING
	`, b.ProductID, b.OnHand, b.Reserved, b.ReorderLevel, b.ReorderQuantity, b.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert balance for %s: %w", b.ProductID, err)
	}
	return nil
}

func (ts *txStore) UpdateBalance(ctx context.Context, b *stock.InventoryBalance) error {
	return execOne(ctx, ts.tx, "balance", string(b.ProductID), `
		UPDATE inventory_balances
		SET on_hand = ?, reserved = ?, reorder_level = ?, reorder_quantity = ?, updated_at = ?
		WHERE product_id = ?
	`, b.OnHand, b.Reserved, b.ReorderLevel, b.ReorderQuantity, b.UpdatedAt.UTC(), b.ProductID)
}

// =============================================================================
// MOVEMENT LEDGER (append-only)
// =============================================================================

const movementColumns = `id, product_id, direction, delta, quantity, quantity_before, quantity_after,
	reference_type, reference_id, unit_cost, notes, actor_id, created_at`

// movementRow is the persisted shape of a stock.Movement. The direction
// column only says in/out/adjustment; the sign of delta restores which way
// an adjustment went.
type movementRow struct {
	ID             int64           `db:"id"`
	ProductID      string          `db:"product_id"`
	Direction      string          `db:"direction"`
	Delta          int64           `db:"delta"`
	Quantity       int64           `db:"quantity"`
	QuantityBefore int64           `db:"quantity_before"`
	QuantityAfter  int64           `db:"quantity_after"`
	ReferenceType  string          `db:"reference_type"`
	ReferenceID    *string         `db:"reference_id"`
	UnitCost       decimal.Decimal `db:"unit_cost"`
	Notes          string          `db:"notes"`
	ActorID        string          `db:"actor_id"`
	CreatedAt      time.Time       `db:"created_at"`
}

func (r movementRow) toMovement() (stock.Movement, error) {
	dir, err := stock.DirectionFromKind(r.Direction, r.Delta)
	if err != nil {
		return stock.Movement{}, fmt.Errorf("movement %d: %w", r.ID, err)
	}
	ref, err := stock.ParseReferenceType(r.ReferenceType)
	if err != nil {
		return stock.Movement{}, fmt.Errorf("movement %d: %w", r.ID, err)
	}
	m := stock.Movement{
		ID:             stock.MovementID(r.ID),
		ProductID:      stock.ProductID(r.ProductID),
		Direction:      dir,
		Quantity:       r.Quantity,
		QuantityBefore: r.QuantityBefore,
		QuantityAfter:  r.QuantityAfter,
		ReferenceType:  ref,
		UnitCost:       r.UnitCost,
		Notes:          r.Notes,
		ActorID:        stock.ActorID(r.ActorID),
		CreatedAt:      r.CreatedAt,
	}
	if r.ReferenceID != nil {
		m.ReferenceID = *r.ReferenceID
	}
	return m, nil
}

func toMovements(rows []movementRow) ([]stock.Movement, error) {
	out := make([]stock.Movement, 0, len(rows))
	for _, r := range rows {
		m, err := r.toMovement()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func queryMovements(ctx context.Context, q sqlx.ExtContext, query string, args ...any) ([]stock.Movement, error) {
	var rows []movementRow
	if err := selectAll(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	return toMovements(rows)
}

// InsertMovement appends one row. It is the only statement in this package
// that writes to movement_ledger.
func (ts *txStore) InsertMovement(ctx context.Context, m *stock.Movement) (stock.MovementID, error) {
	var id int64
	err := get(ctx, ts.tx, &id, `
		INSERT INTO movement_ledger
		(product_id, direction, delta, quantity, quantity_before, quantity_after,
		 reference_type, reference_id, unit_cost, notes, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`,
		m.ProductID,
		m.Direction.Kind(),
		m.Delta(),
		m.Quantity,
		m.QuantityBefore,
		m.QuantityAfter,
		m.ReferenceType.String(),
		nullString(m.ReferenceID),
		m.UnitCost,
		m.Notes,
		m.ActorID,
		m.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return stock.MovementID(id), nil
}

func (ts *txStore) MovementsByReference(ctx context.Context, ref stock.ReferenceType, refID string) ([]stock.Movement, error) {
	return queryMovements(ctx, ts.tx,
		`SELECT `+movementColumns+` FROM movement_ledger
		WHERE reference_type = ? AND reference_id = ?
		ORDER BY id`, ref.String(), refID)
}

func (s *Store) ListMovements(ctx context.Context, productID stock.ProductID, limit int) ([]stock.Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM movement_ledger
		WHERE product_id = ?
		ORDER BY id DESC`
	args := []any{productID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return queryMovements(ctx, s.db, query, args...)
}

func (s *Store) MovementsInRange(ctx context.Context, from, to time.Time) ([]stock.Movement, error) {
	return queryMovements(ctx, s.db,
		`SELECT `+movementColumns+` FROM movement_ledger
		WHERE created_at >= ? AND created_at < ?
		ORDER BY id`, from.UTC(), to.UTC())
}

func (s *Store) LedgerSums(ctx context.Context) (map[stock.ProductID]int64, error) {
	var rows []struct {
		ProductID stock.ProductID `db:"product_id"`
		Total     int64           `db:"total"`
	}
	err := selectAll(ctx, s.db, &rows,
		`SELECT product_id, CAST(SUM(delta) AS BIGINT) AS total
		FROM movement_ledger GROUP BY product_id`)
	if err != nil {
		return nil, err
	}
	sums := make(map[stock.ProductID]int64, len(rows))
	for _, r := range rows {
		sums[r.ProductID] = r.Total
	}
	return sums, nil
}
