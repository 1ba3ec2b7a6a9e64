/*
ledger.go - Append-only movement ledger

PURPOSE:
  The Ledger is the immutable source of truth for all stock changes.
  Every receipt, sale, return and manual adjustment is recorded here, in the
  same transaction as the balance mutation it documents.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. SHARED TRANSACTION: Append is only called with the Tx that also holds
     the balance row lock. If that transaction aborts, the entry never existed.
  3. RECONCILIATION: for every product, the signed sum of its movements
     equals InventoryBalance.OnHand.

CORRECTIONS:
  Mistakes are never edited. A compensating movement (a return, or an
  adjustment in the opposite direction) is appended instead.

SEE ALSO:
  - balance.go: The only caller of Append
  - report.go: Reconcile, which checks invariant 3 across all products
*/
package stock

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	Store Store
	now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{Store: store, now: time.Now}
}

// Append validates m and writes it through tx. It is the ONLY write operation.
func (l *Ledger) Append(ctx context.Context, tx Tx, m *Movement) (MovementID, error) {
	if m.Quantity <= 0 {
		return 0, invalid("quantity", "must be positive, got %d", m.Quantity)
	}
	if !m.Direction.Valid() {
		return 0, invalid("direction", "unknown direction %d", m.Direction)
	}
	if !m.ReferenceType.Valid() {
		return 0, invalid("reference_type", "unknown reference type %d", m.ReferenceType)
	}
	if !m.ReferenceType.Allows(m.Direction) {
		return 0, invalid("direction", "%s movement cannot reference a %s", m.Direction, m.ReferenceType)
	}
	if m.ActorID == "" {
		return 0, invalid("actor_id", "required")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = l.now().UTC()
	}

	id, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return 0, fmt.Errorf("append movement for %s: %w", m.ProductID, err)
	}
	m.ID = id
	return id, nil
}

// Movements returns the audit trail for a product, newest first.
func (l *Ledger) Movements(ctx context.Context, productID ProductID, limit int) ([]Movement, error) {
	return l.Store.ListMovements(ctx, productID, limit)
}

// Sum replays every movement for a product and returns the resulting on-hand.
func (l *Ledger) Sum(ctx context.Context, productID ProductID) (int64, error) {
	movements, err := l.Store.ListMovements(ctx, productID, 0)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, m := range movements {
		sum += m.Delta()
	}
	return sum, nil
}

// Verify checks the running balance of a product's ledger: each movement must
// start where the previous one ended, and the final value must match the
// stored balance.
func (l *Ledger) Verify(ctx context.Context, productID ProductID) error {
	movements, err := l.Store.ListMovements(ctx, productID, 0)
	if err != nil {
		return err
	}
	bal, err := l.Store.GetBalance(ctx, productID)
	if err != nil {
		return err
	}

	var running int64
	for i := len(movements) - 1; i >= 0; i-- {
		m := movements[i]
		if m.QuantityBefore != running {
			return fmt.Errorf("movement %d for %s starts at %d, ledger is at %d",
				m.ID, productID, m.QuantityBefore, running)
		}
		running += m.Delta()
		if m.QuantityAfter != running {
			return fmt.Errorf("movement %d for %s ends at %d, expected %d",
				m.ID, productID, m.QuantityAfter, running)
		}
	}
	if running != bal.OnHand {
		return fmt.Errorf("ledger for %s sums to %d but balance is %d", productID, running, bal.OnHand)
	}
	return nil
}
