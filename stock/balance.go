/*
balance.go - Inventory balance store

PURPOSE:
  Owns InventoryBalance. Every change to on_hand goes through the locked
  read-check-write sequence in AdjustTx and is paired with exactly one ledger
  movement in the same transaction.

ALGORITHM (AdjustTx):
  1. Lock the balance row for the product (creating it at zero the first
     time a catalog product enters inventory)
  2. candidate = on_hand + sign(direction) * quantity
  3. candidate < 0  -> *InsufficientStockError, nothing written
  4. write candidate, clamp reserved to the new on_hand
  5. append the ledger movement with before/after quantities

WHY THE LOCK:
  Two concurrent "out" adjustments on the same product must serialize.
  Without the row lock both can read on_hand=10, both subtract 6, and the
  balance ends at -2. With it, the second waits, reads 4, and is refused.

RESERVATIONS:
  reserved tracks intent and never blocks a sale on its own, but the stored
  invariant 0 <= reserved <= on_hand always holds.

SEE ALSO:
  - ledger.go: Append
  - sale.go, purchase.go: Call AdjustTx inside their own transactions
*/
package stock

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// =============================================================================
// ADJUSTMENT REQUEST
// =============================================================================

// Adjustment describes one stock mutation.
type Adjustment struct {
	ProductID     ProductID
	Direction     Direction
	Quantity      int64
	ReferenceType ReferenceType
	ReferenceID   string
	UnitCost      decimal.Decimal
	Notes         string
	ActorID       ActorID
}

// =============================================================================
// INVENTORY - the balance store
// =============================================================================

type Inventory struct {
	Store  Store
	Ledger *Ledger
	Logger *zap.Logger

	now func() time.Time
}

func NewInventory(store Store, logger *zap.Logger) *Inventory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inventory{
		Store:  store,
		Ledger: NewLedger(store),
		Logger: logger,
		now:    time.Now,
	}
}

// Balance returns the current balance for a product.
func (inv *Inventory) Balance(ctx context.Context, productID ProductID) (*InventoryBalance, error) {
	return inv.Store.GetBalance(ctx, productID)
}

// Adjust applies one manual adjustment in its own transaction and returns the
// new on-hand quantity. Only adjustment references are accepted here;
// purchase, sale and return movements are posted by Receiving and Fulfillment
// through AdjustTx alongside the document they belong to.
func (inv *Inventory) Adjust(ctx context.Context, req Adjustment) (onHand int64, err error) {
	ctx, span := startSpan(ctx, "stock.Inventory.Adjust",
		attribute.String("product_id", string(req.ProductID)),
		attribute.String("direction", req.Direction.String()),
		attribute.Int64("quantity", req.Quantity),
	)
	defer func() { endSpan(span, err) }()

	if req.ReferenceType == 0 {
		req.ReferenceType = ReferenceAdjustment
	}
	if req.ReferenceType != ReferenceAdjustment {
		return 0, invalid("reference_type", "%s movements are posted by their documents, not by manual adjustment", req.ReferenceType)
	}
	if req.ActorID == "" {
		return 0, invalid("actor_id", "required")
	}

	var m *Movement
	err = inv.Store.WithTx(ctx, func(tx Tx) error {
		var txErr error
		m, txErr = inv.AdjustTx(ctx, tx, req)
		return txErr
	})
	if err != nil {
		inv.logRejected("adjust", req.ProductID, err)
		return 0, err
	}

	inv.Logger.Info("stock adjusted",
		zap.String("product_id", string(req.ProductID)),
		zap.String("direction", req.Direction.String()),
		zap.Int64("quantity", req.Quantity),
		zap.Int64("on_hand", m.QuantityAfter),
		zap.Int64("movement_id", int64(m.ID)),
		zap.String("actor_id", string(req.ActorID)),
	)
	return m.QuantityAfter, nil
}

// AdjustTx is the locked read-check-write path. It must be called with the
// transaction that owns the surrounding unit of work.
func (inv *Inventory) AdjustTx(ctx context.Context, tx Tx, req Adjustment) (*Movement, error) {
	if req.Quantity <= 0 {
		return nil, invalid("quantity", "must be positive, got %d", req.Quantity)
	}
	if !req.Direction.Valid() {
		return nil, invalid("direction", "unknown direction %d", req.Direction)
	}

	bal, err := inv.lockOrCreate(ctx, tx, req.ProductID)
	if err != nil {
		return nil, err
	}
	return inv.apply(ctx, tx, bal, req)
}

// SetAbsolute records a stock-take: it moves on_hand to newQuantity through
// a signed adjustment. A zero delta writes nothing.
func (inv *Inventory) SetAbsolute(ctx context.Context, productID ProductID, newQuantity int64, notes string, actorID ActorID) (onHand int64, err error) {
	ctx, span := startSpan(ctx, "stock.Inventory.SetAbsolute",
		attribute.String("product_id", string(productID)),
		attribute.Int64("quantity", newQuantity),
	)
	defer func() { endSpan(span, err) }()

	if newQuantity < 0 {
		return 0, invalid("quantity", "cannot be negative, got %d", newQuantity)
	}

	var delta int64
	err = inv.Store.WithTx(ctx, func(tx Tx) error {
		bal, err := inv.lockOrCreate(ctx, tx, productID)
		if err != nil {
			return err
		}
		delta = newQuantity - bal.OnHand
		if delta == 0 {
			onHand = bal.OnHand
			return nil
		}

		req := Adjustment{
			ProductID:     productID,
			Direction:     DirectionAdjustUp,
			Quantity:      delta,
			ReferenceType: ReferenceAdjustment,
			Notes:         notes,
			ActorID:       actorID,
		}
		if delta < 0 {
			req.Direction = DirectionAdjustDown
			req.Quantity = -delta
		}
		if product, err := tx.GetProduct(ctx, productID); err == nil {
			req.UnitCost = product.Cost
		}

		m, err := inv.apply(ctx, tx, bal, req)
		if err != nil {
			return err
		}
		onHand = m.QuantityAfter
		return nil
	})
	if err != nil {
		inv.logRejected("set absolute", productID, err)
		return 0, err
	}

	if delta != 0 {
		inv.Logger.Info("stock counted",
			zap.String("product_id", string(productID)),
			zap.Int64("delta", delta),
			zap.Int64("on_hand", onHand),
			zap.String("actor_id", string(actorID)),
		)
	}
	return onHand, nil
}

// Reserve earmarks quantity for future fulfillment. Reservations cannot
// exceed on-hand stock.
func (inv *Inventory) Reserve(ctx context.Context, productID ProductID, quantity int64, actorID ActorID) (*InventoryBalance, error) {
	if quantity <= 0 {
		return nil, invalid("quantity", "must be positive, got %d", quantity)
	}
	return inv.updateLocked(ctx, "reserve", productID, actorID, func(bal *InventoryBalance) error {
		if quantity > bal.Available() {
			return &InsufficientStockError{ProductID: productID, Requested: quantity, Available: bal.Available()}
		}
		bal.Reserved += quantity
		return nil
	})
}

// Release gives back reserved quantity. Releasing more than is reserved
// releases everything.
func (inv *Inventory) Release(ctx context.Context, productID ProductID, quantity int64, actorID ActorID) (*InventoryBalance, error) {
	if quantity <= 0 {
		return nil, invalid("quantity", "must be positive, got %d", quantity)
	}
	return inv.updateLocked(ctx, "release", productID, actorID, func(bal *InventoryBalance) error {
		bal.Reserved -= min(quantity, bal.Reserved)
		return nil
	})
}

// SetReorderPolicy updates the reorder hints. It is configuration, not a
// stock movement, so no ledger row is written.
func (inv *Inventory) SetReorderPolicy(ctx context.Context, productID ProductID, level, quantity int64, actorID ActorID) (*InventoryBalance, error) {
	if level < 0 {
		return nil, invalid("reorder_level", "cannot be negative")
	}
	if quantity < 0 {
		return nil, invalid("reorder_quantity", "cannot be negative")
	}
	return inv.updateLocked(ctx, "reorder policy", productID, actorID, func(bal *InventoryBalance) error {
		bal.ReorderLevel = level
		bal.ReorderQuantity = quantity
		return nil
	})
}

// =============================================================================
// INTERNALS
// =============================================================================

func (inv *Inventory) apply(ctx context.Context, tx Tx, bal *InventoryBalance, req Adjustment) (*Movement, error) {
	if req.Direction.Sign() > 0 && req.Quantity > math.MaxInt64-bal.OnHand {
		return nil, invalid("quantity", "%d would overflow on_hand %d", req.Quantity, bal.OnHand)
	}
	candidate := bal.OnHand + req.Direction.Sign()*req.Quantity
	if candidate < 0 {
		return nil, &InsufficientStockError{
			ProductID: req.ProductID,
			Requested: req.Quantity,
			Available: bal.OnHand,
		}
	}

	now := inv.now().UTC()
	before := bal.OnHand
	bal.OnHand = candidate
	if bal.Reserved > bal.OnHand {
		bal.Reserved = bal.OnHand
	}
	bal.UpdatedAt = now
	if err := tx.UpdateBalance(ctx, bal); err != nil {
		return nil, err
	}

	m := &Movement{
		ProductID:      req.ProductID,
		Direction:      req.Direction,
		Quantity:       req.Quantity,
		QuantityBefore: before,
		QuantityAfter:  candidate,
		ReferenceType:  req.ReferenceType,
		ReferenceID:    req.ReferenceID,
		UnitCost:       req.UnitCost,
		Notes:          req.Notes,
		ActorID:        req.ActorID,
		CreatedAt:      now,
	}
	if _, err := inv.Ledger.Append(ctx, tx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// lockOrCreate locks the balance row, creating it at zero for catalog
// products that have never held stock.
func (inv *Inventory) lockOrCreate(ctx context.Context, tx Tx, productID ProductID) (*InventoryBalance, error) {
	bal, err := tx.LockBalance(ctx, productID)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := tx.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	if err := tx.InsertBalance(ctx, &InventoryBalance{ProductID: productID, UpdatedAt: inv.now().UTC()}); err != nil {
		return nil, err
	}
	return tx.LockBalance(ctx, productID)
}

// updateLocked changes balance fields that are not on_hand. There is no
// ledger row, so the actor is recorded in the log line instead.
func (inv *Inventory) updateLocked(ctx context.Context, op string, productID ProductID, actorID ActorID, fn func(*InventoryBalance) error) (*InventoryBalance, error) {
	if actorID == "" {
		return nil, invalid("actor_id", "required")
	}

	var out *InventoryBalance
	err := inv.Store.WithTx(ctx, func(tx Tx) error {
		bal, err := inv.lockOrCreate(ctx, tx, productID)
		if err != nil {
			return err
		}
		if err := fn(bal); err != nil {
			return err
		}
		bal.UpdatedAt = inv.now().UTC()
		if err := tx.UpdateBalance(ctx, bal); err != nil {
			return err
		}
		out = bal
		return nil
	})
	if err != nil {
		inv.logRejected(op, productID, err)
		return nil, err
	}

	inv.Logger.Info("balance updated",
		zap.String("op", op),
		zap.String("product_id", string(productID)),
		zap.Int64("on_hand", out.OnHand),
		zap.Int64("reserved", out.Reserved),
		zap.Int64("reorder_level", out.ReorderLevel),
		zap.Int64("reorder_quantity", out.ReorderQuantity),
		zap.String("actor_id", string(actorID)),
	)
	return out, nil
}

func (inv *Inventory) logRejected(op string, productID ProductID, err error) {
	fields := []zap.Field{zap.String("op", op), zap.String("product_id", string(productID)), zap.Error(err)}
	if IsClientError(err) || IsNotFound(err) || IsRetryable(err) {
		inv.Logger.Warn("stock mutation rejected", fields...)
		return
	}
	inv.Logger.Error("stock mutation failed", fields...)
}
