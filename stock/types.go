/*
Package stock is the stock ledger and fulfillment engine.

PURPOSE:
  Keeps on-hand inventory, purchase receipts and sales consistent across
  concurrent operations. The movement ledger is the source of truth; the
  inventory balance is derived state kept in lock-step with it for fast reads.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: type-safe ids so product, sale and order ids cannot be mixed
  - Direction: closed set of movement directions (in, out, adjustment up/down)
  - ReferenceType: closed set of movement origins (purchase, sale, adjustment, return)
  - Movement: one immutable ledger row
  - InventoryBalance: the per-product derived balance

DESIGN PRINCIPLES:
  1. Immutability: movements are never modified or deleted
  2. One unit of work: balance mutation + ledger append share one DB transaction
  3. Precision: money uses decimal.Decimal, quantities are integers
  4. Closed enums: invalid direction/reference combinations are rejected up front

SEE ALSO:
  - ledger.go: Append and audit queries
  - balance.go: Locked read-check-write adjustments
  - purchase.go, sale.go: Workflows that drive the balance store
*/
package stock

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type ActorID string
type MovementID int64
type SupplierID string
type PurchaseOrderID string
type PurchaseOrderItemID string
type SaleID string
type SaleItemID string
type OrderID string
type CustomerID string

// =============================================================================
// DIRECTION - which way a movement moves stock
// =============================================================================

// Direction is the closed set of movement directions. Adjustments carry their
// sign in the direction so a movement is never ambiguous about its effect.
type Direction uint8

const (
	DirectionIn Direction = iota + 1
	DirectionOut
	DirectionAdjustUp
	DirectionAdjustDown
)

// Valid reports whether d is one of the declared directions.
func (d Direction) Valid() bool {
	return d >= DirectionIn && d <= DirectionAdjustDown
}

// Sign is +1 for directions that add stock and -1 for those that remove it.
func (d Direction) Sign() int64 {
	switch d {
	case DirectionIn, DirectionAdjustUp:
		return 1
	case DirectionOut, DirectionAdjustDown:
		return -1
	}
	return 0
}

// Kind is the persisted direction column: "in", "out" or "adjustment".
func (d Direction) Kind() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	case DirectionAdjustUp, DirectionAdjustDown:
		return "adjustment"
	}
	return ""
}

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "in"
	case DirectionOut:
		return "out"
	case DirectionAdjustUp:
		return "adjustment_up"
	case DirectionAdjustDown:
		return "adjustment_down"
	}
	return fmt.Sprintf("direction(%d)", uint8(d))
}

// ParseDirection parses the external form produced by String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "in":
		return DirectionIn, nil
	case "out":
		return DirectionOut, nil
	case "adjustment_up":
		return DirectionAdjustUp, nil
	case "adjustment_down":
		return DirectionAdjustDown, nil
	}
	return 0, &ValidationError{Field: "direction", Message: fmt.Sprintf("unknown direction %q", s)}
}

// DirectionFromKind rebuilds a Direction from its persisted kind and signed delta.
func DirectionFromKind(kind string, delta int64) (Direction, error) {
	switch kind {
	case "in":
		return DirectionIn, nil
	case "out":
		return DirectionOut, nil
	case "adjustment":
		if delta < 0 {
			return DirectionAdjustDown, nil
		}
		return DirectionAdjustUp, nil
	}
	return 0, fmt.Errorf("unknown direction kind %q", kind)
}

// =============================================================================
// REFERENCE TYPE - what caused a movement
// =============================================================================

type ReferenceType uint8

const (
	ReferencePurchase ReferenceType = iota + 1
	ReferenceSale
	ReferenceAdjustment
	ReferenceReturn
)

func (r ReferenceType) Valid() bool {
	return r >= ReferencePurchase && r <= ReferenceReturn
}

func (r ReferenceType) String() string {
	switch r {
	case ReferencePurchase:
		return "purchase"
	case ReferenceSale:
		return "sale"
	case ReferenceAdjustment:
		return "adjustment"
	case ReferenceReturn:
		return "return"
	}
	return fmt.Sprintf("reference(%d)", uint8(r))
}

func ParseReferenceType(s string) (ReferenceType, error) {
	switch s {
	case "purchase":
		return ReferencePurchase, nil
	case "sale":
		return ReferenceSale, nil
	case "adjustment":
		return ReferenceAdjustment, nil
	case "return":
		return ReferenceReturn, nil
	}
	return 0, invalid("reference_type", "unknown reference type %q", s)
}

// Allows reports whether a movement of direction d may carry this reference.
// Receipts and returns only add stock, sales only remove it, and manual
// adjustments are always signed adjustments.
func (r ReferenceType) Allows(d Direction) bool {
	switch r {
	case ReferencePurchase, ReferenceReturn:
		return d == DirectionIn
	case ReferenceSale:
		return d == DirectionOut
	case ReferenceAdjustment:
		return d == DirectionAdjustUp || d == DirectionAdjustDown
	}
	return false
}

// =============================================================================
// MOVEMENT - one immutable ledger row
// =============================================================================

type Movement struct {
	ID             MovementID
	ProductID      ProductID
	Direction      Direction
	Quantity       int64 // always positive
	QuantityBefore int64
	QuantityAfter  int64
	ReferenceType  ReferenceType
	ReferenceID    string // empty when the movement has no originating record
	UnitCost       decimal.Decimal
	Notes          string
	ActorID        ActorID
	CreatedAt      time.Time
}

// Delta is the signed quantity this movement applied to on_hand.
func (m Movement) Delta() int64 {
	return m.Direction.Sign() * m.Quantity
}

// =============================================================================
// INVENTORY BALANCE - derived current state
// =============================================================================

type InventoryBalance struct {
	ProductID       ProductID `db:"product_id"`
	OnHand          int64     `db:"on_hand"`
	Reserved        int64     `db:"reserved"`
	ReorderLevel    int64     `db:"reorder_level"`
	ReorderQuantity int64     `db:"reorder_quantity"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Available is on-hand stock not earmarked by reservations.
func (b InventoryBalance) Available() int64 {
	return b.OnHand - b.Reserved
}

// NeedsReorder reports whether available stock has fallen to the reorder level.
func (b InventoryBalance) NeedsReorder() bool {
	return b.ReorderLevel > 0 && b.Available() <= b.ReorderLevel
}

// =============================================================================
// EXTERNAL RECORDS - owned by catalog and checkout, read by the engine
// =============================================================================

// Product is the catalog's view of an item. The engine reads price and cost
// but never changes them.
type Product struct {
	ID        ProductID       `db:"id"`
	SKU       string          `db:"sku"`
	Name      string          `db:"name"`
	Price     decimal.Decimal `db:"price"`
	Cost      decimal.Decimal `db:"cost"`
	Active    bool            `db:"active"`
	CreatedAt time.Time       `db:"created_at"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Order is a checkout order as supplied by the order subsystem.
type Order struct {
	ID            OrderID       `db:"id"`
	CustomerID    *CustomerID   `db:"customer_id"`
	CustomerName  string        `db:"customer_name"`
	PaymentMethod string        `db:"payment_method"`
	PaymentStatus PaymentStatus `db:"payment_status"`
	CreatedAt     time.Time     `db:"created_at"`
	Items         []OrderItem
}

type OrderItem struct {
	OrderID   OrderID         `db:"order_id"`
	Line      int             `db:"line_number"`
	ProductID ProductID       `db:"product_id"`
	Quantity  int64           `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
}

// Validate checks the shape of an order before it is stored. Whether its
// products exist is checked by the store inside the same transaction.
func (o *Order) Validate() error {
	if o.ID == "" {
		return invalid("id", "required")
	}
	if len(o.Items) == 0 {
		return invalid("items", "at least one line is required")
	}
	if o.PaymentStatus != "" && !o.PaymentStatus.Valid() {
		return invalid("payment_status", "unknown status %q", o.PaymentStatus)
	}
	for i, item := range o.Items {
		if item.ProductID == "" {
			return invalid("items", "line %d: product_id is required", i+1)
		}
		if item.Quantity <= 0 {
			return invalid("items", "line %d: quantity must be positive, got %d", i+1, item.Quantity)
		}
		if item.UnitPrice.IsNegative() {
			return invalid("items", "line %d: unit price cannot be negative", i+1)
		}
	}
	return nil
}
