/*
purchase.go - Purchase receiving workflow

PURPOSE:
  Drives a supplier order from creation to full receipt. Each receipt step
  increments received_quantity on the order lines and posts inbound stock
  through the balance store, all in one transaction.

STATE MACHINE:

    pending ──submit──▶ ordered ──receive (all lines complete)──▶ received
       │                   │  ▲
       │                   └──┘ receive (partial, stays ordered)
       │                   │
       └──cancel──▶ cancelled ◀──cancel (only with zero receipts)

  received and cancelled are terminal.

OPEN POLICY:
  Cancelling an order after some stock was received is refused with an
  unsupported-transition error. The receipt has already moved stock, and it
  must be reversed with an explicit adjustment before the order can close.
*/
package stock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// =============================================================================
// PURCHASE ORDER
// =============================================================================

type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseOrdered   PurchaseStatus = "ordered"
	PurchaseReceived  PurchaseStatus = "received"
	PurchaseCancelled PurchaseStatus = "cancelled"
)

var purchaseTransitions = map[PurchaseStatus][]PurchaseStatus{
	PurchasePending: {PurchaseOrdered, PurchaseCancelled},
	PurchaseOrdered: {PurchaseReceived, PurchaseCancelled},
}

func (s PurchaseStatus) Valid() bool {
	switch s {
	case PurchasePending, PurchaseOrdered, PurchaseReceived, PurchaseCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine has an edge s -> to.
func (s PurchaseStatus) CanTransitionTo(to PurchaseStatus) bool {
	for _, next := range purchaseTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type PurchaseOrder struct {
	ID               PurchaseOrderID `db:"id"`
	SupplierID       SupplierID      `db:"supplier_id"`
	OrderNumber      string          `db:"order_number"`
	Status           PurchaseStatus  `db:"status"`
	OrderDate        time.Time       `db:"order_date"`
	ExpectedDelivery *time.Time      `db:"expected_delivery"`
	ReceivedDate     *time.Time      `db:"received_date"`
	TotalAmount      decimal.Decimal `db:"total_amount"`
	Notes            string          `db:"notes"`
	CreatedBy        ActorID         `db:"created_by"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
	Items            []PurchaseOrderItem
}

type PurchaseOrderItem struct {
	ID               PurchaseOrderItemID `db:"id"`
	PurchaseOrderID  PurchaseOrderID     `db:"purchase_order_id"`
	Line             int                 `db:"line_number"`
	ProductID        ProductID           `db:"product_id"`
	QuantityOrdered  int64               `db:"quantity_ordered"`
	UnitCost         decimal.Decimal     `db:"unit_cost"`
	ReceivedQuantity int64               `db:"received_quantity"`
}

// Remaining is how many units can still be received on this line.
func (i PurchaseOrderItem) Remaining() int64 {
	return i.QuantityOrdered - i.ReceivedQuantity
}

// FullyReceived reports whether every line reached its ordered quantity.
func (po *PurchaseOrder) FullyReceived() bool {
	for _, item := range po.Items {
		if item.Remaining() > 0 {
			return false
		}
	}
	return len(po.Items) > 0
}

// HasReceipts reports whether any stock was already posted for this order.
func (po *PurchaseOrder) HasReceipts() bool {
	for _, item := range po.Items {
		if item.ReceivedQuantity > 0 {
			return true
		}
	}
	return false
}

// NewPurchaseOrder is the input to Receiving.Create.
type NewPurchaseOrder struct {
	SupplierID       SupplierID
	Items            []NewPurchaseOrderItem
	OrderDate        time.Time
	ExpectedDelivery *time.Time
	Notes            string
}

type NewPurchaseOrderItem struct {
	ProductID ProductID
	Quantity  int64
	UnitCost  decimal.Decimal
}

// =============================================================================
// RECEIVING SERVICE
// =============================================================================

type Receiving struct {
	Store     Store
	Inventory *Inventory
	Logger    *zap.Logger

	now func() time.Time
}

func NewReceiving(store Store, inventory *Inventory, logger *zap.Logger) *Receiving {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Receiving{Store: store, Inventory: inventory, Logger: logger, now: time.Now}
}

// Get returns a purchase order with its lines.
func (r *Receiving) Get(ctx context.Context, id PurchaseOrderID) (*PurchaseOrder, error) {
	return r.Store.GetPurchaseOrder(ctx, id)
}

// Create inserts a pending purchase order. Inventory is not touched.
func (r *Receiving) Create(ctx context.Context, in NewPurchaseOrder, actorID ActorID) (po *PurchaseOrder, err error) {
	ctx, span := startSpan(ctx, "stock.Receiving.Create", attribute.String("supplier_id", string(in.SupplierID)))
	defer func() { endSpan(span, err) }()

	if err := validateNewPurchaseOrder(in, actorID); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	orderDate := in.OrderDate
	if orderDate.IsZero() {
		orderDate = now
	}

	po = &PurchaseOrder{
		ID:               PurchaseOrderID(uuid.NewString()),
		SupplierID:       in.SupplierID,
		Status:           PurchasePending,
		OrderDate:        orderDate.UTC(),
		ExpectedDelivery: in.ExpectedDelivery,
		Notes:            in.Notes,
		CreatedBy:        actorID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = r.Store.WithTx(ctx, func(tx Tx) error {
		total := decimal.Zero
		for i, item := range in.Items {
			if _, err := tx.GetProduct(ctx, item.ProductID); err != nil {
				return err
			}
			po.Items = append(po.Items, PurchaseOrderItem{
				ID:              PurchaseOrderItemID(uuid.NewString()),
				PurchaseOrderID: po.ID,
				Line:            i + 1,
				ProductID:       item.ProductID,
				QuantityOrdered: item.Quantity,
				UnitCost:        item.UnitCost,
			})
			total = total.Add(item.UnitCost.Mul(decimal.NewFromInt(item.Quantity)))
		}
		po.TotalAmount = total

		seq, err := tx.NextNumber(ctx, "purchase_order")
		if err != nil {
			return err
		}
		po.OrderNumber = fmt.Sprintf("PO-%06d", seq)
		return tx.InsertPurchaseOrder(ctx, po)
	})
	if err != nil {
		return nil, err
	}

	r.Logger.Info("purchase order created",
		zap.String("purchase_order_id", string(po.ID)),
		zap.String("order_number", po.OrderNumber),
		zap.Int("lines", len(po.Items)),
		zap.String("actor_id", string(actorID)),
	)
	return po, nil
}

// Submit moves a pending order to ordered.
func (r *Receiving) Submit(ctx context.Context, id PurchaseOrderID, actorID ActorID) (*PurchaseOrder, error) {
	return r.transition(ctx, "stock.Receiving.Submit", id, PurchaseOrdered, actorID, nil)
}

// Cancel moves a pending or ordered order with no receipts to cancelled.
func (r *Receiving) Cancel(ctx context.Context, id PurchaseOrderID, actorID ActorID) (*PurchaseOrder, error) {
	return r.transition(ctx, "stock.Receiving.Cancel", id, PurchaseCancelled, actorID, func(po *PurchaseOrder) error {
		if po.HasReceipts() {
			return &InvalidTransitionError{
				From:        string(po.Status),
				To:          string(PurchaseCancelled),
				Reason:      "stock already received; reverse it with an adjustment first",
				Unsupported: true,
			}
		}
		return nil
	})
}

// Receive posts line receipts. receipts maps line item id to the quantity
// delivered now. All lines and balance adjustments commit together; any
// failing line rolls back the whole receipt.
func (r *Receiving) Receive(ctx context.Context, id PurchaseOrderID, receipts map[PurchaseOrderItemID]int64, actorID ActorID) (po *PurchaseOrder, err error) {
	ctx, span := startSpan(ctx, "stock.Receiving.Receive",
		attribute.String("purchase_order_id", string(id)),
		attribute.Int("lines", len(receipts)),
	)
	defer func() { endSpan(span, err) }()

	if len(receipts) == 0 {
		return nil, invalid("receipts", "at least one line is required")
	}
	if actorID == "" {
		return nil, invalid("actor_id", "required")
	}

	// Deterministic line order keeps balance row locks in a stable order.
	itemIDs := make([]PurchaseOrderItemID, 0, len(receipts))
	for itemID := range receipts {
		itemIDs = append(itemIDs, itemID)
	}
	sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })

	err = r.Store.WithTx(ctx, func(tx Tx) error {
		var err error
		po, err = tx.LockPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		// A received order has nothing remaining on any line, so further
		// receipts fall through to the over-receipt check below.
		if po.Status != PurchaseOrdered && po.Status != PurchaseReceived {
			return &InvalidTransitionError{
				From:   string(po.Status),
				To:     string(PurchaseReceived),
				Reason: "only ordered purchase orders can be received",
			}
		}

		lines := make(map[PurchaseOrderItemID]*PurchaseOrderItem, len(po.Items))
		for i := range po.Items {
			lines[po.Items[i].ID] = &po.Items[i]
		}

		for _, itemID := range itemIDs {
			qty := receipts[itemID]
			item, ok := lines[itemID]
			if !ok {
				return notFound("purchase_order_item", string(itemID))
			}
			if qty <= 0 {
				return invalid("quantity", "receipt for item %s must be positive, got %d", itemID, qty)
			}
			if qty > item.Remaining() {
				return &OverReceiptError{ItemID: itemID, Requested: qty, Remaining: item.Remaining()}
			}

			item.ReceivedQuantity += qty
			if err := tx.UpdateReceivedQuantity(ctx, itemID, item.ReceivedQuantity); err != nil {
				return err
			}
			if _, err := r.Inventory.AdjustTx(ctx, tx, Adjustment{
				ProductID:     item.ProductID,
				Direction:     DirectionIn,
				Quantity:      qty,
				ReferenceType: ReferencePurchase,
				ReferenceID:   string(po.ID),
				UnitCost:      item.UnitCost,
				Notes:         fmt.Sprintf("received on %s line %d", po.OrderNumber, item.Line),
				ActorID:       actorID,
			}); err != nil {
				return err
			}
		}

		now := r.now().UTC()
		po.UpdatedAt = now
		if po.FullyReceived() {
			po.Status = PurchaseReceived
			po.ReceivedDate = &now
		}
		return tx.UpdatePurchaseOrderStatus(ctx, po)
	})
	if err != nil {
		r.Logger.Warn("purchase receipt rejected",
			zap.String("purchase_order_id", string(id)),
			zap.Error(err),
		)
		return nil, err
	}

	r.Logger.Info("purchase order received",
		zap.String("purchase_order_id", string(po.ID)),
		zap.String("status", string(po.Status)),
		zap.Int("lines", len(receipts)),
		zap.String("actor_id", string(actorID)),
	)
	return po, nil
}

func (r *Receiving) transition(ctx context.Context, spanName string, id PurchaseOrderID, to PurchaseStatus, actorID ActorID, guard func(*PurchaseOrder) error) (po *PurchaseOrder, err error) {
	ctx, span := startSpan(ctx, spanName,
		attribute.String("purchase_order_id", string(id)),
		attribute.String("to", string(to)),
	)
	defer func() { endSpan(span, err) }()

	if actorID == "" {
		return nil, invalid("actor_id", "required")
	}

	var from PurchaseStatus
	err = r.Store.WithTx(ctx, func(tx Tx) error {
		var err error
		po, err = tx.LockPurchaseOrder(ctx, id)
		if err != nil {
			return err
		}
		from = po.Status
		if !po.Status.CanTransitionTo(to) {
			return &InvalidTransitionError{From: string(po.Status), To: string(to)}
		}
		if guard != nil {
			if err := guard(po); err != nil {
				return err
			}
		}
		po.Status = to
		po.UpdatedAt = r.now().UTC()
		return tx.UpdatePurchaseOrderStatus(ctx, po)
	})
	if err != nil {
		return nil, err
	}

	r.Logger.Info("purchase order status changed",
		zap.String("purchase_order_id", string(id)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_id", string(actorID)),
	)
	return po, nil
}

func validateNewPurchaseOrder(in NewPurchaseOrder, actorID ActorID) error {
	if in.SupplierID == "" {
		return invalid("supplier_id", "required")
	}
	if actorID == "" {
		return invalid("actor_id", "required")
	}
	if len(in.Items) == 0 {
		return invalid("items", "at least one line is required")
	}
	for i, item := range in.Items {
		if item.ProductID == "" {
			return invalid("items", "line %d: product_id required", i+1)
		}
		if item.Quantity <= 0 {
			return invalid("items", "line %d: quantity must be positive", i+1)
		}
		if item.UnitCost.IsNegative() {
			return invalid("items", "line %d: unit_cost cannot be negative", i+1)
		}
	}
	if in.ExpectedDelivery != nil && !in.OrderDate.IsZero() && in.ExpectedDelivery.Before(in.OrderDate) {
		return invalid("expected_delivery", "before order date")
	}
	return nil
}
