/*
sale.go - Sale fulfillment transaction

PURPOSE:
  Turns a checkout order or a point-of-sale basket into a committed sale,
  its line items, and one outbound ledger movement per line, atomically.

ENTRY POINTS:
  FulfillFromOrder: mirrors an order supplied by the checkout subsystem.
                    The order id is the idempotency key.
  FulfillDirect:    register sale. Priced from the catalog unless the line
                    overrides it, taxed at the configured rate, paid on the spot.
                    The terminal supplies the idempotency key.

ATOMICITY:
  Header, items and every stock decrement share one transaction. If any line
  is short, the caller gets *InsufficientStockError for that line and no sale
  row, no item row and no movement survive.

IDEMPOTENCY:
  A repeated key is refused with *AlreadyFulfilledError naming the existing
  sale; stock is never decremented twice. The unique constraints on
  sales.order_id and sales.idempotency_key back this up under races.

AFTER THE SALE:
  RecordReturn puts returned units back (bounded by what was sold) and
  UpdatePaymentStatus follows the payment collaborator's lifecycle.
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

// DefaultTaxRate is the flat VAT multiplier applied to direct sales.
var DefaultTaxRate = decimal.RequireFromString("0.15")

// =============================================================================
// SALE
// =============================================================================

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentPartial  PaymentStatus = "partial"
	PaymentRefunded PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentPaid, PaymentPartial},
	PaymentPartial: {PaymentPaid, PaymentRefunded},
	PaymentPaid:    {PaymentRefunded},
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentPartial, PaymentRefunded:
		return true
	}
	return false
}

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	for _, next := range paymentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Sale struct {
	ID             SaleID          `db:"id"`
	SaleNumber     string          `db:"sale_number"`
	OrderID        *OrderID        `db:"order_id"`
	IdempotencyKey *string         `db:"idempotency_key"`
	CustomerID     *CustomerID     `db:"customer_id"`
	CustomerName   string          `db:"customer_name"`
	Subtotal       decimal.Decimal `db:"subtotal"`
	TaxAmount      decimal.Decimal `db:"tax_amount"`
	TotalAmount    decimal.Decimal `db:"total_amount"`
	PaymentMethod  string          `db:"payment_method"`
	PaymentStatus  PaymentStatus   `db:"payment_status"`
	SaleDate       time.Time       `db:"sale_date"`
	CreatedBy      ActorID         `db:"created_by"`
	Items          []SaleItem
}

type SaleItem struct {
	ID        SaleItemID      `db:"id"`
	SaleID    SaleID          `db:"sale_id"`
	Line      int             `db:"line_number"`
	ProductID ProductID       `db:"product_id"`
	Quantity  int64           `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total"`
}

// QuantityOf sums the sold quantity of a product across all lines.
func (s *Sale) QuantityOf(productID ProductID) int64 {
	var n int64
	for _, item := range s.Items {
		if item.ProductID == productID {
			n += item.Quantity
		}
	}
	return n
}

// Customer identifies the buyer at the register. Both fields are optional.
type Customer struct {
	ID   CustomerID
	Name string
}

// LineItem is one basket line. A nil UnitPrice means the catalog price.
type LineItem struct {
	ProductID ProductID
	Quantity  int64
	UnitPrice *decimal.Decimal
}

// DirectSale is a point-of-sale basket.
type DirectSale struct {
	IdempotencyKey string
	Customer       Customer
	Items          []LineItem
	PaymentMethod  string
}

// =============================================================================
// FULFILLMENT SERVICE
// =============================================================================

type Fulfillment struct {
	Store     Store
	Inventory *Inventory
	TaxRate   decimal.Decimal
	Logger    *zap.Logger

	now func() time.Time
}

func NewFulfillment(store Store, inventory *Inventory, taxRate decimal.Decimal, logger *zap.Logger) *Fulfillment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fulfillment{Store: store, Inventory: inventory, TaxRate: taxRate, Logger: logger, now: time.Now}
}

// GetSale returns a sale with its items.
func (f *Fulfillment) GetSale(ctx context.Context, id SaleID) (*Sale, error) {
	return f.Store.GetSale(ctx, id)
}

// FulfillFromOrder creates the sale for a checkout order and decrements stock
// for each of its lines.
func (f *Fulfillment) FulfillFromOrder(ctx context.Context, orderID OrderID, actorID ActorID) (sale *Sale, err error) {
	ctx, span := startSpan(ctx, "stock.Fulfillment.FulfillFromOrder", attribute.String("order_id", string(orderID)))
	defer func() { endSpan(span, err) }()

	if orderID == "" {
		return nil, invalid("order_id", "required")
	}
	if actorID == "" {
		return nil, invalid("actor_id", "required")
	}

	err = f.Store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.SaleByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &AlreadyFulfilledError{Key: string(orderID), SaleID: existing.ID}
		}

		order, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(order.Items) == 0 {
			return invalid("order", "order %s has no lines", orderID)
		}

		lines := make([]LineItem, len(order.Items))
		for i, item := range order.Items {
			price := item.UnitPrice
			lines[i] = LineItem{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: &price}
		}

		status := order.PaymentStatus
		if !status.Valid() {
			status = PaymentPending
		}
		id := orderID
		sale = &Sale{
			OrderID:       &id,
			CustomerID:    order.CustomerID,
			CustomerName:  order.CustomerName,
			PaymentMethod: order.PaymentMethod,
			PaymentStatus: status,
		}
		return f.commit(ctx, tx, sale, lines, actorID)
	})
	if err != nil {
		f.logRejected("order", string(orderID), err)
		return nil, err
	}

	f.logFulfilled(sale)
	return sale, nil
}

// FulfillDirect records a paid register sale.
func (f *Fulfillment) FulfillDirect(ctx context.Context, in DirectSale, actorID ActorID) (sale *Sale, err error) {
	ctx, span := startSpan(ctx, "stock.Fulfillment.FulfillDirect",
		attribute.String("idempotency_key", in.IdempotencyKey),
		attribute.Int("lines", len(in.Items)),
	)
	defer func() { endSpan(span, err) }()

	if in.IdempotencyKey == "" {
		return nil, invalid("idempotency_key", "required")
	}
	if in.PaymentMethod == "" {
		return nil, invalid("payment_method", "required")
	}
	if actorID == "" {
		return nil, invalid("actor_id", "required")
	}
	if len(in.Items) == 0 {
		return nil, invalid("items", "at least one line is required")
	}

	err = f.Store.WithTx(ctx, func(tx Tx) error {
		existing, err := tx.SaleByIdempotencyKey(ctx, in.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			return &AlreadyFulfilledError{Key: in.IdempotencyKey, SaleID: existing.ID}
		}

		key := in.IdempotencyKey
		sale = &Sale{
			IdempotencyKey: &key,
			CustomerName:   in.Customer.Name,
			PaymentMethod:  in.PaymentMethod,
			PaymentStatus:  PaymentPaid,
		}
		if in.Customer.ID != "" {
			cid := in.Customer.ID
			sale.CustomerID = &cid
		}
		return f.commit(ctx, tx, sale, in.Items, actorID)
	})
	if err != nil {
		f.logRejected("direct", in.IdempotencyKey, err)
		return nil, err
	}

	f.logFulfilled(sale)
	return sale, nil
}

// commit is the shared atomic core: price, number, insert, decrement.
func (f *Fulfillment) commit(ctx context.Context, tx Tx, sale *Sale, lines []LineItem, actorID ActorID) error {
	now := f.now().UTC()
	sale.ID = SaleID(uuid.NewString())
	sale.SaleDate = now
	sale.CreatedBy = actorID

	costs := make(map[ProductID]decimal.Decimal, len(lines))
	subtotal := decimal.Zero
	for i, line := range lines {
		if line.Quantity <= 0 {
			return invalid("items", "line %d: quantity must be positive", i+1)
		}
		product, err := tx.GetProduct(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if !product.Active {
			return invalid("items", "line %d: product %s is not for sale", i+1, line.ProductID)
		}
		price := product.Price
		if line.UnitPrice != nil {
			price = *line.UnitPrice
		}
		if price.IsNegative() {
			return invalid("items", "line %d: unit price cannot be negative", i+1)
		}
		costs[line.ProductID] = product.Cost

		lineTotal := price.Mul(decimal.NewFromInt(line.Quantity))
		subtotal = subtotal.Add(lineTotal)
		sale.Items = append(sale.Items, SaleItem{
			ID:        SaleItemID(uuid.NewString()),
			SaleID:    sale.ID,
			Line:      i + 1,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: price,
			LineTotal: lineTotal,
		})
	}

	sale.Subtotal = subtotal
	sale.TaxAmount = subtotal.Mul(f.TaxRate).Round(2)
	sale.TotalAmount = sale.Subtotal.Add(sale.TaxAmount)

	seq, err := tx.NextNumber(ctx, "sale")
	if err != nil {
		return err
	}
	sale.SaleNumber = fmt.Sprintf("SALE-%06d", seq)

	if err := tx.InsertSale(ctx, sale); err != nil {
		return err
	}

	// Decrement in product order so concurrent sales lock rows consistently.
	items := make([]SaleItem, len(sale.Items))
	copy(items, sale.Items)
	sort.SliceStable(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	for _, item := range items {
		if _, err := f.Inventory.AdjustTx(ctx, tx, Adjustment{
			ProductID:     item.ProductID,
			Direction:     DirectionOut,
			Quantity:      item.Quantity,
			ReferenceType: ReferenceSale,
			ReferenceID:   string(sale.ID),
			UnitCost:      costs[item.ProductID],
			Notes:         fmt.Sprintf("%s line %d", sale.SaleNumber, item.Line),
			ActorID:       actorID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// RecordReturn puts returned units of a sold product back into stock. The
// cumulative returned quantity can never exceed what the sale sold.
func (f *Fulfillment) RecordReturn(ctx context.Context, saleID SaleID, productID ProductID, quantity int64, notes string, actorID ActorID) (m *Movement, err error) {
	ctx, span := startSpan(ctx, "stock.Fulfillment.RecordReturn",
		attribute.String("sale_id", string(saleID)),
		attribute.String("product_id", string(productID)),
		attribute.Int64("quantity", quantity),
	)
	defer func() { endSpan(span, err) }()

	if quantity <= 0 {
		return nil, invalid("quantity", "must be positive, got %d", quantity)
	}
	if actorID == "" {
		return nil, invalid("actor_id", "required")
	}

	err = f.Store.WithTx(ctx, func(tx Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		sold := sale.QuantityOf(productID)
		if sold == 0 {
			return notFound("sale_item", fmt.Sprintf("%s/%s", saleID, productID))
		}

		previous, err := tx.MovementsByReference(ctx, ReferenceReturn, string(saleID))
		if err != nil {
			return err
		}
		var returned int64
		for _, p := range previous {
			if p.ProductID == productID {
				returned += p.Quantity
			}
		}
		if quantity > sold-returned {
			return &OverReturnError{SaleID: saleID, ProductID: productID, Requested: quantity, Returnable: sold - returned}
		}

		req := Adjustment{
			ProductID:     productID,
			Direction:     DirectionIn,
			Quantity:      quantity,
			ReferenceType: ReferenceReturn,
			ReferenceID:   string(saleID),
			Notes:         notes,
			ActorID:       actorID,
		}
		if product, err := tx.GetProduct(ctx, productID); err == nil {
			req.UnitCost = product.Cost
		}
		m, err = f.Inventory.AdjustTx(ctx, tx, req)
		return err
	})
	if err != nil {
		f.logRejected("return", string(saleID), err)
		return nil, err
	}

	f.Logger.Info("sale return recorded",
		zap.String("sale_id", string(saleID)),
		zap.String("product_id", string(productID)),
		zap.Int64("quantity", quantity),
		zap.String("actor_id", string(actorID)),
	)
	return m, nil
}

// UpdatePaymentStatus applies a payment collaborator's status change. Setting
// the current status again is a no-op.
func (f *Fulfillment) UpdatePaymentStatus(ctx context.Context, saleID SaleID, status PaymentStatus, actorID ActorID) (sale *Sale, err error) {
	ctx, span := startSpan(ctx, "stock.Fulfillment.UpdatePaymentStatus",
		attribute.String("sale_id", string(saleID)),
		attribute.String("status", string(status)),
	)
	defer func() { endSpan(span, err) }()

	if !status.Valid() {
		return nil, invalid("payment_status", "unknown status %q", status)
	}
	if actorID == "" {
		return nil, invalid("actor_id", "required")
	}

	err = f.Store.WithTx(ctx, func(tx Tx) error {
		var err error
		sale, err = tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.PaymentStatus == status {
			return nil
		}
		if !sale.PaymentStatus.CanTransitionTo(status) {
			return &InvalidTransitionError{From: string(sale.PaymentStatus), To: string(status)}
		}
		sale.PaymentStatus = status
		return tx.UpdatePaymentStatus(ctx, saleID, status)
	})
	if err != nil {
		return nil, err
	}

	f.Logger.Info("payment status updated",
		zap.String("sale_id", string(saleID)),
		zap.String("status", string(status)),
		zap.String("actor_id", string(actorID)),
	)
	return sale, nil
}

func (f *Fulfillment) logFulfilled(sale *Sale) {
	f.Logger.Info("sale fulfilled",
		zap.String("sale_id", string(sale.ID)),
		zap.String("sale_number", sale.SaleNumber),
		zap.Int("lines", len(sale.Items)),
		zap.String("total", sale.TotalAmount.StringFixed(2)),
		zap.String("actor_id", string(sale.CreatedBy)),
	)
}

func (f *Fulfillment) logRejected(kind, key string, err error) {
	fields := []zap.Field{zap.String("kind", kind), zap.String("key", key), zap.Error(err)}
	if IsClientError(err) || IsNotFound(err) || IsRetryable(err) {
		f.Logger.Warn("fulfillment rejected", fields...)
		return
	}
	f.Logger.Error("fulfillment failed", fields...)
}
