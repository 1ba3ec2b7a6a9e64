package stock_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/stock"
)

func cashSale(key string, items ...stock.LineItem) stock.DirectSale {
	return stock.DirectSale{
		IdempotencyKey: key,
		Customer:       stock.Customer{Name: "Walk-in"},
		Items:          items,
		PaymentMethod:  "cash",
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// DIRECT SALE
// =============================================================================

func TestFulfillDirect_TotalsAndSingleOutMovement(t *testing.T) {
	// GIVEN: P has on_hand 10 and unit price 500
	// WHEN: selling 3 for cash at tax rate 0.15
	// THEN: subtotal 1500, tax 225, total 1725, on_hand 7,
	//       exactly one out movement of 3 referencing the sale

	f := newFixture(t)
	ctx := context.Background()
	p := f.stocked(t, "P", 500, 10)

	sale, err := f.fulfillment.FulfillDirect(ctx, cashSale("pos-1", stock.LineItem{ProductID: p, Quantity: 3}), clerk)
	require.NoError(t, err)

	assert.True(t, dec("1500").Equal(sale.Subtotal), "subtotal %s", sale.Subtotal)
	assert.True(t, dec("225").Equal(sale.TaxAmount), "tax %s", sale.TaxAmount)
	assert.True(t, dec("1725").Equal(sale.TotalAmount), "total %s", sale.TotalAmount)
	assert.Equal(t, stock.PaymentPaid, sale.PaymentStatus)
	assert.Equal(t, "SALE-000001", sale.SaleNumber)
	assert.Equal(t, int64(7), f.onHand(t, p))

	outs := f.movementsFor(t, p, stock.ReferenceSale)
	require.Len(t, outs, 1)
	assert.Equal(t, stock.DirectionOut, outs[0].Direction)
	assert.Equal(t, int64(3), outs[0].Quantity)
	assert.Equal(t, string(sale.ID), outs[0].ReferenceID)
	assert.Equal(t, clerk, outs[0].ActorID)

	stored, err := f.fulfillment.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.True(t, dec("1500").Equal(stored.Items[0].LineTotal))
	f.requireReconciled(t)
}

func TestFulfillDirect_Oversell_Refused(t *testing.T) {
	// GIVEN: Q has on_hand 2
	// WHEN: selling 5
	// THEN: InsufficientStock{Q, 5, 2}, on_hand stays 2, no sale row

	f := newFixture(t)
	ctx := context.Background()
	q := f.stocked(t, "Q", 500, 2)

	_, err := f.fulfillment.FulfillDirect(ctx, cashSale("pos-1", stock.LineItem{ProductID: q, Quantity: 5}), clerk)

	var short *stock.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, q, short.ProductID)
	assert.Equal(t, int64(5), short.Requested)
	assert.Equal(t, int64(2), short.Available)
	assert.Equal(t, int64(2), f.onHand(t, q))

	sales, err := f.store.SalesInRange(ctx, aroundNow().From, aroundNow().To)
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestFulfillDirect_ThirdLineShort_NothingPersisted(t *testing.T) {
	// GIVEN: three lines where only the third exceeds stock
	// WHEN: fulfilling the basket
	// THEN: zero sale movements, no sale, all balances unchanged

	f := newFixture(t)
	ctx := context.Background()
	a := f.stocked(t, "p-a", 100, 10)
	b := f.stocked(t, "p-b", 100, 10)
	c := f.stocked(t, "p-c", 100, 1)

	_, err := f.fulfillment.FulfillDirect(ctx, cashSale("pos-1",
		stock.LineItem{ProductID: a, Quantity: 2},
		stock.LineItem{ProductID: b, Quantity: 2},
		stock.LineItem{ProductID: c, Quantity: 5},
	), clerk)

	var short *stock.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, c, short.ProductID)
	assert.Equal(t, int64(4), short.Shortfall())

	for _, p := range []stock.ProductID{a, b, c} {
		assert.Empty(t, f.movementsFor(t, p, stock.ReferenceSale), "product %s", p)
	}
	assert.Equal(t, int64(10), f.onHand(t, a))
	assert.Equal(t, int64(10), f.onHand(t, b))
	assert.Equal(t, int64(1), f.onHand(t, c))

	sales, err := f.store.SalesInRange(ctx, aroundNow().From, aroundNow().To)
	require.NoError(t, err)
	assert.Empty(t, sales)

	// the failed call consumed no sale number
	sale, err := f.fulfillment.FulfillDirect(ctx, cashSale("pos-2", stock.LineItem{ProductID: a, Quantity: 1}), clerk)
	require.NoError(t, err)
	assert.Equal(t, "SALE-000001", sale.SaleNumber)
	f.requireReconciled(t)
}

func TestFulfillDirect_PriceOverride(t *testing.T) {
	f := newFixture(t)
	p := f.stocked(t, "p-1", 500, 10)

	sale, err := f.fulfillment.FulfillDirect(context.Background(),
		cashSale("pos-1", stock.LineItem{ProductID: p, Quantity: 2, UnitPrice: price(450)}), clerk)
	require.NoError(t, err)

	assert.True(t, dec("900").Equal(sale.Subtotal))
	assert.True(t, dec("135").Equal(sale.TaxAmount))
}

func TestFulfillDirect_RepeatedKey_AlreadyFulfilled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.stocked(t, "p-1", 500, 10)
	basket := cashSale("pos-1", stock.LineItem{ProductID: p, Quantity: 3})

	first, err := f.fulfillment.FulfillDirect(ctx, basket, clerk)
	require.NoError(t, err)

	_, err = f.fulfillment.FulfillDirect(ctx, basket, clerk)

	var dup *stock.AlreadyFulfilledError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.SaleID)
	assert.Equal(t, int64(7), f.onHand(t, p), "stock decremented once")
}

func TestFulfillDirect_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.stocked(t, "p-1", 500, 10)

	tests := []struct {
		name  string
		sale  stock.DirectSale
		actor stock.ActorID
	}{
		{"missing key", cashSale("", stock.LineItem{ProductID: p, Quantity: 1}), clerk},
		{"no lines", cashSale("k"), clerk},
		{"zero quantity", cashSale("k", stock.LineItem{ProductID: p, Quantity: 0}), clerk},
		{"negative price", cashSale("k", stock.LineItem{ProductID: p, Quantity: 1, UnitPrice: price(-1)}), clerk},
		{"missing actor", cashSale("k", stock.LineItem{ProductID: p, Quantity: 1}), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.fulfillment.FulfillDirect(ctx, tt.sale, tt.actor)
			assert.ErrorIs(t, err, stock.ErrInvalidInput)
		})
	}
	assert.Equal(t, int64(10), f.onHand(t, p))
}

func TestFulfillDirect_ConcurrentBaskets_NeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.stocked(t, "p-1", 500, 10)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.fulfillment.FulfillDirect(ctx,
				cashSale("pos-"+string(rune('a'+i)), stock.LineItem{ProductID: p, Quantity: 3}), clerk)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.True(t, errors.Is(err, stock.ErrInsufficientStock), "unexpected error: %v", err)
	}
	assert.Equal(t, 3, ok)
	assert.Equal(t, int64(1), f.onHand(t, p))
	f.requireReconciled(t)
}

// =============================================================================
// ORDER FULFILLMENT
// =============================================================================

func (f *fixture) order(t *testing.T, id string, items ...stock.OrderItem) stock.OrderID {
	t.Helper()
	customer := stock.CustomerID("cust-1")
	require.NoError(t, f.store.SaveOrder(context.Background(), &stock.Order{
		ID:            stock.OrderID(id),
		CustomerID:    &customer,
		CustomerName:  "Ada",
		PaymentMethod: "card",
		Items:         items,
	}))
	return stock.OrderID(id)
}

func TestFulfillFromOrder_MirrorsOrderLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.stocked(t, "p-a", 500, 10)
	b := f.stocked(t, "p-b", 200, 10)
	orderID := f.order(t, "ord-1",
		stock.OrderItem{ProductID: a, Quantity: 2, UnitPrice: dec("480")},
		stock.OrderItem{ProductID: b, Quantity: 1, UnitPrice: dec("200")},
	)

	sale, err := f.fulfillment.FulfillFromOrder(ctx, orderID, clerk)
	require.NoError(t, err)

	require.NotNil(t, sale.OrderID)
	assert.Equal(t, orderID, *sale.OrderID)
	assert.Equal(t, stock.PaymentPending, sale.PaymentStatus)
	assert.Equal(t, "Ada", sale.CustomerName)
	assert.True(t, dec("1160").Equal(sale.Subtotal))
	require.Len(t, sale.Items, 2)
	assert.True(t, dec("480").Equal(sale.Items[0].UnitPrice), "order price wins over catalog")
	assert.Equal(t, int64(8), f.onHand(t, a))
	assert.Equal(t, int64(9), f.onHand(t, b))
	f.requireReconciled(t)
}

func TestFulfillFromOrder_Twice_DecrementsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.stocked(t, "p-1", 500, 10)
	orderID := f.order(t, "ord-1", stock.OrderItem{ProductID: p, Quantity: 4, UnitPrice: dec("500")})

	first, err := f.fulfillment.FulfillFromOrder(ctx, orderID, clerk)
	require.NoError(t, err)

	_, err = f.fulfillment.FulfillFromOrder(ctx, orderID, clerk)

	assert.ErrorIs(t, err, stock.ErrAlreadyFulfilled)
	var dup *stock.AlreadyFulfilledError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.SaleID)
	assert.Equal(t, int64(6), f.onHand(t, p))
	assert.Len(t, f.movementsFor(t, p, stock.ReferenceSale), 1)
}

func TestFulfillFromOrder_UnknownOrder_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.fulfillment.FulfillFromOrder(context.Background(), "nope", clerk)

	var nf *stock.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "order", nf.Kind)
}

// =============================================================================
// RETURNS AND PAYMENT STATUS
// =============================================================================

func TestRecordReturn_BoundedBySoldQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.stocked(t, "p-1", 500, 10)
	sale, err := f.fulfillment.FulfillDirect(ctx, cashSale("pos-1", stock.LineItem{ProductID: p, Quantity: 3}), clerk)
	require.NoError(t, err)

	m, err := f.fulfillment.RecordReturn(ctx, sale.ID, p, 2, "wrong size", clerk)
	require.NoError(t, err)
	assert.Equal(t, stock.DirectionIn, m.Direction)
	assert.Equal(t, stock.ReferenceReturn, m.ReferenceType)
	assert.Equal(t, int64(9), f.onHand(t, p))

	_, err = f.fulfillment.RecordReturn(ctx, sale.ID, p, 2, "", clerk)
	var over *stock.OverReturnError
	require.ErrorAs(t, err, &over)
	assert.Equal(t, int64(1), over.Returnable)

	_, err = f.fulfillment.RecordReturn(ctx, sale.ID, "other", 1, "", clerk)
	assert.True(t, stock.IsNotFound(err), "product not on the sale")
	f.requireReconciled(t)
}

func TestUpdatePaymentStatus_FollowsGraph(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.stocked(t, "p-1", 500, 10)
	orderID := f.order(t, "ord-1", stock.OrderItem{ProductID: p, Quantity: 1, UnitPrice: dec("500")})
	sale, err := f.fulfillment.FulfillFromOrder(ctx, orderID, clerk)
	require.NoError(t, err)

	sale, err = f.fulfillment.UpdatePaymentStatus(ctx, sale.ID, stock.PaymentPartial, clerk)
	require.NoError(t, err)
	assert.Equal(t, stock.PaymentPartial, sale.PaymentStatus)

	sale, err = f.fulfillment.UpdatePaymentStatus(ctx, sale.ID, stock.PaymentPaid, clerk)
	require.NoError(t, err)

	_, err = f.fulfillment.UpdatePaymentStatus(ctx, sale.ID, stock.PaymentPending, clerk)
	assert.ErrorIs(t, err, stock.ErrInvalidTransition)

	_, err = f.fulfillment.UpdatePaymentStatus(ctx, sale.ID, stock.PaymentPaid, clerk)
	assert.NoError(t, err, "same status is a no-op")

	_, err = f.fulfillment.UpdatePaymentStatus(ctx, sale.ID, "bogus", clerk)
	assert.ErrorIs(t, err, stock.ErrInvalidInput)

	_, err = f.fulfillment.UpdatePaymentStatus(ctx, sale.ID, stock.PaymentRefunded, "")
	assert.ErrorIs(t, err, stock.ErrInvalidInput, "actor is required")

	stored, err := f.fulfillment.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, stock.PaymentPaid, stored.PaymentStatus)
}
