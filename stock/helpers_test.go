package stock_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const clerk = stock.ActorID("clerk-1")

type fixture struct {
	store       *sqlite.Store
	inventory   *stock.Inventory
	receiving   *stock.Receiving
	fulfillment *stock.Fulfillment
	reports     *stock.Reports
}

// newFixture opens a file-backed SQLite store so concurrent transactions
// contend on the real database lock.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "stock.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	inv := stock.NewInventory(store, nil)
	return &fixture{
		store:       store,
		inventory:   inv,
		receiving:   stock.NewReceiving(store, inv, nil),
		fulfillment: stock.NewFulfillment(store, inv, stock.DefaultTaxRate, nil),
		reports:     stock.NewReports(store),
	}
}

func (f *fixture) product(t *testing.T, id string, price, cost int64) stock.ProductID {
	t.Helper()
	require.NoError(t, f.store.SaveProduct(context.Background(), &stock.Product{
		ID:     stock.ProductID(id),
		SKU:    "SKU-" + id,
		Name:   "Product " + id,
		Price:  decimal.NewFromInt(price),
		Cost:   decimal.NewFromInt(cost),
		Active: true,
	}))
	return stock.ProductID(id)
}

// stocked creates a product and counts qty units into inventory.
func (f *fixture) stocked(t *testing.T, id string, price, qty int64) stock.ProductID {
	t.Helper()
	p := f.product(t, id, price, price*6/10)
	if qty > 0 {
		onHand, err := f.inventory.SetAbsolute(context.Background(), p, qty, "opening count", clerk)
		require.NoError(t, err)
		require.Equal(t, qty, onHand)
	}
	return p
}

func (f *fixture) onHand(t *testing.T, id stock.ProductID) int64 {
	t.Helper()
	bal, err := f.inventory.Balance(context.Background(), id)
	require.NoError(t, err)
	return bal.OnHand
}

func (f *fixture) movementsFor(t *testing.T, id stock.ProductID, ref stock.ReferenceType) []stock.Movement {
	t.Helper()
	all, err := f.inventory.Ledger.Movements(context.Background(), id, 0)
	require.NoError(t, err)
	var out []stock.Movement
	for _, m := range all {
		if m.ReferenceType == ref {
			out = append(out, m)
		}
	}
	return out
}

// requireReconciled asserts that every balance equals its ledger sum and
// every ledger chain is continuous.
func (f *fixture) requireReconciled(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	drift, err := f.reports.Reconcile(ctx)
	require.NoError(t, err)
	require.Empty(t, drift)

	balances, err := f.store.ListBalances(ctx)
	require.NoError(t, err)
	for _, b := range balances {
		require.NoError(t, f.inventory.Ledger.Verify(ctx, b.ProductID))
	}
}

func aroundNow() stock.Range {
	now := time.Now()
	return stock.Range{From: now.Add(-time.Hour), To: now.Add(time.Hour)}
}

func price(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}
