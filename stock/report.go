/*
report.go - Read-only reporting projections

PURPOSE:
  Aggregates sales, ledger movements and balances for back-office screens.
  Nothing here writes; queries run outside the mutation transactions with
  the store's default read isolation.

PROJECTIONS:
  SalesSummary:     count, revenue, average ticket, paid vs pending amounts
  FinancialSummary: income, cost of goods sold, purchases, profit
  LowStock:         balances at or below their reorder level
  Reconcile:        products whose stored balance disagrees with the ledger

RANGES:
  Every range is half-open [From, To) in UTC. A zero To means "now".
*/
package stock

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

type Range struct {
	From time.Time
	To   time.Time
}

func (r Range) normalize(now time.Time) (Range, error) {
	if r.To.IsZero() {
		r.To = now
	}
	r.From, r.To = r.From.UTC(), r.To.UTC()
	if !r.From.Before(r.To) {
		return r, invalid("range", "from must be before to")
	}
	return r, nil
}

// SalesSummary counts every sale in range. Revenue and the average exclude
// refunded sales, whose total is reported separately.
type SalesSummary struct {
	Range          Range
	Count          int
	Revenue        decimal.Decimal
	Average        decimal.Decimal
	PaidAmount     decimal.Decimal
	PendingAmount  decimal.Decimal
	RefundedAmount decimal.Decimal
}

// FinancialSummary is the income statement for a range. Income is net of
// tax; cost of goods sold is valued at the cost carried on sale movements
// minus returns.
type FinancialSummary struct {
	Range        Range
	Income       decimal.Decimal
	TaxCollected decimal.Decimal
	CostOfGoods  decimal.Decimal
	Purchases    decimal.Decimal
	Expense      decimal.Decimal
	Profit       decimal.Decimal
}

// Drift is one product whose balance no longer matches its ledger.
type Drift struct {
	ProductID ProductID
	OnHand    int64
	LedgerSum int64
}

type Reports struct {
	Store Store
	now   func() time.Time
}

func NewReports(store Store) *Reports {
	return &Reports{Store: store, now: time.Now}
}

func (r *Reports) SalesSummary(ctx context.Context, rng Range) (out *SalesSummary, err error) {
	ctx, span := startSpan(ctx, "stock.Reports.SalesSummary")
	defer func() { endSpan(span, err) }()

	rng, err = rng.normalize(r.now())
	if err != nil {
		return nil, err
	}
	sales, err := r.Store.SalesInRange(ctx, rng.From, rng.To)
	if err != nil {
		return nil, err
	}

	out = &SalesSummary{
		Range:          rng,
		Count:          len(sales),
		Revenue:        decimal.Zero,
		Average:        decimal.Zero,
		PaidAmount:     decimal.Zero,
		PendingAmount:  decimal.Zero,
		RefundedAmount: decimal.Zero,
	}
	counted := 0
	for _, s := range sales {
		switch s.PaymentStatus {
		case PaymentRefunded:
			out.RefundedAmount = out.RefundedAmount.Add(s.TotalAmount)
			continue
		case PaymentPaid:
			out.PaidAmount = out.PaidAmount.Add(s.TotalAmount)
		case PaymentPending, PaymentPartial:
			out.PendingAmount = out.PendingAmount.Add(s.TotalAmount)
		}
		out.Revenue = out.Revenue.Add(s.TotalAmount)
		counted++
	}
	if counted > 0 {
		out.Average = out.Revenue.Div(decimal.NewFromInt(int64(counted))).Round(2)
	}
	span.SetAttributes(attribute.Int("sales", out.Count))
	return out, nil
}

func (r *Reports) FinancialSummary(ctx context.Context, rng Range) (out *FinancialSummary, err error) {
	ctx, span := startSpan(ctx, "stock.Reports.FinancialSummary")
	defer func() { endSpan(span, err) }()

	rng, err = rng.normalize(r.now())
	if err != nil {
		return nil, err
	}
	sales, err := r.Store.SalesInRange(ctx, rng.From, rng.To)
	if err != nil {
		return nil, err
	}
	movements, err := r.Store.MovementsInRange(ctx, rng.From, rng.To)
	if err != nil {
		return nil, err
	}

	out = &FinancialSummary{
		Range:        rng,
		Income:       decimal.Zero,
		TaxCollected: decimal.Zero,
		CostOfGoods:  decimal.Zero,
		Purchases:    decimal.Zero,
	}
	for _, s := range sales {
		if s.PaymentStatus == PaymentRefunded {
			continue
		}
		out.Income = out.Income.Add(s.Subtotal)
		out.TaxCollected = out.TaxCollected.Add(s.TaxAmount)
	}
	for _, m := range movements {
		value := m.UnitCost.Mul(decimal.NewFromInt(m.Quantity))
		switch m.ReferenceType {
		case ReferenceSale:
			out.CostOfGoods = out.CostOfGoods.Add(value)
		case ReferenceReturn:
			out.CostOfGoods = out.CostOfGoods.Sub(value)
		case ReferencePurchase:
			out.Purchases = out.Purchases.Add(value)
		}
	}
	out.Expense = out.CostOfGoods
	out.Profit = out.Income.Sub(out.Expense)
	return out, nil
}

// LowStock returns balances whose available quantity is at or below their
// reorder level, lowest available first.
func (r *Reports) LowStock(ctx context.Context) ([]InventoryBalance, error) {
	balances, err := r.Store.ListBalances(ctx)
	if err != nil {
		return nil, err
	}
	var out []InventoryBalance
	for _, b := range balances {
		if b.NeedsReorder() {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Available() != out[j].Available() {
			return out[i].Available() < out[j].Available()
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

// Reconcile compares every balance with its ledger sum. An empty result means
// the books agree.
func (r *Reports) Reconcile(ctx context.Context) (drift []Drift, err error) {
	ctx, span := startSpan(ctx, "stock.Reports.Reconcile")
	defer func() { endSpan(span, err) }()

	balances, err := r.Store.ListBalances(ctx)
	if err != nil {
		return nil, err
	}
	sums, err := r.Store.LedgerSums(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[ProductID]bool, len(balances))
	for _, b := range balances {
		seen[b.ProductID] = true
		if sums[b.ProductID] != b.OnHand {
			drift = append(drift, Drift{ProductID: b.ProductID, OnHand: b.OnHand, LedgerSum: sums[b.ProductID]})
		}
	}
	for id, sum := range sums {
		if !seen[id] && sum != 0 {
			drift = append(drift, Drift{ProductID: id, LedgerSum: sum})
		}
	}
	sort.Slice(drift, func(i, j int) bool { return drift[i].ProductID < drift[j].ProductID })
	span.SetAttributes(attribute.Int("drift", len(drift)))
	return drift, nil
}
