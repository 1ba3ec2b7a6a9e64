/*
scheduler.go - Periodic ledger reconciliation

PURPOSE:
  Every balance must equal the signed sum of its product's ledger. The
  engine guarantees this inside each transaction; the scheduler checks it
  from the outside so drift caused by manual database edits or bugs is
  noticed in hours, not at the next stock-take.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Calls Reports.Reconcile, which compares balances with ledger sums
  - Logs each drifting product at Error and a summary at Info
  - Never corrects anything; correction is a stock-take decision

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewReconciliationScheduler(handler.Reports, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ReconciliationReport (same check on demand)
  - stock/report.go: Reconcile
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/stock-engine/stock"
)

// ReconciliationScheduler runs the ledger reconciliation on a ticker.
type ReconciliationScheduler struct {
	Reports       *stock.Reports
	Logger        *zap.Logger
	CheckInterval time.Duration
	Enabled       bool

	// OnDrift, when set, receives every non-empty result.
	OnDrift func([]stock.Drift)

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(reports *stock.Reports, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Reports:       reports,
		Logger:        logger.Named("reconcile"),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled || rs.CheckInterval <= 0 {
		rs.Logger.Info("Scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.stop = make(chan bool)
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run()

	rs.Logger.Info("Scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		close(rs.stop)
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("Scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run() {
	defer rs.wg.Done()

	// Run immediately on start
	rs.check()

	for {
		select {
		case <-rs.ticker.C:
			rs.check()
		case <-rs.stop:
			return
		}
	}
}

func (rs *ReconciliationScheduler) check() {
	ctx, cancel := context.WithTimeout(context.Background(), rs.CheckInterval)
	defer cancel()

	start := time.Now()
	drift, err := rs.Reports.Reconcile(ctx)
	if err != nil {
		rs.Logger.Error("Reconciliation failed", zap.Error(err))
		return
	}

	for _, d := range drift {
		rs.Logger.Error("Balance does not match ledger",
			zap.String("product_id", string(d.ProductID)),
			zap.Int64("on_hand", d.OnHand),
			zap.Int64("ledger_sum", d.LedgerSum),
		)
	}
	rs.Logger.Info("Reconciliation complete",
		zap.Int("drifting_products", len(drift)),
		zap.Duration("duration", time.Since(start)),
	)

	if len(drift) > 0 && rs.OnDrift != nil {
		rs.OnDrift(drift)
	}
}
