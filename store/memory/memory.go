/*
Package memory provides an in-memory implementation of stock.Store.

PURPOSE:
  A dependency-free backend for demos and for exercising the engine without
  a database file. Selected with DB_DRIVER=memory; nothing survives a
  restart.

TRANSACTIONS:
  WithTx holds a single writer slot for the whole unit of work, so
  transactions run one at a time exactly like SQLite's BEGIN IMMEDIATE.
  Waiting for the slot honours the context deadline and LockTimeout; a wait
  that gives up returns *stock.BusyError.

  Rollback is snapshot based: the state is cloned before fn runs and put
  back if fn returns an error.

APPEND-ONLY:
  Movements live in a slice that is only ever appended to. Rollback
  truncates it to its pre-transaction length, which is the only way a
  movement disappears.

SEE ALSO:
  - stock/store.go: Interface definitions and locking contract
  - store/sqlite: The relational implementation
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	// LockTimeout bounds the wait for the writer slot. Zero waits until the
	// context ends.
	LockTimeout time.Duration

	writer chan struct{}
	mu     sync.RWMutex
	state  *state
}

type state struct {
	products       map[stock.ProductID]stock.Product
	orders         map[stock.OrderID]stock.Order
	balances       map[stock.ProductID]stock.InventoryBalance
	movements      []stock.Movement
	purchaseOrders map[stock.PurchaseOrderID]stock.PurchaseOrder
	sales          map[stock.SaleID]stock.Sale
	saleByOrder    map[stock.OrderID]stock.SaleID
	saleByKey      map[string]stock.SaleID
	sequences      map[string]int64
}

var _ stock.Store = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		LockTimeout: 5 * time.Second,
		writer:      make(chan struct{}, 1),
		state:       newState(),
	}
}

func newState() *state {
	return &state{
		products:       make(map[stock.ProductID]stock.Product),
		orders:         make(map[stock.OrderID]stock.Order),
		balances:       make(map[stock.ProductID]stock.InventoryBalance),
		purchaseOrders: make(map[stock.PurchaseOrderID]stock.PurchaseOrder),
		sales:          make(map[stock.SaleID]stock.Sale),
		saleByOrder:    make(map[stock.OrderID]stock.SaleID),
		saleByKey:      make(map[string]stock.SaleID),
		sequences:      make(map[string]int64),
	}
}

// clone copies every map and the slices nested in records, so mutations
// through the copy never reach the original.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		v.Items = append([]stock.OrderItem(nil), v.Items...)
		c.orders[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	c.movements = s.movements[:len(s.movements):len(s.movements)]
	for k, v := range s.purchaseOrders {
		v.Items = append([]stock.PurchaseOrderItem(nil), v.Items...)
		c.purchaseOrders[k] = v
	}
	for k, v := range s.sales {
		v.Items = append([]stock.SaleItem(nil), v.Items...)
		c.sales[k] = v
	}
	for k, v := range s.saleByOrder {
		c.saleByOrder[k] = v
	}
	for k, v := range s.saleByKey {
		c.saleByKey[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	return c
}

// WithTx executes fn within a transaction.
// If fn returns error, the state is restored from the snapshot.
func (m *Memory) WithTx(ctx context.Context, fn func(stock.Tx) error) error {
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-m.writer }()

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{s: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *Memory) acquire(ctx context.Context) error {
	if m.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.LockTimeout)
		defer cancel()
	}
	select {
	case m.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &stock.BusyError{Err: ctx.Err()}
	}
}

// Reset drops all data.
func (m *Memory) Reset(ctx context.Context) error {
	return m.WithTx(ctx, func(stock.Tx) error {
		*m.state = *newState()
		return nil
	})
}

func (m *Memory) Close() error { return nil }

// =============================================================================
// CATALOG AND CHECKOUT FEEDS
// =============================================================================

// SaveProduct inserts or updates a product. A new product also gets its
// inventory balance at zero.
func (m *Memory) SaveProduct(ctx context.Context, p *stock.Product) error {
	return m.WithTx(ctx, func(stock.Tx) error {
		now := time.Now().UTC()
		if existing, ok := m.state.products[p.ID]; ok {
			p.CreatedAt = existing.CreatedAt
		} else if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		p.UpdatedAt = now
		m.state.products[p.ID] = *p
		if _, ok := m.state.balances[p.ID]; !ok {
			m.state.balances[p.ID] = stock.InventoryBalance{ProductID: p.ID, UpdatedAt: now}
		}
		return nil
	})
}

func (m *Memory) ListProducts(_ context.Context) ([]stock.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]stock.Product, 0, len(m.state.products))
	for _, p := range m.state.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

// SaveOrder records a checkout order. Order ids are unique.
func (m *Memory) SaveOrder(ctx context.Context, o *stock.Order) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return m.WithTx(ctx, func(stock.Tx) error {
		if _, ok := m.state.orders[o.ID]; ok {
			return &stock.ValidationError{Field: "id", Message: fmt.Sprintf("order %s already recorded", o.ID)}
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = time.Now().UTC()
		}
		if o.PaymentStatus == "" {
			o.PaymentStatus = stock.PaymentPending
		}
		for i := range o.Items {
			item := &o.Items[i]
			if _, ok := m.state.products[item.ProductID]; !ok {
				return &stock.NotFoundError{Kind: "product", ID: string(item.ProductID)}
			}
			item.OrderID = o.ID
			if item.Line == 0 {
				item.Line = i + 1
			}
		}
		stored := *o
		stored.Items = append([]stock.OrderItem(nil), o.Items...)
		m.state.orders[o.ID] = stored
		return nil
	})
}

// =============================================================================
// READ QUERIES
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, productID stock.ProductID) (*stock.InventoryBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.balance(productID)
}

func (m *Memory) ListBalances(_ context.Context) ([]stock.InventoryBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]stock.InventoryBalance, 0, len(m.state.balances))
	for _, b := range m.state.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// ListMovements returns the newest movements for a product first.
func (m *Memory) ListMovements(_ context.Context, productID stock.ProductID, limit int) ([]stock.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []stock.Movement
	for i := len(m.state.movements) - 1; i >= 0; i-- {
		if mv := m.state.movements[i]; mv.ProductID == productID {
			out = append(out, mv)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MovementsInRange(_ context.Context, from, to time.Time) ([]stock.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []stock.Movement
	for _, mv := range m.state.movements {
		if !mv.CreatedAt.Before(from) && mv.CreatedAt.Before(to) {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *Memory) LedgerSums(_ context.Context) (map[stock.ProductID]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[stock.ProductID]int64)
	for _, mv := range m.state.movements {
		out[mv.ProductID] += mv.Delta()
	}
	return out, nil
}

func (m *Memory) GetPurchaseOrder(_ context.Context, id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.purchaseOrder(id)
}

func (m *Memory) GetSale(_ context.Context, id stock.SaleID) (*stock.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.sale(id)
}

// SalesInRange returns sale headers dated in [from, to), oldest first.
func (m *Memory) SalesInRange(_ context.Context, from, to time.Time) ([]stock.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []stock.Sale
	for _, s := range m.state.sales {
		if !s.SaleDate.Before(from) && s.SaleDate.Before(to) {
			s.Items = nil
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SaleDate.Equal(out[j].SaleDate) {
			return out[i].SaleDate.Before(out[j].SaleDate)
		}
		return out[i].SaleNumber < out[j].SaleNumber
	})
	return out, nil
}

// =============================================================================
// STATE ACCESSORS - return copies
// =============================================================================

func (s *state) balance(id stock.ProductID) (*stock.InventoryBalance, error) {
	b, ok := s.balances[id]
	if !ok {
		return nil, &stock.NotFoundError{Kind: "balance", ID: string(id)}
	}
	return &b, nil
}

func (s *state) purchaseOrder(id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	po, ok := s.purchaseOrders[id]
	if !ok {
		return nil, &stock.NotFoundError{Kind: "purchase_order", ID: string(id)}
	}
	po.Items = append([]stock.PurchaseOrderItem(nil), po.Items...)
	return &po, nil
}

func (s *state) sale(id stock.SaleID) (*stock.Sale, error) {
	sale, ok := s.sales[id]
	if !ok {
		return nil, &stock.NotFoundError{Kind: "sale", ID: string(id)}
	}
	sale.Items = append([]stock.SaleItem(nil), sale.Items...)
	return &sale, nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView implements stock.Tx over the live state. The caller holds the
// writer slot and the state lock for its whole lifetime.
type txView struct {
	s *state
}

func (tv *txView) LockBalance(_ context.Context, productID stock.ProductID) (*stock.InventoryBalance, error) {
	return tv.s.balance(productID)
}

func (tv *txView) InsertBalance(_ context.Context, b *stock.InventoryBalance) error {
	if _, ok := tv.s.balances[b.ProductID]; !ok {
		tv.s.balances[b.ProductID] = *b
	}
	return nil
}

func (tv *txView) UpdateBalance(_ context.Context, b *stock.InventoryBalance) error {
	if _, ok := tv.s.balances[b.ProductID]; !ok {
		return &stock.NotFoundError{Kind: "balance", ID: string(b.ProductID)}
	}
	if b.OnHand < 0 || b.Reserved < 0 || b.Reserved > b.OnHand {
		return fmt.Errorf("balance %s violates 0 <= reserved <= on_hand (%d/%d)", b.ProductID, b.Reserved, b.OnHand)
	}
	tv.s.balances[b.ProductID] = *b
	return nil
}

func (tv *txView) InsertMovement(_ context.Context, m *stock.Movement) (stock.MovementID, error) {
	row := *m
	row.ID = stock.MovementID(len(tv.s.movements) + 1)
	row.CreatedAt = row.CreatedAt.UTC()
	tv.s.movements = append(tv.s.movements, row)
	return row.ID, nil
}

func (tv *txView) MovementsByReference(_ context.Context, ref stock.ReferenceType, refID string) ([]stock.Movement, error) {
	var out []stock.Movement
	for _, mv := range tv.s.movements {
		if mv.ReferenceType == ref && mv.ReferenceID == refID {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (tv *txView) GetProduct(_ context.Context, id stock.ProductID) (*stock.Product, error) {
	p, ok := tv.s.products[id]
	if !ok {
		return nil, &stock.NotFoundError{Kind: "product", ID: string(id)}
	}
	return &p, nil
}

func (tv *txView) GetOrder(_ context.Context, id stock.OrderID) (*stock.Order, error) {
	o, ok := tv.s.orders[id]
	if !ok {
		return nil, &stock.NotFoundError{Kind: "order", ID: string(id)}
	}
	o.Items = append([]stock.OrderItem(nil), o.Items...)
	return &o, nil
}

func (tv *txView) NextNumber(_ context.Context, name string) (int64, error) {
	tv.s.sequences[name]++
	return tv.s.sequences[name], nil
}

func (tv *txView) InsertPurchaseOrder(_ context.Context, po *stock.PurchaseOrder) error {
	if _, ok := tv.s.purchaseOrders[po.ID]; ok {
		return fmt.Errorf("purchase order %s already exists", po.ID)
	}
	stored := *po
	stored.Items = append([]stock.PurchaseOrderItem(nil), po.Items...)
	tv.s.purchaseOrders[po.ID] = stored
	return nil
}

func (tv *txView) LockPurchaseOrder(_ context.Context, id stock.PurchaseOrderID) (*stock.PurchaseOrder, error) {
	return tv.s.purchaseOrder(id)
}

func (tv *txView) UpdatePurchaseOrderStatus(_ context.Context, po *stock.PurchaseOrder) error {
	stored, ok := tv.s.purchaseOrders[po.ID]
	if !ok {
		return &stock.NotFoundError{Kind: "purchase_order", ID: string(po.ID)}
	}
	stored.Status = po.Status
	stored.ReceivedDate = po.ReceivedDate
	stored.UpdatedAt = po.UpdatedAt
	tv.s.purchaseOrders[po.ID] = stored
	return nil
}

func (tv *txView) UpdateReceivedQuantity(_ context.Context, itemID stock.PurchaseOrderItemID, received int64) error {
	for id, po := range tv.s.purchaseOrders {
		for i := range po.Items {
			if po.Items[i].ID != itemID {
				continue
			}
			items := append([]stock.PurchaseOrderItem(nil), po.Items...)
			items[i].ReceivedQuantity = received
			po.Items = items
			tv.s.purchaseOrders[id] = po
			return nil
		}
	}
	return &stock.NotFoundError{Kind: "purchase_order_item", ID: string(itemID)}
}

func (tv *txView) InsertSale(_ context.Context, sale *stock.Sale) error {
	if sale.OrderID != nil {
		if _, ok := tv.s.saleByOrder[*sale.OrderID]; ok {
			return &stock.AlreadyFulfilledError{Key: string(*sale.OrderID)}
		}
	}
	if sale.IdempotencyKey != nil {
		if _, ok := tv.s.saleByKey[*sale.IdempotencyKey]; ok {
			return &stock.AlreadyFulfilledError{Key: *sale.IdempotencyKey}
		}
	}

	stored := *sale
	stored.SaleDate = stored.SaleDate.UTC()
	stored.Items = append([]stock.SaleItem(nil), sale.Items...)
	tv.s.sales[sale.ID] = stored
	if sale.OrderID != nil {
		tv.s.saleByOrder[*sale.OrderID] = sale.ID
	}
	if sale.IdempotencyKey != nil {
		tv.s.saleByKey[*sale.IdempotencyKey] = sale.ID
	}
	return nil
}

func (tv *txView) LockSale(_ context.Context, id stock.SaleID) (*stock.Sale, error) {
	return tv.s.sale(id)
}

func (tv *txView) SaleByOrderID(_ context.Context, orderID stock.OrderID) (*stock.Sale, error) {
	id, ok := tv.s.saleByOrder[orderID]
	if !ok {
		return nil, nil
	}
	return tv.s.sale(id)
}

func (tv *txView) SaleByIdempotencyKey(_ context.Context, key string) (*stock.Sale, error) {
	id, ok := tv.s.saleByKey[key]
	if !ok {
		return nil, nil
	}
	return tv.s.sale(id)
}

func (tv *txView) UpdatePaymentStatus(_ context.Context, id stock.SaleID, status stock.PaymentStatus) error {
	sale, ok := tv.s.sales[id]
	if !ok {
		return &stock.NotFoundError{Kind: "sale", ID: string(id)}
	}
	sale.PaymentStatus = status
	tv.s.sales[id] = sale
	return nil
}
