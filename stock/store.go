/*
store.go - Persistence contracts for the stock engine

PURPOSE:
  Defines the boundary between engine logic and the relational backing store.
  Every stock-affecting operation runs inside Store.WithTx and talks to the
  database only through the Tx it is handed.

KEY INTERFACES:
  Store: transaction runner plus read-only queries for audit and reporting
  Tx:    the operations allowed inside one unit of work

LOCKING CONTRACT:
  Tx.LockBalance must take a pessimistic lock on the balance row (SELECT ...
  FOR UPDATE or an equivalent write lock) that is held until the transaction
  ends. Lock waits that time out surface as *BusyError.

APPEND-ONLY CONTRACT:
  Tx.InsertMovement is the only write on the ledger. There is no update or
  delete for movements.

IMPLEMENTATIONS:
  - store/sqlite: SQLite (default) and PostgreSQL dialects over sqlx
  - store/memory: In-memory store for demos and tests
*/
package stock

import (
	"context"
	"time"
)

// Store runs transactions and serves read-only queries.
type Store interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error

	GetBalance(ctx context.Context, productID ProductID) (*InventoryBalance, error)
	ListBalances(ctx context.Context) ([]InventoryBalance, error)

	// ListMovements returns the newest movements for a product first.
	// limit <= 0 means no limit.
	ListMovements(ctx context.Context, productID ProductID, limit int) ([]Movement, error)

	// MovementsInRange returns movements created in [from, to), oldest first.
	MovementsInRange(ctx context.Context, from, to time.Time) ([]Movement, error)

	// LedgerSums returns the signed ledger sum per product that has movements.
	LedgerSums(ctx context.Context) (map[ProductID]int64, error)

	GetPurchaseOrder(ctx context.Context, id PurchaseOrderID) (*PurchaseOrder, error)
	GetSale(ctx context.Context, id SaleID) (*Sale, error)

	// SalesInRange returns sale headers (without items) dated in [from, to).
	SalesInRange(ctx context.Context, from, to time.Time) ([]Sale, error)
}

// Tx is the set of operations available inside one database transaction.
// Lock*, Get* and LockBalance return *NotFoundError for missing rows;
// SaleBy* return (nil, nil) so they can be used as existence checks.
type Tx interface {
	// Balances
	LockBalance(ctx context.Context, productID ProductID) (*InventoryBalance, error)
	InsertBalance(ctx context.Context, b *InventoryBalance) error
	UpdateBalance(ctx context.Context, b *InventoryBalance) error

	// Ledger
	InsertMovement(ctx context.Context, m *Movement) (MovementID, error)
	MovementsByReference(ctx context.Context, ref ReferenceType, refID string) ([]Movement, error)

	// Catalog and checkout, read-only
	GetProduct(ctx context.Context, id ProductID) (*Product, error)
	GetOrder(ctx context.Context, id OrderID) (*Order, error)

	// NextNumber allocates the next value of a named gapless sequence.
	NextNumber(ctx context.Context, name string) (int64, error)

	// Purchasing
	InsertPurchaseOrder(ctx context.Context, po *PurchaseOrder) error
	LockPurchaseOrder(ctx context.Context, id PurchaseOrderID) (*PurchaseOrder, error)
	UpdatePurchaseOrderStatus(ctx context.Context, po *PurchaseOrder) error
	UpdateReceivedQuantity(ctx context.Context, itemID PurchaseOrderItemID, received int64) error

	// Sales
	InsertSale(ctx context.Context, s *Sale) error
	LockSale(ctx context.Context, id SaleID) (*Sale, error)
	SaleByOrderID(ctx context.Context, orderID OrderID) (*Sale, error)
	SaleByIdempotencyKey(ctx context.Context, key string) (*Sale, error)
	UpdatePaymentStatus(ctx context.Context, id SaleID, status PaymentStatus) error
}
