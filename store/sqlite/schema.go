package sqlite

// =============================================================================
// SCHEMA
// =============================================================================
//
// Each dialect lists its statements in dependency order. All statements are
// idempotent so migrate can run on every Open.
//
// KEY CONSTRAINTS:
//   inventory_balances:  on_hand >= 0, 0 <= reserved <= on_hand
//   movement_ledger:     quantity > 0, delta = +/- quantity, append-only trigger
//   purchase_order_items: 0 <= received_quantity <= quantity_ordered
//   sales:               order_id and idempotency_key are unique (double
//                        fulfillment guard)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		price TEXT NOT NULL DEFAULT '0',
		cost TEXT NOT NULL DEFAULT '0',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS inventory_balances (
		product_id TEXT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
		on_hand INTEGER NOT NULL DEFAULT 0 CHECK (on_hand >= 0),
		reserved INTEGER NOT NULL DEFAULT 0 CHECK (reserved >= 0 AND reserved <= on_hand),
		reorder_level INTEGER NOT NULL DEFAULT 0 CHECK (reorder_level >= 0),
		reorder_quantity INTEGER NOT NULL DEFAULT 0 CHECK (reorder_quantity >= 0),
		updated_at TIMESTAMP NOT NULL
	)`,

	// Append-only ledger of every stock change
	`CREATE TABLE IF NOT EXISTS movement_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id TEXT NOT NULL REFERENCES products(id),
		direction TEXT NOT NULL CHECK (direction IN ('in', 'out', 'adjustment')),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		delta INTEGER NOT NULL CHECK (delta = quantity OR delta = -quantity),
		quantity_before INTEGER NOT NULL,
		quantity_after INTEGER NOT NULL CHECK (quantity_after >= 0),
		reference_type TEXT NOT NULL CHECK (reference_type IN ('purchase', 'sale', 'adjustment', 'return')),
		reference_id TEXT,
		unit_cost TEXT NOT NULL DEFAULT '0',
		notes TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_movement_ledger_product
		ON movement_ledger(product_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_movement_ledger_reference
		ON movement_ledger(reference_type, reference_id) WHERE reference_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_movement_ledger_created
		ON movement_ledger(created_at)`,
	`CREATE TRIGGER IF NOT EXISTS movement_ledger_no_update
		BEFORE UPDATE ON movement_ledger
		BEGIN SELECT RAISE(ABORT, 'movement_ledger is append-only'); END`,
	`CREATE TRIGGER IF NOT EXISTS movement_ledger_no_delete
		BEFORE DELETE ON movement_ledger
		BEGIN SELECT RAISE(ABORT, 'movement_ledger is append-only'); END`,

	`CREATE TABLE IF NOT EXISTS purchase_orders (
		id TEXT PRIMARY KEY,
		supplier_id TEXT NOT NULL,
		order_number TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL CHECK (status IN ('pending', 'ordered', 'received', 'cancelled')),
		order_date TIMESTAMP NOT NULL,
		expected_delivery TIMESTAMP,
		received_date TIMESTAMP,
		total_amount TEXT NOT NULL DEFAULT '0',
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_order_items (
		id TEXT PRIMARY KEY,
		purchase_order_id TEXT NOT NULL REFERENCES purchase_orders(id),
		line_number INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity_ordered INTEGER NOT NULL CHECK (quantity_ordered > 0),
		unit_cost TEXT NOT NULL DEFAULT '0',
		received_quantity INTEGER NOT NULL DEFAULT 0
			CHECK (received_quantity >= 0 AND received_quantity <= quantity_ordered),
		UNIQUE (purchase_order_id, line_number)
	)`,

	// Checkout orders, written by the order subsystem
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT,
		customer_name TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		payment_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		line_number INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (order_id, line_number)
	)`,

	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		sale_number TEXT NOT NULL UNIQUE,
		order_id TEXT UNIQUE REFERENCES orders(id),
		idempotency_key TEXT UNIQUE,
		customer_id TEXT,
		customer_name TEXT NOT NULL DEFAULT '',
		subtotal TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		payment_status TEXT NOT NULL CHECK (payment_status IN ('pending', 'paid', 'partial', 'refunded')),
		sale_date TIMESTAMP NOT NULL,
		created_by TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_date ON sales(sale_date)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		line_number INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		line_total TEXT NOT NULL,
		UNIQUE (sale_id, line_number)
	)`,

	`CREATE TABLE IF NOT EXISTS number_sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		price NUMERIC(14,2) NOT NULL DEFAULT 0,
		cost NUMERIC(14,2) NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS inventory_balances (
		product_id TEXT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
		on_hand BIGINT NOT NULL DEFAULT 0 CHECK (on_hand >= 0),
		reserved BIGINT NOT NULL DEFAULT 0 CHECK (reserved >= 0 AND reserved <= on_hand),
		reorder_level BIGINT NOT NULL DEFAULT 0 CHECK (reorder_level >= 0),
		reorder_quantity BIGINT NOT NULL DEFAULT 0 CHECK (reorder_quantity >= 0),
		updated_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS movement_ledger (
		id BIGSERIAL PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id),
		direction TEXT NOT NULL CHECK (direction IN ('in', 'out', 'adjustment')),
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		delta BIGINT NOT NULL CHECK (delta = quantity OR delta = -quantity),
		quantity_before BIGINT NOT NULL,
		quantity_after BIGINT NOT NULL CHECK (quantity_after >= 0),
		reference_type TEXT NOT NULL CHECK (reference_type IN ('purchase', 'sale', 'adjustment', 'return')),
		reference_id TEXT,
		unit_cost NUMERIC(14,2) NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		actor_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_movement_ledger_product
		ON movement_ledger(product_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_movement_ledger_reference
		ON movement_ledger(reference_type, reference_id) WHERE reference_id IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_movement_ledger_created
		ON movement_ledger(created_at)`,
	`CREATE OR REPLACE FUNCTION movement_ledger_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'movement_ledger is append-only';
	END;
	$$ LANGUAGE plpgsql`,
	`DROP TRIGGER IF EXISTS movement_ledger_append_only ON movement_ledger`,
	`CREATE TRIGGER movement_ledger_append_only
		BEFORE UPDATE OR DELETE ON movement_ledger
		FOR EACH ROW EXECUTE FUNCTION movement_ledger_append_only()`,

	`CREATE TABLE IF NOT EXISTS purchase_orders (
		id TEXT PRIMARY KEY,
		supplier_id TEXT NOT NULL,
		order_number TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL CHECK (status IN ('pending', 'ordered', 'received', 'cancelled')),
		order_date TIMESTAMPTZ NOT NULL,
		expected_delivery TIMESTAMPTZ,
		received_date TIMESTAMPTZ,
		total_amount NUMERIC(14,2) NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS purchase_order_items (
		id TEXT PRIMARY KEY,
		purchase_order_id TEXT NOT NULL REFERENCES purchase_orders(id),
		line_number INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity_ordered BIGINT NOT NULL CHECK (quantity_ordered > 0),
		unit_cost NUMERIC(14,2) NOT NULL DEFAULT 0,
		received_quantity BIGINT NOT NULL DEFAULT 0
			CHECK (received_quantity >= 0 AND received_quantity <= quantity_ordered),
		UNIQUE (purchase_order_id, line_number)
	)`,

	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT,
		customer_name TEXT NOT NULL DEFAULT '',
		payment_method TEXT NOT NULL DEFAULT '',
		payment_status TEXT NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		line_number INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(14,2) NOT NULL DEFAULT 0,
		PRIMARY KEY (order_id, line_number)
	)`,

	`CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		sale_number TEXT NOT NULL UNIQUE,
		order_id TEXT UNIQUE REFERENCES orders(id),
		idempotency_key TEXT UNIQUE,
		customer_id TEXT,
		customer_name TEXT NOT NULL DEFAULT '',
		subtotal NUMERIC(14,2) NOT NULL,
		tax_amount NUMERIC(14,2) NOT NULL,
		total_amount NUMERIC(14,2) NOT NULL,
		payment_method TEXT NOT NULL DEFAULT '',
		payment_status TEXT NOT NULL CHECK (payment_status IN ('pending', 'paid', 'partial', 'refunded')),
		sale_date TIMESTAMPTZ NOT NULL,
		created_by TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sales_date ON sales(sale_date)`,
	`CREATE TABLE IF NOT EXISTS sale_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		line_number INTEGER NOT NULL,
		product_id TEXT NOT NULL REFERENCES products(id),
		quantity BIGINT NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(14,2) NOT NULL,
		line_total NUMERIC(14,2) NOT NULL,
		UNIQUE (sale_id, line_number)
	)`,

	`CREATE TABLE IF NOT EXISTS number_sequences (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
}

// resetTables lists every table in reverse dependency order.
var resetTables = []string{
	"sale_items", "sales", "order_items", "orders",
	"purchase_order_items", "purchase_orders",
	"movement_ledger", "inventory_balances", "products", "number_sequences",
}
