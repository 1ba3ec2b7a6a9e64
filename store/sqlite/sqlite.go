/*
Package sqlite provides the relational implementation of stock.Store.

PURPOSE:
  Implements stock.Store and stock.Tx over sqlx. SQLite is the default
  dialect (tests, single-node deployments); the same code runs against
  PostgreSQL through the pgx stdlib driver with a small dialect table.

INTERFACES IMPLEMENTED:
  stock.Store: Transaction runner, balance/ledger/sale/purchase queries
  stock.Tx:    Everything a unit of work may do

ROW LOCKING:
  PostgreSQL: LockBalance, LockPurchaseOrder and LockSale use
              SELECT ... FOR UPDATE. SET LOCAL lock_timeout bounds the wait.
  SQLite:     has no row locks. Every transaction is opened with
              BEGIN IMMEDIATE (_txlock=immediate), which takes the database
              write lock up front, so writers serialize before their first
              read. _busy_timeout bounds the wait.
  Either way a lock wait that gives up surfaces as *stock.BusyError.

APPEND-ONLY ENFORCEMENT:
  There is no UPDATE or DELETE on movement_ledger anywhere in this package,
  and a trigger rejects both at the database level.

WAL MODE:
  SQLite is opened with WAL so report readers never block the writer.

USAGE:
  store, err := sqlite.New("./data/stock.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  inventory := stock.NewInventory(store, logger)

MIGRATION:
  Schema is auto-migrated on Open. For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - stock/store.go: Interface definitions and locking contract
  - schema.go: Tables, constraints, triggers
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/warp/stock-engine/stock"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"

	DefaultLockTimeout = 5 * time.Second
)

// Options configures Open. Zero values fall back to SQLite with the default
// lock timeout.
type Options struct {
	Driver       string
	DSN          string
	LockTimeout  time.Duration
	MaxOpenConns int
}

type dialect struct {
	schema    []string
	forUpdate string
	// setLockTimeout runs at the start of every transaction, if set.
	setLockTimeout string
}

// Store implements stock.Store.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

var _ stock.Store = (*Store)(nil)

// New opens a SQLite store at dbPath. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	return Open(Options{Driver: DriverSQLite, DSN: dbPath})
}

// Open connects, applies the dialect settings, and migrates the schema.
func Open(opts Options) (*Store, error) {
	if opts.Driver == "" {
		opts.Driver = DriverSQLite
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	var (
		dsn = opts.DSN
		d   dialect
	)
	switch opts.Driver {
	case DriverSQLite:
		dsn = sqliteDSN(opts.DSN, opts.LockTimeout)
		d = dialect{schema: sqliteSchema}
	case DriverPostgres:
		d = dialect{
			schema:         postgresSchema,
			forUpdate:      " FOR UPDATE",
			setLockTimeout: fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", opts.LockTimeout.Milliseconds()),
		}
	default:
		return nil, fmt.Errorf("unsupported driver %q", opts.Driver)
	}

	db, err := sqlx.Open(opts.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	switch {
	case opts.Driver == DriverSQLite && strings.HasPrefix(opts.DSN, ":memory:"):
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	store := &Store{db: db, dialect: d}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func sqliteDSN(path string, lockTimeout time.Duration) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate",
		path, sep, lockTimeout.Milliseconds())
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Reset drops and recreates every table (for tests and demos). It is the
// only way rows ever leave movement_ledger.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range resetTables {
		stmt := "DROP TABLE IF EXISTS " + table
		if s.db.DriverName() == DriverPostgres {
			stmt += " CASCADE"
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return s.migrate(ctx)
}

// =============================================================================
// TRANSACTIONS (stock.Store.WithTx)
// =============================================================================

// WithTx executes fn within a database transaction. Errors from fn roll back;
// a nil return commits.
func (s *Store) WithTx(ctx context.Context, fn func(stock.Tx) error) error {
	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return translate(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer sqlTx.Rollback()

	if s.dialect.setLockTimeout != "" {
		if _, err := sqlTx.ExecContext(ctx, s.dialect.setLockTimeout); err != nil {
			return translate(err)
		}
	}

	if err := fn(&txStore{tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return translate(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return nil
}

type txStore struct {
	tx      *sqlx.Tx
	dialect dialect
}

var _ stock.Tx = (*txStore)(nil)

// =============================================================================
// ERROR TRANSLATION
// =============================================================================

// translate maps lock-wait failures to *stock.BusyError and leaves every
// other error untouched.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if isBusy(err) {
		return &stock.BusyError{Err: err}
	}
	return err
}

func isBusy(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", // lock_not_available
			"40001", // serialization_failure
			"40P01": // deadlock_detected
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// =============================================================================
// QUERY HELPERS
// =============================================================================
//
// Queries are written with ? placeholders and rebound for the driver, so the
// same text serves SQLite and PostgreSQL.

func get(ctx context.Context, q sqlx.ExtContext, dest any, query string, args ...any) error {
	return translate(sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...))
}

func selectAll(ctx context.Context, q sqlx.ExtContext, dest any, query string, args ...any) error {
	return translate(sqlx.SelectContext(ctx, q, dest, q.Rebind(query), args...))
}

func exec(ctx context.Context, q sqlx.ExtContext, query string, args ...any) (sql.Result, error) {
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	return res, translate(err)
}

// getOne is get with sql.ErrNoRows mapped to *stock.NotFoundError.
func getOne(ctx context.Context, q sqlx.ExtContext, dest any, kind, id, query string, args ...any) error {
	err := get(ctx, q, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return &stock.NotFoundError{Kind: kind, ID: id}
	}
	return err
}

// execOne fails with *stock.NotFoundError when no row was affected.
func execOne(ctx context.Context, q sqlx.ExtContext, kind, id, query string, args ...any) error {
	res, err := exec(ctx, q, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &stock.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// nextNumber bumps a named counter and returns its new value.
func nextNumber(ctx context.Context, q sqlx.ExtContext, name string) (int64, error) {
	var value int64
	err := get(ctx, q, &value, `
		INSERT INTO number_sequences (name, value) VALUES (?, 1)
		ON CONFLICT (name) DO UPDATE SET value = number_sequences.value + 1
		RETURNING value
	`, name)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s number: %w", name, err)
	}
	return value, nil
}

func (ts *txStore) NextNumber(ctx context.Context, name string) (int64, error) {
	return nextNumber(ctx, ts.tx, name)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
