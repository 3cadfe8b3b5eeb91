package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"invoicepipe/internal"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicateSKU is returned when an insert loses the race for a
	// manufacturer SKU that another writer committed first.
	ErrDuplicateSKU = errors.New("storage: duplicate manufacturer sku")
	// ErrNotClaimable is returned when a product is already processing or in
	// a state that blocks enrichment.
	ErrNotClaimable = errors.New("storage: product not claimable")
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrap(err, "storage: create data dir")
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "storage: open")
	}
	// One connection serializes writers; WAL keeps readers of other
	// processes unblocked.
	conn.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, eris.Wrapf(err, "storage: exec %s", pragma)
		}
	}

	db := &DB{conn: conn}
	if err := db.Migrate(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  supplier_code TEXT NOT NULL,
  original_filename TEXT NOT NULL,
  storage_key TEXT NOT NULL DEFAULT '',
  currency TEXT NOT NULL DEFAULT '',
  invoice_number TEXT NOT NULL DEFAULT '',
  invoice_date DATETIME,
  total TEXT NOT NULL DEFAULT '0',
  products_found INTEGER NOT NULL DEFAULT 0,
  products_processed INTEGER NOT NULL DEFAULT 0,
  products_failed INTEGER NOT NULL DEFAULT 0,
  success_ratio REAL NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  row_errors TEXT NOT NULL DEFAULT '[]',
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invoices_supplier ON invoices(supplier_code);

CREATE TRIGGER IF NOT EXISTS invoices_final_immutable
BEFORE UPDATE ON invoices
WHEN OLD.status IN ('completed', 'review_required', 'failed')
BEGIN
  SELECT RAISE(ABORT, 'invoice is final');
END;

CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  supplier_code TEXT NOT NULL,
  manufacturer TEXT NOT NULL DEFAULT '',
  manufacturer_sku TEXT,
  name TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  category TEXT NOT NULL DEFAULT '',
  raw_description TEXT NOT NULL DEFAULT '',
  price_original TEXT NOT NULL DEFAULT '0',
  currency TEXT NOT NULL DEFAULT '',
  price_normalized TEXT,
  image_urls TEXT NOT NULL DEFAULT '[]',
  status TEXT NOT NULL,
  requires_review INTEGER NOT NULL DEFAULT 0,
  review_notes TEXT NOT NULL DEFAULT '',
  conflicts TEXT NOT NULL DEFAULT '[]',
  last_enrichment_at DATETIME,
  successful_attempt_id TEXT,
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_products_manufacturer_sku
  ON products(manufacturer_sku) WHERE manufacturer_sku IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_products_status ON products(status);

CREATE TABLE IF NOT EXISTS purchase_links (
  invoice_id TEXT NOT NULL REFERENCES invoices(id),
  product_id TEXT NOT NULL REFERENCES products(id),
  line_no INTEGER NOT NULL,
  quantity TEXT NOT NULL DEFAULT '0',
  unit_price TEXT NOT NULL DEFAULT '0',
  line_total TEXT NOT NULL DEFAULT '0',
  created_at DATETIME NOT NULL,
  PRIMARY KEY (invoice_id, product_id)
);
CREATE INDEX IF NOT EXISTS idx_purchase_links_product ON purchase_links(product_id);

CREATE TRIGGER IF NOT EXISTS purchase_links_immutable
BEFORE UPDATE ON purchase_links
BEGIN
  SELECT RAISE(ABORT, 'purchase links are immutable');
END;

CREATE TABLE IF NOT EXISTS enrichment_attempts (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL REFERENCES products(id),
  attempt_number INTEGER NOT NULL,
  method TEXT NOT NULL,
  query TEXT NOT NULL DEFAULT '',
  url TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  confidence INTEGER NOT NULL DEFAULT 0 CHECK (confidence BETWEEN 0 AND 100),
  result_count INTEGER NOT NULL DEFAULT 0,
  raw_payload TEXT,
  error TEXT NOT NULL DEFAULT '',
  started_at DATETIME NOT NULL,
  finished_at DATETIME NOT NULL,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  UNIQUE (product_id, attempt_number)
);

CREATE TRIGGER IF NOT EXISTS enrichment_attempts_no_update
BEFORE UPDATE ON enrichment_attempts
BEGIN
  SELECT RAISE(ABORT, 'enrichment attempts are append-only');
END;

CREATE TRIGGER IF NOT EXISTS enrichment_attempts_no_delete
BEFORE DELETE ON enrichment_attempts
BEGIN
  SELECT RAISE(ABORT, 'enrichment attempts are append-only');
END;

CREATE TABLE IF NOT EXISTS mail_messages (
  provider TEXT NOT NULL,
  message_id TEXT NOT NULL,
  subject TEXT NOT NULL DEFAULT '',
  sender TEXT NOT NULL DEFAULT '',
  received_at TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  invoice_ids TEXT NOT NULL DEFAULT '[]',
  error TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL,
  updated_at DATETIME NOT NULL,
  PRIMARY KEY (provider, message_id)
);
`

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.conn.ExecContext(ctx, schema)
	return eris.Wrap(err, "storage: migrate")
}

// Tx is the set of writes the ingestion path needs inside one transaction.
type Tx interface {
	FindProductBySKU(ctx context.Context, sku string) (*internal.Product, error)
	InsertProduct(ctx context.Context, p *internal.Product) error
	AppendConflicts(ctx context.Context, productID string, notes []internal.ConflictNote) error
	TouchProduct(ctx context.Context, productID string) error
	InsertPurchaseLink(ctx context.Context, link internal.PurchaseLink) (bool, error)
}

// InTx runs fn in a transaction and commits when it returns nil.
func (d *DB) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "storage: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "storage: commit")
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlTx struct {
	tx *sql.Tx
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "storage: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}
