package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"invoicepipe/internal"
)

const productColumns = `id, supplier_code, manufacturer, manufacturer_sku, name, description, category,
  raw_description, price_original, currency, price_normalized, image_urls, status, requires_review,
  review_notes, conflicts, last_enrichment_at, successful_attempt_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*internal.Product, error) {
	var (
		p              internal.Product
		sku            sql.NullString
		normalized     decimal.NullDecimal
		imagesJSON     string
		conflictsJSON  string
		status         string
		requiresReview int
		lastEnrichment sql.NullTime
		successful     sql.NullString
	)
	if err := row.Scan(
		&p.ID, &p.SupplierCode, &p.Manufacturer, &sku, &p.Name, &p.Description, &p.Category,
		&p.RawDescription, &p.PriceOriginal, &p.Currency, &normalized, &imagesJSON, &status, &requiresReview,
		&p.ReviewNotes, &conflictsJSON, &lastEnrichment, &successful, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.ManufacturerSKU = sku.String
	if normalized.Valid {
		v := normalized.Decimal
		p.PriceNormalized = &v
	}
	_ = json.Unmarshal([]byte(imagesJSON), &p.ImageURLs)
	_ = json.Unmarshal([]byte(conflictsJSON), &p.Conflicts)
	p.Status = internal.ProductStatus(status)
	p.RequiresReview = requiresReview != 0
	if lastEnrichment.Valid {
		t := lastEnrichment.Time
		p.LastEnrichmentAt = &t
	}
	if successful.Valid {
		id := successful.String
		p.SuccessfulAttemptID = &id
	}
	return &p, nil
}

func nullableSKU(sku string) any {
	if strings.TrimSpace(sku) == "" {
		return nil
	}
	return sku
}

func nullableDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func marshalList(v any) string {
	blob, err := json.Marshal(v)
	if err != nil || string(blob) == "null" {
		return "[]"
	}
	return string(blob)
}

func findProductBySKU(ctx context.Context, q execer, sku string) (*internal.Product, error) {
	if strings.TrimSpace(sku) == "" {
		return nil, nil
	}
	p, err := scanProduct(q.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE manufacturer_sku = ?`, sku))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "storage: find product by sku %s", sku)
	}
	return p, nil
}

// FindProductBySKU is an exact, case-sensitive lookup. An empty SKU never matches.
func (d *DB) FindProductBySKU(ctx context.Context, sku string) (*internal.Product, error) {
	return findProductBySKU(ctx, d.conn, sku)
}

func (t *sqlTx) FindProductBySKU(ctx context.Context, sku string) (*internal.Product, error) {
	return findProductBySKU(ctx, t.tx, sku)
}

// InsertProduct assigns an id and timestamps when missing. A losing insert
// for an existing manufacturer SKU returns ErrDuplicateSKU.
func (t *sqlTx) InsertProduct(ctx context.Context, p *internal.Product) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = internal.ProductDraft
	}

	_, err := t.tx.ExecContext(ctx, `
INSERT INTO products (`+productColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SupplierCode, p.Manufacturer, nullableSKU(p.ManufacturerSKU), p.Name, p.Description, p.Category,
		p.RawDescription, p.PriceOriginal, p.Currency, nullableDecimal(p.PriceNormalized), marshalList(p.ImageURLs),
		string(p.Status), boolInt(p.RequiresReview), p.ReviewNotes, marshalList(p.Conflicts),
		p.LastEnrichmentAt, p.SuccessfulAttemptID, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateSKU
	}
	return eris.Wrap(err, "storage: insert product")
}

// AppendConflicts adds notes to the product and raises requires_review.
func (t *sqlTx) AppendConflicts(ctx context.Context, productID string, notes []internal.ConflictNote) error {
	var existing string
	err := t.tx.QueryRowContext(ctx, `SELECT conflicts FROM products WHERE id = ?`, productID).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "product %s", productID)
	}
	if err != nil {
		return eris.Wrap(err, "storage: read conflicts")
	}

	all := []internal.ConflictNote{}
	_ = json.Unmarshal([]byte(existing), &all)
	all = append(all, notes...)

	res, err := t.tx.ExecContext(ctx,
		`UPDATE products SET conflicts = ?, requires_review = 1, updated_at = ? WHERE id = ?`,
		marshalList(all), time.Now().UTC(), productID,
	)
	if err != nil {
		return eris.Wrap(err, "storage: append conflicts")
	}
	return checkRowsAffected(res, "product", productID)
}

func (t *sqlTx) TouchProduct(ctx context.Context, productID string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE products SET updated_at = ? WHERE id = ?`, time.Now().UTC(), productID)
	if err != nil {
		return eris.Wrap(err, "storage: touch product")
	}
	return checkRowsAffected(res, "product", productID)
}

// InsertPurchaseLink reports false when the (invoice, product) pair already exists.
func (t *sqlTx) InsertPurchaseLink(ctx context.Context, link internal.PurchaseLink) (bool, error) {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	res, err := t.tx.ExecContext(ctx, `
INSERT INTO purchase_links (invoice_id, product_id, line_no, quantity, unit_price, line_total, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (invoice_id, product_id) DO NOTHING`,
		link.InvoiceID, link.ProductID, link.LineNo, link.Quantity, link.UnitPrice, link.LineTotal, link.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrap(err, "storage: insert purchase link")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "storage: rows affected")
	}
	return n > 0, nil
}

func (d *DB) GetProduct(ctx context.Context, id string) (internal.Product, error) {
	p, err := scanProduct(d.conn.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return internal.Product{}, eris.Wrapf(ErrNotFound, "product %s", id)
	}
	if err != nil {
		return internal.Product{}, eris.Wrapf(err, "storage: get product %s", id)
	}
	return *p, nil
}

func (d *DB) queryProducts(ctx context.Context, query string, args ...any) ([]internal.Product, error) {
	rows, err := d.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "storage: query products")
	}
	defer rows.Close()

	out := []internal.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, eris.Wrap(err, "storage: scan product")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "storage: iterate products")
}

// ProductsBySKU returns every row carrying the SKU. More than one row means
// the uniqueness invariant is broken.
func (d *DB) ProductsBySKU(ctx context.Context, sku string) ([]internal.Product, error) {
	return d.queryProducts(ctx, `SELECT `+productColumns+` FROM products WHERE manufacturer_sku = ? ORDER BY created_at`, sku)
}

func (d *DB) CountProducts(ctx context.Context) (int, error) {
	var n int
	err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n)
	return n, eris.Wrap(err, "storage: count products")
}

// ListEnrichable returns products that have never been enriched or whose
// last attempt failed, oldest first.
func (d *DB) ListEnrichable(ctx context.Context, limit int) ([]internal.Product, error) {
	if limit <= 0 {
		limit = 100
	}
	return d.queryProducts(ctx, `
SELECT `+productColumns+` FROM products
WHERE status IN ('draft', 'pending', 'enrichment_failed')
ORDER BY updated_at ASC
LIMIT ?`, limit)
}

func (d *DB) ListProductsForInvoice(ctx context.Context, invoiceID string) ([]internal.Product, error) {
	return d.queryProducts(ctx, `
SELECT `+prefixed("p.", productColumns)+` FROM products p
JOIN purchase_links l ON l.product_id = p.id
WHERE l.invoice_id = ?
ORDER BY l.line_no`, invoiceID)
}

func (d *DB) ListPurchaseLinks(ctx context.Context, productID string) ([]internal.PurchaseLink, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT invoice_id, product_id, line_no, quantity, unit_price, line_total, created_at
FROM purchase_links WHERE product_id = ? ORDER BY created_at, invoice_id`, productID)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list purchase links")
	}
	defer rows.Close()

	out := []internal.PurchaseLink{}
	for rows.Next() {
		var l internal.PurchaseLink
		if err := rows.Scan(&l.InvoiceID, &l.ProductID, &l.LineNo, &l.Quantity, &l.UnitPrice, &l.LineTotal, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "storage: scan purchase link")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "storage: iterate purchase links")
}

// MarkPending moves draft and failed products into the enrichment queue state.
func (d *DB) MarkPending(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if _, err := d.conn.ExecContext(ctx,
			`UPDATE products SET status = 'pending', updated_at = ? WHERE id = ? AND status IN ('draft', 'enrichment_failed')`,
			time.Now().UTC(), id,
		); err != nil {
			return eris.Wrapf(err, "storage: mark pending %s", id)
		}
	}
	return nil
}

// MarkManualReview is allowed from any state.
func (d *DB) MarkManualReview(ctx context.Context, id, note string) error {
	res, err := d.conn.ExecContext(ctx, `
UPDATE products
SET status = 'requires_manual_review',
    requires_review = 1,
    review_notes = CASE WHEN review_notes = '' THEN ? ELSE review_notes || char(10) || ? END,
    updated_at = ?
WHERE id = ?`, note, note, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "storage: mark manual review %s", id)
	}
	return checkRowsAffected(res, "product", id)
}

// ResolveConflicts clears the conflict notes. requires_review stays raised
// while the product is parked for manual review.
func (d *DB) ResolveConflicts(ctx context.Context, id string) error {
	res, err := d.conn.ExecContext(ctx, `
UPDATE products
SET conflicts = '[]',
    requires_review = CASE WHEN status = 'requires_manual_review' THEN 1 ELSE 0 END,
    updated_at = ?
WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "storage: resolve conflicts %s", id)
	}
	return checkRowsAffected(res, "product", id)
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
