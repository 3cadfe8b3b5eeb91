package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"invoicepipe/internal"
)

const invoiceColumns = `id, supplier_code, original_filename, storage_key, currency, invoice_number, invoice_date,
  total, products_found, products_processed, products_failed, success_ratio, status, created_at, updated_at`

func scanInvoice(row rowScanner) (*internal.Invoice, error) {
	var (
		inv    internal.Invoice
		date   sql.NullTime
		status string
	)
	if err := row.Scan(
		&inv.ID, &inv.SupplierCode, &inv.OriginalFilename, &inv.StorageKey, &inv.Currency, &inv.InvoiceNumber, &date,
		&inv.Total, &inv.ProductsFound, &inv.ProductsProcessed, &inv.ProductsFailed, &inv.SuccessRatio, &status,
		&inv.CreatedAt, &inv.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if date.Valid {
		t := date.Time
		inv.InvoiceDate = &t
	}
	inv.Status = internal.InvoiceStatus(status)
	return &inv, nil
}

func (d *DB) CreateInvoice(ctx context.Context, inv *internal.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	inv.CreatedAt, inv.UpdatedAt = now, now
	if inv.Status == "" {
		inv.Status = internal.InvoiceProcessing
	}

	_, err := d.conn.ExecContext(ctx, `
INSERT INTO invoices (`+invoiceColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.SupplierCode, inv.OriginalFilename, inv.StorageKey, inv.Currency, inv.InvoiceNumber, inv.InvoiceDate,
		inv.Total, inv.ProductsFound, inv.ProductsProcessed, inv.ProductsFailed, inv.SuccessRatio, string(inv.Status),
		inv.CreatedAt, inv.UpdatedAt,
	)
	return eris.Wrap(err, "storage: insert invoice")
}

func (d *DB) GetInvoice(ctx context.Context, id string) (internal.Invoice, error) {
	inv, err := scanInvoice(d.conn.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return internal.Invoice{}, eris.Wrapf(ErrNotFound, "invoice %s", id)
	}
	if err != nil {
		return internal.Invoice{}, eris.Wrapf(err, "storage: get invoice %s", id)
	}
	return *inv, nil
}

func (d *DB) ListInvoices(ctx context.Context, limit int) ([]internal.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list invoices")
	}
	defer rows.Close()

	out := []internal.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, eris.Wrap(err, "storage: scan invoice")
		}
		out = append(out, *inv)
	}
	return out, eris.Wrap(rows.Err(), "storage: iterate invoices")
}

// UpdateInvoiceProgress records running line counts while the invoice is
// still processing.
func (d *DB) UpdateInvoiceProgress(ctx context.Context, id string, processed, failed int) error {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE invoices SET products_processed = ?, products_failed = ?, updated_at = ? WHERE id = ? AND status = 'processing'`,
		processed, failed, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "storage: update invoice progress %s", id)
	}
	return checkRowsAffected(res, "processing invoice", id)
}

// FinalizeInvoice writes the parse outcome and the terminal status. The
// invoice cannot change afterwards.
func (d *DB) FinalizeInvoice(ctx context.Context, inv internal.Invoice, rowErrors any) error {
	res, err := d.conn.ExecContext(ctx, `
UPDATE invoices
SET currency = ?, invoice_number = ?, invoice_date = ?, total = ?,
    products_found = ?, products_processed = ?, products_failed = ?, success_ratio = ?,
    status = ?, row_errors = ?, updated_at = ?
WHERE id = ? AND status = 'processing'`,
		inv.Currency, inv.InvoiceNumber, inv.InvoiceDate, inv.Total,
		inv.ProductsFound, inv.ProductsProcessed, inv.ProductsFailed, inv.SuccessRatio,
		string(inv.Status), marshalList(rowErrors), time.Now().UTC(), inv.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "storage: finalize invoice %s", inv.ID)
	}
	return checkRowsAffected(res, "processing invoice", inv.ID)
}

// InvoiceRowErrors returns the stored row errors as raw JSON.
func (d *DB) InvoiceRowErrors(ctx context.Context, id string) (json.RawMessage, error) {
	var raw string
	err := d.conn.QueryRowContext(ctx, `SELECT row_errors FROM invoices WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "invoice %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "storage: read row errors")
	}
	return json.RawMessage(raw), nil
}

// ExportRows lists the purchase lines of an invoice with the product state
// and the confidence of the product's latest attempt.
func (d *DB) ExportRows(ctx context.Context, invoiceID string) ([]internal.InvoiceExportRow, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT
  l.line_no,
  COALESCE(p.manufacturer_sku, ''),
  p.name,
  p.category,
  l.quantity,
  l.unit_price,
  l.line_total,
  p.status,
  p.requires_review,
  (SELECT a.confidence FROM enrichment_attempts a
    WHERE a.product_id = p.id ORDER BY a.attempt_number DESC LIMIT 1)
FROM purchase_links l
JOIN products p ON p.id = l.product_id
WHERE l.invoice_id = ?
ORDER BY l.line_no ASC`, invoiceID)
	if err != nil {
		return nil, eris.Wrap(err, "storage: export rows")
	}
	defer rows.Close()

	out := []internal.InvoiceExportRow{}
	for rows.Next() {
		var (
			row        internal.InvoiceExportRow
			review     int
			confidence sql.NullInt64
		)
		if err := rows.Scan(
			&row.LineNo, &row.ManufacturerSKU, &row.Name, &row.Category,
			&row.Quantity, &row.UnitPrice, &row.LineTotal, &row.ProductStatus, &review, &confidence,
		); err != nil {
			return nil, eris.Wrap(err, "storage: scan export row")
		}
		row.RequiresReview = review != 0
		if confidence.Valid {
			c := int(confidence.Int64)
			row.LastConfidence = &c
		}
		out = append(out, row)
	}
	return out, eris.Wrap(rows.Err(), "storage: iterate export rows")
}
