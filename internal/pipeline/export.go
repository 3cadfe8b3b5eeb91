package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"invoicepipe/internal"
	"invoicepipe/internal/storage"
)

const (
	linesSheet   = "lines"
	summarySheet = "invoice"
)

// ExportInvoice writes the purchase lines of an invoice with product state
// into an xlsx workbook.
func ExportInvoice(ctx context.Context, db *storage.DB, invoiceID, outputPath string) error {
	inv, err := db.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	rows, err := db.ExportRows(ctx, invoiceID)
	if err != nil {
		return err
	}
	return ExportRowsToXLSX(inv, rows, outputPath)
}

func ExportRowsToXLSX(inv internal.Invoice, rows []internal.InvoiceExportRow, outputPath string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName(f.GetSheetName(0), linesSheet); err != nil {
		return eris.Wrap(err, "pipeline: rename sheet")
	}

	headers := []string{
		"line_no", "manufacturer_sku", "name", "category", "quantity", "unit_price", "line_total",
		"currency", "product_status", "requires_review", "last_confidence",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(linesSheet, cell, h)
	}

	for i, row := range rows {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(linesSheet, cell, value)
		}

		set(1, row.LineNo)
		set(2, row.ManufacturerSKU)
		set(3, row.Name)
		set(4, row.Category)
		set(5, row.Quantity.InexactFloat64())
		set(6, row.UnitPrice.InexactFloat64())
		set(7, row.LineTotal.InexactFloat64())
		set(8, inv.Currency)
		set(9, row.ProductStatus)
		set(10, row.RequiresReview)
		set(11, derefInt(row.LastConfidence))
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return eris.Wrap(err, "pipeline: add summary sheet")
	}
	summary := [][2]any{
		{"invoice_id", inv.ID},
		{"supplier_code", inv.SupplierCode},
		{"invoice_number", inv.InvoiceNumber},
		{"invoice_date", derefDate(inv)},
		{"currency", inv.Currency},
		{"total", inv.Total.InexactFloat64()},
		{"status", string(inv.Status)},
		{"success_ratio", inv.SuccessRatio},
		{"original_filename", inv.OriginalFilename},
	}
	for i, kv := range summary {
		_ = f.SetCellValue(summarySheet, "A"+strconv.Itoa(i+1), kv[0])
		_ = f.SetCellValue(summarySheet, "B"+strconv.Itoa(i+1), kv[1])
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return eris.Wrap(err, "pipeline: create output dir")
	}
	return eris.Wrapf(f.SaveAs(outputPath), "pipeline: save %s", outputPath)
}

func derefInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}

func derefDate(inv internal.Invoice) string {
	if inv.InvoiceDate == nil {
		return ""
	}
	return inv.InvoiceDate.Format("2006-01-02")
}
