package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"invoicepipe/internal"
	"invoicepipe/internal/currency"
	"invoicepipe/internal/storage"
	"invoicepipe/internal/util"
)

// Store is the transactional part of storage.DB the engine needs.
type Store interface {
	InTx(ctx context.Context, fn func(storage.Tx) error) error
}

type Result struct {
	Status    internal.DedupStatus
	ProductID string
	Conflicts []internal.ConflictNote
	// Linked is false when the invoice already referenced the product.
	Linked bool
}

// Engine keeps one product per manufacturer SKU and records every
// invoice that referenced it.
type Engine struct {
	store          Store
	priceThreshold float64
	converter      *currency.Converter
	now            func() time.Time
}

func NewEngine(store Store, priceThreshold float64, converter *currency.Converter) *Engine {
	return &Engine{
		store:          store,
		priceThreshold: priceThreshold,
		converter:      converter,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Ingest creates the product on first sighting of its SKU, otherwise links
// the existing product and flags significant differences. Lines without a
// SKU always create a product.
func (e *Engine) Ingest(ctx context.Context, item internal.LineItem, invoiceID, supplierCode string) (Result, error) {
	var res Result
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		existing, err := tx.FindProductBySKU(ctx, item.ManufacturerSKU)
		if err != nil {
			return err
		}
		if existing == nil {
			res, err = e.create(ctx, tx, item, invoiceID, supplierCode)
			return err
		}
		res, err = e.merge(ctx, tx, existing, item, invoiceID)
		return err
	})

	if errors.Is(err, storage.ErrDuplicateSKU) {
		// another writer committed the SKU between lookup and insert
		zap.L().Info("dedup: lost insert race, retrying as existing product",
			zap.String("sku", item.ManufacturerSKU),
			zap.String("invoice_id", invoiceID),
		)
		err = e.store.InTx(ctx, func(tx storage.Tx) error {
			existing, err := tx.FindProductBySKU(ctx, item.ManufacturerSKU)
			if err != nil {
				return err
			}
			if existing == nil {
				return eris.Wrapf(storage.ErrDuplicateSKU, "sku %s not visible after conflict", item.ManufacturerSKU)
			}
			res, err = e.merge(ctx, tx, existing, item, invoiceID)
			return err
		})
	}
	if err != nil {
		return Result{}, eris.Wrapf(err, "dedup: ingest line %d", item.LineNo)
	}
	return res, nil
}

func (e *Engine) create(ctx context.Context, tx storage.Tx, item internal.LineItem, invoiceID, supplierCode string) (Result, error) {
	p := &internal.Product{
		SupplierCode:    supplierCode,
		Manufacturer:    item.Manufacturer,
		ManufacturerSKU: item.ManufacturerSKU,
		Name:            item.Name,
		Category:        item.Category,
		RawDescription:  item.RawDescription,
		PriceOriginal:   item.UnitPrice,
		Currency:        item.Currency,
		Status:          internal.ProductDraft,
	}
	if e.converter != nil {
		p.PriceNormalized = e.converter.Normalize(item.UnitPrice, item.Currency)
	}
	if err := tx.InsertProduct(ctx, p); err != nil {
		return Result{}, err
	}
	linked, err := tx.InsertPurchaseLink(ctx, purchaseLink(item, invoiceID, p.ID))
	if err != nil {
		return Result{}, err
	}
	return Result{Status: internal.DedupCreated, ProductID: p.ID, Linked: linked}, nil
}

func (e *Engine) merge(ctx context.Context, tx storage.Tx, existing *internal.Product, item internal.LineItem, invoiceID string) (Result, error) {
	linked, err := tx.InsertPurchaseLink(ctx, purchaseLink(item, invoiceID, existing.ID))
	if err != nil {
		return Result{}, err
	}

	notes := e.Diff(*existing, item, invoiceID)
	if len(notes) == 0 {
		if err := tx.TouchProduct(ctx, existing.ID); err != nil {
			return Result{}, err
		}
		return Result{Status: internal.DedupDuplicateSkipped, ProductID: existing.ID, Linked: linked}, nil
	}

	if err := tx.AppendConflicts(ctx, existing.ID, notes); err != nil {
		return Result{}, err
	}
	zap.L().Info("dedup: conflict flagged",
		zap.String("product_id", existing.ID),
		zap.String("sku", existing.ManufacturerSKU),
		zap.String("invoice_id", invoiceID),
		zap.Int("fields", len(notes)),
	)
	return Result{Status: internal.DedupConflictFlagged, ProductID: existing.ID, Conflicts: notes, Linked: linked}, nil
}

func purchaseLink(item internal.LineItem, invoiceID, productID string) internal.PurchaseLink {
	return internal.PurchaseLink{
		InvoiceID: invoiceID,
		ProductID: productID,
		LineNo:    item.LineNo,
		Quantity:  item.Quantity,
		UnitPrice: item.UnitPrice,
		LineTotal: item.LineTotal,
	}
}

// Diff returns one note per significant field. Text fields differ when their
// case-folded, whitespace-collapsed forms differ; an empty value on either
// side is not a disagreement. Prices differ when the relative change exceeds
// the threshold; unknown (zero) prices are not compared.
func (e *Engine) Diff(stored internal.Product, item internal.LineItem, invoiceID string) []internal.ConflictNote {
	now := e.now()
	notes := []internal.ConflictNote{}
	note := func(field, oldValue, newValue string) {
		notes = append(notes, internal.ConflictNote{
			Field:         field,
			OldValue:      oldValue,
			NewValue:      newValue,
			SourceInvoice: invoiceID,
			DetectedAt:    now,
		})
	}

	if textDiffers(stored.Name, item.Name) {
		note("name", stored.Name, item.Name)
	}
	if e.priceDiffers(stored, item) {
		note("price", stored.PriceOriginal.StringFixed(2), item.UnitPrice.StringFixed(2))
	}
	if textDiffers(stored.Category, item.Category) {
		note("category", stored.Category, item.Category)
	}
	return notes
}

func textDiffers(stored, incoming string) bool {
	a, b := util.NormalizeText(stored), util.NormalizeText(incoming)
	if a == "" || b == "" {
		return false
	}
	return a != b
}

func (e *Engine) priceDiffers(stored internal.Product, item internal.LineItem) bool {
	if !stored.PriceOriginal.IsPositive() || !item.UnitPrice.IsPositive() {
		return false
	}
	old, incoming := stored.PriceOriginal, item.UnitPrice
	if stored.Currency != item.Currency && e.converter != nil {
		a := e.converter.Normalize(old, stored.Currency)
		b := e.converter.Normalize(incoming, item.Currency)
		if a == nil || b == nil {
			return false
		}
		old, incoming = *a, *b
	}
	return util.RelativeDelta(old, incoming) > e.priceThreshold
}
