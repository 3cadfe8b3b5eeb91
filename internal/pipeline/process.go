package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"invoicepipe/internal"
	"invoicepipe/internal/blob"
	"invoicepipe/internal/config"
	"invoicepipe/internal/currency"
	"invoicepipe/internal/dedup"
	"invoicepipe/internal/document"
	"invoicepipe/internal/parsing"
	"invoicepipe/internal/storage"
	"invoicepipe/internal/supplier"
)

// Enqueuer hands products to background enrichment.
type Enqueuer interface {
	EnqueueAll(ctx context.Context, productIDs []string, force bool) error
}

// lineDeduper applies one parsed line to the product catalogue.
type lineDeduper interface {
	Ingest(ctx context.Context, item internal.LineItem, invoiceID, supplierCode string) (dedup.Result, error)
}

type IngestionService struct {
	db         *storage.DB
	blobs      blob.Store
	queue      Enqueuer
	identifier *supplier.Identifier
	registry   *parsing.Registry
	engine     lineDeduper
	cfg        config.Config
}

// NewIngestionService wires the shipped supplier profiles and strategies.
// queue may be nil, in which case products are only marked pending.
func NewIngestionService(db *storage.DB, blobs blob.Store, queue Enqueuer, cfg config.Config) *IngestionService {
	converter := currency.NewConverter(cfg.BaseCurrency, cfg.CurrencyRates)
	return &IngestionService{
		db:         db,
		blobs:      blobs,
		queue:      queue,
		identifier: supplier.NewIdentifier(supplier.DefaultProfiles()),
		registry:   parsing.DefaultRegistry(),
		engine:     dedup.NewEngine(db, cfg.PriceConflictThreshold, converter),
		cfg:        cfg,
	}
}

func (s *IngestionService) SupportedSuppliers() []string {
	return s.identifier.Codes()
}

type IngestResult struct {
	InvoiceID          string                  `json:"invoice_id"`
	SupplierCode       string                  `json:"supplier_code"`
	SupplierConfidence float64                 `json:"supplier_confidence"`
	Status             internal.InvoiceStatus  `json:"status"`
	LineItemsFound     int                     `json:"line_items_found"`
	ParseSuccessRate   float64                 `json:"parse_success_rate"`
	DedupSummary       internal.DedupSummary   `json:"dedup_summary"`
	RowErrors          []parsing.RowParseError `json:"row_errors,omitempty"`
	StorageKey         string                  `json:"storage_key"`
	Enqueued           []string                `json:"enqueued_product_ids,omitempty"`
}

// IngestFile reads path and ingests it under its base name.
func (s *IngestionService) IngestFile(ctx context.Context, path string) (IngestResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return IngestResult{}, eris.Wrapf(err, "pipeline: read %s", path)
	}
	return s.Ingest(ctx, filepath.Base(path), content)
}

// Ingest turns one uploaded document into an invoice: identify the supplier,
// keep the original, parse line items, dedup each line against the product
// catalogue and queue new or incomplete products for enrichment.
//
// An unidentified supplier is returned as *supplier.UnknownSupplierError
// before anything is stored.
func (s *IngestionService) Ingest(ctx context.Context, filename string, content []byte) (IngestResult, error) {
	start := time.Now()
	doc, err := document.Load(filename, content)
	if err != nil {
		return IngestResult{}, err
	}

	match, err := s.identifier.Identify(doc)
	if err != nil {
		zap.L().Info("supplier not identified", zap.String("filename", filename))
		return IngestResult{}, err
	}
	strategy, err := s.registry.Get(match.SupplierCode)
	if err != nil {
		return IngestResult{}, err
	}
	logger := zap.L().With(zap.String("supplier", match.SupplierCode), zap.String("filename", filename))

	obj, err := s.blobs.Put(ctx, content, match.SupplierCode, filename)
	if err != nil {
		return IngestResult{}, err
	}

	inv := internal.Invoice{
		SupplierCode:     match.SupplierCode,
		OriginalFilename: filename,
		StorageKey:       obj.Key,
		Status:           internal.InvoiceProcessing,
	}
	if err := s.db.CreateInvoice(ctx, &inv); err != nil {
		return IngestResult{}, err
	}
	logger = logger.With(zap.String("invoice_id", inv.ID))

	// past this point the invoice must reach a terminal status, whatever
	// happens to the caller
	bg := context.WithoutCancel(ctx)
	fail := func(cause error) (IngestResult, error) {
		inv.Status = internal.InvoiceFailed
		if ferr := s.db.FinalizeInvoice(bg, inv, []parsing.RowParseError{}); ferr != nil {
			logger.Error("finalize failed invoice", zap.Error(ferr))
		}
		logger.Warn("invoice ingestion aborted",
			zap.Int("processed", inv.ProductsProcessed), zap.Int("failed", inv.ProductsFailed), zap.Error(cause))
		return IngestResult{InvoiceID: inv.ID, SupplierCode: match.SupplierCode, Status: inv.Status, StorageKey: obj.Key}, cause
	}

	parsed, err := strategy.Parse(doc)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: parse"))
	}
	inv.ProductsFound = len(parsed.Items)

	result := IngestResult{
		InvoiceID:          inv.ID,
		SupplierCode:       match.SupplierCode,
		SupplierConfidence: match.Confidence,
		LineItemsFound:     len(parsed.Items),
		ParseSuccessRate:   parsed.SuccessRatio,
		RowErrors:          parsed.RowErrors,
		StorageKey:         obj.Key,
	}

	created := []string{}
	existing := []string{}
	for _, item := range parsed.Items {
		if err := ctx.Err(); err != nil {
			return fail(eris.Wrap(err, "pipeline: ingest cancelled"))
		}
		res, err := s.engine.Ingest(ctx, item, inv.ID, match.SupplierCode)
		if err != nil {
			inv.ProductsFailed++
			logger.Error("dedup line failed", zap.Int("line", item.LineNo), zap.String("sku", item.ManufacturerSKU), zap.Error(err))
		} else {
			inv.ProductsProcessed++
			switch res.Status {
			case internal.DedupCreated:
				result.DedupSummary.Created++
				created = append(created, res.ProductID)
			case internal.DedupDuplicateSkipped:
				result.DedupSummary.DuplicateSkipped++
				existing = append(existing, res.ProductID)
			case internal.DedupConflictFlagged:
				result.DedupSummary.ConflictFlagged++
				existing = append(existing, res.ProductID)
			}
		}
		if err := s.db.UpdateInvoiceProgress(bg, inv.ID, inv.ProductsProcessed, inv.ProductsFailed); err != nil {
			return fail(err)
		}
	}
	if err := ctx.Err(); err != nil {
		return fail(eris.Wrap(err, "pipeline: ingest cancelled"))
	}

	inv.Currency = parsed.Metadata.Currency
	inv.InvoiceNumber = parsed.Metadata.InvoiceNumber
	inv.InvoiceDate = parsed.Metadata.InvoiceDate
	inv.Total = parsed.Metadata.Total
	inv.SuccessRatio = parsed.SuccessRatio
	inv.Status = internal.InvoiceCompleted
	if parsed.SuccessRatio < s.cfg.ReviewSuccessThreshold || inv.ProductsFailed > 0 {
		inv.Status = internal.InvoiceReviewRequired
	}
	rowErrors := parsed.RowErrors
	if rowErrors == nil {
		rowErrors = []parsing.RowParseError{}
	}
	if err := s.db.FinalizeInvoice(bg, inv, rowErrors); err != nil {
		return fail(err)
	}
	result.Status = inv.Status

	toEnrich, err := s.enrichable(ctx, created, existing)
	if err != nil {
		return result, err
	}
	if len(toEnrich) > 0 {
		if err := s.db.MarkPending(ctx, toEnrich); err != nil {
			return result, err
		}
		if s.queue != nil {
			if err := s.queue.EnqueueAll(ctx, toEnrich, false); err != nil {
				logger.Warn("enqueue enrichment failed", zap.Error(err))
			}
		}
		result.Enqueued = toEnrich
	}

	logger.Info("invoice ingested",
		zap.String("status", string(inv.Status)),
		zap.Int("line_items", len(parsed.Items)),
		zap.Float64("success_ratio", parsed.SuccessRatio),
		zap.Int("created", result.DedupSummary.Created),
		zap.Int("duplicate_skipped", result.DedupSummary.DuplicateSkipped),
		zap.Int("conflict_flagged", result.DedupSummary.ConflictFlagged),
		zap.Int64("took_ms", time.Since(start).Milliseconds()),
	)
	return result, nil
}

// enrichable keeps every created product and the existing ones that still
// lack a description and are not enriched, in flight or parked for review.
func (s *IngestionService) enrichable(ctx context.Context, created, existing []string) ([]string, error) {
	seen := map[string]struct{}{}
	out := []string{}
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range created {
		add(id)
	}
	for _, id := range existing {
		if _, ok := seen[id]; ok {
			continue
		}
		p, err := s.db.GetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		switch p.Status {
		case internal.ProductEnriched, internal.ProductProcessing, internal.ProductRequiresManualReview:
			continue
		}
		if p.Description == "" {
			add(id)
		}
	}
	return out, nil
}
