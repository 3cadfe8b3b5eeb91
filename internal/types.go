package internal

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type DocumentSource string

const (
	SourceXLSX  DocumentSource = "xlsx"
	SourcePDF   DocumentSource = "pdf"
	SourceHTML  DocumentSource = "html"
	SourceEmail DocumentSource = "email"
	SourceText  DocumentSource = "text"
)

// Table is one row/column cell matrix lifted from a document.
type Table struct {
	Name string
	Rows [][]string
}

// Document is the page-ordered text and table content of one uploaded file.
type Document struct {
	Filename string
	Source   DocumentSource
	Pages    []string
	Tables   []Table
}

func (d Document) Text() string {
	return strings.Join(d.Pages, "\n")
}

type InvoiceMetadata struct {
	InvoiceNumber string
	InvoiceDate   *time.Time
	Currency      string
	Total         decimal.Decimal
}

type LineItem struct {
	LineNo          int
	RawDescription  string
	ManufacturerSKU string
	Manufacturer    string
	Category        string
	Name            string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	LineTotal       decimal.Decimal
	Currency        string
}

type InvoiceStatus string

const (
	InvoiceProcessing     InvoiceStatus = "processing"
	InvoiceCompleted      InvoiceStatus = "completed"
	InvoiceReviewRequired InvoiceStatus = "review_required"
	InvoiceFailed         InvoiceStatus = "failed"
)

type Invoice struct {
	ID                string
	SupplierCode      string
	OriginalFilename  string
	StorageKey        string
	Currency          string
	InvoiceNumber     string
	InvoiceDate       *time.Time
	Total             decimal.Decimal
	ProductsFound     int
	ProductsProcessed int
	ProductsFailed    int
	SuccessRatio      float64
	Status            InvoiceStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type ProductStatus string

const (
	ProductDraft                ProductStatus = "draft"
	ProductPending              ProductStatus = "pending"
	ProductProcessing           ProductStatus = "processing"
	ProductEnriched             ProductStatus = "enriched"
	ProductEnrichmentFailed     ProductStatus = "enrichment_failed"
	ProductRequiresManualReview ProductStatus = "requires_manual_review"
)

// ConflictNote records one significant discrepancy between the stored
// product and a later invoice line for the same SKU.
type ConflictNote struct {
	Field         string    `json:"field"`
	OldValue      string    `json:"old_value"`
	NewValue      string    `json:"new_value"`
	SourceInvoice string    `json:"source_invoice"`
	DetectedAt    time.Time `json:"detected_at"`
}

type Product struct {
	ID                  string
	SupplierCode        string
	Manufacturer        string
	ManufacturerSKU     string
	Name                string
	Description         string
	Category            string
	RawDescription      string
	PriceOriginal       decimal.Decimal
	Currency            string
	PriceNormalized     *decimal.Decimal
	ImageURLs           []string
	Status              ProductStatus
	RequiresReview      bool
	ReviewNotes         string
	Conflicts           []ConflictNote
	LastEnrichmentAt    *time.Time
	SuccessfulAttemptID *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// PurchaseLink records that an invoice contained a product.
type PurchaseLink struct {
	InvoiceID string
	ProductID string
	LineNo    int
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
	CreatedAt time.Time
}

type AttemptMethod string

const (
	MethodPrimary  AttemptMethod = "primary"
	MethodFallback AttemptMethod = "fallback"
	MethodManual   AttemptMethod = "manual"
)

type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
	AttemptPartial AttemptStatus = "partial"
)

type EnrichmentAttempt struct {
	ID            string
	ProductID     string
	AttemptNumber int
	Method        AttemptMethod
	Query         string
	URL           string
	Status        AttemptStatus
	Confidence    int
	ResultCount   int
	RawPayload    *string
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time
	DurationMs    int64
}

type DedupStatus string

const (
	DedupCreated          DedupStatus = "created"
	DedupDuplicateSkipped DedupStatus = "duplicate_skipped"
	DedupConflictFlagged  DedupStatus = "conflict_flagged"
)

type DedupSummary struct {
	Created          int `json:"created"`
	DuplicateSkipped int `json:"duplicate_skipped"`
	ConflictFlagged  int `json:"conflict_flagged"`
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type InvoiceExportRow struct {
	LineNo          int
	ManufacturerSKU string
	Name            string
	Category        string
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	LineTotal       decimal.Decimal
	ProductStatus   string
	RequiresReview  bool
	LastConfidence  *int
}
