package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"invoicepipe/internal"
	"invoicepipe/internal/enrich"
)

// handleIngest accepts a multipart upload in the "file" field.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		badRequest(w, "could not read upload")
		return
	}

	res, err := s.ingestion.Ingest(r.Context(), header.Filename, content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := s.db.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceView(inv))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	inv, err := s.db.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	ttl := s.cfg.DownloadURLTTL()
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	link, err := s.blobs.DownloadURL(r.Context(), inv.StorageKey, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"invoice_id": inv.ID,
		"url":        link,
		"expires_at": time.Now().UTC().Add(ttl).Format(time.RFC3339),
	})
}

type productView struct {
	ID              string `json:"id"`
	ManufacturerSKU string `json:"manufacturer_sku"`
	Manufacturer    string `json:"manufacturer,omitempty"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	RequiresReview  bool   `json:"requires_review"`
}

// handleInvoiceProducts lists the products linked to the invoice, in line
// order.
func (s *Server) handleInvoiceProducts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.db.GetInvoice(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	products, err := s.db.ListProductsForInvoice(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, productView{
			ID:              p.ID,
			ManufacturerSKU: p.ManufacturerSKU,
			Manufacturer:    p.Manufacturer,
			Name:            p.Name,
			Status:          string(p.Status),
			RequiresReview:  p.RequiresReview,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice_id": id, "products": out})
}

type enrichRequest struct {
	ProductIDs []string `json:"product_ids"`
	Force      bool     `json:"force"`
}

// handleEnrich runs the batch inline; the request context cancels dispatch of
// products not yet started.
func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req enrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if len(req.ProductIDs) == 0 {
		badRequest(w, "product_ids is required")
		return
	}
	writeJSON(w, http.StatusOK, s.orch.EnrichBatch(r.Context(), req.ProductIDs, req.Force))
}

func (s *Server) handleProductStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.orch.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusView(report))
}

func (s *Server) handleManualReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "invalid request body")
		return
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		note = "flagged for manual review"
	}
	id := chi.URLParam(r, "id")
	if err := s.db.MarkManualReview(r.Context(), id, note); err != nil {
		writeError(w, err)
		return
	}
	s.writeProductStatus(w, r, id)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.db.ResolveConflicts(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.writeProductStatus(w, r, id)
}

func (s *Server) writeProductStatus(w http.ResponseWriter, r *http.Request, id string) {
	report, err := s.orch.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusView(report))
}

type invoiceView struct {
	ID                string  `json:"id"`
	SupplierCode      string  `json:"supplier_code"`
	OriginalFilename  string  `json:"original_filename"`
	InvoiceNumber     string  `json:"invoice_number,omitempty"`
	InvoiceDate       string  `json:"invoice_date,omitempty"`
	Currency          string  `json:"currency,omitempty"`
	Total             string  `json:"total"`
	ProductsFound     int     `json:"products_found"`
	ProductsProcessed int     `json:"products_processed"`
	ProductsFailed    int     `json:"products_failed"`
	SuccessRatio      float64 `json:"success_ratio"`
	Status            string  `json:"status"`
}

func toInvoiceView(inv internal.Invoice) invoiceView {
	v := invoiceView{
		ID:                inv.ID,
		SupplierCode:      inv.SupplierCode,
		OriginalFilename:  inv.OriginalFilename,
		InvoiceNumber:     inv.InvoiceNumber,
		Currency:          inv.Currency,
		Total:             inv.Total.StringFixed(2),
		ProductsFound:     inv.ProductsFound,
		ProductsProcessed: inv.ProductsProcessed,
		ProductsFailed:    inv.ProductsFailed,
		SuccessRatio:      inv.SuccessRatio,
		Status:            string(inv.Status),
	}
	if inv.InvoiceDate != nil {
		v.InvoiceDate = inv.InvoiceDate.Format("2006-01-02")
	}
	return v
}

type attemptView struct {
	AttemptNumber int    `json:"attempt_number"`
	Method        string `json:"method"`
	Query         string `json:"query"`
	URL           string `json:"url,omitempty"`
	Status        string `json:"status"`
	Confidence    int    `json:"confidence"`
	ResultCount   int    `json:"result_count"`
	Error         string `json:"error,omitempty"`
	StartedAt     string `json:"started_at"`
	DurationMs    int64  `json:"duration_ms"`
}

type statusView struct {
	ProductID       string                  `json:"product_id"`
	ManufacturerSKU string                  `json:"manufacturer_sku"`
	Name            string                  `json:"name"`
	Status          string                  `json:"status"`
	RequiresReview  bool                    `json:"requires_review"`
	ReviewNotes     string                  `json:"review_notes,omitempty"`
	Conflicts       []internal.ConflictNote `json:"conflicts"`
	Attempts        []attemptView           `json:"attempts"`
}

func toStatusView(report enrich.StatusReport) statusView {
	p := report.Product
	v := statusView{
		ProductID:       p.ID,
		ManufacturerSKU: p.ManufacturerSKU,
		Name:            p.Name,
		Status:          string(p.Status),
		RequiresReview:  p.RequiresReview,
		ReviewNotes:     p.ReviewNotes,
		Conflicts:       p.Conflicts,
		Attempts:        make([]attemptView, 0, len(report.Attempts)),
	}
	if v.Conflicts == nil {
		v.Conflicts = []internal.ConflictNote{}
	}
	for _, a := range report.Attempts {
		v.Attempts = append(v.Attempts, attemptView{
			AttemptNumber: a.AttemptNumber,
			Method:        string(a.Method),
			Query:         a.Query,
			URL:           a.URL,
			Status:        string(a.Status),
			Confidence:    a.Confidence,
			ResultCount:   a.ResultCount,
			Error:         a.Error,
			StartedAt:     a.StartedAt.UTC().Format(time.RFC3339),
			DurationMs:    a.DurationMs,
		})
	}
	return v
}
