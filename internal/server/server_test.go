package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicepipe/internal/blob"
	"invoicepipe/internal/catalog"
	"invoicepipe/internal/config"
	"invoicepipe/internal/enrich"
	"invoicepipe/internal/pipeline"
	"invoicepipe/internal/storage"
	"invoicepipe/internal/supplier"
)

// echoLookup answers every query with a single result naming the query.
type echoLookup struct{}

func (echoLookup) Search(_ context.Context, site supplier.LookupSite, query string) (catalog.Page, error) {
	return catalog.Page{
		URL: catalog.SearchURL(site, query),
		Results: []catalog.Result{{
			Title:       query + " Stitched Rectangle Frames",
			Description: "Nested stitched rectangle dies.",
			URL:         "https://shop.example.test/products/" + strings.ToLower(query),
			ImageURL:    "https://shop.example.test/img/" + strings.ToLower(query) + ".jpg",
		}},
	}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	blobs, err := blob.NewLocalStore(filepath.Join(tmp, "blobs"), "https://files.example.test/")
	require.NoError(t, err)

	cfg := config.Config{
		ReviewSuccessThreshold: 0.8,
		PriceConflictThreshold: 0.1,
		BaseCurrency:           "USD",
		EnrichMinConfidence:    30,
		EnrichWorkers:          2,
		DownloadURLTTLMin:      10,
	}
	orch := enrich.NewOrchestrator(db, echoLookup{}, supplier.DefaultProfiles(), cfg)
	return New(db, blobs, pipeline.NewIngestionService(db, blobs, nil, cfg), orch, cfg)
}

const lawnFawnText = `Lawn Fawn Inc.
Invoice No: 1001
Invoice Date: 01/15/2025
Description  Qty  Price  Amount
LF1142 - Lawn Cuts - Stitched Rectangle Frames Dies  2  12.00  24.00
LF1143 - Lawn Cuts - Stitched Square Frames Dies  1  14.00  14.00
Invoice Total: $38.00`

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/invoices", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

type ingestBody struct {
	InvoiceID    string `json:"invoice_id"`
	SupplierCode string `json:"supplier_code"`
	LineItems    int    `json:"line_items_found"`
	DedupSummary struct {
		Created int `json:"created"`
	} `json:"dedup_summary"`
	Enqueued []string `json:"enqueued_product_ids"`
}

func TestHealth(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
}

func TestIngestEnrichAndStatus(t *testing.T) {
	h := newTestServer(t).Routes()

	rr := serve(h, uploadRequest(t, "lf-1001.txt", lawnFawnText))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	ingested := decode[ingestBody](t, rr)
	assert.Equal(t, supplier.CodeLawnFawn, ingested.SupplierCode)
	assert.Equal(t, 2, ingested.LineItems)
	assert.Equal(t, 2, ingested.DedupSummary.Created)
	require.Len(t, ingested.Enqueued, 2)

	payload, _ := json.Marshal(map[string]any{"product_ids": ingested.Enqueued})
	rr = serve(h, httptest.NewRequest(http.MethodPost, "/enrichments", bytes.NewReader(payload)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	batch := decode[enrich.BatchResult](t, rr)
	require.Len(t, batch.Results, 2)
	for _, res := range batch.Results {
		assert.Equal(t, "enriched", string(res.Status))
		assert.Equal(t, 95, res.Confidence)
		assert.Equal(t, 1, res.AttemptNumber)
	}

	rr = serve(h, httptest.NewRequest(http.MethodGet, "/products/"+ingested.Enqueued[0], nil))
	require.Equal(t, http.StatusOK, rr.Code)
	status := decode[statusView](t, rr)
	assert.Equal(t, "enriched", status.Status)
	require.Len(t, status.Attempts, 1)
	assert.Equal(t, "success", status.Attempts[0].Status)
	assert.Equal(t, 1, status.Attempts[0].AttemptNumber)
}

func TestIngestUnknownSupplier(t *testing.T) {
	h := newTestServer(t).Routes()
	rr := serve(h, uploadRequest(t, "mystery.txt", "Corner shop\nWidget  1  3.00"))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	body := decode[errorBody](t, rr)
	assert.Equal(t, "unknown_supplier", body.Error)
	assert.ElementsMatch(t, []string{supplier.CodeLawnFawn, supplier.CodeRanger, supplier.CodeCraftDirect}, body.Supported)
}

func TestIngestRejectsBadUploads(t *testing.T) {
	h := newTestServer(t).Routes()

	req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader("nope"))
	rr := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(h, uploadRequest(t, "scan.png", "\x89PNG"))
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
}

func TestDownloadURL(t *testing.T) {
	h := newTestServer(t).Routes()
	ingested := decode[ingestBody](t, serve(h, uploadRequest(t, "lf-1001.txt", lawnFawnText)))

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/invoices/"+ingested.InvoiceID+"/download", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[map[string]string](t, rr)
	assert.True(t, strings.HasPrefix(body["url"], "https://files.example.test/LAWNFAWN/"))
	assert.Contains(t, body["url"], "expires=")

	rr = serve(h, httptest.NewRequest(http.MethodGet, "/invoices/"+ingested.InvoiceID, nil))
	require.Equal(t, http.StatusOK, rr.Code)
	inv := decode[invoiceView](t, rr)
	assert.Equal(t, "1001", inv.InvoiceNumber)
	assert.Equal(t, "38.00", inv.Total)

	rr = serve(h, httptest.NewRequest(http.MethodGet, "/invoices/missing/download", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestInvoiceProducts(t *testing.T) {
	h := newTestServer(t).Routes()
	ingested := decode[ingestBody](t, serve(h, uploadRequest(t, "lf-1001.txt", lawnFawnText)))

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/invoices/"+ingested.InvoiceID+"/products", nil))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decode[struct {
		InvoiceID string        `json:"invoice_id"`
		Products  []productView `json:"products"`
	}](t, rr)
	assert.Equal(t, ingested.InvoiceID, body.InvoiceID)
	require.Len(t, body.Products, 2)
	assert.Equal(t, "LF1142", body.Products[0].ManufacturerSKU)
	assert.Equal(t, "Lawn Fawn", body.Products[0].Manufacturer)
	assert.Equal(t, "LF1143", body.Products[1].ManufacturerSKU)
	assert.Equal(t, "pending", body.Products[0].Status)

	rr = serve(h, httptest.NewRequest(http.MethodGet, "/invoices/missing/products", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEnrichmentsValidation(t *testing.T) {
	h := newTestServer(t).Routes()

	rr := serve(h, httptest.NewRequest(http.MethodPost, "/enrichments", strings.NewReader("not json")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(h, httptest.NewRequest(http.MethodPost, "/enrichments", strings.NewReader(`{"product_ids":[]}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "product_ids is required")
}

func TestManualReviewAndResolve(t *testing.T) {
	h := newTestServer(t).Routes()
	ingested := decode[ingestBody](t, serve(h, uploadRequest(t, "lf-1001.txt", lawnFawnText)))
	id := ingested.Enqueued[0]

	rr := serve(h, httptest.NewRequest(http.MethodPost, "/products/"+id+"/manual-review", strings.NewReader(`{"note":"wrong photo"}`)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	status := decode[statusView](t, rr)
	assert.Equal(t, "requires_manual_review", status.Status)
	assert.True(t, status.RequiresReview)
	assert.Equal(t, "wrong photo", status.ReviewNotes)

	rr = serve(h, httptest.NewRequest(http.MethodPost, "/products/"+id+"/resolve", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	status = decode[statusView](t, rr)
	assert.Empty(t, status.Conflicts)
	assert.True(t, status.RequiresReview)

	rr = serve(h, httptest.NewRequest(http.MethodGet, "/products/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
