package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"invoicepipe/internal/blob"
	"invoicepipe/internal/config"
	"invoicepipe/internal/document"
	"invoicepipe/internal/enrich"
	"invoicepipe/internal/pipeline"
	"invoicepipe/internal/storage"
	"invoicepipe/internal/supplier"
)

const maxUploadBytes = 32 << 20

// Server exposes ingestion, enrichment and status over HTTP.
type Server struct {
	db        *storage.DB
	blobs     blob.Store
	ingestion *pipeline.IngestionService
	orch      *enrich.Orchestrator
	cfg       config.Config
}

func New(db *storage.DB, blobs blob.Store, ingestion *pipeline.IngestionService, orch *enrich.Orchestrator, cfg config.Config) *Server {
	return &Server{db: db, blobs: blobs, ingestion: ingestion, orch: orch, cfg: cfg}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", s.handleIngest)
		r.Get("/{id}", s.handleGetInvoice)
		r.Get("/{id}/download", s.handleDownload)
		r.Get("/{id}/products", s.handleInvoiceProducts)
	})
	r.Post("/enrichments", s.handleEnrich)
	r.Route("/products/{id}", func(r chi.Router) {
		r.Get("/", s.handleProductStatus)
		r.Post("/manual-review", s.handleManualReview)
		r.Post("/resolve", s.handleResolve)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("took", time.Since(start)),
		)
	})
}

type errorBody struct {
	Error     string   `json:"error"`
	Message   string   `json:"message,omitempty"`
	Supported []string `json:"supported,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var (
		unknown     *supplier.UnknownSupplierError
		unsupported *document.UnsupportedFormatError
	)
	switch {
	case errors.As(err, &unknown):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "unknown_supplier", Message: err.Error(), Supported: unknown.Supported})
	case errors.As(err, &unsupported):
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Error: "unsupported_format", Message: err.Error()})
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
	default:
		zap.L().Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal error"})
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad_request", Message: msg})
}
