package app

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"invoicepipe/internal/blob"
	"invoicepipe/internal/catalog"
	"invoicepipe/internal/config"
	"invoicepipe/internal/enrich"
	"invoicepipe/internal/pipeline"
	"invoicepipe/internal/storage"
	"invoicepipe/internal/supplier"
)

// staleClaimAge is how long a product may sit in processing before startup
// hands it back to the pending pool.
const staleClaimAge = 15 * time.Minute

// App holds the long-lived services shared by the binaries.
type App struct {
	Cfg          config.Config
	DB           *storage.DB
	Blobs        blob.Store
	Orchestrator *enrich.Orchestrator
	Queue        *enrich.Queue
	Ingestion    *pipeline.IngestionService
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	blobs, err := blob.New(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if n, err := db.ResetStaleClaims(ctx, staleClaimAge); err != nil {
		zap.L().Warn("reset stale claims failed", zap.Error(err))
	} else if n > 0 {
		zap.L().Info("stale claims reset", zap.Int("products", n))
	}

	orch := enrich.NewOrchestrator(db, catalog.NewClient(cfg), supplier.DefaultProfiles(), cfg)
	queue := enrich.NewQueue(orch,
		enrich.WithWorkers(cfg.EnrichWorkers),
		enrich.WithQueueSize(cfg.EnrichQueueSize),
	)

	return &App{
		Cfg:          cfg,
		DB:           db,
		Blobs:        blobs,
		Orchestrator: orch,
		Queue:        queue,
		Ingestion:    pipeline.NewIngestionService(db, blobs, queue, cfg),
	}, nil
}

// Close drains queued enrichment, then releases storage handles.
func (a *App) Close(ctx context.Context) error {
	a.Queue.Shutdown(ctx)
	if c, ok := a.Blobs.(io.Closer); ok {
		_ = c.Close()
	}
	return a.DB.Close()
}
