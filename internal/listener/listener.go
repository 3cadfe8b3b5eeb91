package listener

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"invoicepipe/internal/blob"
	"invoicepipe/internal/config"
	"invoicepipe/internal/connectors"
	gmailconnector "invoicepipe/internal/connectors/gmail"
	imapconnector "invoicepipe/internal/connectors/imap"
	"invoicepipe/internal/pipeline"
	"invoicepipe/internal/storage"
)

// Service polls a mailbox and feeds invoice mail into ingestion.
type Service struct {
	db       *storage.DB
	blobs    blob.Store
	ingester connectors.Ingester
	cfg      config.Config

	newConnector func(ctx context.Context, provider string) (connectors.MailConnector, error)
}

func NewService(db *storage.DB, blobs blob.Store, ingester connectors.Ingester, cfg config.Config) *Service {
	s := &Service{db: db, blobs: blobs, ingester: ingester, cfg: cfg}
	s.newConnector = s.makeConnector
	return s
}

// Run polls until ctx is cancelled. A failed cycle is logged and retried on
// the next tick.
func (s *Service) Run(ctx context.Context) error {
	interval := time.Duration(s.cfg.MailListenerIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("listener cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// RunOnce runs a single fetch and ingest cycle.
func (s *Service) RunOnce(ctx context.Context) (connectors.FetchResult, error) {
	start := time.Now()
	provider := s.provider()
	mailConnector, err := s.newConnector(ctx, provider)
	if err != nil {
		return connectors.FetchResult{}, err
	}

	fetchService := connectors.NewFetchService(s.db, s.blobs, mailConnector, s.ingester)
	result, err := fetchService.FetchAndIngest(ctx, s.cfg.MailListenerLabel, s.cfg.MailListenerFetchMax)
	if err != nil {
		return result, err
	}

	exported := 0
	if s.cfg.MailListenerAutoExport {
		exported, err = s.exportInvoices(ctx, result.InvoiceIDs)
		if err != nil {
			return result, err
		}
	}

	zap.L().Info("listener cycle done",
		zap.String("provider", provider),
		zap.Int("fetched", result.Fetched),
		zap.Int("skipped", result.Skipped),
		zap.Int("ingested", result.Ingested),
		zap.Int("ignored", result.Ignored),
		zap.Int("failed", result.Failed),
		zap.Int("exported", exported),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}

func (s *Service) exportInvoices(ctx context.Context, invoiceIDs []string) (int, error) {
	exported := 0
	for _, id := range invoiceIDs {
		outputPath := filepath.Join(s.cfg.OutputDir, "listener", id+".xlsx")
		if err := pipeline.ExportInvoice(ctx, s.db, id, outputPath); err != nil {
			return exported, err
		}
		exported++
	}
	return exported, nil
}

func (s *Service) provider() string {
	return strings.ToLower(strings.TrimSpace(s.cfg.MailListenerProvider))
}

func (s *Service) makeConnector(ctx context.Context, provider string) (connectors.MailConnector, error) {
	switch provider {
	case "gmail":
		return gmailconnector.NewConnector(ctx, s.cfg)
	case "imap":
		return imapconnector.NewConnector(s.cfg)
	default:
		return nil, eris.Errorf("listener: unsupported provider %q", provider)
	}
}
