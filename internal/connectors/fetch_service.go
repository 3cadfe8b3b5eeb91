package connectors

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"invoicepipe/internal"
	"invoicepipe/internal/blob"
	"invoicepipe/internal/document"
	"invoicepipe/internal/pipeline"
	"invoicepipe/internal/storage"
	"invoicepipe/internal/supplier"
)

// Ingester is the part of the ingestion service mail intake needs.
type Ingester interface {
	Ingest(ctx context.Context, filename string, content []byte) (pipeline.IngestResult, error)
}

type FetchService struct {
	db        *storage.DB
	connector MailConnector
	store     *MailStoreService
	ingester  Ingester
}

type FetchResult struct {
	Fetched    int      `json:"fetched"`
	Skipped    int      `json:"skipped"`
	Ingested   int      `json:"ingested"`
	Ignored    int      `json:"ignored"`
	Failed     int      `json:"failed"`
	InvoiceIDs []string `json:"invoice_ids"`
}

func NewFetchService(db *storage.DB, blobs blob.Store, connector MailConnector, ingester Ingester) *FetchService {
	return &FetchService{
		db:        db,
		connector: connector,
		store:     NewMailStoreService(blobs),
		ingester:  ingester,
	}
}

// FetchAndIngest pulls messages, skips those already handled and ingests
// every invoice attachment. A message without attachments is tried as an
// invoice itself; messages from no known supplier are recorded as ignored.
func (s *FetchService) FetchAndIngest(ctx context.Context, label string, max int) (FetchResult, error) {
	messages, err := s.connector.FetchInbox(ctx, label, max)
	if err != nil {
		return FetchResult{}, err
	}

	res := FetchResult{Fetched: len(messages), InvoiceIDs: []string{}}
	for _, msg := range messages {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		seen, err := s.db.MailMessageSeen(ctx, msg.Provider, msg.MessageID)
		if err != nil {
			return res, err
		}
		if seen {
			res.Skipped++
			continue
		}

		status, invoiceIDs, errText := s.ingestMessage(ctx, msg)
		switch status {
		case storage.MailIngested:
			res.Ingested++
		case storage.MailIgnored:
			res.Ignored++
		default:
			res.Failed++
		}
		res.InvoiceIDs = append(res.InvoiceIDs, invoiceIDs...)
		if err := s.db.RecordMailMessage(ctx, msg, status, invoiceIDs, errText); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *FetchService) ingestMessage(ctx context.Context, msg internal.FetchedMailMessage) (string, []string, string) {
	logger := zap.L().With(zap.String("provider", msg.Provider), zap.String("message_id", msg.MessageID))

	if obj, err := s.store.Store(ctx, msg); err != nil {
		logger.Warn("archive raw message failed", zap.Error(err))
	} else {
		logger.Debug("raw message archived", zap.String("key", obj.Key))
	}

	email, err := document.ReadEmail(msg.Raw)
	if err != nil {
		return storage.MailFailed, nil, err.Error()
	}

	type upload struct {
		filename string
		content  []byte
	}
	uploads := []upload{}
	for _, att := range email.InvoiceAttachments() {
		uploads = append(uploads, upload{filename: att.Filename, content: att.Content})
	}
	if len(uploads) == 0 {
		uploads = append(uploads, upload{filename: sanitizeMessageID(msg.MessageID) + ".eml", content: msg.Raw})
	}

	invoiceIDs := []string{}
	failures := []string{}
	for _, u := range uploads {
		out, err := s.ingester.Ingest(ctx, u.filename, u.content)
		var unknown *supplier.UnknownSupplierError
		switch {
		case errors.As(err, &unknown):
			logger.Info("attachment from unknown supplier skipped", zap.String("filename", u.filename))
		case err != nil:
			logger.Error("ingest attachment failed", zap.String("filename", u.filename), zap.Error(err))
			failures = append(failures, u.filename+": "+err.Error())
		default:
			invoiceIDs = append(invoiceIDs, out.InvoiceID)
		}
	}

	switch {
	case len(invoiceIDs) > 0:
		return storage.MailIngested, invoiceIDs, strings.Join(failures, "; ")
	case len(failures) > 0:
		return storage.MailFailed, invoiceIDs, strings.Join(failures, "; ")
	default:
		return storage.MailIgnored, invoiceIDs, ""
	}
}

func sanitizeMessageID(input string) string {
	repl := strings.NewReplacer("<", "", ">", "", ":", "_", "/", "_", "\\", "_", "|", "_", "?", "_", "*", "_", " ", "_", "@", "_at_")
	out := repl.Replace(strings.TrimSpace(input))
	if len(out) > 120 {
		out = out[:120]
	}
	if out == "" {
		out = "message"
	}
	return out
}
