package listener

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicepipe/internal"
	"invoicepipe/internal/blob"
	"invoicepipe/internal/config"
	"invoicepipe/internal/connectors"
	"invoicepipe/internal/pipeline"
	"invoicepipe/internal/storage"
)

type staticConnector struct {
	messages []internal.FetchedMailMessage
}

func (c staticConnector) FetchInbox(context.Context, string, int) ([]internal.FetchedMailMessage, error) {
	return c.messages, nil
}

var lawnFawnMail = strings.ReplaceAll(`From: billing@lawnfawn.com
Subject: Invoice 1001
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary="b1"

--b1
Content-Type: text/plain; charset=utf-8

Invoice attached.
--b1
Content-Type: text/plain; charset=utf-8
Content-Disposition: attachment; filename="lf-1001.txt"

Lawn Fawn Inc.
Invoice No: 1001
Invoice Date: 01/15/2025
Description  Qty  Price  Amount
LF1142 - Lawn Cuts - Stitched Rectangle Frames Dies  2  12.00  24.00
Invoice Total: $24.00
--b1--
`, "\n", "\r\n")

func newService(t *testing.T, cfg config.Config) (*Service, *storage.DB) {
	t.Helper()
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	blobs, err := blob.NewLocalStore(filepath.Join(tmp, "blobs"), "")
	require.NoError(t, err)

	cfg.ReviewSuccessThreshold = 0.8
	cfg.PriceConflictThreshold = 0.1
	cfg.BaseCurrency = "USD"
	ingestion := pipeline.NewIngestionService(db, blobs, nil, cfg)
	return NewService(db, blobs, ingestion, cfg), db
}

func TestRunOnceIngestsAndExports(t *testing.T) {
	out := t.TempDir()
	svc, db := newService(t, config.Config{
		MailListenerProvider:   "IMAP ",
		MailListenerLabel:      "INBOX",
		MailListenerFetchMax:   10,
		MailListenerAutoExport: true,
		OutputDir:              out,
	})
	var gotProvider string
	svc.newConnector = func(_ context.Context, provider string) (connectors.MailConnector, error) {
		gotProvider = provider
		return staticConnector{messages: []internal.FetchedMailMessage{
			{Provider: "imap", MessageID: "<1001@lawnfawn.com>", Raw: []byte(lawnFawnMail)},
		}}, nil
	}

	ctx := context.Background()
	res, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, "imap", gotProvider)
	assert.Equal(t, 1, res.Ingested)
	require.Len(t, res.InvoiceIDs, 1)

	inv, err := db.GetInvoice(ctx, res.InvoiceIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "1001", inv.InvoiceNumber)

	_, err = os.Stat(filepath.Join(out, "listener", res.InvoiceIDs[0]+".xlsx"))
	assert.NoError(t, err)

	again, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped)
	assert.Empty(t, again.InvoiceIDs)
}

func TestRunOnceUnsupportedProvider(t *testing.T) {
	svc, _ := newService(t, config.Config{MailListenerProvider: "pop3"})
	_, err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pop3")
}

func TestRunStopsOnCancel(t *testing.T) {
	svc, _ := newService(t, config.Config{MailListenerProvider: "imap", MailListenerIntervalSec: 3600})
	svc.newConnector = func(context.Context, string) (connectors.MailConnector, error) {
		return staticConnector{}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, svc.Run(ctx))
}
