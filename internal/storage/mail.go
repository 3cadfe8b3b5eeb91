package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"invoicepipe/internal"
)

const (
	MailIngested = "ingested"
	MailIgnored  = "ignored"
	MailFailed   = "failed"
)

func (d *DB) MailMessageSeen(ctx context.Context, provider, messageID string) (bool, error) {
	var status string
	err := d.conn.QueryRowContext(ctx,
		`SELECT status FROM mail_messages WHERE provider = ? AND message_id = ?`, provider, messageID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "storage: read mail message")
	}
	// failed messages are retried on the next cycle
	return status != MailFailed, nil
}

func (d *DB) RecordMailMessage(ctx context.Context, msg internal.FetchedMailMessage, status string, invoiceIDs []string, errText string) error {
	now := time.Now().UTC()
	_, err := d.conn.ExecContext(ctx, `
INSERT INTO mail_messages (provider, message_id, subject, sender, received_at, status, invoice_ids, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (provider, message_id) DO UPDATE SET
  status = excluded.status,
  invoice_ids = excluded.invoice_ids,
  error = excluded.error,
  updated_at = excluded.updated_at`,
		msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, status, marshalList(invoiceIDs), errText, now, now,
	)
	return eris.Wrap(err, "storage: record mail message")
}
