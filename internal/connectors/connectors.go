package connectors

import (
	"context"

	"invoicepipe/internal"
)

// MailConnector pulls recent messages from one mailbox label or folder.
type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}
