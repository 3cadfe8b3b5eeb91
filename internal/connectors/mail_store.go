package connectors

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"invoicepipe/internal"
	"invoicepipe/internal/blob"
)

// mailArchiveSupplier is the blob prefix raw messages are kept under.
const mailArchiveSupplier = "mail"

// MailStoreService archives raw messages next to the invoice documents.
type MailStoreService struct {
	blobs blob.Store
}

func NewMailStoreService(blobs blob.Store) *MailStoreService {
	return &MailStoreService{blobs: blobs}
}

func (s *MailStoreService) Store(ctx context.Context, msg internal.FetchedMailMessage) (blob.Object, error) {
	hashBytes := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(hashBytes[:])
	return s.blobs.Put(ctx, msg.Raw, mailArchiveSupplier+"-"+msg.Provider, hash+".eml")
}
