package blob

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"invoicepipe/internal/config"
)

var (
	ErrNotFound   = errors.New("blob: object not found")
	reUnsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// Object is a stored document.
type Object struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Store keeps original invoice documents.
type Store interface {
	Put(ctx context.Context, content []byte, supplierCode, filename string) (Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	// DownloadURL returns a link to key that stops working after ttl.
	DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// New picks the store named by BLOB_PROVIDER.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.BlobProvider {
	case "", "local":
		return NewLocalStore(cfg.BlobDir, cfg.BlobBaseURL)
	case "gcs":
		if err := cfg.Require("GCS_BUCKET", cfg.GCSBucket); err != nil {
			return nil, err
		}
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentials)
	default:
		return nil, eris.Errorf("blob: unsupported provider %q", cfg.BlobProvider)
	}
}

// ObjectKey lays documents out as <supplier>/<yyyy>/<mm>/<uuid>-<filename>.
func ObjectKey(supplierCode, filename string, now time.Time) string {
	supplierCode = sanitize(supplierCode)
	if supplierCode == "" {
		supplierCode = "unknown"
	}
	name := sanitize(filepath.Base(strings.ReplaceAll(filename, "\\", "/")))
	if name == "" || name == "." {
		name = "document"
	}
	now = now.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%s-%s", supplierCode, now.Year(), int(now.Month()), uuid.New().String(), name)
}

func sanitize(s string) string {
	return strings.Trim(reUnsafeChars.ReplaceAllString(strings.TrimSpace(s), "_"), "_")
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
