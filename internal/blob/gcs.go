package blob

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
)

// GCSStore keeps documents in a Cloud Storage bucket and hands out V4
// signed download links.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore uses the credentials file when given and application default
// credentials otherwise.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	opts := []option.ClientOption{}
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "blob: create gcs client")
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Put(ctx context.Context, content []byte, supplierCode, filename string) (Object, error) {
	key := ObjectKey(supplierCode, filename, time.Now())
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		w.ContentType = ct
	}
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return Object{}, eris.Wrapf(err, "blob: upload %s", key)
	}
	if err := w.Close(); err != nil {
		return Object{}, eris.Wrapf(err, "blob: finish upload %s", key)
	}
	return Object{Key: key, URL: s.objectURL(key)}, nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: open %s", key)
	}
	defer func() { _ = r.Close() }()
	data, err := io.ReadAll(r)
	return data, eris.Wrapf(err, "blob: read %s", key)
}

func (s *GCSStore) DownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", ErrNotFound
		}
		return "", eris.Wrapf(err, "blob: stat %s", key)
	}
	signed, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	return signed, eris.Wrapf(err, "blob: sign %s", key)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) objectURL(key string) string {
	return (&url.URL{Scheme: "gs", Host: s.bucket, Path: "/" + key}).String()
}
