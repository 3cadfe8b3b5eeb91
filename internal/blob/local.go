package blob

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// LocalStore writes documents under a directory. Download links point at
// BLOB_BASE_URL when one is configured and at the file otherwise.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, eris.New("blob: local store needs a directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrap(err, "blob: resolve directory")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrap(err, "blob: create directory")
	}
	return &LocalStore{dir: abs, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *LocalStore) Put(_ context.Context, content []byte, supplierCode, filename string) (Object, error) {
	key := ObjectKey(supplierCode, filename, time.Now())
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Object{}, eris.Wrap(err, "blob: create object directory")
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return Object{}, eris.Wrapf(err, "blob: write %s", key)
	}
	return Object{Key: key, URL: s.objectURL(key)}, nil
}

func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	if !validKey(key) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, eris.Wrapf(err, "blob: read %s", key)
}

func (s *LocalStore) DownloadURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if !validKey(key) {
		return "", ErrNotFound
	}
	if _, err := os.Stat(s.path(key)); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", eris.Wrapf(err, "blob: stat %s", key)
	}
	if s.baseURL == "" {
		return s.objectURL(key), nil
	}
	u, err := url.Parse(s.objectURL(key))
	if err != nil {
		return "", eris.Wrap(err, "blob: build download url")
	}
	q := u.Query()
	q.Set("expires", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.dir, filepath.FromSlash(key))
}

func (s *LocalStore) objectURL(key string) string {
	if s.baseURL != "" {
		return s.baseURL + "/" + key
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(s.path(key))}).String()
}
