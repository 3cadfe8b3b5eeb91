package blob

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicepipe/internal/config"
)

func TestObjectKeyLayout(t *testing.T) {
	key := ObjectKey("LAWNFAWN", "../../Invoice 42 (final).pdf", time.Date(2026, 3, 7, 10, 0, 0, 0, time.UTC))
	assert.Regexp(t, regexp.MustCompile(`^LAWNFAWN/2026/03/[0-9a-f-]{36}-Invoice_42_final_.pdf$`), key)

	assert.True(t, strings.HasPrefix(ObjectKey("", "", time.Now()), "unknown/"))
	assert.True(t, strings.HasSuffix(ObjectKey("RANGER", "", time.Now()), "-document"))
}

func TestLocalStorePutGet(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	obj, err := store.Put(ctx, []byte("invoice bytes"), "RANGER", "inv.xlsx")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(obj.Key, "RANGER/"))
	assert.True(t, strings.HasPrefix(obj.URL, "file://"))

	data, err := store.Get(ctx, obj.Key)
	require.NoError(t, err)
	assert.Equal(t, "invoice bytes", string(data))

	link, err := store.DownloadURL(ctx, obj.Key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, obj.URL, link)
}

func TestLocalStoreDownloadURLExpires(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "https://files.example.test/docs/")
	require.NoError(t, err)
	ctx := context.Background()

	obj, err := store.Put(ctx, []byte("x"), "LAWNFAWN", "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://files.example.test/docs/"+obj.Key, obj.URL)

	before := time.Now()
	link, err := store.DownloadURL(ctx, obj.Key, 15*time.Minute)
	require.NoError(t, err)
	u, err := url.Parse(link)
	require.NoError(t, err)
	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	require.NoError(t, err)
	assert.InDelta(t, before.Add(15*time.Minute).Unix(), expires, 2)
}

func TestLocalStoreMissingAndInvalidKeys(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "RANGER/2026/01/missing.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.DownloadURL(ctx, "../etc/passwd", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(ctx, "/abs/path")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.Config{BlobProvider: "ftp"})
	require.Error(t, err)

	_, err = New(context.Background(), config.Config{BlobProvider: "gcs"})
	require.Error(t, err)

	store, err := New(context.Background(), config.Config{BlobProvider: "local", BlobDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)
}
