package catalog

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoicepipe/internal/config"
	"invoicepipe/internal/supplier"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

const searchPage = `<html><body>
<div class="product-item">
  <a href="/products/lf1142-stitched-rectangle-frames"><img src="//cdn.example.test/lf1142.jpg"></a>
  <h3 class="product-item__title">Stitched Rectangle Frames  Dies</h3>
  <p class="product-item__description">LF1142 nesting dies</p>
</div>
<div class="product-item">
  <a href="https://www.example.test/products/lf1143"><img data-src="/img/lf1143.jpg"></a>
  <h3 class="product-item__title">Stitched Square Frames</h3>
</div>
<div class="product-item"><span>empty</span></div>
</body></html>`

func testSite() supplier.LookupSite {
	return supplier.LookupSite{
		Domain:              "www.example.test",
		SearchURL:           "https://www.example.test/search?q=%s",
		ResultSelector:      ".product-item",
		TitleSelector:       ".product-item__title",
		DescriptionSelector: ".product-item__description",
		ImageSelector:       "img",
		LinkSelector:        "a",
	}
}

func testClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	cfg := config.Config{EnrichRequestDelayMs: 0, EnrichTimeoutMs: 2000, EnrichMaxRetries: 3, EnrichBackoffMs: 1}
	client := NewClient(cfg)
	client.httpClient = &http.Client{Transport: rt}
	return client
}

func htmlResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestSearchParsesResultsAfterRetry(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		require.Equal(t, "/search", r.URL.Path)
		require.Equal(t, "LF1142", r.URL.Query().Get("q"))
		if calls.Add(1) == 1 {
			return htmlResponse(http.StatusServiceUnavailable, "busy"), nil
		}
		return htmlResponse(http.StatusOK, searchPage), nil
	})

	page, err := client.Search(context.Background(), testSite(), "LF1142")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "https://www.example.test/search?q=LF1142", page.URL)
	require.Len(t, page.Results, 2)

	first := page.Results[0]
	assert.Equal(t, "Stitched Rectangle Frames Dies", first.Title)
	assert.Equal(t, "LF1142 nesting dies", first.Description)
	assert.Equal(t, "https://www.example.test/products/lf1142-stitched-rectangle-frames", first.URL)
	assert.Equal(t, "https://cdn.example.test/lf1142.jpg", first.ImageURL)
	assert.Equal(t, "https://www.example.test/img/lf1143.jpg", page.Results[1].ImageURL)
}

func TestSearchGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return htmlResponse(http.StatusTooManyRequests, ""), nil
	})

	page, err := client.Search(context.Background(), testSite(), "LF1142")
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load(), "ENRICH_MAX_RETRIES caps total tries")
	assert.Equal(t, "https://www.example.test/search?q=LF1142", page.URL)
}

func TestSearchSingleTryWhenRetriesDisabled(t *testing.T) {
	var calls atomic.Int32
	cfg := config.Config{EnrichTimeoutMs: 2000, EnrichMaxRetries: 0, EnrichBackoffMs: 1}
	client := NewClient(cfg)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return htmlResponse(http.StatusBadGateway, ""), nil
	})}

	_, err := client.Search(context.Background(), testSite(), "LF1142")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearchRetriesTimedOutRequest(t *testing.T) {
	var calls atomic.Int32
	cfg := config.Config{EnrichTimeoutMs: 20, EnrichMaxRetries: 3, EnrichBackoffMs: 1}
	client := NewClient(cfg)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			<-r.Context().Done()
			return nil, r.Context().Err()
		}
		return htmlResponse(http.StatusOK, searchPage), nil
	})}

	page, err := client.Search(context.Background(), testSite(), "LF1142")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, page.Results, 2)
}

func TestSearchGivesUpAfterRepeatedTimeouts(t *testing.T) {
	var calls atomic.Int32
	cfg := config.Config{EnrichTimeoutMs: 10, EnrichMaxRetries: 2, EnrichBackoffMs: 1}
	client := NewClient(cfg)
	client.httpClient = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		<-r.Context().Done()
		return nil, r.Context().Err()
	})}

	_, err := client.Search(context.Background(), testSite(), "LF1142")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		calls.Add(1)
		return htmlResponse(http.StatusNotFound, ""), nil
	})

	_, err := client.Search(context.Background(), testSite(), "missing item")
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSearchEmptyPage(t *testing.T) {
	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		return htmlResponse(http.StatusOK, "<html><body><p>No results</p></body></html>"), nil
	})

	page, err := client.Search(context.Background(), testSite(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, page.Results)
}

func TestSearchURLEscapesQuery(t *testing.T) {
	assert.Equal(t, "https://www.example.test/search?q=stitched+frames+%26+dies", SearchURL(testSite(), " stitched frames & dies "))
}

func TestDomainLimiterSpacesSameHost(t *testing.T) {
	limiter := NewDomainLimiter(40 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.WaitTurn(ctx, "a.test"))
	require.NoError(t, limiter.WaitTurn(ctx, "b.test"))
	assert.Less(t, time.Since(start), 30*time.Millisecond)

	require.NoError(t, limiter.WaitTurn(ctx, "a.test"))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&TransientError{Err: io.ErrUnexpectedEOF, StatusCode: 503}))
	assert.False(t, IsTransient(io.EOF))
	assert.False(t, IsTransient(nil))
}
