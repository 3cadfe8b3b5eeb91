package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"invoicepipe/internal/config"
	"invoicepipe/internal/supplier"
	"invoicepipe/internal/util"
)

const (
	userAgent   = "invoicepipe/1.0 (+product-enrichment)"
	maxBackoff  = 10 * time.Second
	maxBodySize = 4 << 20
)

// Result is one product hit on a supplier search page.
type Result struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Page is a parsed search response.
type Page struct {
	URL     string   `json:"url"`
	Results []Result `json:"results"`
}

type Client struct {
	httpClient  *http.Client
	limiter     *DomainLimiter
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
}

// NewClient builds a client that makes at most cfg.EnrichMaxRetries HTTP
// tries per search, counting the first one.
func NewClient(cfg config.Config) *Client {
	return &Client{
		httpClient:  &http.Client{},
		limiter:     NewDomainLimiter(cfg.RequestDelay()),
		timeout:     cfg.RequestTimeout(),
		maxAttempts: max(cfg.EnrichMaxRetries, 1),
		backoff:     time.Duration(cfg.EnrichBackoffMs) * time.Millisecond,
	}
}

// SearchURL fills the site's search template with the escaped query.
func SearchURL(site supplier.LookupSite, query string) string {
	return fmt.Sprintf(site.SearchURL, url.QueryEscape(strings.TrimSpace(query)))
}

// Search runs one lookup against site. Transient failures are retried with
// exponential backoff; every try waits for the host's turn first.
func (c *Client) Search(ctx context.Context, site supplier.LookupSite, query string) (Page, error) {
	if strings.TrimSpace(site.SearchURL) == "" {
		return Page{}, eris.Errorf("catalog: no search url for %s", site.Domain)
	}
	target := SearchURL(site, query)
	u, err := url.Parse(target)
	if err != nil {
		return Page{}, eris.Wrapf(err, "catalog: parse search url %s", target)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.backoffFor(attempt-1)); err != nil {
				return Page{}, eris.Wrap(lastErr, "catalog: retry aborted")
			}
		}
		if err := c.limiter.WaitTurn(ctx, u.Host); err != nil {
			return Page{}, eris.Wrap(err, "catalog: rate limiter wait")
		}

		body, err := c.fetch(ctx, target)
		if err == nil {
			results, perr := parseResults(site, u, body)
			if perr != nil {
				return Page{URL: target}, perr
			}
			return Page{URL: target, Results: results}, nil
		}
		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil {
			return Page{URL: target}, err
		}
		if attempt+1 == c.maxAttempts {
			break
		}
		zap.L().Warn("catalog lookup failed, retrying",
			zap.String("url", target),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return Page{URL: target}, eris.Wrap(lastErr, "catalog: all retries exhausted")
}

func (c *Client) fetch(ctx context.Context, target string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: create request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TransientError{Err: eris.Wrapf(err, "catalog: request timed out %s", target)}
		}
		return nil, eris.Wrapf(err, "catalog: request %s", target)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransientError{Err: eris.Wrap(err, "catalog: read body")}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := eris.Errorf("catalog: status %d from %s", resp.StatusCode, target)
		if isRetryableStatus(resp.StatusCode) {
			return nil, &TransientError{Err: statusErr, StatusCode: resp.StatusCode}
		}
		return nil, statusErr
	}
	return body, nil
}

func (c *Client) backoffFor(retry int) time.Duration {
	d := time.Duration(float64(c.backoff) * math.Pow(2, float64(retry)))
	if d > maxBackoff {
		d = maxBackoff
	}
	if d <= 0 {
		return 0
	}
	// up to +25% jitter
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseResults(site supplier.LookupSite, base *url.URL, body []byte) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "catalog: parse search page")
	}

	results := []Result{}
	doc.Find(site.ResultSelector).Each(func(_ int, item *goquery.Selection) {
		r := Result{
			Title:       selectText(item, site.TitleSelector),
			Description: selectText(item, site.DescriptionSelector),
		}
		if site.LinkSelector != "" {
			if href, ok := item.Find(site.LinkSelector).First().Attr("href"); ok {
				r.URL = resolve(base, href)
			}
		}
		if site.ImageSelector != "" {
			img := item.Find(site.ImageSelector).First()
			src, ok := img.Attr("src")
			if !ok || strings.TrimSpace(src) == "" {
				src, _ = img.Attr("data-src")
			}
			r.ImageURL = resolve(base, src)
		}
		if r.Title == "" && r.URL == "" {
			return
		}
		results = append(results, r)
	})
	return results, nil
}

func selectText(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return util.NormalizeSpaces(item.Find(selector).First().Text())
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}
