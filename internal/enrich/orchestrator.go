package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"invoicepipe/internal"
	"invoicepipe/internal/catalog"
	"invoicepipe/internal/config"
	"invoicepipe/internal/storage"
	"invoicepipe/internal/supplier"
	"invoicepipe/internal/util"
)

// Lookup searches a supplier site. *catalog.Client is the production one.
type Lookup interface {
	Search(ctx context.Context, site supplier.LookupSite, query string) (catalog.Page, error)
}

type Store interface {
	ClaimForEnrichment(ctx context.Context, id string, force bool) (internal.Product, error)
	ReleaseClaim(ctx context.Context, id string) error
	CompleteAttempt(ctx context.Context, out storage.AttemptOutcome) (internal.EnrichmentAttempt, error)
	GetProduct(ctx context.Context, id string) (internal.Product, error)
	ListAttempts(ctx context.Context, productID string) ([]internal.EnrichmentAttempt, error)
}

// Result is the outcome of one Enrich call.
type Result struct {
	ProductID     string                 `json:"product_id"`
	Status        internal.ProductStatus `json:"status"`
	Confidence    int                    `json:"confidence"`
	AttemptNumber int                    `json:"attempt_number"`
	Error         string                 `json:"error,omitempty"`
}

type BatchResult struct {
	Results []Result `json:"results"`
	// Skipped counts products never dispatched because the batch was cancelled.
	Skipped int `json:"skipped"`
}

type StatusReport struct {
	Product  internal.Product             `json:"product"`
	Attempts []internal.EnrichmentAttempt `json:"attempts"`
}

type Orchestrator struct {
	store         Store
	lookup        Lookup
	sites         map[string]supplier.LookupSite
	prefixes      []string
	minConfidence int
	workers       int
}

// NewOrchestrator wires the lookup sites of every profile, with
// LOOKUP_URL_<CODE> overriding a site's search template.
func NewOrchestrator(store Store, lookup Lookup, profiles []supplier.Profile, cfg config.Config) *Orchestrator {
	sites := map[string]supplier.LookupSite{}
	for _, p := range profiles {
		site := p.Lookup
		if override, ok := cfg.LookupURLOverrides[p.Code]; ok {
			site.SearchURL = override
		}
		sites[p.Code] = site
	}
	workers := cfg.EnrichWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Orchestrator{
		store:         store,
		lookup:        lookup,
		sites:         sites,
		prefixes:      supplier.AllResalePrefixes(profiles),
		minConfidence: cfg.EnrichMinConfidence,
		workers:       workers,
	}
}

// Enrich runs one attempt for the product. Attempt-level failures (bad SKU,
// lookup errors, no results) are recorded and reported in Result; the error
// is reserved for products that cannot be claimed or stored.
func (o *Orchestrator) Enrich(ctx context.Context, productID string, force bool) (Result, error) {
	product, err := o.store.ClaimForEnrichment(ctx, productID, force)
	if err != nil {
		if errors.Is(err, storage.ErrNotClaimable) {
			return Result{ProductID: productID, Status: product.Status, Error: err.Error()}, err
		}
		return Result{ProductID: productID}, err
	}

	logger := zap.L().With(zap.String("product_id", productID), zap.String("sku", product.ManufacturerSKU))
	attempt, outcome := o.run(ctx, product)

	// the attempt is recorded even when the caller gave up meanwhile
	saved, err := o.store.CompleteAttempt(context.WithoutCancel(ctx), outcome)
	if err != nil {
		if relErr := o.store.ReleaseClaim(context.WithoutCancel(ctx), productID); relErr != nil {
			logger.Error("release claim failed", zap.Error(relErr))
		}
		return Result{ProductID: productID, Status: internal.ProductPending}, eris.Wrap(err, "enrich: record attempt")
	}

	// the transition is skipped when the product left processing mid-attempt
	status := outcome.Status
	if current, err := o.store.GetProduct(context.WithoutCancel(ctx), productID); err != nil {
		logger.Warn("reload product after attempt failed", zap.Error(err))
	} else {
		status = current.Status
	}

	logger.Info("enrichment attempt finished",
		zap.Int("attempt", saved.AttemptNumber),
		zap.String("method", string(saved.Method)),
		zap.String("attempt_status", string(saved.Status)),
		zap.Int("confidence", saved.Confidence),
		zap.String("status", string(status)),
	)
	return Result{
		ProductID:     productID,
		Status:        status,
		Confidence:    saved.Confidence,
		AttemptNumber: saved.AttemptNumber,
		Error:         attempt.Error,
	}, nil
}

func (o *Orchestrator) run(ctx context.Context, product internal.Product) (internal.EnrichmentAttempt, storage.AttemptOutcome) {
	started := time.Now().UTC()
	attempt := internal.EnrichmentAttempt{
		ProductID: product.ID,
		Method:    internal.MethodPrimary,
		Status:    internal.AttemptFailed,
		StartedAt: started,
	}
	outcome := storage.AttemptOutcome{Status: internal.ProductEnrichmentFailed}
	finish := func() (internal.EnrichmentAttempt, storage.AttemptOutcome) {
		attempt.FinishedAt = time.Now().UTC()
		attempt.DurationMs = attempt.FinishedAt.Sub(started).Milliseconds()
		outcome.Attempt = attempt
		return attempt, outcome
	}

	key, err := LookupKey(product.ManufacturerSKU, o.prefixes)
	if err != nil {
		attempt.Query = product.ManufacturerSKU
		attempt.Error = err.Error()
		return finish()
	}
	attempt.Query = key

	site, ok := o.sites[product.SupplierCode]
	if !ok || site.SearchURL == "" {
		attempt.Error = fmt.Sprintf("enrich: no lookup site for supplier %s", product.SupplierCode)
		return finish()
	}

	page, searchErr := o.lookup.Search(ctx, site, key)
	name := strings.TrimSpace(product.Name)
	if (searchErr != nil || len(page.Results) == 0) && name != "" && ctx.Err() == nil {
		if searchErr != nil {
			zap.L().Debug("primary lookup failed, trying name",
				zap.String("product_id", product.ID), zap.Error(searchErr))
		}
		attempt.Method = internal.MethodFallback
		attempt.Query = name
		page, searchErr = o.lookup.Search(ctx, site, name)
	}
	attempt.URL = page.URL
	attempt.ResultCount = len(page.Results)
	if searchErr != nil {
		attempt.Error = searchErr.Error()
		return finish()
	}

	if raw, err := json.Marshal(page); err == nil {
		attempt.RawPayload = util.StringPtr(string(raw))
	}

	attempt.Confidence = Confidence(page.Results, key)
	switch {
	case attempt.ResultCount > 0 && attempt.Confidence >= o.minConfidence:
		attempt.Status = internal.AttemptSuccess
		best := bestResult(page.Results, key)
		merge := &storage.Merge{Name: best.Title, Description: best.Description}
		if best.ImageURL != "" {
			merge.ImageURLs = []string{best.ImageURL}
		}
		outcome.Status = internal.ProductEnriched
		outcome.Merge = merge
	case attempt.ResultCount > 0:
		attempt.Status = internal.AttemptPartial
		outcome.ReviewNote = fmt.Sprintf("ambiguous lookup: %d results for %q (confidence %d)",
			attempt.ResultCount, attempt.Query, attempt.Confidence)
	default:
		attempt.Error = "no results"
	}
	return finish()
}

// EnrichBatch enriches each product once with at most cfg.EnrichWorkers in
// flight. Cancelling ctx stops dispatch; attempts already running finish and
// are recorded.
func (o *Orchestrator) EnrichBatch(ctx context.Context, productIDs []string, force bool) BatchResult {
	ids := uniqueIDs(productIDs)
	results := make([]Result, len(ids))

	var g errgroup.Group
	g.SetLimit(o.workers)
	dispatched := 0
	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		dispatched++
		i, id := i, id
		g.Go(func() error {
			res, err := o.Enrich(context.WithoutCancel(ctx), id, force)
			if err != nil && res.Error == "" {
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{Results: results[:dispatched], Skipped: len(ids) - dispatched}
	if out.Skipped > 0 {
		zap.L().Warn("enrichment batch cancelled",
			zap.Int("dispatched", dispatched), zap.Int("skipped", out.Skipped))
	}
	return out
}

// Status returns the product with its attempts in attempt order.
func (o *Orchestrator) Status(ctx context.Context, productID string) (StatusReport, error) {
	p, err := o.store.GetProduct(ctx, productID)
	if err != nil {
		return StatusReport{}, err
	}
	attempts, err := o.store.ListAttempts(ctx, productID)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{Product: p, Attempts: attempts}, nil
}

func uniqueIDs(ids []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
