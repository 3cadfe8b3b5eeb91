package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"invoicepipe/internal"
)

// Merge carries looked-up fields into the product. Name only fills an empty
// name; description and images replace the stored values when non-empty.
type Merge struct {
	Name        string
	Description string
	ImageURLs   []string
}

// AttemptOutcome is everything one finished attempt changes.
type AttemptOutcome struct {
	Attempt internal.EnrichmentAttempt
	// Status is the product state after the attempt: enriched or enrichment_failed.
	Status internal.ProductStatus
	Merge  *Merge
	// ReviewNote, when set, raises requires_review and is appended to the notes.
	ReviewNote string
}

// ClaimForEnrichment moves the product to processing. It fails with
// ErrNotClaimable when another worker holds it, when it is already enriched
// or when it is parked for manual review, unless force is set.
func (d *DB) ClaimForEnrichment(ctx context.Context, id string, force bool) (internal.Product, error) {
	res, err := d.conn.ExecContext(ctx, `
UPDATE products SET status = 'processing', updated_at = ?
WHERE id = ?
  AND status <> 'processing'
  AND (? OR status NOT IN ('enriched', 'requires_manual_review'))`,
		time.Now().UTC(), id, force,
	)
	if err != nil {
		return internal.Product{}, eris.Wrapf(err, "storage: claim product %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return internal.Product{}, eris.Wrap(err, "storage: rows affected")
	}

	p, err := d.GetProduct(ctx, id)
	if err != nil {
		return internal.Product{}, err
	}
	if n == 0 {
		return p, ErrNotClaimable
	}
	return p, nil
}

// ReleaseClaim returns a product stuck in processing to pending.
func (d *DB) ReleaseClaim(ctx context.Context, id string) error {
	_, err := d.conn.ExecContext(ctx,
		`UPDATE products SET status = 'pending', updated_at = ? WHERE id = ? AND status = 'processing'`,
		time.Now().UTC(), id,
	)
	return eris.Wrapf(err, "storage: release claim %s", id)
}

// ResetStaleClaims releases products left in processing by a worker that
// did not finish, e.g. after a crash.
func (d *DB) ResetStaleClaims(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE products SET status = 'pending', updated_at = ? WHERE status = 'processing' AND updated_at < ?`,
		time.Now().UTC(), time.Now().UTC().Add(-olderThan),
	)
	if err != nil {
		return 0, eris.Wrap(err, "storage: reset stale claims")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "storage: rows affected")
}

// CompleteAttempt appends the attempt with the next attempt number and
// applies the product transition in the same transaction. The attempt is
// always recorded; the transition only applies while the product is still
// processing, so a manual review set mid-attempt is kept.
func (d *DB) CompleteAttempt(ctx context.Context, out AttemptOutcome) (internal.EnrichmentAttempt, error) {
	a := out.Attempt
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return a, eris.Wrap(err, "storage: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(attempt_number), 0) + 1 FROM enrichment_attempts WHERE product_id = ?`, a.ProductID,
	).Scan(&a.AttemptNumber); err != nil {
		return a, eris.Wrap(err, "storage: next attempt number")
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO enrichment_attempts (
  id, product_id, attempt_number, method, query, url, status, confidence, result_count,
  raw_payload, error, started_at, finished_at, duration_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProductID, a.AttemptNumber, string(a.Method), a.Query, a.URL, string(a.Status), a.Confidence, a.ResultCount,
		a.RawPayload, a.Error, a.StartedAt.UTC(), a.FinishedAt.UTC(), a.DurationMs,
	); err != nil {
		return a, eris.Wrap(err, "storage: insert attempt")
	}

	now := time.Now().UTC()
	sets := []string{"status = ?", "last_enrichment_at = ?", "updated_at = ?"}
	args := []any{string(out.Status), a.FinishedAt.UTC(), now}
	if out.Status == internal.ProductEnriched {
		sets = append(sets, "successful_attempt_id = ?")
		args = append(args, a.ID)
	}
	if m := out.Merge; m != nil {
		if m.Name != "" {
			sets = append(sets, "name = CASE WHEN name = '' THEN ? ELSE name END")
			args = append(args, m.Name)
		}
		if m.Description != "" {
			sets = append(sets, "description = ?")
			args = append(args, m.Description)
		}
		if len(m.ImageURLs) > 0 {
			sets = append(sets, "image_urls = ?")
			args = append(args, marshalList(m.ImageURLs))
		}
	}
	if out.ReviewNote != "" {
		sets = append(sets,
			"requires_review = 1",
			"review_notes = CASE WHEN review_notes = '' THEN ? ELSE review_notes || char(10) || ? END",
		)
		args = append(args, out.ReviewNote, out.ReviewNote)
	}
	args = append(args, a.ProductID)

	if _, err := tx.ExecContext(ctx,
		`UPDATE products SET `+strings.Join(sets, ", ")+` WHERE id = ? AND status = 'processing'`, args...,
	); err != nil {
		return a, eris.Wrap(err, "storage: apply attempt outcome")
	}

	if err := tx.Commit(); err != nil {
		return a, eris.Wrap(err, "storage: commit attempt")
	}
	return a, nil
}

func (d *DB) ListAttempts(ctx context.Context, productID string) ([]internal.EnrichmentAttempt, error) {
	rows, err := d.conn.QueryContext(ctx, `
SELECT id, product_id, attempt_number, method, query, url, status, confidence, result_count,
       raw_payload, error, started_at, finished_at, duration_ms
FROM enrichment_attempts WHERE product_id = ? ORDER BY attempt_number ASC`, productID)
	if err != nil {
		return nil, eris.Wrap(err, "storage: list attempts")
	}
	defer rows.Close()

	out := []internal.EnrichmentAttempt{}
	for rows.Next() {
		var (
			a       internal.EnrichmentAttempt
			method  string
			status  string
			payload sql.NullString
		)
		if err := rows.Scan(
			&a.ID, &a.ProductID, &a.AttemptNumber, &method, &a.Query, &a.URL, &status, &a.Confidence, &a.ResultCount,
			&payload, &a.Error, &a.StartedAt, &a.FinishedAt, &a.DurationMs,
		); err != nil {
			return nil, eris.Wrap(err, "storage: scan attempt")
		}
		a.Method = internal.AttemptMethod(method)
		a.Status = internal.AttemptStatus(status)
		if payload.Valid {
			s := payload.String
			a.RawPayload = &s
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "storage: iterate attempts")
}
