package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"invoicepipe/internal/storage"
)

var ErrQueueClosed = errors.New("enrich: queue is shutting down")

type Job struct {
	ProductID string
	Force     bool
}

// Queue runs enrichment jobs in the background on a fixed pool of workers.
type Queue struct {
	orch    *Orchestrator
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

// WithProcessTimeout bounds a single job, lookups and retries included.
func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewQueue(orch *Orchestrator, opts ...Option) *Queue {
	q := &Queue{
		orch:    orch,
		workers: 5,
		timeout: 2 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				for job := range q.ch {
					q.process(workerID, job)
				}
				zap.L().Debug("enrichment worker stopped", zap.Int("worker_id", workerID))
			}(i + 1)
		}
	})
}

func (q *Queue) process(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	res, err := q.orch.Enrich(ctx, job.ProductID, job.Force)
	switch {
	case errors.Is(err, storage.ErrNotClaimable):
		zap.L().Debug("product not claimable, skipped",
			zap.Int("worker_id", workerID), zap.String("product_id", job.ProductID), zap.String("status", string(res.Status)))
	case err != nil:
		zap.L().Error("enrichment failed",
			zap.Int("worker_id", workerID), zap.String("product_id", job.ProductID), zap.Error(err))
	}
}

// Enqueue hands a job to the pool. When the buffer is full it blocks until a
// worker frees a slot or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		return nil
	default:
	}
	zap.L().Warn("enrichment queue full, applying backpressure", zap.String("product_id", job.ProductID))
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnqueueAll enqueues a job per product id and stops at the first failure.
func (q *Queue) EnqueueAll(ctx context.Context, productIDs []string, force bool) error {
	for _, id := range productIDs {
		if err := q.Enqueue(ctx, Job{ProductID: id, Force: force}); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops intake and waits for queued jobs to drain or ctx to end.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		zap.L().Warn("enrichment queue shutdown interrupted")
	case <-done:
		zap.L().Info("enrichment queue drained")
	}
}
