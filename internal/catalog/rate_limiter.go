package catalog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainLimiter spaces requests to the same host by a fixed delay. Each host
// gets its own limiter, so slow suppliers do not hold back the others.
type DomainLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

func NewDomainLimiter(interval time.Duration) *DomainLimiter {
	return &DomainLimiter{interval: interval, limiters: map[string]*rate.Limiter{}}
}

func (d *DomainLimiter) limiterFor(host string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lim, ok := d.limiters[host]; ok {
		return lim
	}
	limit := rate.Inf
	if d.interval > 0 {
		limit = rate.Every(d.interval)
	}
	lim := rate.NewLimiter(limit, 1)
	d.limiters[host] = lim
	return lim
}

// WaitTurn blocks until host may be called again or ctx is done.
func (d *DomainLimiter) WaitTurn(ctx context.Context, host string) error {
	return d.limiterFor(host).Wait(ctx)
}
