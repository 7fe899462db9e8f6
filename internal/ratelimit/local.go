package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Local keeps one limiter per key in process memory. Used when Redis is not
// configured; budgets are per replica.
type Local struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idle     time.Duration
	lastGC   time.Time
	now      func() time.Time
}

type entry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewLocal allows burst requests per key, refilled at perSecond. Keys idle
// longer than idle are forgotten.
func NewLocal(burst int, perSecond float64, idle time.Duration) *Local {
	return &Local{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
	}
}

// Allow consumes a token for key.
func (l *Local) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.gc(now)
	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1), nil
}

func (l *Local) gc(now time.Time) {
	if l.idle <= 0 || now.Sub(l.lastGC) < l.idle {
		return
	}
	l.lastGC = now
	for k, e := range l.limiters {
		if now.Sub(e.seen) > l.idle {
			delete(l.limiters, k)
		}
	}
}
