package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"reelforge/internal/telemetry"
)

// ErrPoolExhausted is returned when every loaded candidate failed validation.
var ErrPoolExhausted = errors.New("proxy pool exhausted")

// Pool holds the process-wide relay list and the current selection. One Pool
// is shared by every job; an eviction seen by one job applies to all of them.
// The lock guards list mutation only and is never held across a probe.
type Pool struct {
	listURL string
	client  *http.Client
	prober  Prober

	mu         sync.Mutex
	candidates []Candidate
	current    *Candidate
}

// NewPool builds a pool that refills from listURL and validates with prober.
func NewPool(listURL string, prober Prober, client *http.Client) *Pool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Pool{listURL: listURL, client: client, prober: prober}
}

// Refill replaces the candidate list with a fresh copy of the remote list.
// Fetch errors are returned as-is and never retried here.
func (p *Pool) Refill(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.listURL, nil)
	if err != nil {
		return fmt.Errorf("build proxy list request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		telemetry.ProxyRefills.WithLabelValues("error").Inc()
		return fmt.Errorf("fetch proxy list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		telemetry.ProxyRefills.WithLabelValues("error").Inc()
		return fmt.Errorf("fetch proxy list: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		telemetry.ProxyRefills.WithLabelValues("error").Inc()
		return fmt.Errorf("read proxy list: %w", err)
	}
	list := ParseList(string(body))

	p.mu.Lock()
	p.candidates = list
	p.current = nil
	p.mu.Unlock()

	telemetry.ProxyRefills.WithLabelValues("ok").Inc()
	log.Printf("proxy list refreshed total=%d", len(list))
	return nil
}

// Validate probes one candidate. A failed probe is not an error for the pool.
func (p *Pool) Validate(ctx context.Context, c Candidate) bool {
	if err := p.prober.Probe(ctx, c); err != nil {
		log.Printf("proxy %s rejected: %v", c, err)
		return false
	}
	return true
}

// Acquire returns the current selection, or validates candidates in list order
// until one passes. Rejected candidates are removed permanently. An empty list
// triggers a Refill first.
func (p *Pool) Acquire(ctx context.Context) (Candidate, error) {
	p.mu.Lock()
	if p.current != nil {
		c := *p.current
		p.mu.Unlock()
		return c, nil
	}
	empty := len(p.candidates) == 0
	p.mu.Unlock()

	if empty {
		if err := p.Refill(ctx); err != nil {
			return Candidate{}, err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}
		p.mu.Lock()
		if p.current != nil {
			c := *p.current
			p.mu.Unlock()
			return c, nil
		}
		if len(p.candidates) == 0 {
			p.mu.Unlock()
			return Candidate{}, ErrPoolExhausted
		}
		c := p.candidates[0]
		p.mu.Unlock()

		if p.Validate(ctx, c) {
			p.mu.Lock()
			if p.current == nil {
				p.current = &c
			}
			selected := *p.current
			p.mu.Unlock()
			log.Printf("proxy selected %s", selected)
			return selected, nil
		}
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}
		p.remove(c)
	}
}

// MarkCurrentFailed evicts the current selection and clears it.
func (p *Pool) MarkCurrentFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	c := *p.current
	p.current = nil
	p.removeLocked(c)
}

// MarkFailed evicts c. The selection is cleared only if it is still c, so a
// stale failure report cannot discard a newer selection.
func (p *Pool) MarkFailed(c Candidate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil && *p.current == c {
		p.current = nil
	}
	p.removeLocked(c)
}

// Candidates returns a copy of the loaded list.
func (p *Pool) Candidates() []Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Candidate(nil), p.candidates...)
}

// Current returns the selected candidate, if any.
func (p *Pool) Current() (Candidate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Candidate{}, false
	}
	return *p.current, true
}

func (p *Pool) remove(c Candidate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(c)
}

func (p *Pool) removeLocked(c Candidate) {
	for i, existing := range p.candidates {
		if existing == c {
			p.candidates = append(p.candidates[:i], p.candidates[i+1:]...)
			telemetry.ProxyEvictions.Inc()
			log.Printf("proxy evicted %s remaining=%d", c, len(p.candidates))
			return
		}
	}
}
