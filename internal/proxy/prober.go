package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Prober decides whether a candidate is usable. A nil error means alive.
type Prober interface {
	Probe(ctx context.Context, c Candidate) error
}

// EchoProber requests an ip-echo endpoint through the candidate and accepts it
// only when the reported origin equals the candidate host.
type EchoProber struct {
	URL     string
	Scheme  string
	Timeout time.Duration
}

type echoResponse struct {
	Origin string `json:"origin"`
}

func (p EchoProber) Probe(ctx context.Context, c Candidate) error {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	client := NewClient(c, p.Scheme, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("build probe: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", c, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe %s: status %d", c, resp.StatusCode)
	}
	var body echoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("probe %s: decode: %w", c, err)
	}
	origin := strings.TrimSpace(strings.Split(body.Origin, ",")[0])
	if origin != c.Host {
		return fmt.Errorf("probe %s: origin %q does not match", c, origin)
	}
	return nil
}
