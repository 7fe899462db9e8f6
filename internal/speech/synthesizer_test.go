package speech

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"reelforge/internal/proxy"
)

var quiet = log.New(io.Discard, "", 0)

// forwardingRelay is a minimal forward proxy in front of the test provider.
func forwardingRelay(t *testing.T) proxy.Candidate {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		out.Header = r.Header.Clone()
		resp, err := http.DefaultTransport.RoundTrip(out)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}))
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	host, port, _ := net.SplitHostPort(u.Host)
	return proxy.Candidate{Host: host, Port: port}
}

type scriptedPool struct {
	mu       sync.Mutex
	results  []any // proxy.Candidate or error
	failed   []proxy.Candidate
	acquires int
}

func (p *scriptedPool) Acquire(context.Context) (proxy.Candidate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	next := p.results[0]
	if len(p.results) > 1 {
		p.results = p.results[1:]
	}
	if err, ok := next.(error); ok {
		return proxy.Candidate{}, err
	}
	return next.(proxy.Candidate), nil
}

func (p *scriptedPool) MarkFailed(c proxy.Candidate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, c)
}

type provider struct {
	mu        sync.Mutex
	failFirst int
	calls     int
	lastForm  url.Values
	headers   []http.Header
}

func (p *provider) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/makemp3_new.php":
			_ = r.ParseForm()
			p.mu.Lock()
			p.calls++
			p.lastForm = r.PostForm
			p.headers = append(p.headers, r.Header.Clone())
			fail := p.calls <= p.failFirst
			p.mu.Unlock()
			if fail {
				_, _ = w.Write([]byte(`{"Error":1,"Text":"blocked"}`))
				return
			}
			_, _ = w.Write([]byte(`{"Error":0,"URL":"https://x/abc.mp3","MP3":"abc.mp3"}`))
		case "/dlmp3.php":
			if r.URL.Query().Get("mp3") != "abc.mp3" || r.URL.Query().Get("location") != "direct" {
				http.Error(w, "bad query", http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte("ID3-audio"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestSynth(pool RelayPool, base string) *Synthesizer {
	s := New(pool, Options{BaseURL: base, ProxyScheme: "http", Timeout: 2 * time.Second})
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s
}

func TestSynthesizeRotatesUntilSuccess(t *testing.T) {
	prov := &provider{failFirst: 2}
	srv := prov.server(t)
	relays := []proxy.Candidate{forwardingRelay(t), forwardingRelay(t), forwardingRelay(t)}
	pool := &scriptedPool{results: []any{relays[0], relays[1], relays[2]}}

	out := filepath.Join(t.TempDir(), "audio", "audio_1.mp3")
	got, err := newTestSynth(pool, srv.URL).Synthesize(context.Background(), "Hello there", "", out, quiet)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if got != out {
		t.Fatalf("path = %s", got)
	}
	data, _ := os.ReadFile(out)
	if string(data) != "ID3-audio" {
		t.Fatalf("unexpected file contents %q", data)
	}
	if len(pool.failed) != 2 || pool.failed[0] != relays[0] || pool.failed[1] != relays[1] {
		t.Fatalf("failed relays = %v", pool.failed)
	}
	if prov.lastForm.Get("msg") != "Hello there" || prov.lastForm.Get("lang") != "Matthew" || prov.lastForm.Get("source") != "ttsmp3" {
		t.Fatalf("unexpected form %v", prov.lastForm)
	}
	ids := map[string]bool{}
	for _, h := range prov.headers {
		if h.Get("User-Agent") == "" || net.ParseIP(h.Get("X-Forwarded-For")) == nil {
			t.Fatalf("missing randomized headers: %v", h)
		}
		id := h.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil || ids[id] {
			t.Fatalf("request id %q must be a fresh uuid: %v", id, err)
		}
		ids[id] = true
		if h.Get("Referer") != "https://ttsmp3.com/" {
			t.Fatalf("template header missing: %v", h)
		}
	}
}

func TestSynthesizeLoopsOnExhaustedPool(t *testing.T) {
	prov := &provider{}
	srv := prov.server(t)
	relay := forwardingRelay(t)
	pool := &scriptedPool{results: []any{proxy.ErrPoolExhausted, proxy.ErrPoolExhausted, relay}}

	out := filepath.Join(t.TempDir(), "a.mp3")
	if _, err := newTestSynth(pool, srv.URL).Synthesize(context.Background(), "x", "Joanna", out, quiet); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if pool.acquires != 3 {
		t.Fatalf("acquires = %d", pool.acquires)
	}
	if prov.lastForm.Get("lang") != "Joanna" {
		t.Fatalf("voice not forwarded")
	}
}

func TestSynthesizeRefillErrorPropagates(t *testing.T) {
	pool := &scriptedPool{results: []any{errors.New("list unreachable")}}
	_, err := newTestSynth(pool, "http://unused.invalid").Synthesize(context.Background(), "x", "", filepath.Join(t.TempDir(), "a.mp3"), quiet)
	if err == nil || errors.Is(err, context.Canceled) {
		t.Fatalf("expected refill error, got %v", err)
	}
}

func TestSynthesizeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool := &scriptedPool{results: []any{proxy.ErrPoolExhausted}}
	_, err := newTestSynth(pool, "http://unused.invalid").Synthesize(ctx, "x", "", filepath.Join(t.TempDir(), "a.mp3"), quiet)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if pool.acquires != 0 {
		t.Fatalf("no relay should be requested after cancellation")
	}
}

func TestSynthesizeCancelDuringRotation(t *testing.T) {
	prov := &provider{failFirst: 1 << 30}
	srv := prov.server(t)
	relay := forwardingRelay(t)
	pool := &scriptedPool{results: []any{relay}}

	ctx, cancel := context.WithCancel(context.Background())
	s := newTestSynth(pool, srv.URL)
	s.opts.RetryPause = time.Millisecond
	s.sleep = func(ctx context.Context, _ time.Duration) error {
		if len(pool.failed) >= 3 {
			cancel()
		}
		return ctx.Err()
	}
	_, err := s.Synthesize(ctx, "x", "", filepath.Join(t.TempDir(), "a.mp3"), quiet)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestSynthesizeMaxWait(t *testing.T) {
	prov := &provider{failFirst: 1 << 30}
	srv := prov.server(t)
	pool := &scriptedPool{results: []any{forwardingRelay(t)}}
	s := newTestSynth(pool, srv.URL)
	s.opts.MaxWait = 50 * time.Millisecond
	s.opts.RetryPause = 10 * time.Millisecond
	s.sleep = sleepCtx

	_, err := s.Synthesize(context.Background(), "x", "", filepath.Join(t.TempDir(), "a.mp3"), quiet)
	if !errors.Is(err, ErrGaveUp) {
		t.Fatalf("expected ErrGaveUp, got %v", err)
	}
}

func TestDownloadFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/makemp3_new.php" {
			_, _ = w.Write([]byte(`{"Error":0,"MP3":"abc.mp3"}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	pool := &scriptedPool{results: []any{forwardingRelay(t)}}

	out := filepath.Join(t.TempDir(), "a.mp3")
	if _, err := newTestSynth(pool, srv.URL).Synthesize(context.Background(), "x", "", out, quiet); err == nil {
		t.Fatalf("expected download error")
	}
	if len(pool.failed) != 0 {
		t.Fatalf("download failure must not rotate relays")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("no file should be left behind")
	}
}

func TestBackoffWithJitter(t *testing.T) {
	base := time.Second
	max := 8 * time.Second

	b1 := backoffWithJitter(base, max, 1)
	if b1 < base/2 || b1 > max {
		t.Fatalf("backoff out of range: %s", b1)
	}
	b3 := backoffWithJitter(base, max, 3)
	if b3 < 2*base || b3 > max {
		t.Fatalf("backoff out of range for attempt 3: %s", b3)
	}
	if b := backoffWithJitter(base, max, 10); b > max {
		t.Fatalf("backoff above cap: %s", b)
	}
}
