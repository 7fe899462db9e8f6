package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reelforge/internal/proxy"
	"reelforge/internal/telemetry"
)

// ErrGaveUp is returned when a configured wall-clock bound on retries elapses.
var ErrGaveUp = errors.New("speech generation gave up")

// ProviderCodeError is a generation response carrying a non-zero error code.
type ProviderCodeError struct {
	Code int
}

func (e *ProviderCodeError) Error() string {
	return fmt.Sprintf("speech provider returned error code %d", e.Code)
}

// Logger is the per-job sink.
type Logger interface {
	Printf(format string, args ...any)
}

// RelayPool supplies validated relays and accepts failure reports.
type RelayPool interface {
	Acquire(ctx context.Context) (proxy.Candidate, error)
	MarkFailed(c proxy.Candidate)
}

// Options tunes the synthesizer. Zero MaxWait means retry without bound.
type Options struct {
	BaseURL     string
	Voice       string
	ProxyScheme string
	Timeout     time.Duration
	RetryPause  time.Duration
	MaxWait     time.Duration
}

// Synthesizer turns dialogue lines into downloaded audio files through relays.
type Synthesizer struct {
	opts  Options
	pool  RelayPool
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Synthesizer sharing pool with every other job.
func New(pool RelayPool, opts Options) *Synthesizer {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://ttsmp3.com"
	}
	if opts.Voice == "" {
		opts.Voice = "Matthew"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Synthesizer{opts: opts, pool: pool, sleep: sleepCtx}
}

type generateResponse struct {
	Error int    `json:"Error"`
	URL   string `json:"URL"`
	MP3   string `json:"MP3"`
}

// Synthesize generates text with voice (the default voice when empty) and
// downloads the audio to outPath. Generation is retried through fresh relays
// until it succeeds or ctx ends; the download is attempted once.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice, outPath string, logger Logger) (string, error) {
	if voice == "" {
		voice = s.opts.Voice
	}
	file, relay, err := s.generate(ctx, text, voice, logger)
	if err != nil {
		return "", err
	}
	if err := s.download(ctx, relay, file, outPath); err != nil {
		return "", fmt.Errorf("download speech: %w", err)
	}
	logger.Printf("speech downloaded %s", filepath.Base(outPath))
	return outPath, nil
}

func (s *Synthesizer) generate(ctx context.Context, text, voice string, logger Logger) (string, proxy.Candidate, error) {
	start := time.Now()
	exhausted := 0
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", proxy.Candidate{}, err
		}
		if s.opts.MaxWait > 0 && time.Since(start) > s.opts.MaxWait {
			return "", proxy.Candidate{}, fmt.Errorf("%w after %d attempts", ErrGaveUp, attempt-1)
		}

		relay, err := s.pool.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return "", proxy.Candidate{}, ctx.Err()
			}
			if !errors.Is(err, proxy.ErrPoolExhausted) {
				return "", proxy.Candidate{}, fmt.Errorf("acquire relay: %w", err)
			}
			exhausted++
			logger.Printf("no working relay left, refreshing list")
			pause := s.opts.RetryPause
			if pause < time.Second {
				pause = time.Second
			}
			if err := s.sleep(ctx, backoffWithJitter(pause, 30*time.Second, exhausted)); err != nil {
				return "", proxy.Candidate{}, err
			}
			continue
		}
		exhausted = 0

		file, err := s.request(ctx, relay, text, voice)
		if err == nil {
			telemetry.SpeechAttempts.WithLabelValues("ok").Inc()
			logger.Printf("speech generated via %s after %d attempt(s)", relay, attempt)
			return file, relay, nil
		}
		if ctx.Err() != nil {
			return "", proxy.Candidate{}, ctx.Err()
		}
		telemetry.SpeechAttempts.WithLabelValues("error").Inc()
		logger.Printf("speech attempt %d via %s failed: %v", attempt, relay, err)
		s.pool.MarkFailed(relay)

		if s.opts.RetryPause > 0 {
			if err := s.sleep(ctx, backoffWithJitter(s.opts.RetryPause, 10*s.opts.RetryPause, attempt)); err != nil {
				return "", proxy.Candidate{}, err
			}
		}
	}
}

func (s *Synthesizer) request(ctx context.Context, relay proxy.Candidate, text, voice string) (string, error) {
	form := url.Values{}
	form.Set("msg", text)
	form.Set("lang", voice)
	form.Set("source", "ttsmp3")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+"/makemp3_new.php", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	s.decorate(req)

	resp, err := proxy.NewClient(relay, s.opts.ProxyScheme, s.opts.Timeout).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var body generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if body.Error != 0 {
		return "", &ProviderCodeError{Code: body.Error}
	}
	if body.MP3 == "" {
		return "", errors.New("response has no file reference")
	}
	return body.MP3, nil
}

func (s *Synthesizer) download(ctx context.Context, relay proxy.Candidate, file, outPath string) error {
	target := fmt.Sprintf("%s/dlmp3.php?mp3=%s&location=direct", s.opts.BaseURL, url.QueryEscape(file))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	s.decorate(req)
	req.Header.Del("Content-Type")

	resp, err := proxy.NewClient(relay, s.opts.ProxyScheme, 0).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create dirs: %w", err)
	}
	tmp := outPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}
	return os.Rename(tmp, outPath)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	if wait < 2 {
		return wait
	}
	jitter := time.Duration(rand.Int63n(int64(wait / 2)))
	return wait/2 + jitter
}
