package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"reelforge/internal/models"
	"reelforge/internal/telemetry"
)

// Logger is the per-job sink.
type Logger interface {
	Printf(format string, args ...any)
}

// Options configures the provider call and the batch policy.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Width       int
	Height      int
	Steps       int
	BatchCap    int
	MaxAttempts int
	Delay       time.Duration
	Timeout     time.Duration
	MaxBytes    int64
}

// Synthesizer generates stills from prompts and stores them as uniform JPEGs.
type Synthesizer struct {
	opts   Options
	client *http.Client
	sleep  func(ctx context.Context, d time.Duration) error
}

// New constructs a Synthesizer, filling unset options with provider defaults.
func New(opts Options) *Synthesizer {
	if opts.Width == 0 {
		opts.Width = 1024
	}
	if opts.Height == 0 {
		opts.Height = 1024
	}
	if opts.Steps == 0 {
		opts.Steps = 4
	}
	if opts.BatchCap == 0 {
		opts.BatchCap = 9
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 10
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Minute
	}
	if opts.MaxBytes == 0 {
		opts.MaxBytes = 25 * 1024 * 1024
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Synthesizer{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		sleep:  sleepCtx,
	}
}

type generationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Steps  int    `json:"steps"`
	N      int    `json:"n"`
}

type generationResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// SynthesizeAll processes at most BatchCap prompts in order. Each prompt gets
// MaxAttempts tries and is skipped when they are used up. Files are numbered
// in completion order, so skipped prompts leave no placeholder. Only
// cancellation or an unusable output directory stop the batch.
func (s *Synthesizer) SynthesizeAll(ctx context.Context, prompts []string, outDir string, logger Logger) ([]models.ImageAsset, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	if len(prompts) > s.opts.BatchCap {
		logger.Printf("limiting image batch to %d of %d prompts", s.opts.BatchCap, len(prompts))
		prompts = prompts[:s.opts.BatchCap]
	}

	var assets []models.ImageAsset
	for i, prompt := range prompts {
		if err := ctx.Err(); err != nil {
			return assets, err
		}
		path := filepath.Join(outDir, fmt.Sprintf("image_%d.jpg", len(assets)+1))
		ok := false
		for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
			logger.Printf("generating image %d/%d (attempt %d)", i+1, len(prompts), attempt)
			err := s.generateOne(ctx, prompt, path)
			if err == nil {
				telemetry.ImageAttempts.WithLabelValues("ok").Inc()
				ok = true
				break
			}
			if ctx.Err() != nil {
				return assets, ctx.Err()
			}
			telemetry.ImageAttempts.WithLabelValues("error").Inc()
			logger.Printf("image %d attempt %d failed: %v (retries left: %d)", i+1, attempt, err, s.opts.MaxAttempts-attempt)
		}
		if !ok {
			logger.Printf("max retries reached for image %d, skipping", i+1)
			continue
		}
		assets = append(assets, models.ImageAsset{SourcePromptIndex: i, FilePath: path})
		logger.Printf("image saved %s", filepath.Base(path))
		if err := s.sleep(ctx, s.opts.Delay); err != nil {
			return assets, err
		}
	}
	return assets, nil
}

func (s *Synthesizer) generateOne(ctx context.Context, prompt, path string) error {
	imageURL, err := s.request(ctx, prompt)
	if err != nil {
		return err
	}
	data, err := s.download(ctx, imageURL)
	if err != nil {
		return err
	}
	return s.normalize(data, path)
}

func (s *Synthesizer) request(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generationRequest{
		Model:  s.opts.Model,
		Prompt: prompt,
		Width:  s.opts.Width,
		Height: s.opts.Height,
		Steps:  s.opts.Steps,
		N:      1,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+"/v1/images/generations", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("generate image: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Data) == 0 {
		return "", errors.New("invalid response: no data")
	}
	if out.Data[0].URL == "" {
		return "", errors.New("no image url in response")
	}
	return out.Data[0].URL, nil
}

func (s *Synthesizer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, s.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > s.opts.MaxBytes {
		return nil, fmt.Errorf("image too large (>%d bytes)", s.opts.MaxBytes)
	}
	return body, nil
}

// normalize crops and scales to the configured frame so every still shares
// one geometry before the concat filter sees it.
func (s *Synthesizer) normalize(data []byte, path string) error {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	img = imaging.Fill(img, s.opts.Width, s.opts.Height, imaging.Center, imaging.Lanczos)

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("encode image: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
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
