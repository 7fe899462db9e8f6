package pipeline

import (
	"context"

	"reelforge/internal/config"
	"reelforge/internal/imagegen"
	"reelforge/internal/llm"
	"reelforge/internal/media"
	"reelforge/internal/proxy"
	"reelforge/internal/publish"
	"reelforge/internal/speech"
)

// NewProxyPool builds the process-wide relay pool from cfg.
func NewProxyPool(cfg config.Config) *proxy.Pool {
	prober := proxy.EchoProber{URL: cfg.ProxyProbeURL, Scheme: cfg.ProxyScheme, Timeout: cfg.ProxyProbeTimeout}
	return proxy.NewPool(cfg.ProxyListURL, prober, nil)
}

// FromConfig wires the production collaborators. pool is shared by every job
// the returned orchestrator runs.
func FromConfig(ctx context.Context, cfg config.Config, pool *proxy.Pool) (*Orchestrator, error) {
	writer := llm.New(llm.Options{
		BaseURL:     cfg.LLMBaseURL,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		TopP:        cfg.LLMTopP,
		Timeout:     cfg.LLMTimeout,
	})
	images := imagegen.New(imagegen.Options{
		BaseURL:     cfg.ImageBaseURL,
		APIKey:      cfg.ImageAPIKey,
		Model:       cfg.ImageModel,
		Width:       cfg.ImageWidth,
		Height:      cfg.ImageHeight,
		Steps:       cfg.ImageSteps,
		BatchCap:    cfg.ImageBatchCap,
		MaxAttempts: cfg.ImageMaxAttempts,
		Delay:       cfg.ImageDelay,
		Timeout:     cfg.ImageTimeout,
		MaxBytes:    cfg.ImageMaxBytes,
	})
	sp := speech.New(pool, speech.Options{
		BaseURL:     cfg.TTSBaseURL,
		Voice:       cfg.TTSVoice,
		ProxyScheme: cfg.ProxyScheme,
		Timeout:     cfg.TTSTimeout,
		RetryPause:  cfg.TTSRetryPause,
		MaxWait:     cfg.TTSMaxWait,
	})
	tc := media.New(cfg.FFmpegPath, cfg.FFprobePath, cfg.ToolchainGrace)

	orch := New(writer, images, sp, tc, Options{
		VideosDir:     cfg.VideosDir,
		MusicDir:      cfg.MusicDir,
		MusicFallback: cfg.MusicFallback,
		MusicVolume:   cfg.MusicVolume,
		MusicExts:     cfg.MusicExts,
		Voice:         cfg.TTSVoice,
		LineDelay:     cfg.TTSLineDelay,
	})

	pub, err := publish.NewS3Publisher(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if pub != nil {
		orch.WithPublisher(pub)
	}
	return orch, nil
}
