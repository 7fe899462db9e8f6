package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ImageBatchCap != 9 || cfg.ImageMaxAttempts != 10 {
		t.Fatalf("unexpected image defaults: cap=%d attempts=%d", cfg.ImageBatchCap, cfg.ImageMaxAttempts)
	}
	if cfg.ImageDelay != 2*time.Second || cfg.TTSLineDelay != 3*time.Second {
		t.Fatalf("unexpected pacing defaults: image=%s tts=%s", cfg.ImageDelay, cfg.TTSLineDelay)
	}
	if cfg.TTSMaxWait != 0 {
		t.Fatalf("speech retry should be unbounded by default, got %s", cfg.TTSMaxWait)
	}
	if cfg.MusicFallback != "ambient" || cfg.MusicVolume != 0.3 {
		t.Fatalf("unexpected music defaults: %q %v", cfg.MusicFallback, cfg.MusicVolume)
	}
	if cfg.RedisAddr != "" || cfg.PostgresDSN != "" {
		t.Fatalf("optional backends should be disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "k1")
	t.Setenv("IMAGE_BATCH_CAP", "3")
	t.Setenv("TTS_MAX_WAIT", "90s")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("MUSIC_EXTENSIONS", " .ogg, ,.mp3")
	t.Setenv("IMAGE_STEPS", "not-a-number")

	cfg := Load()
	if cfg.ImageAPIKey != "k1" {
		t.Fatalf("image key should fall back to llm key, got %q", cfg.ImageAPIKey)
	}
	if cfg.ImageBatchCap != 3 || cfg.TTSMaxWait != 90*time.Second || !cfg.S3PathStyle {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.ImageSteps != 4 {
		t.Fatalf("invalid int should keep default, got %d", cfg.ImageSteps)
	}
	if len(cfg.MusicExts) != 2 || cfg.MusicExts[0] != ".ogg" || cfg.MusicExts[1] != ".mp3" {
		t.Fatalf("unexpected extensions %v", cfg.MusicExts)
	}
}
