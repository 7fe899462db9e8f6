package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds shared runtime configuration for the API service and the CLI.
type Config struct {
	Env         string
	HTTPPort    string
	MetricsAddr string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	PostgresDSN       string
	RateLimitCapacity int
	RateLimitRefill   float64
	RateLimitTTL      time.Duration
	JobTTL            time.Duration

	VideosDir      string
	MusicDir       string
	MusicFallback  string
	MusicVolume    float64
	MusicExts      []string
	FFmpegPath     string
	FFprobePath    string
	ToolchainGrace time.Duration

	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMTemperature float64
	LLMTopP        float64
	LLMTimeout     time.Duration

	ImageBaseURL     string
	ImageAPIKey      string
	ImageModel       string
	ImageWidth       int
	ImageHeight      int
	ImageSteps       int
	ImageBatchCap    int
	ImageMaxAttempts int
	ImageDelay       time.Duration
	ImageTimeout     time.Duration
	ImageMaxBytes    int64

	TTSBaseURL    string
	TTSVoice      string
	TTSLineDelay  time.Duration
	TTSRetryPause time.Duration
	TTSMaxWait    time.Duration
	TTSTimeout    time.Duration

	ProxyListURL      string
	ProxyProbeURL     string
	ProxyScheme       string
	ProxyProbeTimeout time.Duration

	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
	S3Prefix    string
}

// Load reads configuration from environment variables with sane defaults for local development.
func Load() Config {
	llmKey := getEnv("LLM_API_KEY", "")
	return Config{
		Env:         getEnv("APP_ENV", "dev"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ""),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 300),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 300.0/900.0),
		RateLimitTTL:      getEnvDuration("RATE_LIMIT_TTL", time.Hour),
		JobTTL:            getEnvDuration("JOB_TTL", 0),

		VideosDir:      getEnv("VIDEOS_DIR", "public/videos"),
		MusicDir:       getEnv("MUSIC_DIR", "background_audio_clips"),
		MusicFallback:  getEnv("MUSIC_FALLBACK", "ambient"),
		MusicVolume:    getEnvFloat("MUSIC_VOLUME", 0.3),
		MusicExts:      getEnvList("MUSIC_EXTENSIONS", []string{".mp3", ".wav", ".m4a", ".aac"}),
		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:    getEnv("FFPROBE_PATH", "ffprobe"),
		ToolchainGrace: getEnvDuration("TOOLCHAIN_KILL_GRACE", 5*time.Second),

		LLMBaseURL:     getEnv("LLM_BASE_URL", "https://api.together.xyz"),
		LLMAPIKey:      llmKey,
		LLMModel:       getEnv("LLM_MODEL", "meta-llama/Llama-3.3-70B-Instruct-Turbo"),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
		LLMTopP:        getEnvFloat("LLM_TOP_P", 0.7),
		LLMTimeout:     getEnvDuration("LLM_TIMEOUT", 2*time.Minute),

		ImageBaseURL:     getEnv("IMAGE_BASE_URL", "https://api.together.xyz"),
		ImageAPIKey:      getEnv("IMAGE_API_KEY", llmKey),
		ImageModel:       getEnv("IMAGE_MODEL", "black-forest-labs/FLUX.1-schnell-Free"),
		ImageWidth:       getEnvInt("IMAGE_WIDTH", 1024),
		ImageHeight:      getEnvInt("IMAGE_HEIGHT", 1024),
		ImageSteps:       getEnvInt("IMAGE_STEPS", 4),
		ImageBatchCap:    getEnvInt("IMAGE_BATCH_CAP", 9),
		ImageMaxAttempts: getEnvInt("IMAGE_MAX_ATTEMPTS", 10),
		ImageDelay:       getEnvDuration("IMAGE_DELAY", 2*time.Second),
		ImageTimeout:     getEnvDuration("IMAGE_TIMEOUT", time.Minute),
		ImageMaxBytes:    int64(getEnvInt("IMAGE_MAX_BYTES", 25*1024*1024)),

		TTSBaseURL:    getEnv("TTS_BASE_URL", "https://ttsmp3.com"),
		TTSVoice:      getEnv("TTS_VOICE", "Matthew"),
		TTSLineDelay:  getEnvDuration("TTS_LINE_DELAY", 3*time.Second),
		TTSRetryPause: getEnvDuration("TTS_RETRY_PAUSE", 0),
		TTSMaxWait:    getEnvDuration("TTS_MAX_WAIT", 0),
		TTSTimeout:    getEnvDuration("TTS_TIMEOUT", 30*time.Second),

		ProxyListURL:      getEnv("PROXY_LIST_URL", "https://raw.githubusercontent.com/zloi-user/hideip.me/main/https.txt"),
		ProxyProbeURL:     getEnv("PROXY_PROBE_URL", "https://httpbin.org/ip"),
		ProxyScheme:       getEnv("PROXY_SCHEME", "https"),
		ProxyProbeTimeout: getEnvDuration("PROXY_PROBE_TIMEOUT", 10*time.Second),

		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3PathStyle: getEnvBool("S3_PATH_STYLE", false),
		S3Prefix:    getEnv("S3_PREFIX", "videos"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
