package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "reel_jobs_submitted_total", Help: "Generation jobs accepted"})
	JobsCompleted    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reel_jobs_completed_total", Help: "Generation jobs by terminal status"}, []string{"status"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "reel_jobs_inflight", Help: "Generation jobs currently running"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "reel_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})
	ProxyRefills     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reel_proxy_refills_total", Help: "Proxy list fetches by result"}, []string{"result"})
	ProxyEvictions   = prometheus.NewCounter(prometheus.CounterOpts{Name: "reel_proxy_evictions_total", Help: "Proxy candidates discarded"})
	SpeechAttempts   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reel_speech_attempts_total", Help: "Speech generation requests by result"}, []string{"result"})
	ImageAttempts    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reel_image_attempts_total", Help: "Image generation attempts by result"}, []string{"result"})
	ToolchainRuns    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "reel_toolchain_runs_total", Help: "External toolchain invocations"}, []string{"tool", "result"})
	StageDuration    = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reel_stage_duration_seconds",
		Help:    "Wall time per pipeline stage",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"stage"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			InFlightGauge,
			RateLimitRejects,
			ProxyRefills,
			ProxyEvictions,
			SpeechAttempts,
			ImageAttempts,
			ToolchainRuns,
			StageDuration,
		)
	})
	return promhttp.Handler()
}
