package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"reelforge/internal/api"
	"reelforge/internal/broker"
	"reelforge/internal/config"
	"reelforge/internal/pipeline"
	"reelforge/internal/ratelimit"
	"reelforge/internal/store"
	"reelforge/internal/telemetry"
	"reelforge/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	pool := pipeline.NewProxyPool(cfg)
	orch, err := pipeline.FromConfig(ctx, cfg, pool)
	if err != nil {
		log.Fatalf("init pipeline: %v", err)
	}

	b := broker.New(log.Default())
	processor := worker.NewProcessor(b, orch)

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		limiter = ratelimit.NewTokenBucket(client, cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitTTL)
	} else {
		limiter = ratelimit.NewLocal(cfg.RateLimitCapacity, cfg.RateLimitRefill, cfg.RateLimitTTL)
	}

	server := api.New(b, processor, limiter)
	if cfg.PostgresDSN != "" {
		st, err := store.New(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer st.Close()
		if err := st.RunMigrations(ctx); err != nil {
			log.Fatalf("migrations: %v", err)
		}
		processor.WithAudit(st)
		server.WithAudit(st)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}
	if cfg.JobTTL > 0 {
		go janitor(ctx, b, cfg.JobTTL)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("api listening on :%s videos_dir=%s", cfg.HTTPPort, cfg.VideosDir)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	if n := b.AbortAll(); n > 0 {
		log.Printf("shutdown: cancelling %d running jobs", n)
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ToolchainGrace+5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)

	done := make(chan struct{})
	go func() {
		processor.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		log.Printf("shutdown: jobs still running after grace period")
	}
}

// janitor evicts finished jobs once they are older than ttl.
func janitor(ctx context.Context, b *broker.Broker, ttl time.Duration) {
	interval := ttl / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Sweep(ttl); n > 0 {
				log.Printf("janitor: evicted %d finished jobs", n)
			}
		}
	}
}
