package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pokerhall/internal/ledger"
	"pokerhall/internal/store"
	"pokerhall/internal/sweep"
)

func redisAddrFromEnv() string {
	if addr := strings.TrimSpace(os.Getenv("POKER_REDIS_ADDR")); addr != "" {
		return addr
	}
	return "localhost:6379"
}

func intervalFromEnv() time.Duration {
	if raw := strings.TrimSpace(os.Getenv("POKER_SWEEP_INTERVAL")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return 30 * time.Second
}

func main() {
	st, storeMode, err := store.NewFromEnv()
	if err != nil {
		log.Fatalf("[Sweepd] Failed to init store: %v", err)
	}
	defer st.Close()

	poster, ledgerMode, err := ledger.NewPosterFromEnv()
	if err != nil {
		log.Fatalf("[Sweepd] Failed to init ledger: %v", err)
	}
	defer poster.Close()

	rdb := redis.NewClient(&redis.Options{Addr: redisAddrFromEnv()})
	defer rdb.Close()
	locker := sweep.NewRedisLocker(rdb, "poker:sweep:lock", 60*time.Second)

	cfg := sweep.ConfigFromEnv()
	sweeper := sweep.New(st, poster, locker, cfg)
	interval := intervalFromEnv()

	log.Printf("[Sweepd] Store mode: %s", storeMode)
	log.Printf("[Sweepd] Ledger mode: %s", ledgerMode)
	log.Printf("[Sweepd] Sweeping every %s (presenceTTL=%s idleClose=%s)", interval, cfg.PresenceTTL, cfg.IdleCloseAfter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if rep, err := sweeper.Run(ctx); err != nil {
			log.Printf("[Sweepd] Sweep failed: %v", err)
		} else if rep.Skipped != "" {
			log.Printf("[Sweepd] Sweep skipped: %s", rep.Skipped)
		}
		select {
		case <-ctx.Done():
			log.Printf("[Sweepd] Shutting down")
			return
		case <-ticker.C:
		}
	}
}
