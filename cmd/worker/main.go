package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Jocksanmarcos/kerigma-messaging/internal/config"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/core"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/db"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/dispatch"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/provider"
)

func main() {
	var exitCode int
	defer func() {
		os.Exit(exitCode)
	}()

	cfg := config.Load()

	opts := dispatch.EngineOptions{
		BatchSize:    config.IntEnv("WORKER_BATCH", 100),
		Concurrency:  config.IntEnv("WORKER_CONCURRENCY", 4),
		PollInterval: config.DurEnv("WORKER_POLL_MS", 200*time.Millisecond),
		IdleSleep:    config.DurEnv("WORKER_IDLE_MS", 300*time.Millisecond),
		DBBackoffMin: config.DurEnv("WORKER_DB_BACKOFF_MIN_MS", 200*time.Millisecond),
		DBBackoffMax: config.DurEnv("WORKER_DB_BACKOFF_MAX_MS", 5*time.Second),
		RetryAfter:   config.DurEnv("WORKER_RETRY_AFTER_MS", 30*time.Second),
		SendTimeout:  config.DurEnv("WORKER_SEND_TIMEOUT_MS", 15*time.Second),
	}

	// ---- Context / signals ----
	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// ---- DB ----
	pool, err := pgxpool.New(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.Printf("db pool: %v", err)
		exitCode = 1
		return
	}
	defer pool.Close()

	if err := pool.Ping(rootCtx); err != nil {
		log.Printf("db ping: %v", err)
		exitCode = 1
		return
	}

	if err := db.Migrate(rootCtx, pool); err != nil {
		log.Printf("migrate: %v", err)
		exitCode = 1
		return
	}

	store := &core.Store{DB: pool}

	// ---- Provider ----
	var prov provider.Provider = provider.NewWhatsApp(cfg.WhatsAppToken, cfg.WhatsAppPhoneID, cfg.WhatsAppBusinessID)
	if config.Env("PROVIDER", "whatsapp") == "dummy" {
		prov = provider.NewDummy()
	}

	pacer := dispatch.NewPacer(cfg.BulkQPS, cfg.BulkBurst)

	// ---- Healthz ----
	go serveHealthz()

	// ---- Engine ----
	if err := dispatch.RunEngine(rootCtx, store, prov, pacer, opts); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("engine exited: %v", err)
		exitCode = 1
		return
	}
}

func serveHealthz() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	addr := config.Env("HEALTH_ADDR", "0.0.0.0:9090")
	_ = http.ListenAndServe(addr, mux)
}
