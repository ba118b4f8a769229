package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Jocksanmarcos/kerigma-messaging/internal/config"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/core"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/db"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/dispatch"
	httpapi "github.com/Jocksanmarcos/kerigma-messaging/internal/http"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/metrics"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/provider"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/ratelimit"
	"github.com/Jocksanmarcos/kerigma-messaging/internal/suggest"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg := config.Load()

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(rootCtx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	store := &core.Store{DB: pool}

	// ---- Messaging provider ----
	wa := provider.NewWhatsApp(cfg.WhatsAppToken, cfg.WhatsAppPhoneID, cfg.WhatsAppBusinessID)
	var prov provider.Provider = wa
	var lister provider.TemplateLister = wa
	configured := wa.Configured
	if config.Env("PROVIDER", "whatsapp") == "dummy" {
		log.Printf("using dummy provider")
		dummy := provider.NewDummy()
		prov, lister = dummy, dummy
		configured = func() bool { return true }
	}

	dispatcher := &dispatch.Dispatcher{
		Provider: prov,
		Audit:    store,
		Pacer:    dispatch.NewPacer(cfg.BulkQPS, cfg.BulkBurst),
	}

	// ---- Suggestion gateway ----
	var gen suggest.Generator
	if cfg.GeminiAPIKey != "" {
		gen = suggest.NewGemini(cfg.GeminiAPIKey)
	} else {
		log.Printf("gemini key missing; suggestions served by the static generator")
	}
	gateway := &suggest.Gateway{
		Cache:     store,
		Admission: &ratelimit.Store{DB: pool},
		Audit:     store,
		Generator: gen,
		Fallback:  suggest.StaticGenerator{},
		Retry:     suggest.RetryPolicy{MaxAttempts: cfg.SuggestRetryMax, Initial: cfg.SuggestRetryDelay},
		Window:    cfg.SuggestWindow,
		TTL:       cfg.SuggestCacheTTL,
	}

	// ---- Metrics ----
	metrics.MustRegister()
	poolStats := metrics.NewPGXPoolStats(pool)
	stop := make(chan struct{})
	go poolStats.Start(15*time.Second, stop)

	// ---- HTTP server ----
	srv := &httpapi.Server{
		Store:         store,
		Dispatcher:    dispatcher,
		Suggest:       gateway,
		Templates:     lister,
		SenderID:      cfg.WhatsAppPhoneID,
		Configured:    configured,
		EnableMetrics: true,
	}
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 120 * time.Second, // synchronous bulk batches hold the request open
	}

	go func() {
		log.Printf("HTTP listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	// ---- Graceful shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	close(stop)
	cancel()
	_ = server.Shutdown(shutdownCtx)
}
