package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/trustoracle/backend/internal/analytics"
	"github.com/trustoracle/backend/internal/api"
	"github.com/trustoracle/backend/internal/audit"
	"github.com/trustoracle/backend/internal/catalog"
	"github.com/trustoracle/backend/internal/config"
	"github.com/trustoracle/backend/internal/connection"
	"github.com/trustoracle/backend/internal/ledger"
	"github.com/trustoracle/backend/internal/metrics"
	"github.com/trustoracle/backend/internal/negotiation"
	"github.com/trustoracle/backend/internal/orchestrator"
	"github.com/trustoracle/backend/internal/ratelimit"
	"github.com/trustoracle/backend/internal/trustscore"
	"github.com/trustoracle/backend/internal/x402"
)

const productID = "trust-score-v1"

func main() {
	// Local development convenience; absent .env is fine.
	_ = godotenv.Load()

	cfg := loadConfig()

	// Port from environment wins (container platforms inject it).
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Enabled = true
		cfg.Redis.Addr = addr
	}
	if url := os.Getenv("MIRROR_BASE_URL"); url != "" {
		cfg.Mirror.BaseURL = url
	}

	defaultPrice, err := decimal.NewFromString(cfg.Producer.DefaultPrice)
	if err != nil {
		log.Fatalf("Invalid default price %q: %v", cfg.Producer.DefaultPrice, err)
	}

	// Audit trail, optionally mirrored to Redis pub/sub.
	var publisher audit.EventPublisher
	if cfg.Redis.Enabled {
		rp, err := audit.NewRedisPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, audit events stay local: %v", err)
		} else {
			publisher = rp
			defer rp.Close()
		}
	}
	trail := audit.NewTrail(publisher)

	var channels []audit.AlertChannel
	if cfg.Audit.AlertWebhookURL != "" {
		channels = append(channels, audit.NewWebhookChannel(cfg.Audit.AlertWebhookURL))
	}
	errHandler := audit.NewHandler(cfg.Audit.AlertingEnabled, channels...)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	// Product catalog with live price pushes.
	registry := catalog.NewRegistry()
	hub := catalog.NewSubscriberHub()
	registry.Subscribe(hub)

	if _, err := registry.Register(catalog.Product{
		ID:              productID,
		Version:         cfg.Producer.ProductVersion,
		Name:            cfg.Producer.ProductName,
		Description:     "Behavioral trust score for a ledger account, computed on demand",
		ProducerAgentID: cfg.Producer.AgentID,
		Endpoint:        cfg.Producer.ScoreEndpoint,
		DefaultPrice:    defaultPrice,
		Currency:        cfg.Producer.Currency,
		Network:         cfg.Producer.Network,
		RateLimit:       catalog.RateLimit{Calls: cfg.RateLimit.DefaultCalls, PeriodSeconds: cfg.RateLimit.DefaultPeriodSecs},
		SLA:             catalog.SLA{UptimePct: 99.9, ResponseTimeMs: 500},
	}); err != nil {
		log.Fatalf("Failed to register product: %v", err)
	}

	mirror := analytics.NewHTTPMirrorClient(cfg.Mirror.BaseURL, cfg.Mirror.RequestTimeout)
	provider := analytics.NewProvider(mirror, cfg.Mirror.MaxRetries, cfg.Mirror.RetryBase, cfg.Mirror.CacheTTL, errHandler, m)

	negotiator := negotiation.NewEngine(registry, trail, cfg.Producer.AgentID, cfg.Negotiation.OfferTTL)

	orch := orchestrator.New(orchestrator.Deps{
		ProductID:  productID,
		Registry:   registry,
		Negotiator: negotiator,
		Limiter: ratelimit.NewLimiter(
			ratelimit.Limit{Calls: cfg.RateLimit.DefaultCalls, PeriodSeconds: cfg.RateLimit.DefaultPeriodSecs},
			cfg.RateLimit.ViolationThreshold, trail, m),
		Verifier:    x402.NewVerifier(ledger.NewHTTPClient(cfg.Mirror.BaseURL, cfg.Mirror.RequestTimeout)),
		Facilitator: x402.NewFacilitator(cfg.Producer.AccountID, cfg.Producer.Network, cfg.Producer.Asset, 30),
		Provider:    provider,
		Scorer: trustscore.NewEngine(trustscore.Config{
			TrustedTopics:    cfg.Scoring.TrustedTopics,
			SuspiciousTopics: cfg.Scoring.SuspiciousTopics,
		}),
		Trail:   trail,
		Handler: errHandler,
		Metrics: m,
	})

	server := api.NewServer(api.Deps{
		Orchestrator: orch,
		Registry:     registry,
		Hub:          hub,
		Negotiator:   negotiator,
		Connections:  connection.NewManager(trail),
		Errors:       errHandler,
		Gatherer:     reg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Trust oracle listening on :%s (env=%s, network=%s, price=%s %s)",
		cfg.Server.Port, cfg.Server.Env, cfg.Producer.Network, defaultPrice, cfg.Producer.Currency)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

func loadConfig() *config.Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Printf("No config file at %s, using defaults", path)
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}
