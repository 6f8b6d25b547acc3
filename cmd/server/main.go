package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courseflow/internal/audit"
	"courseflow/internal/jwttoken"
	"courseflow/internal/landing"
	"courseflow/internal/mart"
	"courseflow/internal/pipeline"
	"courseflow/internal/platform/config"
	"courseflow/internal/platform/httpserver"
	"courseflow/internal/platform/logger"
	"courseflow/internal/platform/metrics"
	"courseflow/internal/platform/postgres"
	"courseflow/internal/platform/redis"
	"courseflow/internal/staging"
	"courseflow/internal/storage"
	httptransport "courseflow/internal/transport/http"
)

// main wires dependencies and keeps the server lifecycle small. Stage
// logic lives in the internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources, err := cfg.Sources()
	if err != nil {
		log.Error("invalid source configuration", "error", err.Error())
		os.Exit(1)
	}

	pg, err := postgres.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Error("postgres connection failed", "error", err.Error())
		os.Exit(1)
	}
	defer pg.Close()

	if err := storage.EnsureSchema(ctx, pg.DB); err != nil {
		log.Error("schema bootstrap failed", "error", err.Error())
		os.Exit(1)
	}

	rdb, err := redis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err.Error())
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	auditor, err := audit.NewPublisher(ctx, cfg.Kafka, log.With("component", "audit"))
	if err != nil {
		log.Error("audit publisher setup failed", "error", err.Error())
		os.Exit(1)
	}
	defer auditor.Close(context.Background())

	m := metrics.New()

	var cache *landing.Cache
	if rdb != nil {
		cache = landing.NewCache(rdb.Client, cfg.Redis.DedupeTTL, log.With("component", "dedupe_cache"))
	}
	landingStore := landing.NewStore(pg.DB, log.With("component", "landing"),
		landing.WithCache(cache), landing.WithMetrics(m))
	stagingEngine := staging.NewEngine(pg.DB, log.With("component", "staging"),
		staging.WithMetrics(m))
	martBuilder := mart.NewBuilder(pg.DB, log.With("component", "mart"),
		mart.WithMetrics(m))

	svc, err := pipeline.New(sources, pg.DB, landingStore, stagingEngine, martBuilder,
		log.With("component", "pipeline"),
		pipeline.WithAudit(auditor),
		pipeline.WithMetrics(m),
		pipeline.WithFanoutWorkers(cfg.Pipeline.FanoutWorkers),
	)
	if err != nil {
		log.Error("pipeline setup failed", "error", err.Error())
		os.Exit(1)
	}

	tokens := jwttoken.NewService(cfg.Server.JWTSigningKey, "courseflow")

	health := []httptransport.HealthFunc{pg.Health}
	if rdb != nil {
		health = append(health, rdb.Health)
	}
	handler := httptransport.NewHandler(svc, log.With("component", "http"), health...)
	router := httptransport.NewRouter(handler, tokens)

	srv := httpserver.New(cfg.Server.Addr, router)
	log.Info("starting courseflow", "addr", cfg.Server.Addr, "sources", len(sources))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
