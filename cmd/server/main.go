package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"certisure/internal/capability"
	"certisure/internal/certificate/handler"
	certmetrics "certisure/internal/certificate/metrics"
	"certisure/internal/certificate/service"
	"certisure/internal/certificate/store/cache"
	httpapi "certisure/internal/http"
	"certisure/internal/platform/config"
	"certisure/internal/platform/httpserver"
	"certisure/internal/platform/logger"
	platformmetrics "certisure/internal/platform/metrics"
	"certisure/internal/platform/otel"
	"certisure/internal/platform/redis"
	"certisure/internal/proofqr"
	rlmetrics "certisure/internal/ratelimit/metrics"
	rlmiddleware "certisure/internal/ratelimit/middleware"
	"certisure/internal/ratelimit/store/bucket"
	"certisure/pkg/canonical"
	"certisure/pkg/platform/audit/publisher"
	auditmemory "certisure/pkg/platform/audit/store/memory"
)

// main loads configuration, wires the certificate service and serves HTTP
// until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "certisure: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	shutdownTracing, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		return err
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shCtx); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
	}()

	mode, err := canonical.ParseArrayMode(cfg.ArrayMode)
	if err != nil {
		return err
	}
	hasher := canonical.New(canonical.WithArrayMode(mode))

	store, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer store.close()
	checks := map[string]httpapi.HealthCheck{"store": store.ping}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var certStore service.Store = store.Store
	var primaryBuckets rlmiddleware.BucketStore
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = redisClient.Health
		certStore = cache.New(store.Store, redisClient.Client, cache.WithTTL(cfg.Redis.CacheTTL), cache.WithLogger(log))
		primaryBuckets = bucket.NewRedisBucketStore(redisClient.Client)
		log.Info("redis enabled for certificate cache and rate limits")
	}

	sinks, closeSinks, err := openAuditSinks(ctx, cfg.Kafka, checks, log)
	if err != nil {
		return err
	}
	defer closeSinks()
	auditor := publisher.NewPublisher(auditmemory.NewInMemoryStore(),
		publisher.WithAsyncBuffer(1024),
		publisher.WithSinks(sinks...),
		publisher.WithLogger(log),
	)
	// Drain queued events before the sinks close.
	defer auditor.Close()

	archive, err := openArchive(ctx, cfg.Archive, log)
	if err != nil {
		return err
	}

	caps := capability.New(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.Audience,
		capability.WithReceiptTTL(cfg.Auth.ReceiptTTL))
	if !caps.Enabled() {
		log.Warn("development mode: no signing key configured, capability checks and receipts are disabled")
	}

	opts := []service.Option{
		service.WithHasher(hasher),
		service.WithAuditor(auditor),
		service.WithReceipts(caps),
		service.WithQREncoder(proofqr.New()),
		service.WithMetrics(certmetrics.New()),
		service.WithLogger(log),
	}
	if sc := openScanner(cfg.Scanner, log); sc != nil {
		opts = append(opts, service.WithScanner(sc))
	}
	if archive != nil {
		opts = append(opts, service.WithArchive(archive))
	}
	svc := service.New(certStore, opts...)

	limiter := rlmiddleware.NewLimiter(primaryBuckets, cfg.RateLimit.Limit, cfg.RateLimit.Window,
		rlmiddleware.WithLimiterLogger(log),
		rlmiddleware.WithLimiterMetrics(rlmetrics.New()),
	)
	uploads := rlmiddleware.New(limiter, log,
		rlmiddleware.WithDisabled(cfg.RateLimit.Limit <= 0),
		rlmiddleware.WithAuditor(auditor),
	)

	certHandler := handler.New(svc, log,
		handler.WithCapabilities(caps),
		handler.WithUploadLimiter(uploads),
		handler.WithMaxUploadBytes(cfg.MaxUploadBytes),
	)
	router := httpapi.NewRouter(httpapi.Config{
		Logger:         log,
		Metrics:        platformmetrics.New(),
		RequestTimeout: cfg.RequestTimeout,
		HealthChecks:   checks,
	}, certHandler)

	srv := httpserver.New(cfg.Addr, router, cfg.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting certisure",
			"addr", cfg.Addr,
			"store", cfg.Store.Driver,
			"array_mode", mode.String(),
			"archive", cfg.Archive.Driver,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
		if err := srv.Shutdown(shCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// shutdownGrace is how long closing a dependency may take.
const shutdownGrace = 5 * time.Second
