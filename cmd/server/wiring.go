package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"certisure/internal/archive"
	"certisure/internal/certificate/service"
	"certisure/internal/certificate/store/certificate"
	httpapi "certisure/internal/http"
	"certisure/internal/platform/config"
	"certisure/internal/scanner"
	"certisure/internal/scanner/poppler"
	"certisure/internal/scanner/zxing"
	audit "certisure/pkg/platform/audit"
	"certisure/pkg/platform/audit/kafka"
)

// storeHandle is the configured certificate store plus its lifecycle hooks.
type storeHandle struct {
	service.Store
	ping  func(context.Context) error
	close func()
}

func openStore(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*storeHandle, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := certificate.OpenSQLite(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		log.Info("certificate store opened", "driver", "sqlite", "path", cfg.DSN)
		return &storeHandle{Store: s, ping: s.Ping, close: func() { _ = s.Close() }}, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		s := certificate.NewPostgres(db)
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		log.Info("certificate store opened", "driver", "postgres")
		return &storeHandle{Store: s, ping: s.Ping, close: func() { _ = db.Close() }}, nil

	default:
		s := certificate.NewInMemory()
		log.Warn("using in-memory certificate store; registrations are lost on restart")
		return &storeHandle{Store: s, ping: s.Ping, close: func() {}}, nil
	}
}

// openAuditSinks connects the Kafka sink when brokers are configured.
func openAuditSinks(ctx context.Context, cfg config.KafkaConfig, checks map[string]httpapi.HealthCheck, log *slog.Logger) ([]audit.Sink, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, func() {}, nil
	}
	sink, err := kafka.New(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, nil, err
	}
	if err := sink.EnsureTopic(ctx, cfg.Partitions, cfg.Replicas); err != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = sink.Close(closeCtx)
		return nil, nil, err
	}
	checks["kafka"] = sink.Ping
	log.Info("audit events published to kafka", "topic", cfg.Topic, "brokers", cfg.Brokers)

	closeSink := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := sink.Close(closeCtx); err != nil {
			log.Warn("kafka sink flush failed", "error", err)
		}
	}
	return []audit.Sink{sink}, closeSink, nil
}

// openArchive returns nil when uploads are not archived.
func openArchive(ctx context.Context, cfg config.ArchiveConfig, log *slog.Logger) (service.Archive, error) {
	switch cfg.Driver {
	case "file":
		fs, err := archive.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		log.Info("archiving uploads", "driver", "file", "dir", cfg.Dir)
		return fs, nil
	case "s3":
		s3, err := archive.NewS3Store(ctx, archive.S3Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
		if err != nil {
			return nil, err
		}
		log.Info("archiving uploads", "driver", "s3", "bucket", cfg.Bucket)
		return s3, nil
	default:
		return nil, nil
	}
}

// openScanner returns nil when the poppler tools are missing; upload
// endpoints then answer with an internal error.
func openScanner(cfg config.ScannerConfig, log *slog.Logger) service.Scanner {
	var opts []poppler.Option
	if cfg.TempDir != "" {
		opts = append(opts, poppler.WithTempDir(cfg.TempDir))
	}
	renderer, err := poppler.New(cfg.PopplerDir, opts...)
	if err != nil {
		log.Warn("pdf uploads disabled", "error", err)
		return nil
	}
	return scanner.New(renderer, zxing.New(),
		scanner.WithScales(cfg.Scales...),
		scanner.WithAllPages(cfg.AllPages),
		scanner.WithMaxPages(cfg.MaxPages),
		scanner.WithLogger(log),
	)
}
