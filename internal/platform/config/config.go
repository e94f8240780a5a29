// Package config loads server configuration from CERTISURE_* environment
// variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"certisure/pkg/canonical"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "CERTISURE_"

// Server captures process-level configuration.
type Server struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxUploadBytes  int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	// ArrayMode selects how arrays are hashed: verbatim, recursive or indexed.
	ArrayMode string `env:"ARRAY_MODE" envDefault:"verbatim"`

	Store     StoreConfig     `envPrefix:"STORE_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Kafka     KafkaConfig     `envPrefix:"KAFKA_"`
	Scanner   ScannerConfig   `envPrefix:"SCANNER_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
	Archive   ArchiveConfig   `envPrefix:"ARCHIVE_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	OTel      OTelConfig      `envPrefix:"OTEL_"`
}

// StoreConfig selects the certificate store. Driver is memory, sqlite or postgres.
type StoreConfig struct {
	Driver string `env:"DRIVER" envDefault:"memory"`
	DSN    string `env:"DSN"`
}

// RedisConfig configures the read-through cache. An empty URL disables it.
type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"15m"`
}

// KafkaConfig configures the audit sink. No brokers disables it.
type KafkaConfig struct {
	Brokers    []string `env:"BROKERS" envSeparator:","`
	Topic      string   `env:"TOPIC" envDefault:"certisure.audit"`
	Partitions int32    `env:"PARTITIONS" envDefault:"1"`
	Replicas   int16    `env:"REPLICAS" envDefault:"1"`
}

// ScannerConfig configures PDF rasterization and QR search.
type ScannerConfig struct {
	PopplerDir string    `env:"POPPLER_DIR"`
	TempDir    string    `env:"TEMP_DIR"`
	Scales     []float64 `env:"SCALES" envSeparator:"," envDefault:"1.5,2,3,4"`
	AllPages   bool      `env:"ALL_PAGES" envDefault:"true"`
	MaxPages   int       `env:"MAX_PAGES" envDefault:"10"`
}

// AuthConfig configures capability tokens. An empty key runs in development
// mode with capability checks disabled.
type AuthConfig struct {
	SigningKey string        `env:"SIGNING_KEY"`
	Issuer     string        `env:"ISSUER" envDefault:"certisure"`
	Audience   string        `env:"AUDIENCE" envDefault:"certisure-api"`
	ReceiptTTL time.Duration `env:"RECEIPT_TTL" envDefault:"24h"`
}

// ArchiveConfig configures where uploaded PDFs are kept. Driver is none, file or s3.
type ArchiveConfig struct {
	Driver   string `env:"DRIVER" envDefault:"none"`
	Dir      string `env:"DIR" envDefault:"./data/archive"`
	Bucket   string `env:"BUCKET"`
	Prefix   string `env:"PREFIX" envDefault:"uploads/"`
	Region   string `env:"REGION"`
	Endpoint string `env:"ENDPOINT"`
}

// RateLimitConfig bounds uploads per client IP. Zero Limit disables it.
type RateLimitConfig struct {
	Limit  int           `env:"LIMIT" envDefault:"30"`
	Window time.Duration `env:"WINDOW" envDefault:"1m"`
}

// OTelConfig enables OTLP/HTTP trace export when Endpoint is set.
type OTelConfig struct {
	Endpoint    string `env:"ENDPOINT"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"certisure"`
}

// FromEnv loads and validates a Server config from the environment.
func FromEnv() (Server, error) {
	return Parse(env.Options{Prefix: EnvPrefix})
}

// Parse loads a Server config with explicit options; tests pass Environment.
func Parse(opts env.Options) (Server, error) {
	var cfg Server
	if opts.Prefix == "" {
		opts.Prefix = EnvPrefix
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (c Server) Validate() error {
	if _, err := canonical.ParseArrayMode(c.ArrayMode); err != nil {
		return fmt.Errorf("%sARRAY_MODE: %w", EnvPrefix, err)
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("%sSTORE_DSN is required for the %s driver", EnvPrefix, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%sSTORE_DRIVER: unknown driver %q", EnvPrefix, c.Store.Driver)
	}
	switch c.Archive.Driver {
	case "none", "file":
	case "s3":
		if c.Archive.Bucket == "" {
			return fmt.Errorf("%sARCHIVE_BUCKET is required for the s3 driver", EnvPrefix)
		}
	default:
		return fmt.Errorf("%sARCHIVE_DRIVER: unknown driver %q", EnvPrefix, c.Archive.Driver)
	}
	if len(c.Scanner.Scales) == 0 {
		return fmt.Errorf("%sSCANNER_SCALES must list at least one scale", EnvPrefix)
	}
	for _, s := range c.Scanner.Scales {
		if s <= 0 {
			return fmt.Errorf("%sSCANNER_SCALES: scale %v must be positive", EnvPrefix, s)
		}
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("%sMAX_UPLOAD_BYTES must be positive", EnvPrefix)
	}
	return nil
}

// CapabilitiesEnabled reports whether capability tokens are enforced.
func (c Server) CapabilitiesEnabled() bool {
	return c.Auth.SigningKey != ""
}
