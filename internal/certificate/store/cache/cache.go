// Package cache adds a Redis read-through cache in front of a certificate store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"certisure/internal/certificate/models"
	"certisure/pkg/canonical"
)

const (
	idKeyPrefix   = "certisure:cert:id:"
	hashKeyPrefix = "certisure:cert:hash:"

	DefaultTTL = 15 * time.Minute
)

var lookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "certisure_certificate_cache_lookups_total",
	Help: "Certificate cache lookups by result (hit, miss, error)",
}, []string{"result"})

// Store is the backing store being cached.
type Store interface {
	Create(ctx context.Context, c *models.Certificate) error
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	FindByHash(ctx context.Context, hash string) (*models.Certificate, error)
}

// Cached serves lookups from Redis and falls back to the backing store. Redis
// failures degrade to the backing store; they are logged, never returned.
// Certificates are immutable once created, so entries never need invalidation.
type Cached struct {
	next   Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Cached)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cached) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cached) {
		c.logger = logger
	}
}

func New(next Store, client *redis.Client, opts ...Option) *Cached {
	c := &Cached{next: next, client: client, ttl: DefaultTTL, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type entry struct {
	ID            string    `json:"id"`
	Data          string    `json:"data"`
	DataHash      string    `json:"data_hash"`
	ArrayMode     string    `json:"array_mode"`
	InstitutionID string    `json:"institution_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (c *Cached) Create(ctx context.Context, cert *models.Certificate) error {
	if err := c.next.Create(ctx, cert); err != nil {
		return err
	}
	c.put(ctx, cert)
	return nil
}

func (c *Cached) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	if cert, ok := c.get(ctx, idKeyPrefix+id); ok {
		return cert, nil
	}
	cert, err := c.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.put(ctx, cert)
	return cert, nil
}

func (c *Cached) FindByHash(ctx context.Context, hash string) (*models.Certificate, error) {
	id, err := c.client.Get(ctx, hashKeyPrefix+hash).Result()
	switch {
	case err == nil:
		if cert, ok := c.get(ctx, idKeyPrefix+id); ok {
			return cert, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logFailure(ctx, "get", err)
	}
	cert, err := c.next.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.put(ctx, cert)
	return cert, nil
}

func (c *Cached) get(ctx context.Context, key string) (*models.Certificate, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			lookups.WithLabelValues("miss").Inc()
		} else {
			c.logFailure(ctx, "get", err)
		}
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logFailure(ctx, "decode", err)
		return nil, false
	}
	mode, err := canonical.ParseArrayMode(e.ArrayMode)
	if err != nil {
		c.logFailure(ctx, "decode", err)
		return nil, false
	}
	lookups.WithLabelValues("hit").Inc()
	return &models.Certificate{
		ID:            e.ID,
		Data:          []byte(e.Data),
		DataHash:      e.DataHash,
		ArrayMode:     mode,
		InstitutionID: e.InstitutionID,
		CreatedAt:     e.CreatedAt,
	}, true
}

func (c *Cached) put(ctx context.Context, cert *models.Certificate) {
	raw, err := json.Marshal(entry{
		ID:            cert.ID,
		Data:          string(cert.Data),
		DataHash:      cert.DataHash,
		ArrayMode:     cert.ArrayMode.String(),
		InstitutionID: cert.InstitutionID,
		CreatedAt:     cert.CreatedAt,
	})
	if err != nil {
		c.logFailure(ctx, "encode", err)
		return
	}
	pipe := c.client.Pipeline()
	pipe.Set(ctx, idKeyPrefix+cert.ID, raw, c.ttl)
	pipe.Set(ctx, hashKeyPrefix+cert.DataHash, cert.ID, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logFailure(ctx, "set", err)
	}
}

func (c *Cached) logFailure(ctx context.Context, op string, err error) {
	lookups.WithLabelValues("error").Inc()
	c.logger.WarnContext(ctx, "certificate cache unavailable",
		"op", op,
		"error", err,
	)
}
