package certificate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"certisure/internal/certificate/models"
	"certisure/pkg/platform/sentinel"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS certificates (
	id             UUID PRIMARY KEY,
	data           JSONB NOT NULL,
	data_raw       TEXT NOT NULL,
	data_hash      CHAR(64) NOT NULL UNIQUE,
	array_mode     TEXT NOT NULL,
	institution_id TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL
)`

// PostgresStore persists certificates in PostgreSQL. The registered JSON is
// kept verbatim in data_raw; data is a JSONB copy for ad hoc queries.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed certificate store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the certificates table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate certificates: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, c *models.Certificate) error {
	r := toRow(c)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (id, data, data_raw, data_hash, array_mode, institution_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, string(r.Data), string(r.Data), r.DataHash, r.ArrayMode, r.InstitutionID, r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	return s.findOne(ctx, "id::text = $1", id)
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (*models.Certificate, error) {
	return s.findOne(ctx, "data_hash = $1", hash)
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM certificates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count certificates: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) findOne(ctx context.Context, where string, arg any) (*models.Certificate, error) {
	var r row
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT id::text, data_raw, data_hash, array_mode, institution_id, created_at
		FROM certificates
		WHERE `+where, arg).Scan(&r.ID, &data, &r.DataHash, &r.ArrayMode, &r.InstitutionID, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	r.Data = []byte(data)
	return r.toModel()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
