package certificate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"certisure/internal/certificate/models"
	"certisure/pkg/platform/sentinel"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS certificates (
	id             TEXT PRIMARY KEY,
	data           TEXT NOT NULL,
	data_hash      TEXT NOT NULL UNIQUE,
	array_mode     TEXT NOT NULL,
	institution_id TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
)`

// SQLiteStore persists certificates in an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate certificates: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, c *models.Certificate) error {
	r := toRow(c)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO certificates (id, data, data_hash, array_mode, institution_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, string(r.Data), r.DataHash, r.ArrayMode, r.InstitutionID, r.CreatedAt.UnixMilli())
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *SQLiteStore) FindByHash(ctx context.Context, hash string) (*models.Certificate, error) {
	return s.findOne(ctx, "data_hash = ?", hash)
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM certificates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count certificates: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) findOne(ctx context.Context, where string, arg any) (*models.Certificate, error) {
	var r row
	var data string
	var createdMillis int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, data, data_hash, array_mode, institution_id, created_at
		FROM certificates
		WHERE `+where, arg).Scan(&r.ID, &data, &r.DataHash, &r.ArrayMode, &r.InstitutionID, &createdMillis)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find certificate: %w", err)
	}
	r.Data = []byte(data)
	r.CreatedAt = time.UnixMilli(createdMillis).UTC()
	return r.toModel()
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
