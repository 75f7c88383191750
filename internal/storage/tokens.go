// Package storage persists the session token in SQLite so a session
// survives restarts of the CLI and the sync daemon.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"spesync/internal/log"
	"spesync/internal/session"
)

var _ session.TokenStore = (*TokenStore)(nil)

type TokenStore struct {
	db      *sql.DB
	logger  *log.Logger
	version uint
}

// OpenTokenStore opens (creating if needed) the database at dbPath and
// applies pending migrations.
func OpenTokenStore(dbPath string, logger *log.Logger) (*TokenStore, error) {
	if logger == nil {
		logger = log.Discard()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	version, err := migrateSchema(dbPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	logger = logger.WithComponent(log.ComponentStorage)
	logger.Debug("Token store ready", "path", dbPath, "schema_version", version)
	return &TokenStore{db: db, logger: logger, version: version}, nil
}

// SchemaVersion is the migration version the database was brought to.
func (s *TokenStore) SchemaVersion() uint {
	return s.version
}

func (s *TokenStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *TokenStore) Load(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM session_token WHERE id = 1`).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	return token, nil
}

func (s *TokenStore) Save(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_token (id, token, saved_at) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET token = excluded.token, saved_at = excluded.saved_at`,
		token, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	s.logger.DebugContext(ctx, "Token saved")
	return nil
}

func (s *TokenStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_token`); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	s.logger.DebugContext(ctx, "Token cleared")
	return nil
}
