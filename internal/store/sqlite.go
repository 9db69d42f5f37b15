package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/nhle/auditwatch/internal/model"
)

// SQLiteStore implements Store using a local SQLite database. Each user's
// list is one row keyed by StorageKey holding the JSON array.
type SQLiteStore struct {
	db  *sqlx.DB
	log logrus.FieldLogger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string, log logrus.FieldLogger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// One connection: ":memory:" databases are per-connection, and
	// SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, log: log}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Save replaces the stored list for userID.
func (s *SQLiteStore) Save(
	ctx context.Context,
	userID string,
	notifications []model.Notification,
) error {
	if userID == "" {
		return ErrNoUser
	}

	payload, err := encodeHistory(notifications)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO notification_history (storage_key, payload, updated_at)
		VALUES (?, ?, ?)`,
		StorageKey(userID), string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving notifications for %s: %w", userID, err)
	}

	return nil
}

// Load returns the stored list for userID. Corrupt rows are deleted and
// reported as an empty history.
func (s *SQLiteStore) Load(
	ctx context.Context,
	userID string,
) ([]model.Notification, error) {
	if userID == "" {
		return nil, ErrNoUser
	}

	var payload string
	err := s.db.GetContext(ctx, &payload,
		"SELECT payload FROM notification_history WHERE storage_key = ?",
		StorageKey(userID),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return []model.Notification{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading notifications for %s: %w", userID, err)
	}

	notifications, err := decodeHistory([]byte(payload))
	if err != nil {
		s.log.WithError(err).WithField("user", userID).
			Warn("discarding corrupt notification history")
		if clearErr := s.Clear(ctx, userID); clearErr != nil {
			s.log.WithError(clearErr).Warn("clearing corrupt notification history")
		}
		return []model.Notification{}, nil
	}

	return notifications, nil
}

// Clear erases the stored list for userID.
func (s *SQLiteStore) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNoUser
	}

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM notification_history WHERE storage_key = ?",
		StorageKey(userID),
	)
	if err != nil {
		return fmt.Errorf("clearing notifications for %s: %w", userID, err)
	}
	return nil
}
