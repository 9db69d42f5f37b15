package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nhle/auditwatch/internal/model"
)

// ErrNoUser is returned when a history operation is attempted without a
// user identifier.
var ErrNoUser = errors.New("user id is required")

// History persists a bounded notification list per user. Implementations
// namespace every list by user so accounts sharing a machine never see
// each other's history.
type History interface {
	// Save replaces the stored list for userID with the most recent
	// model.HistoryCap entries of notifications.
	Save(ctx context.Context, userID string, notifications []model.Notification) error

	// Load returns the stored list for userID. A missing or corrupt list
	// yields an empty slice and no error.
	Load(ctx context.Context, userID string) ([]model.Notification, error)

	// Clear erases the stored list for userID.
	Clear(ctx context.Context, userID string) error
}

// Store is a History backed by a closable resource.
type Store interface {
	History
	Close() error
}

// StorageKey returns the namespaced key under which a user's notification
// list is stored.
func StorageKey(userID string) string {
	return "notifications_" + userID
}

// Open creates the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg model.StorageConfig, log logrus.FieldLogger) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		s, err := NewSQLiteStore(cfg.Path, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		s, err := NewRedisStore(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// encodeHistory serializes at most model.HistoryCap of the leading
// (most recent) notifications as a JSON array.
func encodeHistory(notifications []model.Notification) ([]byte, error) {
	if len(notifications) > model.HistoryCap {
		notifications = notifications[:model.HistoryCap]
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}

	data, err := json.Marshal(notifications)
	if err != nil {
		return nil, fmt.Errorf("marshaling notifications: %w", err)
	}
	return data, nil
}

// decodeHistory parses a stored JSON array. Timestamps are rebuilt from
// their RFC 3339 form by encoding/json.
func decodeHistory(data []byte) ([]model.Notification, error) {
	var notifications []model.Notification
	if err := json.Unmarshal(data, &notifications); err != nil {
		return nil, fmt.Errorf("unmarshaling notifications: %w", err)
	}
	if notifications == nil {
		notifications = []model.Notification{}
	}
	return notifications, nil
}
