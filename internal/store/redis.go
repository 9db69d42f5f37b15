package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nhle/auditwatch/internal/model"
)

// RedisStore implements Store on a Redis server, one string key per user.
// It lets several machines of the same user share history.
type RedisStore struct {
	rdb *redis.Client
	log logrus.FieldLogger
}

// NewRedisStore connects to redisURL (redis:// or rediss://) and pings it.
func NewRedisStore(ctx context.Context, redisURL string, log logrus.FieldLogger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = time.Second

	if opts.TLSConfig == nil && strings.HasPrefix(redisURL, "rediss://") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &RedisStore{rdb: rdb, log: log}, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// Save replaces the stored list for userID.
func (s *RedisStore) Save(
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

	if err := s.rdb.Set(ctx, StorageKey(userID), payload, 0).Err(); err != nil {
		return fmt.Errorf("saving notifications for %s: %w", userID, err)
	}
	return nil
}

// Load returns the stored list for userID. Corrupt values are deleted and
// reported as an empty history.
func (s *RedisStore) Load(
	ctx context.Context,
	userID string,
) ([]model.Notification, error) {
	if userID == "" {
		return nil, ErrNoUser
	}

	payload, err := s.rdb.Get(ctx, StorageKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []model.Notification{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading notifications for %s: %w", userID, err)
	}

	notifications, err := decodeHistory(payload)
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
func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNoUser
	}
	if err := s.rdb.Del(ctx, StorageKey(userID)).Err(); err != nil {
		return fmt.Errorf("clearing notifications for %s: %w", userID, err)
	}
	return nil
}
