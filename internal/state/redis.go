// Package state persists operator notification state in Redis so read marks
// and dismissals survive restarts.
package state

import (
	"context"
	"fmt"

	"storefront-triage/internal/config"

	"github.com/redis/go-redis/v9"
)

const (
	readSetKey      = "triage:notifications:read"
	dismissedSetKey = "triage:notifications:dismissed"
)

// Store keeps notification state in two Redis sets.
type Store struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("state: redis ping failed: %w", err)
	}

	return &Store{client: client}, nil
}

// Load returns the persisted read and dismissed notification ids.
func (s *Store) Load(ctx context.Context) (read []string, dismissed []string, err error) {
	read, err = s.client.SMembers(ctx, readSetKey).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("state: load read set: %w", err)
	}
	dismissed, err = s.client.SMembers(ctx, dismissedSetKey).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("state: load dismissed set: %w", err)
	}
	return read, dismissed, nil
}

// MarkRead persists read marks.
func (s *Store) MarkRead(ctx context.Context, ids ...string) error {
	return s.add(ctx, readSetKey, ids)
}

// ClearRead removes read marks.
func (s *Store) ClearRead(ctx context.Context, ids ...string) error {
	return s.remove(ctx, readSetKey, ids)
}

// MarkDismissed persists dismissal suppressions.
func (s *Store) MarkDismissed(ctx context.Context, ids ...string) error {
	return s.add(ctx, dismissedSetKey, ids)
}

// ClearDismissed removes dismissal suppressions.
func (s *Store) ClearDismissed(ctx context.Context, ids ...string) error {
	return s.remove(ctx, dismissedSetKey, ids)
}

func (s *Store) add(ctx context.Context, key string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.client.SAdd(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("state: sadd %s: %w", key, err)
	}
	return nil
}

func (s *Store) remove(ctx context.Context, key string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := s.client.SRem(ctx, key, members...).Err(); err != nil {
		return fmt.Errorf("state: srem %s: %w", key, err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
