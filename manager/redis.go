package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTLHours = 24

// RedisStore provides a Redis-backed implementation of the Store interface.
// It uses JSON serialization for run records and supports automatic TTL-based
// cleanup. This implementation is suitable for deployments where operators
// inspect the run registry from outside the process.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the time-to-live for run records. After this duration without
// an update, records are automatically deleted. Default is 24 hours. Set to 0
// for no expiration.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys. Default is "fluxpoint".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a new Redis-backed run registry.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(24 * time.Hour),
//	    WithPrefix("myplane"),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTLHours * time.Hour,
		prefix: "fluxpoint",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Save inserts or replaces the run keyed by its definition name.
func (s *RedisStore) Save(ctx context.Context, run *Run) error {
	if run.Definition == nil || run.Definition.Name == "" {
		return ErrInvalidName
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	name := run.Definition.Name
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.runKey(name), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), name)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.indexKey(), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save failed: %w", err)
	}
	return nil
}

// Load retrieves a run by workflow name.
func (s *RedisStore) Load(ctx context.Context, workflowName string) (*Run, error) {
	if workflowName == "" {
		return nil, ErrInvalidName
	}

	data, err := s.client.Get(ctx, s.runKey(workflowName)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// Delete removes a run by workflow name.
func (s *RedisStore) Delete(ctx context.Context, workflowName string) error {
	if workflowName == "" {
		return ErrInvalidName
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.runKey(workflowName))
	pipe.SRem(ctx, s.indexKey(), workflowName)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// List returns all runs in unspecified order. Records whose value has expired
// out from under the index are skipped.
func (s *RedisStore) List(ctx context.Context) ([]*Run, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}

	runs := make([]*Run, 0, len(names))
	for _, name := range names {
		run, err := s.Load(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *RedisStore) runKey(name string) string {
	return fmt.Sprintf("%s:run:%s", s.prefix, name)
}

func (s *RedisStore) indexKey() string {
	return fmt.Sprintf("%s:runs", s.prefix)
}
