package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/marionette/internal/config"
)

// Store persists definitions and run records in Redis. Definitions (flows,
// workflows, page objects, functions, datasets, jobs) are written by the
// external management surface; the engine mostly reads them and writes run
// records
type Store struct {
	client *redis.Client
	prefix string
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var (
	ErrFlowNotFound        = errors.New("flow not found")
	ErrWorkflowNotFound    = errors.New("workflow not found")
	ErrFunctionNotFound    = errors.New("function not found")
	ErrDatasetNotFound     = errors.New("dataset not found")
	ErrJobNotFound         = errors.New("scheduled job not found")
	ErrFlowRunNotFound     = errors.New("flow run not found")
	ErrWorkflowRunNotFound = errors.New("workflow run not found")
	ErrIDEmpty             = errors.New("record ID empty")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// New wraps an existing Redis client. Every key is namespaced by prefix
func New(client *redis.Client, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
	}
}

// Open connects to the Redis instance described by cfg
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return New(client, cfg.Prefix), nil
}

// Ping checks that Redis is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the Redis connection pool
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

func getJSON[T any](
	ctx context.Context, s *Store, key string, notFound error, id string,
) (*T, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", notFound, id)
	}
	if err != nil {
		return nil, err
	}
	var res T
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &res, nil
}

// getJSONList loads every key in order, skipping keys that have expired or
// been removed since the index was read
func getJSONList[T any](
	ctx context.Context, s *Store, keys []string,
) ([]*T, error) {
	if len(keys) == 0 {
		return []*T{}, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	res := make([]*T, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var item T
		if err := json.Unmarshal([]byte(str), &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		res = append(res, &item)
	}
	return res, nil
}

func clampLimit(limit int) int64 {
	if limit <= 0 {
		return DefaultListLimit
	}
	return int64(min(limit, MaxListLimit))
}
