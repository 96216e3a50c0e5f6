// Package redisstore shares cache entries between processes through Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cognicore/sentiprep/pkg/sentiprep/store"
)

// Config holds Redis connection configuration.
type Config struct {
	Address  string
	Password string
	DB       int
	// Prefix namespaces keys so several deployments can share one instance.
	Prefix string
	// TTL bounds entry lifetime; zero keeps entries until evicted by Redis.
	TTL time.Duration
}

// ErrEmptyAddress is returned when Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

// connectionTimeout is the timeout for verifying Redis connection.
const connectionTimeout = 5 * time.Second

// Store implements store.Backend on top of a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ store.Backend = (*Store)(nil)

type payload struct {
	Op        string    `json:"op"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Open connects to Redis and verifies the connection.
func Open(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return New(client, cfg.Prefix, cfg.TTL), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "sentiprep:"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

// Close implements store.Backend.
func (s *Store) Close() error {
	return s.client.Close()
}

// Load implements store.Backend.
func (s *Store) Load(ctx context.Context, key string) (store.Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, err
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return store.Entry{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return store.Entry{Key: key, Op: p.Op, Value: p.Value, CreatedAt: p.CreatedAt}, true, nil
}

// Save implements store.Backend.
func (s *Store) Save(ctx context.Context, e store.Entry) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	raw, err := json.Marshal(payload{Op: e.Op, Value: e.Value, CreatedAt: created.UTC()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+e.Key, raw, s.ttl).Err()
}

// Delete implements store.Backend.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
