// Package redisstore keeps event windows in Redis sorted sets, one key per
// (tenant, source IP), scored by event time in microseconds.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	redis "github.com/redis/go-redis/v9"

	"threatlog/internal/logger"
	"threatlog/internal/store"
	"threatlog/pkg/models"
)

// Config configures Redis access for the event window store.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Retention time.Duration
}

// Store is a Redis-backed store.EventStore.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	clock     store.Monotonic
}

// New constructs a Redis-backed store and verifies connectivity.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis event store: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, cfg Config) *Store {
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "threatlog:events"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}
	return &Store{
		client:    client,
		prefix:    prefix,
		retention: cfg.Retention,
		clock:     store.Monotonic{Resolution: time.Microsecond},
	}
}

// Append adds the event to its window and trims entries older than retention.
func (s *Store) Append(ctx context.Context, event *models.Event) error {
	if event == nil {
		return nil
	}
	if event.Owner == "" {
		return models.ErrMissingOwner
	}
	event.Timestamp = s.clock.Next(event.Timestamp)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	key := s.windowKey(event.Owner, event.SourceIP)
	score := float64(event.Timestamp.UnixMicro())
	cutoff := event.Timestamp.Add(-s.retention).UnixMicro()

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: payload})
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, s.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append event to redis window: %w", err)
	}
	return nil
}

// CountMatching counts the events in q's window.
func (s *Store) CountMatching(ctx context.Context, q store.Query) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	if q.Filter == (store.Filter{}) {
		n, err := s.client.ZCount(ctx, s.windowKey(q.Owner, q.SourceIP), minScore(q.Since), "+inf").Result()
		if err != nil {
			return 0, fmt.Errorf("count redis window: %w", err)
		}
		return int(n), nil
	}
	events, err := s.window(ctx, q)
	if err != nil {
		return 0, err
	}
	return len(events), nil
}

// DistinctMatching returns distinct field values in q's window, first seen first.
func (s *Store) DistinctMatching(ctx context.Context, q store.Query, field store.Field) ([]string, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	events, err := s.window(ctx, q)
	if err != nil {
		return nil, err
	}
	return store.Distinct(events, field)
}

func (s *Store) window(ctx context.Context, q store.Query) ([]*models.Event, error) {
	members, err := s.client.ZRangeByScore(ctx, s.windowKey(q.Owner, q.SourceIP), &redis.ZRangeBy{
		Min: minScore(q.Since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read redis window: %w", err)
	}

	out := make([]*models.Event, 0, len(members))
	for _, m := range members {
		var ev models.Event
		if err := json.Unmarshal([]byte(m), &ev); err != nil {
			logger.Warnf("Skipping undecodable window member in %s: %v", q.SourceIP, err)
			continue
		}
		if store.Matches(q, &ev) {
			out = append(out, &ev)
		}
	}
	return out, nil
}

// Close closes Redis resources.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// windowKey length-prefixes the owner so (owner, ip) pairs that contain
// colons cannot map to the same key.
func (s *Store) windowKey(owner, sourceIP string) string {
	return s.prefix + ":" + strconv.Itoa(len(owner)) + ":" + owner + ":" + sourceIP
}

func minScore(since time.Time) string {
	if since.IsZero() {
		return "-inf"
	}
	return strconv.FormatInt(since.UnixMicro(), 10)
}
