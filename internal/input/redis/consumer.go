package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis submission queue.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

// Consumer wraps a Redis list used as the submission queue.
type Consumer struct {
	client       redis.UniversalClient
	key          string
	blockTimeout time.Duration
}

// NewConsumer creates a Redis consumer for list-based queues.
func NewConsumer(cfg Config) (*Consumer, error) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	c, err := NewConsumerWithClient(client, cfg)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return c, nil
}

// NewConsumerWithClient wraps an existing client.
func NewConsumerWithClient(client redis.UniversalClient, cfg Config) (*Consumer, error) {
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	if cfg.BlockTimeout == 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	return &Consumer{
		client:       client,
		key:          cfg.Key,
		blockTimeout: cfg.BlockTimeout,
	}, nil
}

// Pop pops one message from the list. It returns nil, nil on timeout.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.blockTimeout, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Push appends messages to the tail of the list.
func (c *Consumer) Push(ctx context.Context, messages ...[]byte) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, len(messages))
	for i, m := range messages {
		values[i] = m
	}
	if err := c.client.RPush(ctx, c.key, values...).Err(); err != nil {
		return fmt.Errorf("push to %s: %w", c.key, err)
	}
	return nil
}

// Close closes the consumer.
func (c *Consumer) Close() error {
	return c.client.Close()
}
