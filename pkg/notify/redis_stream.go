package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisStreamConfig configures the Redis stream publisher.
type RedisStreamConfig struct {
	Addr     string
	Password string
	Stream   string
	MaxLen   int64
}

// RedisStreamPublisher appends run events to a capped Redis stream.
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamPublisher builds a stream publisher.
func NewRedisStreamPublisher(cfg RedisStreamConfig) (*RedisStreamPublisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("notify stream required")
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisStreamPublisher{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream: stream,
		maxLen: maxLen,
	}, nil
}

// Publish appends the event.
func (p *RedisStreamPublisher) Publish(ctx context.Context, ev RunFinished) error {
	body, err := encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"run_id":   ev.RunID,
			"critical": ev.Critical,
			"event":    string(body),
		},
	}).Err()
}

// Close closes the Redis client.
func (p *RedisStreamPublisher) Close() error {
	return p.client.Close()
}
