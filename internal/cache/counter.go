package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/duckgate/duckgate/internal/config"
)

// CounterStore keeps fixed-window request counters in Redis so rate limits
// hold across gateway instances. Only client keys and integer counters are
// stored; request content never reaches Redis.
type CounterStore struct {
	client    *redis.Client
	keyPrefix string
	window    time.Duration
	logger    *zap.Logger
}

// NewCounterStore connects to Redis and verifies the connection.
func NewCounterStore(cfg config.CacheConfig, logger *zap.Logger) (*CounterStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = cfg.MaxConnections
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}

	logger.Info("Rate counter store initialized",
		zap.String("redis_url", maskRedisURL(cfg.RedisURL)),
		zap.Int("max_connections", cfg.MaxConnections),
		zap.Duration("window", window),
	)

	return &CounterStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		window:    window,
		logger:    logger,
	}, nil
}

// Incr increments the client's counter for the current window and returns
// the count. The key carries the window start so counters expire on their
// own; INCR and EXPIRE travel in one pipeline round trip.
func (s *CounterStore) Incr(ctx context.Context, clientKey string) (int64, error) {
	key := s.windowKey(clientKey, time.Now())

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment rate counter: %w", err)
	}

	return incr.Val(), nil
}

// Close closes the Redis connection.
func (s *CounterStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *CounterStore) windowKey(clientKey string, now time.Time) string {
	windowStart := now.Truncate(s.window).Unix()
	return fmt.Sprintf("%s:%s:%d", s.keyPrefix, clientKey, windowStart)
}

// maskRedisURL masks credentials in a Redis URL for logging.
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
