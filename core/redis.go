// Package core provides the shared contracts of the brain: logging and
// telemetry interfaces, the error taxonomy, global defaults, and Redis
// connection management used by every durable store.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ConnectRedis creates and verifies a Redis client. The URL is parsed
// with redis.ParseURL; a plain host:port address is accepted as a
// fallback. The DB override applies when in the 0-15 range.
func ConnectRedis(redisURL string, db int, logger Logger) (*redis.Client, error) {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		// Treat it as a bare address if URL parsing fails
		opt = &redis.Options{Addr: redisURL}
	}
	if db >= 0 && db <= 15 {
		opt.DB = db
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed at %s (DB %d): %w", opt.Addr, opt.DB, err)
	}

	logger.Info("Redis client connected", map[string]interface{}{
		"redis_addr": opt.Addr,
		"redis_db":   opt.DB,
	})

	return client, nil
}
