package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/itstheanurag/executioner/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient dials Redis and verifies connectivity before returning,
// mirroring the fail-fast init pattern used elsewhere in the judge ecosystem
// for the Postgres pool.
func NewRedisClient(conf *config.Config) (*redis.Client, error) {
	addr := fmt.Sprintf("%s:%d", conf.Redis.Host, conf.Redis.Port)
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
