package health

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisPinger is the slice of the Redis client the cache checker needs.
// *redis.Client satisfies it.
type RedisPinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// Redis returns a checker probing the shared cache/telemetry Redis.
func Redis(client RedisPinger) Checker {
	return Checker{
		Name: "cache",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// PostgresPinger is satisfied by *pgxpool.Pool.
type PostgresPinger interface {
	Ping(ctx context.Context) error
}

// Postgres returns a checker probing the knowledge-store database.
func Postgres(pool PostgresPinger) Checker {
	return Checker{
		Name: "knowledge",
		Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		},
	}
}
