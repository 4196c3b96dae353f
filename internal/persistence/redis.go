package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/token-auth/internal/config"
)

const redisDialTimeout = 3 * time.Second

// Redis wraps the client backing the redis token store. It only exists when
// the redis backend is selected, so a non-nil Redis means readiness depends
// on it.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects the redis client. Like the postgres pool, the application
// name is attached to the connection so sessions are identifiable server
// side. An unreachable server is logged but not fatal: the store surfaces the
// failure per request and the readiness probe reports it.
func NewRedis(cfg config.RedisConfig, appName string, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		ClientName: appName,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("unable to reach redis", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr))
	}

	return &Redis{Client: client}
}

// Close releases the client's connections.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping reports whether the token store's redis backend is reachable. A nil
// receiver or missing client counts as unhealthy rather than absent, since
// the wrapper is only constructed when tokens live in redis.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}
