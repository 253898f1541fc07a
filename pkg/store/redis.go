package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Radicalscale/virevo-sub005/pkg/errorsx"
	"github.com/Radicalscale/virevo-sub005/pkg/logging"
)

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type Redis struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewRedis(cfg RedisConfig) *Redis {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{
		rdb:    rdb,
		logger: logging.NewComponentLogger(slog.Default(), "store"),
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return errorsx.Wrap(r.rdb.Ping(ctx).Err(), errorsx.ReasonStoreUnavailable)
}

func (r *Redis) SetFlag(ctx context.Context, callID, name string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	err := r.rdb.Set(ctx, flagKey(callID, name), "1", ttl).Err()
	if err != nil {
		r.logger.Error("flag publish failed",
			slog.String("call_id", callID),
			slog.String("flag", name),
			slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonStoreUnavailable)
	}
	return nil
}

// ConsumeFlag uses GETDEL so concurrent pollers observe at most one hit.
func (r *Redis) ConsumeFlag(ctx context.Context, callID, name string) (bool, error) {
	val, err := r.rdb.GetDel(ctx, flagKey(callID, name)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errorsx.Wrap(err, errorsx.ReasonStoreUnavailable)
	}
	return val != "", nil
}

func (r *Redis) IncrProgress(ctx context.Context, callID string, ttl time.Duration) (int64, error) {
	key := progressKey(callID)
	n, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, errorsx.Wrap(err, errorsx.ReasonStoreUnavailable)
	}
	if ttl > 0 {
		_ = r.rdb.Expire(ctx, key, ttl).Err()
	}
	return n, nil
}

func (r *Redis) SetCallMeta(ctx context.Context, callID, field, value string, ttl time.Duration) error {
	return errorsx.Wrap(r.rdb.Set(ctx, metaKey(callID, field), value, ttl).Err(), errorsx.ReasonStoreUnavailable)
}

func (r *Redis) GetCallMeta(ctx context.Context, callID, field string) (string, error) {
	val, err := r.rdb.Get(ctx, metaKey(callID, field)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonStoreUnavailable)
	}
	return val, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

var _ Client = (*Redis)(nil)
