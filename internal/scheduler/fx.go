package scheduler

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/credora/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func provideRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

func provideLocker(client *redis.Client) *Locker {
	return NewLocker(client)
}

func registerHooks(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Scheduler, client *redis.Client) {
	if !cfg.Scheduler.Enabled {
		log.Info("billing scheduler disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			s.Stop()
			if client != nil {
				return client.Close()
			}
			return nil
		},
	})
}

var Module = fx.Module("scheduler",
	fx.Provide(provideRedis),
	fx.Provide(provideLocker),
	fx.Provide(New),
	fx.Invoke(registerHooks),
)
