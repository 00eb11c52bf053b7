package signal_source

import (
	"context"

	"delta_bot/internal/modules/config"
	"delta_bot/internal/modules/signal_source/service"
	"delta_bot/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Module — источник сигналов в Redis.
func Module() fx.Option {
	return fx.Module("signal_source",
		fx.Provide(
			func(cfg *config.Config) *redis.Client {
				return service.NewClient(cfg.Redis)
			},
			func(cfg *config.Config, rdb *redis.Client) *service.Source {
				return service.NewSource(rdb, cfg.Redis.SignalKey)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, rdb *redis.Client) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					// недоступный redis не мешает старту: цикл сигналов залогирует и повторит
					if err := rdb.Ping(ctx).Err(); err != nil {
						logger.Warn("signal_source: redis ping: %v", err)
					}
					return nil
				},
				OnStop: func(ctx context.Context) error {
					return rdb.Close()
				},
			})
		}),
	)
}
