package postgres

import (
	"context"
	"fmt"

	"delta_bot/internal/modules/config"
	"delta_bot/pkg/db"
	"delta_bot/pkg/logger"

	"go.uber.org/fx"
)

// Module — пул Postgres для журнала ордеров. Пустой db_dsn — журнал только в памяти,
// провайдер отдаёт nil TxManager.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(lc fx.Lifecycle, ctx context.Context, cfg *config.Config) (db.TxManager, error) {
				if cfg.DB == "" {
					logger.Warn("postgres: db_dsn is empty, order journal is in-memory only")
					return nil, nil
				}

				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN:      cfg.DB,
					MaxConns: 4,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					poolMaster.Close()
					return nil, err
				}

				m := db.NewPgTxManager(poolMaster)
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						m.Close()
						return nil
					},
				})
				return m, nil
			},
		),
	)
}
