package main

import (
	"context"
	"log"

	"delta_bot/internal/modules/config"
	delta "delta_bot/internal/modules/delta_client"
	"delta_bot/internal/modules/health"
	"delta_bot/internal/modules/postgres"
	"delta_bot/internal/modules/price_feed"
	"delta_bot/internal/modules/signal_source"
	telegram "delta_bot/internal/modules/telegram_bot"
	"delta_bot/internal/runner"
	"delta_bot/pkg/logger"
	"delta_bot/pkg/tracing"

	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(
			// общий ctx циклов, отменяется на остановке приложения
			func(lc fx.Lifecycle) context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						cancel()
						return nil
					},
				})
				return ctx
			},
		),
		config.Module(),
		fx.Invoke(setupObservability),
		health.Module(),
		postgres.Module(),
		delta.Module(),
		price_feed.Module(),
		signal_source.Module(),
		telegram.Module(),
		runner.Module(),
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
}

func setupObservability(lc fx.Lifecycle, cfg *config.Config) error {
	if err := logger.Init(cfg.Log.Level); err != nil {
		return err
	}
	logger.SetServiceName(cfg.Service.Name)
	tracing.SetServiceName(cfg.Service.Name)

	_, closeTracer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.Warn("tracing disabled: %v", err)
		closeTracer = func() {}
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeTracer()
			logger.Sync()
			return nil
		},
	})
	logger.Info("%s starting: symbol=%s product=%d", cfg.Service.Name, cfg.Exchange.Symbol, cfg.Exchange.ProductID)
	return nil
}
