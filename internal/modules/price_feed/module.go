package price_feed

import (
	"context"
	"time"

	"delta_bot/internal/modules/config"
	healthsvc "delta_bot/internal/modules/health/service"
	"delta_bot/internal/modules/price_feed/service"
	"delta_bot/pkg/logger"

	"go.uber.org/fx"
)

// Module поднимает фид последней цены: REST-снапшот + aggTrade WebSocket.
func Module() fx.Option {
	return fx.Module("price_feed",
		fx.Provide(
			func(cfg *config.Config) *service.Cell {
				return service.NewCell(cfg.PriceFeed.StaleAfter)
			},
			func(cfg *config.Config, cell *service.Cell, st *healthsvc.State) *service.Stream {
				return service.NewStream(cfg.PriceFeed, cell, st)
			},
			func(cfg *config.Config) service.PriceLister {
				return service.NewBinanceREST(cfg.PriceFeed)
			},
		),
		fx.Invoke(func(
			lc fx.Lifecycle,
			ctx context.Context,
			cfg *config.Config,
			s *service.Stream,
			cell *service.Cell,
			lister service.PriceLister,
			st *healthsvc.State,
		) {
			st.SetReadyCheck(func() bool {
				_, ok := cell.Last()
				return ok
			})
			st.SetPriceState(func() string { return cell.State().String() })

			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go s.Run(ctx)
					go func() {
						if err := service.Prime(ctx, lister, cell, cfg.PriceFeed.RESTSymbol, time.Now()); err != nil {
							logger.Warn("price_feed: REST snapshot: %v", err)
						}
					}()
					return nil
				},
			})
		}),
	)
}
