package delta_client

import (
	"delta_bot/internal/models"
	"delta_bot/internal/modules/config"
	"delta_bot/internal/modules/delta_client/service"
	"delta_bot/pkg/logger"

	"go.uber.org/fx"
)

// Module — REST-доступ к Delta Exchange как models.PositionOracle.
func Module() fx.Option {
	return fx.Module("delta_client",
		fx.Provide(
			func(cfg *config.Config) *service.Client {
				if cfg.Exchange.APIKey == "" || cfg.Exchange.APISecret == "" {
					logger.Warn("delta_client: api key/secret are empty, private endpoints will be rejected")
				}
				return service.NewClient(cfg.Exchange)
			},
			func(c *service.Client) models.PositionOracle { return c },
		),
	)
}
