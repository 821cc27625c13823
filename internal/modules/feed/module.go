package feed

import (
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/feed/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("feed",
		fx.Provide(
			func(cfg *config.Config) *service.Client {
				return service.NewClient(cfg.Feed)
			},
		),
	)
}
