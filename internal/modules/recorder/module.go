package recorder

import (
	"context"

	"trade_engine/internal/modules/recorder/service"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("recorder",
		fx.Provide(
			service.New,
		),
		fx.Invoke(func(lc fx.Lifecycle, repo *service.TradeRepository) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					return repo.EnsureSchema(ctx)
				},
				OnStop: func(_ context.Context) error {
					repo.Close()
					return nil
				},
			})
		}),
	)
}
