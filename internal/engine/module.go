package engine

import (
	"context"

	"trade_engine/internal/modules/config"
	feedsvc "trade_engine/internal/modules/feed/service"
	healthsvc "trade_engine/internal/modules/health/service"
	"trade_engine/internal/modules/recorder/service"
	"trade_engine/internal/notify"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("engine",
		fx.Provide(
			func(cfg *config.Config, feed *feedsvc.Client, repo *service.TradeRepository, n notify.Notifier, hs *healthsvc.State) *Manager {
				return NewManager(cfg, feed, repo, n, hs)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, m *Manager, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go m.RunAll(ctx)
					return nil
				},
				OnStop: func(_ context.Context) error {
					// синхронно: ждём закрытия позиций и записи сессий
					m.StopAll()
					return nil
				},
			})
		}),
	)
}
