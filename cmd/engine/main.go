package main

import (
	"context"
	"log"

	"trade_engine/internal/engine"
	"trade_engine/internal/modules/config"
	"trade_engine/internal/modules/feed"
	"trade_engine/internal/modules/health"
	"trade_engine/internal/modules/postgres"
	"trade_engine/internal/modules/recorder"
	"trade_engine/internal/notify"
	"trade_engine/pkg/logger"
	"trade_engine/pkg/tracing"

	"go.uber.org/fx"
)

func main() {
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())

	app := fx.New(
		fx.Provide(
			func() context.Context { return ctx },
			// Notifier: если TELEGRAM_* нет — используем stdout
			func(cfg *config.Config) notify.Notifier {
				if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
					if tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID); err == nil {
						return tg
					}
					logger.Error("[MAIN] telegram init failed, falling back to stdout")
				}
				return notify.NewStdout()
			},
		),
		config.Module(),
		postgres.Module(),
		feed.Module(),
		recorder.Module(),
		health.Module(),
		engine.Module(),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) {
			var closeTracer func()
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					_, closer, err := tracing.InitTracer(tracing.Config{
						Host: cfg.Jaeger.Host,
						Port: cfg.Jaeger.Port,
					})
					if err != nil {
						// трейсинг опционален, торгуем без него
						logger.Error("[MAIN] tracer init: %v", err)
						return nil
					}
					closeTracer = closer
					return nil
				},
				OnStop: func(_ context.Context) error {
					cancel() // раннеры начинают закрываться до остановки БД
					if closeTracer != nil {
						closeTracer()
					}
					return nil
				},
			})
		}),
	)
	if err := app.Err(); err != nil {
		log.Fatal(err)
	}
	app.Run()
}
