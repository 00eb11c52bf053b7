package telegram

import (
	"context"
	"time"

	"delta_bot/internal/modules/config"
	"delta_bot/internal/modules/health"
	"delta_bot/internal/notify"
	"delta_bot/pkg/logger"

	"go.uber.org/fx"
)

const alarmInterval = time.Second

// Module — уведомления: Telegram при заданном токене, иначе лог.
// Здесь же алертер с окном и тревога для /healthz.
func Module() fx.Option {
	return fx.Module("telegram",
		// 1. Транспорт
		fx.Provide(
			newTelegram, // func(*config.Config) (*notify.Telegram, error), nil без токена
			newNotifier, // func(*notify.Telegram) notify.Notifier
		),

		// 2. Алерты и тревога
		fx.Provide(
			func(cfg *config.Config, n notify.Notifier) *notify.Alerter {
				return notify.NewAlerter(n, cfg.Alerts.Recipient, cfg.Alerts.Window)
			},
			func() *notify.Alarm { return notify.NewAlarm(alarmInterval) },
			func(a *notify.Alarm) health.AlarmReader { return a },
		),

		// Запуск long-polling команд через Lifecycle
		fx.Invoke(
			func(lc fx.Lifecycle, appCtx context.Context, t *notify.Telegram, alarm *notify.Alarm) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return t.Start(appCtx)
					},
					OnStop: func(ctx context.Context) error {
						t.Stop()
						alarm.Clear()
						return nil
					},
				})
			},
		),
	)
}

func newTelegram(cfg *config.Config) (*notify.Telegram, error) {
	if cfg.Telegram.Token == "" {
		logger.Warn("telegram: token is empty, notifications go to log only")
		return nil, nil
	}
	return notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
}

func newNotifier(t *notify.Telegram) notify.Notifier {
	if t == nil {
		return notify.NewStdout()
	}
	return t
}
