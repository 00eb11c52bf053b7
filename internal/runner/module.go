package runner

import (
	"context"
	"fmt"

	"delta_bot/internal/execution"
	"delta_bot/internal/ledger"
	"delta_bot/internal/ledger/pg"
	"delta_bot/internal/models"
	"delta_bot/internal/modules/config"
	healthsvc "delta_bot/internal/modules/health/service"
	pricesvc "delta_bot/internal/modules/price_feed/service"
	signalsvc "delta_bot/internal/modules/signal_source/service"
	tgfmt "delta_bot/internal/modules/telegram_bot/service"
	"delta_bot/internal/notify"
	"delta_bot/internal/runner/router"
	"delta_bot/internal/runner/trailing"
	"delta_bot/pkg/db"
	"delta_bot/pkg/logger"

	"go.uber.org/fx"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			func(tx db.TxManager) *pg.Orders { return pg.NewOrders(tx) },
			func(o models.PositionOracle, journal *pg.Orders) *ledger.Ledger {
				return ledger.New(o, journal)
			},
			func(cfg *config.Config, l *ledger.Ledger) *execution.Engine {
				return execution.New(l, cfg.Execution)
			},
			newTrailing,
			newRouter,
			func(t *trailing.Engine, r *router.Router) *Manager {
				return NewManager(
					Loop{Name: "trailing", Run: t.Run},
					Loop{Name: "router", Run: func(ctx context.Context) error {
						r.Run(ctx)
						return nil
					}},
				)
			},
		),
		fx.Invoke(registerCommands),
		fx.Invoke(func(
			lc fx.Lifecycle,
			ctx context.Context,
			journal *pg.Orders,
			m *Manager,
		) {
			lc.Append(fx.Hook{
				OnStart: func(startCtx context.Context) error {
					if err := journal.EnsureSchema(startCtx); err != nil {
						// журнал best-effort, торговать можно и без него
						logger.Error("runner: order journal schema: %v", err)
					}
					return m.Start(ctx)
				},
				OnStop: func(_ context.Context) error {
					m.Stop()
					return nil
				},
			})
		}),
	)
}

func newTrailing(
	cfg *config.Config,
	oracle models.PositionOracle,
	cell *pricesvc.Cell,
	exec *execution.Engine,
	l *ledger.Ledger,
	alerts *notify.Alerter,
	alarm *notify.Alarm,
	st *healthsvc.State,
) *trailing.Engine {
	return trailing.NewEngine(
		trailing.Settings{
			Trailing:          cfg.Trailing,
			Symbol:            cfg.Exchange.Symbol,
			ProductID:         cfg.Exchange.ProductID,
			FirstPriceTimeout: cfg.PriceFeed.FirstPriceTimeout,
		},
		trailing.Deps{
			Oracle:   oracle,
			Prices:   cell,
			Closer:   exec,
			Brackets: l,
			Alerts:   alerts,
			Alarm:    alarm,
			Health:   st,
		},
	)
}

func newRouter(
	cfg *config.Config,
	source *signalsvc.Source,
	l *ledger.Ledger,
	exec *execution.Engine,
	cell *pricesvc.Cell,
	n notify.Notifier,
) *router.Router {
	r := router.New(
		router.Settings{
			Symbol:           cfg.Exchange.Symbol,
			ProductID:        cfg.Exchange.ProductID,
			Signals:          cfg.Signals,
			CloseTimeInForce: cfg.Trailing.CloseTimeInForce,
		},
		source, l, exec, cell,
	)
	return r.OnEvent(func(sig models.Signal, res router.Result, err error) {
		subject, body := describe(sig, res, err)
		if subject == "" {
			return
		}
		if sendErr := n.Send(context.Background(), subject, body, ""); sendErr != nil {
			logger.Warn("runner: notify signal result: %v", sendErr)
		}
	})
}

// describe — текст уведомления; пустой subject — уведомлять не о чем.
func describe(sig models.Signal, res router.Result, err error) (string, string) {
	switch {
	case err != nil:
		return "⚠️ Сигнал не исполнен", fmt.Sprintf("%q: %v", sig.Text, err)
	case res.Action == router.ActionPlaced:
		o := res.Order
		return "✅ Ордер выставлен", fmt.Sprintf("%s %s %v @ %s\nSL %s TP %s",
			o.Symbol, o.Side, o.Amount, models.FormatPrice(o.Price),
			o.Params[models.ParamStopLossPrice], o.Params[models.ParamTakeProfitPrice])
	case res.Action == router.ActionClosed && res.Reason == "":
		return "💰 Take profit", fmt.Sprintf("позиции закрыты по сигналу %q", sig.Text)
	default:
		return "", ""
	}
}

func registerCommands(
	cfg *config.Config,
	t *notify.Telegram,
	oracle models.PositionOracle,
	l *ledger.Ledger,
	tr *trailing.Engine,
	cell *pricesvc.Cell,
) {
	symbol := cfg.Exchange.Symbol

	t.Handle("positions", func(ctx context.Context) string {
		ps, err := oracle.FetchPositions(ctx)
		if err != nil {
			return "⚠️ Не удалось получить позиции: " + err.Error()
		}
		live, _ := cell.Last()
		return tgfmt.FormatPositions(ps, tr.Stops(), live)
	})

	t.Handle("orders", func(ctx context.Context) string {
		orders, err := oracle.FetchOpenOrders(ctx, symbol)
		if err != nil {
			logger.Warn("runner: /orders falls back to local ledger: %v", err)
			orders = l.Snapshot()
		}
		return tgfmt.FormatOrders(orders)
	})
}
