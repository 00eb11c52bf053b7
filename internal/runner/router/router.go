// Package router превращает сигналы из источника в лимитные ордера с брекетом.
package router

import (
	"context"
	"sync"
	"time"

	"delta_bot/internal/execution"
	"delta_bot/internal/ledger"
	"delta_bot/internal/models"
	"delta_bot/internal/modules/config"
	"delta_bot/pkg/logger"
	"delta_bot/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type SignalFetcher interface {
	Fetch(ctx context.Context) (models.Signal, bool, error)
}

type PriceWaiter interface {
	WaitFor(ctx context.Context, timeout time.Duration) (float64, error)
}

type Closer interface {
	ClosePosition(ctx context.Context, p models.Position, timeInForce string) (execution.Outcome, error)
}

type Action string

const (
	ActionRejected Action = "rejected"
	ActionSkipped  Action = "skipped"
	ActionClosed   Action = "closed"
	ActionPlaced   Action = "placed"
)

type Result struct {
	Action Action
	Reason string
	Order  models.Order
}

type Settings struct {
	Symbol    string
	ProductID int
	Signals   config.SignalsConfig

	// TIF закрывающих ордеров
	CloseTimeInForce string
}

type Router struct {
	set     Settings
	source  SignalFetcher
	ledger  *ledger.Ledger
	oracle  models.PositionOracle
	closer  Closer
	prices  PriceWaiter
	sleep   func(ctx context.Context, d time.Duration) error
	onEvent func(sig models.Signal, res Result, err error)

	mu   sync.Mutex
	last *models.Signal
}

func New(set Settings, source SignalFetcher, l *ledger.Ledger, closer Closer, prices PriceWaiter) *Router {
	if set.CloseTimeInForce == "" {
		set.CloseTimeInForce = "ioc"
	}
	return &Router{
		set:    set,
		source: source,
		ledger: l,
		oracle: l.Oracle(),
		closer: closer,
		prices: prices,
		sleep:  sleepCtx,
	}
}

// OnEvent вызывается после каждого обработанного сигнала (уведомления, тесты).
func (r *Router) OnEvent(fn func(sig models.Signal, res Result, err error)) *Router {
	r.onEvent = fn
	return r
}

func (r *Router) Last() (models.Signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return models.Signal{}, false
	}
	return *r.last, true
}

// Run опрашивает источник каждые PollInterval до отмены ctx.
func (r *Router) Run(ctx context.Context) {
	logger.Info("router: polling signals every %s for %s", r.set.Signals.PollInterval, r.set.Symbol)

	t := time.NewTicker(r.set.Signals.PollInterval)
	defer t.Stop()

	for {
		r.Poll(ctx)
		select {
		case <-ctx.Done():
			logger.Info("router: stopped")
			return
		case <-t.C:
		}
	}
}

// Poll: один цикл. Повтор того же текста игнорируется; последний сигнал
// запоминается независимо от исхода обработки.
func (r *Router) Poll(ctx context.Context) bool {
	sig, ok, err := r.source.Fetch(ctx)
	if err != nil {
		logger.Error("router: fetch signal: %v", err)
		return false
	}
	if !ok {
		logger.Debug("router: no signal")
		return false
	}

	r.mu.Lock()
	same := sig.SameAs(r.last)
	r.mu.Unlock()
	if same {
		logger.Debug("router: signal unchanged: %q", sig.Text)
		return false
	}

	logger.Info("router: new signal %q", sig.Text)
	res, err := r.Process(ctx, sig)
	switch {
	case err != nil:
		logger.Error("router: signal %q: %v", sig.Text, err)
	case res.Action == ActionPlaced:
		logger.Info("router: order %s placed for %q", res.Order.ID, sig.Text)
	default:
		logger.Info("router: signal %q %s: %s", sig.Text, res.Action, res.Reason)
	}

	r.mu.Lock()
	r.last = &sig
	r.mu.Unlock()

	if r.onEvent != nil {
		r.onEvent(sig, res, err)
	}
	return true
}

// Process проводит один новый сигнал через отмену, закрытие и вход.
func (r *Router) Process(ctx context.Context, sig models.Signal) (res Result, err error) {
	_, ctx, finish := tracing.StartSpan(ctx, "router.Process",
		opentracing.Tag{Key: "symbol", Value: r.set.Symbol},
		opentracing.Tag{Key: "signal", Value: sig.Text},
	)
	defer func() { finish(err) }()

	intent, ok := ParseIntent(sig.Text)
	if !ok {
		logger.Warn("router: signal text has no buy/short/take profit: %q", sig.Text)
		return Result{Action: ActionRejected, Reason: "unrecognized_text"}, nil
	}

	r.cancelConflicting(ctx, intent)
	if !intent.IsClose() {
		r.cancelSameSide(ctx, intent.Side)
	}

	if err := r.sleep(ctx, r.set.Signals.SettleDelay); err != nil {
		return Result{}, err
	}

	if !intent.IsClose() && r.ledger.IsOrderOpen(ctx, r.set.Symbol, intent.Side) {
		logger.Info("router: pending %s order still exists for %s, skip", intent.Side, r.set.Symbol)
		return Result{Action: ActionSkipped, Reason: execution.ReasonOpenOrder}, nil
	}

	if intent.IsClose() {
		return r.closeAll(ctx)
	}
	return r.enter(ctx, sig, intent.Side)
}

func (r *Router) cancelConflicting(ctx context.Context, intent Intent) {
	orders, err := r.oracle.FetchOpenOrders(ctx, r.set.Symbol)
	if err != nil {
		logger.Error("router: fetch open orders for cancel: %v", err)
		return
	}
	if len(orders) == 0 {
		logger.Info("router: no pending orders for %s", r.set.Symbol)
		return
	}
	for _, o := range orders {
		if o.Status != models.OrderOpen {
			continue
		}
		if intent.IsClose() || o.Side != intent.Side {
			r.cancel(ctx, o, "conflicting")
		}
	}
}

func (r *Router) cancelSameSide(ctx context.Context, side models.Side) {
	orders, err := r.oracle.FetchOpenOrders(ctx, r.set.Symbol)
	if err != nil {
		logger.Error("router: fetch open orders for same-side cancel: %v", err)
		return
	}
	for _, o := range orders {
		if o.Status == models.OrderOpen && o.Side == side {
			r.cancel(ctx, o, "same-side")
		}
	}
}

func (r *Router) cancel(ctx context.Context, o models.Order, why string) {
	if _, err := r.ledger.CancelRemote(ctx, o.ID, r.set.Symbol); err != nil {
		logger.Error("router: cancel %s order %s: %v", why, o.ID, err)
		return
	}
	logger.Info("router: canceled %s %s order %s", why, o.Side, o.ID)
}

// closeAll закрывает все позиции по символу. Ошибки отправки возвращаются вместе.
func (r *Router) closeAll(ctx context.Context) (Result, error) {
	logger.Info("router: take profit signal, closing %s positions", r.set.Symbol)

	positions, err := r.oracle.FetchPositions(ctx)
	if err != nil {
		return Result{}, errors.Wrap(err, "fetch positions for take profit")
	}

	var errs []error
	closed := 0
	for _, p := range positions {
		if !p.Matches(r.set.Symbol) || p.IsFlat() || p.ParseErr != nil {
			continue
		}
		logger.Info("router: closing %s position %s size %v", p.Direction(), p.Symbol, p.AbsSize())
		out, err := r.closer.ClosePosition(ctx, p, r.set.CloseTimeInForce)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !out.Skipped {
			closed++
		}
	}
	if len(errs) > 0 {
		return Result{Action: ActionClosed}, errors.Wrap(multierr.Combine(errs...), "close positions")
	}
	if closed == 0 {
		return Result{Action: ActionClosed, Reason: "nothing_to_close"}, nil
	}
	return Result{Action: ActionClosed}, nil
}

func (r *Router) enter(ctx context.Context, sig models.Signal, side models.Side) (Result, error) {
	if !sig.HasZones() {
		logger.Error("router: supply/demand zone missing in %q", sig.Text)
		return Result{Action: ActionRejected, Reason: "zones_missing"}, nil
	}

	ref := sig.Price
	if ref <= 0 {
		live, err := r.prices.WaitFor(ctx, r.set.Signals.PriceWaitTimeout)
		if err != nil {
			return Result{}, errors.Wrap(err, "no price in signal and live price unavailable")
		}
		logger.Info("router: using live price %.2f", live)
		ref = live
	}

	lv, err := ComputeLevels(side, ref, r.set.Signals)
	if err != nil {
		logger.Warn("router: unable to derive levels for %q: %v", sig.Text, err)
		return Result{Action: ActionRejected, Reason: "unsupported_side"}, nil
	}
	logger.Info("router: %s entry %.2f sl %.2f tp %.2f", side, lv.Entry, lv.StopLoss, lv.TakeProfit)

	if err := r.closeOpposite(ctx, side); err != nil {
		return Result{}, err
	}

	if r.ledger.HasOpenPosition(ctx, r.set.Symbol, side) {
		logger.Info("router: open %s position already exists for %s, skip", side, r.set.Symbol)
		return Result{Action: ActionSkipped, Reason: execution.ReasonPositionExists}, nil
	}

	o, err := r.ledger.PlaceOrder(ctx, r.set.Symbol, side, r.set.Signals.OrderSize, lv.Entry,
		map[string]string{models.ParamTimeInForce: r.set.Signals.TimeInForce})
	if err != nil {
		return Result{}, errors.Wrap(err, "place limit order")
	}

	// ордер уже на бирже: при ошибке брекета возвращаем его вместе с ошибкой
	withBracket, err := r.ledger.AttachBracket(ctx, o.ID, r.set.ProductID, r.set.Symbol, lv.Bracket())
	if err != nil {
		return Result{Action: ActionPlaced, Order: o}, errors.Wrap(err, "attach bracket")
	}
	return Result{Action: ActionPlaced, Order: withBracket}, nil
}

// closeOpposite — защита от переворота: встречная позиция закрывается до входа.
// Ошибка чтения позиций логируется, вход продолжается.
func (r *Router) closeOpposite(ctx context.Context, side models.Side) error {
	positions, err := r.oracle.FetchPositions(ctx)
	if err != nil {
		logger.Error("router: fetch positions for flip check: %v", err)
		return nil
	}
	for _, p := range positions {
		if !p.Matches(r.set.Symbol) || p.ParseErr != nil || !p.HasSide(side.Opposite()) {
			continue
		}
		logger.Info("router: opposite %s position exists, closing before %s", p.Direction(), side)
		if _, err := r.closer.ClosePosition(ctx, p, r.set.CloseTimeInForce); err != nil {
			logger.Error("router: close opposite position: %v", err)
			continue
		}
		if err := r.sleep(ctx, r.set.Signals.SettleDelay); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
