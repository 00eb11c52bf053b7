// Package trailing пересчитывает защитный стоп открытых позиций на каждом тике
// цены и закрывает позицию или подтягивает брекет, когда срабатывает правило.
package trailing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"delta_bot/internal/execution"
	"delta_bot/internal/models"
	"delta_bot/internal/modules/config"
	"delta_bot/pkg/logger"

	"github.com/pkg/errors"
)

const (
	AlertClassAuth      = "auth"
	AlertClassPositions = "positions"
	AlertClassPriceFeed = "price_feed"
)

type PriceSource interface {
	// Last — только свежая цена; false, если её нет или она устарела.
	Last() (float64, bool)
	WaitFor(ctx context.Context, timeout time.Duration) (float64, error)
}

type Closer interface {
	ClosePosition(ctx context.Context, p models.Position, timeInForce string) (execution.Outcome, error)
}

type Bracketer interface {
	AttachBracket(ctx context.Context, orderID string, productID int, productSymbol string, bracket models.BracketParams) (models.Order, error)
}

type Alerter interface {
	Alert(ctx context.Context, class, subject, body string) bool
}

type Alarm interface {
	Raise(reason string)
	Clear()
}

type TickRecorder interface {
	TouchTick(t time.Time)
}

type Settings struct {
	Trailing          config.TrailingConfig
	Symbol            string
	ProductID         int
	FirstPriceTimeout time.Duration
}

type Deps struct {
	Oracle   models.PositionOracle
	Prices   PriceSource
	Closer   Closer
	Brackets Bracketer
	Alerts   Alerter
	Alarm    Alarm
	Health   TickRecorder
}

type Engine struct {
	set    Settings
	policy Policy
	deps   Deps

	mu sync.Mutex
	// stops — текущий стоп по id позиции, только ужесточается
	stops map[string]float64
	// attached — последний стоп, отправленный на биржу брекетом
	attached map[string]float64

	positions    []models.Position
	lastFetch    time.Time
	hadPositions bool
}

func NewEngine(set Settings, deps Deps) *Engine {
	return &Engine{
		set:          set,
		policy:       NewPolicy(set.Trailing),
		deps:         deps,
		stops:        make(map[string]float64),
		attached:     make(map[string]float64),
		hadPositions: true,
	}
}

// UpdateTrailingStop считает новый стоп и сливает его с сохранённым.
// ok=false — позиция пропущена (нет данных или нулевой размер), состояние не менялось.
func (e *Engine) UpdateTrailingStop(p models.Position, live float64) (Decision, bool) {
	if p.ParseErr != nil || p.EntryPrice <= 0 || p.IsFlat() {
		return Decision{}, false
	}

	d := e.policy.Compute(p, live)

	e.mu.Lock()
	defer e.mu.Unlock()
	if prev, ok := e.stops[p.ID]; ok {
		d.Stop = Tighter(p, prev, d.Stop)
	}
	e.stops[p.ID] = d.Stop
	return d, true
}

// BookProfit применяет правило. fired=true — ушёл рыночный ордер на закрытие.
func (e *Engine) BookProfit(ctx context.Context, p models.Position, live float64) (bool, error) {
	d, ok := e.UpdateTrailingStop(p, live)
	if !ok {
		if p.ParseErr != nil {
			logger.Warn("trailing: position %s skipped: %v", p.ID, p.ParseErr)
		}
		return false, nil
	}

	logger.Info("trailing: position %s | size %v | entry %.2f | live %.2f | profit %.4f%% (%.4f) | rule %s | stop %.4f",
		p.ID, p.Size, p.EntryPrice, live, d.ProfitPct*100, RawProfit(p, live), d.Rule, d.Stop)

	switch d.Rule {
	case RuleDynamic, RuleFixedStop:
		if !Breached(p, live, d.Stop) {
			return false, nil
		}
		logger.Info("trailing: %s stop %.4f hit for %s position %s, closing at market",
			d.Rule, d.Stop, p.Direction(), p.ID)

		out, err := e.deps.Closer.ClosePosition(ctx, p, e.set.Trailing.CloseTimeInForce)
		if err != nil {
			logger.Error("trailing: close position %s: %v", p.ID, err)
			return false, err
		}
		if out.Skipped {
			logger.Info("trailing: close of %s skipped: %s", p.ID, out.Reason)
			return false, nil
		}
		logger.Info("trailing: close order %s placed for position %s", out.Order.ID, p.ID)
		return true, nil

	case RulePartialBooking:
		e.mu.Lock()
		last, sent := e.attached[p.ID]
		e.mu.Unlock()
		if sent && last == d.Stop {
			return false, nil
		}

		logger.Info("trailing: partial booking for %s, moving bracket stop to %.4f", p.ID, d.Stop)
		_, err := e.deps.Brackets.AttachBracket(ctx, p.ID, e.set.ProductID, e.set.Symbol, models.StopLoss(d.Stop))
		if err != nil {
			// позиция остаётся открытой, повторим на следующем тике
			logger.Error("trailing: update bracket for %s: %v", p.ID, err)
			return false, nil
		}

		e.mu.Lock()
		e.attached[p.ID] = d.Stop
		e.mu.Unlock()
	}
	return false, nil
}

// Tick — одна итерация цикла: позиции (с троттлингом), цена, правила.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	if e.deps.Health != nil {
		e.deps.Health.TouchTick(now)
	}

	if e.lastFetch.IsZero() || now.Sub(e.lastFetch) >= e.set.Trailing.PositionFetchInterval {
		e.refreshPositions(ctx)
		e.lastFetch = now
	}

	live, ok := e.deps.Prices.Last()
	if !ok {
		logger.Debug("trailing: live price not available, tick skipped")
		return
	}

	if len(e.positions) == 0 {
		if e.hadPositions {
			logger.Info("trailing: no open positions, trailing paused")
			e.hadPositions = false
		}
		e.reset()
		return
	}
	if !e.hadPositions {
		logger.Info("trailing: positions found, trailing resumed")
		e.hadPositions = true
	}

	kept := make([]models.Position, 0, len(e.positions))
	for _, p := range e.positions {
		// ошибки уже залогированы, следующая попытка на следующем тике
		fired, _ := e.BookProfit(ctx, p, live)
		if fired {
			e.forget(p.ID)
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) < len(e.positions) {
		// закрытую позицию не трогаем до свежего фетча
		e.positions = kept
		e.lastFetch = time.Time{}
	}
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.stops, id)
	delete(e.attached, id)
}

// refreshPositions: при ошибке кэш сохраняется, неизвестное состояние не равно "позиций нет".
func (e *Engine) refreshPositions(ctx context.Context) {
	positions, err := e.deps.Oracle.FetchPositions(ctx)
	if err != nil {
		e.onFetchError(ctx, err)
		return
	}
	if e.deps.Alarm != nil {
		e.deps.Alarm.Clear()
	}

	open := make([]models.Position, 0, len(positions))
	for _, p := range positions {
		if !p.Matches(e.set.Symbol) {
			continue
		}
		// битая позиция остаётся в наборе: её пропустит BookProfit, а стейт не сбросится
		if p.IsFlat() && p.ParseErr == nil {
			continue
		}
		open = append(open, p)
	}
	e.positions = open
	if len(open) == 0 {
		e.reset()
	}
}

func (e *Engine) onFetchError(ctx context.Context, err error) {
	logger.Error("trailing: fetch open positions: %v", err)

	if models.KindOf(err) == models.KindAuthorization {
		if e.deps.Alarm != nil {
			e.deps.Alarm.Raise(err.Error())
		}
		e.alert(ctx, AlertClassAuth,
			"IP not whitelisted for API key",
			fmt.Sprintf("The trading API rejected the request:\n%v", err))
		return
	}
	e.alert(ctx, AlertClassPositions,
		"Profit trailing error",
		fmt.Sprintf("Unhandled error while fetching positions:\n%v", err))
}

func (e *Engine) alert(ctx context.Context, class, subject, body string) {
	if e.deps.Alerts == nil {
		return
	}
	e.deps.Alerts.Alert(ctx, class, subject, body)
}

func (e *Engine) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.stops) > 0 || len(e.attached) > 0 {
		logger.Debug("trailing: clearing trailing state for %d positions", len(e.stops))
	}
	clear(e.stops)
	clear(e.attached)
}

// Stops — копия текущего состояния трейлинга.
func (e *Engine) Stops() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.stops))
	for k, v := range e.stops {
		out[k] = v
	}
	return out
}

// Run ждёт первую цену и тикает до отмены ctx.
func (e *Engine) Run(ctx context.Context) error {
	price, err := e.deps.Prices.WaitFor(ctx, e.set.FirstPriceTimeout)
	if err != nil {
		logger.Error("trailing: live price still not available, profit trailing not started: %v", err)
		e.alert(ctx, AlertClassPriceFeed, "Price feed unavailable",
			fmt.Sprintf("No live price within %s, profit trailing is not running.", e.set.FirstPriceTimeout))
		return errors.Wrap(err, "wait first price")
	}
	logger.Info("trailing: first live price %.2f, starting profit trailing", price)

	ticker := time.NewTicker(e.set.Trailing.CheckInterval)
	defer ticker.Stop()

	e.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.Tick(ctx, now)
		}
	}
}
