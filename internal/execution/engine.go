// Package execution ставит рыночные ордера с проверкой биржи и локального кэша,
// чтобы одна сторона не получила второй ордер.
package execution

import (
	"context"
	"sync"
	"time"

	"delta_bot/internal/ledger"
	"delta_bot/internal/models"
	"delta_bot/internal/modules/config"
	"delta_bot/pkg/logger"
	"delta_bot/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

const (
	ReasonPositionExists = "position_exists"
	ReasonOpenOrder      = "open_order_exists"
	ReasonLocalPending   = "local_pending_order"
	ReasonFlat           = "position_flat"
)

// Outcome: Skipped=true — проверки нашли живую позицию или ордер, на биржу ничего не ушло.
type Outcome struct {
	Order   models.Order
	Skipped bool
	Reason  string
}

type Engine struct {
	ledger *ledger.Ledger
	oracle models.PositionOracle
	cfg    config.ExecutionConfig
	now    func() time.Time

	// проверки и отправка атомарны для вызывающих внутри процесса
	mu sync.Mutex
}

func New(l *ledger.Ledger, cfg config.ExecutionConfig) *Engine {
	return &Engine{
		ledger: l,
		oracle: l.Oracle(),
		cfg:    cfg,
		now:    time.Now,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// PlaceMarketOrder: позиция на бирже -> открытые ордера на бирже -> локальный кэш -> отправка.
// Ошибка возвращается только если упала сама отправка.
func (e *Engine) PlaceMarketOrder(
	ctx context.Context,
	symbol string,
	side models.Side,
	amount float64,
	params map[string]string,
) (_ Outcome, err error) {
	_, ctx, finish := tracing.StartSpan(ctx, "execution.PlaceMarketOrder",
		opentracing.Tag{Key: "symbol", Value: symbol},
		opentracing.Tag{Key: "side", Value: string(side)},
	)
	defer func() { finish(err) }()

	if !side.Valid() {
		return Outcome{}, errors.Errorf("place market order: invalid side %q", side)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// 1. позиция в ту же сторону уже есть
	positions, err := e.oracle.FetchPositions(ctx)
	if err != nil {
		logger.Error("execution: fetch positions: %v", err)
	}
	for _, p := range positions {
		if p.Matches(symbol) && p.HasSide(side) {
			logger.Info("execution: open %s position exists for %s, skipping", side, symbol)
			return Outcome{Skipped: true, Reason: ReasonPositionExists}, nil
		}
	}

	// 2. открытый ордер той же стороны на бирже
	orders, err := e.oracle.FetchOpenOrders(ctx, symbol)
	if err != nil {
		logger.Error("execution: fetch open orders: %v", err)
	} else if len(orders) == 0 {
		logger.Debug("execution: no pending orders on exchange for %s", symbol)
	}
	for _, o := range orders {
		if o.Side == side {
			logger.Info("execution: open %s order %s exists for %s, skipping", side, o.ID, symbol)
			return Outcome{Skipped: true, Reason: ReasonOpenOrder}, nil
		}
	}

	// 3. локальный кэш без устаревших записей
	if evicted := e.ledger.EvictStale(e.now(), e.cfg.StaleAfter); len(evicted) > 0 {
		logger.Debug("execution: evicted stale local orders %v", evicted)
	}
	if e.ledger.HasPending(symbol, side) {
		logger.Info("execution: local %s order already pending for %s, skipping", side, symbol)
		return Outcome{Skipped: true, Reason: ReasonLocalPending}, nil
	}

	// 4. отправка
	res, err := e.oracle.CreateOrder(ctx, symbol, models.OrderTypeMarket, side, amount, 0, params)
	if err != nil {
		logger.Error("execution: market order %s %s %v: %v", symbol, side, amount, err)
		return Outcome{}, errors.Wrapf(models.WithKind(err, models.ErrSubmission),
			"market order %s %s", symbol, side)
	}

	o := models.Order{
		ID:        res.ID,
		Symbol:    symbol,
		Side:      side,
		Amount:    amount,
		Status:    models.ParseOrderStatus(string(res.Status), models.OrderOpen),
		CreatedAt: res.CreatedAt,
	}
	o.MergeParams(params)
	o = e.ledger.Record(ctx, o)

	// 5. сверка после паузы, только для лога
	e.verify(ctx, symbol, side)

	logger.Info("execution: market order placed %s %s %s %v", o.ID, symbol, side, amount)
	return Outcome{Order: o}, nil
}

// ClosePosition закрывает позицию целиком рыночным ордером в обратную сторону.
// reduce_only: повторное закрытие уже закрытой позиции биржа отклонит, а не развернёт.
func (e *Engine) ClosePosition(ctx context.Context, p models.Position, timeInForce string) (Outcome, error) {
	if p.IsFlat() {
		return Outcome{Skipped: true, Reason: ReasonFlat}, nil
	}
	params := map[string]string{models.ParamReduceOnly: "true"}
	if timeInForce != "" {
		params[models.ParamTimeInForce] = timeInForce
	}
	return e.PlaceMarketOrder(ctx, p.Symbol, p.Direction().Opposite(), p.AbsSize(), params)
}

func (e *Engine) verify(ctx context.Context, symbol string, side models.Side) {
	if e.cfg.VerifyDelay > 0 {
		t := time.NewTimer(e.cfg.VerifyDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}

	positions, err := e.oracle.FetchPositions(ctx)
	if err != nil {
		logger.Warn("execution: verify positions after order: %v", err)
		return
	}
	for _, p := range positions {
		if p.Matches(symbol) && p.HasSide(side) {
			logger.Info("execution: verified open %s position for %s", side, symbol)
			return
		}
	}
	logger.Debug("execution: no %s position for %s yet after order", side, symbol)
}
