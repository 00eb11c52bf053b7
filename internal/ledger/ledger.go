// Package ledger хранит локальную картину ордеров, которые процесс считает живыми,
// и сверяет её с биржей.
package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"delta_bot/internal/models"
	"delta_bot/pkg/id"
	"delta_bot/pkg/logger"
	"delta_bot/pkg/tracing"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
)

// Store — журнал ордеров. Ошибки журнала только логируются.
type Store interface {
	Save(ctx context.Context, o models.Order) error
}

type nopStore struct{}

func (nopStore) Save(context.Context, models.Order) error { return nil }

// Ledger разделяют цикл сигналов и цикл трейлинга, поэтому кэш под мьютексом.
// Удалённые вызовы делаются без лока.
type Ledger struct {
	oracle models.PositionOracle
	store  Store
	now    func() time.Time

	mu     sync.RWMutex
	orders map[string]*models.Order
}

func New(oracle models.PositionOracle, store Store) *Ledger {
	if store == nil {
		store = nopStore{}
	}
	return &Ledger{
		oracle: oracle,
		store:  store,
		now:    time.Now,
		orders: make(map[string]*models.Order),
	}
}

// WithClock подменяет часы (тесты на устаревание).
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) Oracle() models.PositionOracle { return l.oracle }

// IsOrderOpen: сначала биржа, при ошибке запроса — локальный кэш. Не возвращает ошибок.
func (l *Ledger) IsOrderOpen(ctx context.Context, symbol string, side models.Side) bool {
	orders, err := l.oracle.FetchOpenOrders(ctx, symbol)
	if err == nil {
		for _, o := range orders {
			if o.Side == side && o.Status == models.OrderOpen {
				return true
			}
		}
		return false
	}
	logger.Error("ledger: fetch open orders %s: %v, falling back to local cache", symbol, err)

	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, o := range l.orders {
		if o.Symbol == symbol && o.Side == side && o.Status == models.OrderOpen {
			return true
		}
	}
	return false
}

// HasOpenPosition: ошибка запроса трактуется как "позиции нет".
func (l *Ledger) HasOpenPosition(ctx context.Context, symbol string, side models.Side) bool {
	positions, err := l.oracle.FetchPositions(ctx)
	if err != nil {
		logger.Error("ledger: fetch positions: %v", err)
		return false
	}
	for _, p := range positions {
		if p.Matches(symbol) && p.HasSide(side) {
			return true
		}
	}
	return false
}

// PlaceOrder отправляет лимитный ордер и заводит локальную запись.
func (l *Ledger) PlaceOrder(
	ctx context.Context,
	symbol string,
	side models.Side,
	amount, price float64,
	params map[string]string,
) (_ models.Order, err error) {
	_, ctx, finish := tracing.StartSpan(ctx, "ledger.PlaceOrder",
		opentracing.Tag{Key: "symbol", Value: symbol},
		opentracing.Tag{Key: "side", Value: string(side)},
	)
	defer func() { finish(err) }()

	res, err := l.oracle.CreateLimitOrder(ctx, symbol, side, amount, price, params)
	if err != nil {
		logger.Error("ledger: place %s %s %v@%v: %v", symbol, side, amount, price, err)
		return models.Order{}, errors.Wrapf(models.WithKind(err, models.ErrSubmission),
			"place limit order %s %s", symbol, side)
	}

	o := models.Order{
		ID:        l.orderID(res),
		Symbol:    symbol,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Status:    models.ParseOrderStatus(string(res.Status), models.OrderOpen),
		CreatedAt: l.stamp(res),
	}
	o.MergeParams(params)

	out := l.put(ctx, o)
	logger.Debug("ledger: placed order %s %s %s %v@%v", out.ID, symbol, side, amount, price)
	return out, nil
}

// Record заносит ордер, созданный в обход PlaceOrder (рыночные закрытия).
func (l *Ledger) Record(ctx context.Context, o models.Order) models.Order {
	if o.ID == "" {
		o.ID = id.New(l.now())
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = l.now()
	}
	if o.Status == "" {
		o.Status = models.OrderOpen
	}
	return l.put(ctx, o)
}

// AttachBracket вешает SL/TP на ордер. Неизвестный локально id получает новую запись.
func (l *Ledger) AttachBracket(
	ctx context.Context,
	orderID string,
	productID int,
	productSymbol string,
	bracket models.BracketParams,
) (_ models.Order, err error) {
	_, ctx, finish := tracing.StartSpan(ctx, "ledger.AttachBracket",
		opentracing.Tag{Key: "order_id", Value: orderID},
	)
	defer func() { finish(err) }()

	res, err := l.oracle.AttachOrModifyBracket(ctx, orderID, productID, productSymbol, bracket)
	if err != nil {
		logger.Error("ledger: attach bracket to %s: %v", orderID, err)
		return models.Order{}, errors.Wrapf(models.WithKind(err, models.ErrSubmission),
			"attach bracket to order %s", orderID)
	}

	params := bracket.Map()

	l.mu.Lock()
	o, ok := l.orders[orderID]
	if ok {
		o.MergeParams(params)
		o.Status = models.ParseOrderStatus(string(res.Status), o.Status)
		if o.ProductID == 0 {
			o.ProductID = productID
		}
	} else {
		o = &models.Order{
			ID:        orderID,
			Symbol:    productSymbol,
			ProductID: productID,
			Status:    models.ParseOrderStatus(string(res.Status), models.OrderOpen),
			CreatedAt: l.stamp(res),
		}
		o.MergeParams(params)
		l.orders[orderID] = o
	}
	out := o.Clone()
	l.mu.Unlock()

	l.persist(ctx, out)
	if ok {
		logger.Debug("ledger: bracket attached to %s: %v", orderID, params)
	} else {
		logger.Debug("ledger: bracket attached to untracked order %s, new record created", orderID)
	}
	return out, nil
}

// ModifyBracket — только локальное обновление параметров известного ордера.
func (l *Ledger) ModifyBracket(ctx context.Context, orderID string, bracket models.BracketParams) (models.Order, error) {
	l.mu.Lock()
	o, ok := l.orders[orderID]
	if !ok {
		l.mu.Unlock()
		return models.Order{}, errors.Wrapf(models.ErrNotFound, "bracket order %s", orderID)
	}
	o.MergeParams(bracket.Map())
	out := o.Clone()
	l.mu.Unlock()

	l.persist(ctx, out)
	logger.Debug("ledger: bracket of %s modified locally", orderID)
	return out, nil
}

// CancelOrder отменяет известный ордер на бирже и помечает его canceled.
func (l *Ledger) CancelOrder(ctx context.Context, orderID string) (models.OrderResult, error) {
	l.mu.RLock()
	o, ok := l.orders[orderID]
	var symbol string
	if ok {
		symbol = o.Symbol
	}
	l.mu.RUnlock()
	if !ok {
		return models.OrderResult{}, errors.Wrapf(models.ErrNotFound, "order %s", orderID)
	}

	return l.cancelRemote(ctx, orderID, symbol)
}

// CancelRemote отменяет ордер, найденный на бирже; локальная запись, если есть,
// тоже становится canceled.
func (l *Ledger) CancelRemote(ctx context.Context, orderID, symbol string) (models.OrderResult, error) {
	return l.cancelRemote(ctx, orderID, symbol)
}

func (l *Ledger) cancelRemote(ctx context.Context, orderID, symbol string) (_ models.OrderResult, err error) {
	_, ctx, finish := tracing.StartSpan(ctx, "ledger.CancelOrder",
		opentracing.Tag{Key: "order_id", Value: orderID},
	)
	defer func() { finish(err) }()

	res, err := l.oracle.CancelOrder(ctx, orderID, symbol)
	if err != nil {
		logger.Error("ledger: cancel %s: %v", orderID, err)
		return models.OrderResult{}, errors.Wrapf(models.WithKind(err, models.ErrSubmission),
			"cancel order %s", orderID)
	}

	l.mu.Lock()
	o, ok := l.orders[orderID]
	var out models.Order
	if ok {
		o.Status = models.OrderCanceled
		out = o.Clone()
	}
	l.mu.Unlock()

	if ok {
		l.persist(ctx, out)
	}
	logger.Debug("ledger: canceled order %s", orderID)
	return res, nil
}

// EvictStale выкидывает из кэша записи старше maxAge, независимо от статуса.
// Журнал не трогается.
func (l *Ledger) EvictStale(now time.Time, maxAge time.Duration) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var evicted []string
	for oid, o := range l.orders {
		if now.Sub(o.CreatedAt) > maxAge {
			evicted = append(evicted, oid)
			delete(l.orders, oid)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// HasPending — есть ли в кэше open/pending ордер этой стороны.
func (l *Ledger) HasPending(symbol string, side models.Side) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, o := range l.orders {
		if o.Side == side && o.IsPending() && (symbol == "" || o.Symbol == symbol) {
			return true
		}
	}
	return false
}

func (l *Ledger) Get(orderID string) (models.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[orderID]
	if !ok {
		return models.Order{}, false
	}
	return o.Clone(), true
}

// Snapshot — копия кэша, по времени создания.
func (l *Ledger) Snapshot() []models.Order {
	l.mu.RLock()
	out := make([]models.Order, 0, len(l.orders))
	for _, o := range l.orders {
		out = append(out, o.Clone())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (l *Ledger) put(ctx context.Context, o models.Order) models.Order {
	stored := o.Clone()
	out := o.Clone()

	l.mu.Lock()
	l.orders[o.ID] = &stored
	l.mu.Unlock()

	l.persist(ctx, out)
	return out
}

func (l *Ledger) persist(ctx context.Context, o models.Order) {
	if err := l.store.Save(ctx, o); err != nil {
		logger.Warn("ledger: journal save %s: %v", o.ID, err)
	}
}

// orderID — id биржи, иначе синтетический, растущий со временем.
func (l *Ledger) orderID(res models.OrderResult) string {
	if res.ID != "" {
		return res.ID
	}
	return id.New(l.now())
}

func (l *Ledger) stamp(res models.OrderResult) time.Time {
	if !res.CreatedAt.IsZero() {
		return res.CreatedAt
	}
	return l.now()
}
