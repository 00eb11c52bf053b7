// Package exchangetest — in-memory биржа для тестов движков.
package exchangetest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"delta_bot/internal/models"
)

const (
	MethodFetchPositions = "FetchPositions"
	MethodFetchOrders    = "FetchOpenOrders"
	MethodCreateLimit    = "CreateLimitOrder"
	MethodCreate         = "CreateOrder"
	MethodCancel         = "CancelOrder"
	MethodBracket        = "AttachOrModifyBracket"
)

// Submitted — ордер, ушедший на "биржу".
type Submitted struct {
	ID     string
	Symbol string
	Type   models.OrderType
	Side   models.Side
	Amount float64
	Price  float64
	Params map[string]string
}

type BracketCall struct {
	ID            string
	ProductID     int
	ProductSymbol string
	Bracket       models.BracketParams
}

type Fake struct {
	mu sync.Mutex

	positions []models.Position
	orders    []models.Order
	errs      map[string]error
	calls     map[string]int

	submitted []Submitted
	canceled  []string
	brackets  []BracketCall

	nextID int
	// OmitIDs — биржа не возвращает id созданных ордеров.
	OmitIDs bool
	// MarketStatus — статус в ответе на рыночный ордер. Delta отвечает "closed"
	// на исполненный market, поэтому по умолчанию OrderFilled.
	MarketStatus models.OrderStatus
	// OnSubmit вызывается под локом после каждого create; удобно "исполнять" ордера.
	OnSubmit func(f *Fake, s Submitted)
	// Now — метка времени для OrderResult.
	Now func() time.Time
}

var _ models.PositionOracle = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		errs:         make(map[string]error),
		calls:        make(map[string]int),
		Now:          time.Now,
		MarketStatus: models.OrderFilled,
	}
}

func (f *Fake) SetPositions(ps ...models.Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append([]models.Position(nil), ps...)
}

// SetPositionsLocked — для OnSubmit, который уже выполняется под локом.
func (f *Fake) SetPositionsLocked(ps ...models.Position) {
	f.positions = append([]models.Position(nil), ps...)
}

func (f *Fake) SetOrders(os ...models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append([]models.Order(nil), os...)
}

// Fail заставляет метод возвращать err; nil снимает ошибку.
func (f *Fake) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *Fake) Submitted() []Submitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submitted(nil), f.submitted...)
}

func (f *Fake) Canceled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.canceled...)
}

func (f *Fake) Brackets() []BracketCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]BracketCall(nil), f.brackets...)
}

func (f *Fake) OpenOrders() []models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Order(nil), f.orders...)
}

func (f *Fake) enter(method string) error {
	f.calls[method]++
	return f.errs[method]
}

func (f *Fake) FetchPositions(ctx context.Context) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodFetchPositions); err != nil {
		return nil, err
	}
	return append([]models.Position(nil), f.positions...), nil
}

func (f *Fake) FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodFetchOrders); err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(f.orders))
	for _, o := range f.orders {
		if o.Symbol == symbol {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

func (f *Fake) CreateLimitOrder(ctx context.Context, symbol string, side models.Side, amount, price float64, params map[string]string) (models.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodCreateLimit); err != nil {
		return models.OrderResult{}, err
	}
	return f.submit(symbol, models.OrderTypeLimit, side, amount, price, params), nil
}

func (f *Fake) CreateOrder(ctx context.Context, symbol string, typ models.OrderType, side models.Side, amount, price float64, params map[string]string) (models.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodCreate); err != nil {
		return models.OrderResult{}, err
	}
	return f.submit(symbol, typ, side, amount, price, params), nil
}

func (f *Fake) submit(symbol string, typ models.OrderType, side models.Side, amount, price float64, params map[string]string) models.OrderResult {
	f.nextID++
	id := "ex-" + strconv.Itoa(f.nextID)
	s := Submitted{ID: id, Symbol: symbol, Type: typ, Side: side, Amount: amount, Price: price, Params: params}
	f.submitted = append(f.submitted, s)

	if typ == models.OrderTypeLimit {
		f.orders = append(f.orders, models.Order{
			ID: id, Symbol: symbol, Side: side, Amount: amount, Price: price,
			Status: models.OrderOpen, Params: params, CreatedAt: f.Now(),
		})
	}
	if f.OnSubmit != nil {
		f.OnSubmit(f, s)
	}

	status := models.OrderOpen
	if typ == models.OrderTypeMarket && f.MarketStatus != "" {
		status = f.MarketStatus
	}
	res := models.OrderResult{ID: id, Symbol: symbol, Side: side, Status: status, CreatedAt: f.Now()}
	if f.OmitIDs {
		res.ID = ""
		res.CreatedAt = time.Time{}
	}
	return res
}

func (f *Fake) CancelOrder(ctx context.Context, id, symbol string) (models.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodCancel); err != nil {
		return models.OrderResult{}, err
	}
	f.canceled = append(f.canceled, id)
	kept := f.orders[:0]
	for _, o := range f.orders {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	f.orders = kept
	return models.OrderResult{ID: id, Symbol: symbol, Status: models.OrderCanceled}, nil
}

func (f *Fake) AttachOrModifyBracket(ctx context.Context, id string, productID int, productSymbol string, bracket models.BracketParams) (models.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(MethodBracket); err != nil {
		return models.OrderResult{}, err
	}
	f.brackets = append(f.brackets, BracketCall{ID: id, ProductID: productID, ProductSymbol: productSymbol, Bracket: bracket})
	return models.OrderResult{ID: id, Symbol: productSymbol, Status: models.OrderOpen, CreatedAt: f.Now()}, nil
}
