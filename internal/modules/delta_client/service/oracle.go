package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"delta_bot/internal/models"
	"delta_bot/pkg/logger"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	pathPositions = "/v2/positions/margined"
	pathOrders    = "/v2/orders"
	pathBracket   = "/v2/orders/bracket"
)

var _ models.PositionOracle = (*Client)(nil)

// client_order_id у Delta ограничен 32 символами.
func newClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (c *Client) FetchPositions(ctx context.Context) ([]models.Position, error) {
	var raw []Record
	if err := c.do(ctx, http.MethodGet, pathPositions, nil, nil, &raw); err != nil {
		return nil, errors.Wrap(err, "fetch positions")
	}

	res := make([]models.Position, 0, len(raw))
	for _, r := range raw {
		p := NormalizePosition(r)
		if p.ParseErr != nil {
			logger.Warn("delta: position %s: %v", p.ID, p.ParseErr)
		}
		res = append(res, p)
	}
	return res, nil
}

func (c *Client) FetchOpenOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	q := url.Values{}
	q.Set("states", "open")
	if pid := c.productFor(symbol); pid > 0 {
		q.Set("product_ids", strconv.Itoa(pid))
	}

	var raw []Record
	if err := c.do(ctx, http.MethodGet, pathOrders, q, nil, &raw); err != nil {
		return nil, errors.Wrap(err, "fetch open orders")
	}

	now := c.now()
	res := make([]models.Order, 0, len(raw))
	for _, r := range raw {
		o := NormalizeOrder(r, now)
		if symbol != "" && o.Symbol != "" && !strings.EqualFold(o.Symbol, symbol) {
			continue
		}
		res = append(res, o)
	}
	return res, nil
}

func (c *Client) CreateLimitOrder(
	ctx context.Context,
	symbol string,
	side models.Side,
	amount, price float64,
	params map[string]string,
) (models.OrderResult, error) {
	return c.CreateOrder(ctx, symbol, models.OrderTypeLimit, side, amount, price, params)
}

func (c *Client) CreateOrder(
	ctx context.Context,
	symbol string,
	typ models.OrderType,
	side models.Side,
	amount, price float64,
	params map[string]string,
) (models.OrderResult, error) {
	if !side.Valid() {
		return models.OrderResult{}, errors.Wrapf(models.ErrSubmission, "create order: side %q", side)
	}
	size := decimal.NewFromFloat(amount).Round(0).IntPart()
	if size < 1 {
		return models.OrderResult{}, errors.Wrapf(models.ErrSubmission, "create order: size %v", amount)
	}

	body := map[string]any{
		"product_symbol":  symbol,
		"side":            string(side),
		"size":            size,
		"client_order_id": c.newID(),
	}
	if pid := c.productFor(symbol); pid > 0 {
		body["product_id"] = pid
	}

	switch typ {
	case models.OrderTypeLimit:
		if price <= 0 {
			return models.OrderResult{}, errors.Wrapf(models.ErrSubmission, "create limit order: price %v", price)
		}
		body["order_type"] = "limit_order"
		body["limit_price"] = models.FormatPrice(price)
	case models.OrderTypeMarket:
		body["order_type"] = "market_order"
	default:
		return models.OrderResult{}, errors.Wrapf(models.ErrSubmission, "create order: type %q", typ)
	}

	for k, v := range params {
		if v == "" {
			continue
		}
		body[k] = v
	}

	var raw Record
	if err := c.do(ctx, http.MethodPost, pathOrders, nil, body, &raw); err != nil {
		return models.OrderResult{}, errors.Wrapf(err, "create %s %s order", typ, side)
	}

	res := NormalizeResult(raw, c.now())
	if res.Symbol == "" {
		res.Symbol = symbol
	}
	if res.Side == models.SideNone {
		res.Side = side
	}
	return res, nil
}

func (c *Client) CancelOrder(ctx context.Context, id, symbol string) (models.OrderResult, error) {
	body := map[string]any{"id": orderIDValue(id)}
	if pid := c.productFor(symbol); pid > 0 {
		body["product_id"] = pid
	} else if symbol != "" {
		body["product_symbol"] = symbol
	}

	var raw Record
	if err := c.do(ctx, http.MethodDelete, pathOrders, nil, body, &raw); err != nil {
		return models.OrderResult{}, errors.Wrapf(err, "cancel order %s", id)
	}

	res := NormalizeResult(raw, c.now())
	if res.ID == "" {
		res.ID = id
	}
	if res.Status == models.OrderOpen {
		res.Status = models.OrderCanceled
	}
	return res, nil
}

func (c *Client) AttachOrModifyBracket(
	ctx context.Context,
	id string,
	productID int,
	productSymbol string,
	bracket models.BracketParams,
) (models.OrderResult, error) {
	legs := bracket.Map()
	if len(legs) == 0 {
		return models.OrderResult{}, errors.Wrap(models.ErrSubmission, "bracket: no legs")
	}

	body := map[string]any{
		"id":             orderIDValue(id),
		"product_symbol": productSymbol,
	}
	if productID > 0 {
		body["product_id"] = productID
	}
	for k, v := range legs {
		body[k] = v
	}

	var raw Record
	if err := c.do(ctx, http.MethodPut, pathBracket, nil, body, &raw); err != nil {
		return models.OrderResult{}, errors.Wrapf(err, "bracket %s", id)
	}

	res := NormalizeResult(raw, c.now())
	if res.ID == "" {
		res.ID = id
	}
	if res.Symbol == "" {
		res.Symbol = productSymbol
	}
	return res, nil
}

func (c *Client) productFor(symbol string) int {
	if symbol == "" || strings.EqualFold(symbol, c.symbol) {
		return c.productID
	}
	return 0
}

// Delta ждёт числовой id, локальные ULID уходят строкой.
func orderIDValue(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
