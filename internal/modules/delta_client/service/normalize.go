package service

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"delta_bot/internal/models"

	"github.com/pkg/errors"
)

// Цепочки ключей: берётся первый непустой. Путь через точку — вложенный объект.
var (
	symbolKeys      = []string{"product_symbol", "symbol", "info.product_symbol", "product.symbol"}
	sizeKeys        = []string{"size", "contracts"}
	entryKeys       = []string{"entry_price", "entryPrice", "info.entry_price"}
	positionIDKeys  = []string{"id", "product_id", "product_symbol", "symbol"}
	orderIDKeys     = []string{"id", "order_id", "client_order_id"}
	orderSideKeys   = []string{"side"}
	orderPriceKeys  = []string{"limit_price", "price", "stop_price"}
	orderAmountKeys = []string{"unfilled_size", "size", "amount"}
	statusKeys      = []string{"state", "status"}
	createdKeys     = []string{"created_at", "timestamp"}
	productIDKeys   = []string{"product_id", "product.id"}
)

// Record — сырая запись биржи.
type Record map[string]any

func (r Record) lookup(path string) (any, bool) {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	if cur == nil {
		return nil, false
	}
	if s, ok := cur.(string); ok && s == "" {
		return nil, false
	}
	return cur, true
}

// First — значение по первому ключу цепочки, где оно есть.
func (r Record) First(keys ...string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := r.lookup(k); ok {
			return v, k, true
		}
	}
	return nil, "", false
}

func (r Record) Str(keys ...string) string {
	v, _, ok := r.First(keys...)
	if !ok {
		return ""
	}
	return toString(v)
}

// Float: отсутствие значения — (0, false, nil), мусор — ошибка ErrData.
func (r Record) Float(keys ...string) (float64, bool, error) {
	v, key, ok := r.First(keys...)
	if !ok {
		return 0, false, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, true, errors.Wrapf(models.ErrData, "%s: %v", key, err)
	}
	return f, true, nil
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, errors.Errorf("unsupported type %T", v)
	}
}

// NormalizePosition: битый size даёт Size=0, битый или пустой entry — EntryPrice=0;
// в обоих случаях причина в ParseErr.
func NormalizePosition(r Record) models.Position {
	p := models.Position{
		ID:     r.Str(positionIDKeys...),
		Symbol: r.Str(symbolKeys...),
	}

	var errs []string
	size, _, err := r.Float(sizeKeys...)
	if err != nil {
		errs = append(errs, err.Error())
		size = 0
	}
	p.Size = size

	entry, found, err := r.Float(entryKeys...)
	switch {
	case err != nil:
		errs = append(errs, err.Error())
		entry = 0
	case !found && !p.IsFlat():
		errs = append(errs, "entry price missing")
	}
	p.EntryPrice = entry

	if len(errs) > 0 {
		p.ParseErr = errors.Wrap(models.ErrData, strings.Join(errs, "; "))
	}
	return p
}

func NormalizeOrder(r Record, now time.Time) models.Order {
	o := models.Order{
		ID:     r.Str(orderIDKeys...),
		Symbol: r.Str(symbolKeys...),
		Status: models.ParseOrderStatus(r.Str(statusKeys...), models.OrderOpen),
	}
	if side, ok := models.ParseSide(r.Str(orderSideKeys...)); ok {
		o.Side = side
	}
	if v, _, err := r.Float(orderPriceKeys...); err == nil {
		o.Price = v
	}
	if v, _, err := r.Float(orderAmountKeys...); err == nil {
		o.Amount = v
	}
	if v, _, err := r.Float(productIDKeys...); err == nil {
		o.ProductID = int(v)
	}
	o.CreatedAt = parseTime(r, now)
	return o
}

func NormalizeResult(r Record, now time.Time) models.OrderResult {
	o := NormalizeOrder(r, time.Time{})
	res := models.OrderResult{
		ID:        o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	return res
}

// parseTime: RFC3339 или число в секундах/мс/мкс.
func parseTime(r Record, fallback time.Time) time.Time {
	v, _, ok := r.First(createdKeys...)
	if !ok {
		return fallback
	}
	if s, isStr := v.(string); isStr {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	f, err := toFloat(v)
	if err != nil || f <= 0 {
		return fallback
	}
	n := int64(f)
	switch {
	case n > 1e17:
		return time.Unix(0, n)
	case n > 1e14:
		return time.UnixMicro(n)
	case n > 1e11:
		return time.UnixMilli(n)
	default:
		return time.Unix(n, 0)
	}
}
