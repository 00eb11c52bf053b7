package models

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderOpen     OrderStatus = "open"
	OrderPending  OrderStatus = "pending"
	OrderCanceled OrderStatus = "canceled"
	OrderFilled   OrderStatus = "filled"
	OrderUnknown  OrderStatus = "unknown"
)

// ParseOrderStatus приводит статусы разных API к каноническим.
// Пустая строка трактуется как fallback (обычно OrderOpen у свежесозданного ордера).
func ParseOrderStatus(raw string, fallback OrderStatus) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return fallback
	case "open", "new", "untriggered":
		return OrderOpen
	case "pending":
		return OrderPending
	case "canceled", "cancelled":
		return OrderCanceled
	case "closed", "filled":
		return OrderFilled
	default:
		return OrderUnknown
	}
}

type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// Order — локальная запись ордера, которым владеет ledger.
type Order struct {
	ID        string
	Symbol    string
	Side      Side
	Amount    float64
	Price     float64
	Status    OrderStatus
	Params    map[string]string
	ProductID int
	CreatedAt time.Time
}

// IsPending — ордер ещё может исполниться.
func (o Order) IsPending() bool {
	return o.Status == OrderOpen || o.Status == OrderPending
}

func (o Order) Clone() Order {
	c := o
	c.Params = make(map[string]string, len(o.Params))
	for k, v := range o.Params {
		c.Params[k] = v
	}
	return c
}

// MergeParams дописывает параметры поверх существующих.
func (o *Order) MergeParams(params map[string]string) {
	if o.Params == nil {
		o.Params = make(map[string]string, len(params))
	}
	for k, v := range params {
		o.Params[k] = v
	}
}

// OrderResult — нормализованный ответ биржи на создание/изменение/отмену.
// ID пустой, если биржа его не вернула; CreatedAt нулевой, если не было метки времени.
type OrderResult struct {
	ID        string
	Symbol    string
	Side      Side
	Status    OrderStatus
	CreatedAt time.Time
}
