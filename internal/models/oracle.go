package models

import "context"

// PositionOracle — доступ к счёту на бирже. Любая ошибка означает
// "состояние неизвестно", а не "позиции/ордера нет".
type PositionOracle interface {
	FetchPositions(ctx context.Context) ([]Position, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]Order, error)
	CreateLimitOrder(ctx context.Context, symbol string, side Side, amount, price float64, params map[string]string) (OrderResult, error)
	CreateOrder(ctx context.Context, symbol string, typ OrderType, side Side, amount, price float64, params map[string]string) (OrderResult, error)
	CancelOrder(ctx context.Context, id, symbol string) (OrderResult, error)
	AttachOrModifyBracket(ctx context.Context, id string, productID int, productSymbol string, bracket BracketParams) (OrderResult, error)
}
