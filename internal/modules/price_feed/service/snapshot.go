package service

import (
	"context"
	"strconv"
	"time"

	"delta_bot/internal/modules/config"
	"delta_bot/pkg/logger"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/pkg/errors"
)

// PriceLister — последняя цена по REST.
type PriceLister interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// BinanceREST — публичный REST фьючерсов Binance, ключи не нужны.
type BinanceREST struct {
	client *futures.Client
}

func NewBinanceREST(cfg config.PriceFeedConfig) *BinanceREST {
	if cfg.Testnet {
		futures.UseTestnet = true
	}
	return &BinanceREST{client: binance.NewFuturesClient("", "")}
}

func (b *BinanceREST) LastPrice(ctx context.Context, symbol string) (float64, error) {
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "list prices %s", symbol)
	}
	for _, p := range prices {
		if p.Symbol != symbol {
			continue
		}
		v, err := strconv.ParseFloat(p.Price, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "price %q", p.Price)
		}
		return v, nil
	}
	return 0, errors.Errorf("no price for %s", symbol)
}

// Prime кладёт в Cell REST-снапшот, пока WebSocket не прислал первую сделку.
func Prime(ctx context.Context, lister PriceLister, cell *Cell, symbol string, now time.Time) error {
	if symbol == "" {
		return nil
	}
	if _, ok := cell.Last(); ok {
		return nil
	}
	price, err := lister.LastPrice(ctx, symbol)
	if err != nil {
		return err
	}
	cell.Set(price, now)
	logger.Info("price_feed: primed %s from REST at %.2f", symbol, price)
	return nil
}
