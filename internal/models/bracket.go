package models

import "github.com/shopspring/decimal"

type TriggerMethod string

const (
	TriggerLastTraded TriggerMethod = "last_traded_price"
	TriggerMark       TriggerMethod = "mark_price"
)

// BracketParams — SL/TP ноги, привязанные к ордеру. Нулевая цена — нога не задаётся.
type BracketParams struct {
	StopLossPrice        float64
	StopLossLimitPrice   float64
	TakeProfitPrice      float64
	TakeProfitLimitPrice float64
	TriggerMethod        TriggerMethod
}

const (
	ParamStopLossPrice        = "bracket_stop_loss_price"
	ParamStopLossLimitPrice   = "bracket_stop_loss_limit_price"
	ParamTakeProfitPrice      = "bracket_take_profit_price"
	ParamTakeProfitLimitPrice = "bracket_take_profit_limit_price"
	ParamStopTriggerMethod    = "bracket_stop_trigger_method"
	ParamTimeInForce          = "time_in_force"
	ParamReduceOnly           = "reduce_only"
)

// Map — представление для карты параметров ордера и тела запроса к бирже.
func (b BracketParams) Map() map[string]string {
	out := make(map[string]string, 5)
	put := func(key string, v float64) {
		if v > 0 {
			out[key] = FormatPrice(v)
		}
	}
	put(ParamStopLossPrice, b.StopLossPrice)
	put(ParamStopLossLimitPrice, b.StopLossLimitPrice)
	put(ParamTakeProfitPrice, b.TakeProfitPrice)
	put(ParamTakeProfitLimitPrice, b.TakeProfitLimitPrice)
	if b.TriggerMethod != "" {
		out[ParamStopTriggerMethod] = string(b.TriggerMethod)
	}
	return out
}

// StopLoss — только стоп-нога, как её двигает трейлинг.
func StopLoss(price float64) BracketParams {
	return BracketParams{
		StopLossPrice:      price,
		StopLossLimitPrice: price,
		TriggerMethod:      TriggerLastTraded,
	}
}

func FormatPrice(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}
