package trailing

import (
	"delta_bot/internal/models"
	"delta_bot/internal/modules/config"
)

type Rule string

const (
	RuleFixedStop      Rule = "fixed_stop"
	RuleDynamic        Rule = "dynamic"
	RulePartialBooking Rule = "partial_booking"
)

// Decision — результат пересчёта стопа на одном тике.
type Decision struct {
	Stop      float64
	ProfitPct float64
	Rule      Rule
}

// Policy — ступенчатая таблица стопов, все значения в долях цены входа.
type Policy struct {
	cfg config.TrailingConfig
}

func NewPolicy(cfg config.TrailingConfig) Policy { return Policy{cfg: cfg} }

// ProfitPct: long (live-entry)/entry, short (entry-live)/entry.
func ProfitPct(p models.Position, live float64) float64 {
	if p.IsShort() {
		return (p.EntryPrice - live) / p.EntryPrice
	}
	return (live - p.EntryPrice) / p.EntryPrice
}

// RawProfit — профит в единицах котировки на весь размер.
func RawProfit(p models.Position, live float64) float64 {
	if p.IsShort() {
		return (p.EntryPrice - live) * p.AbsSize()
	}
	return (live - p.EntryPrice) * p.Size
}

// level — последняя ступень, чей порог <= profit. Границы включительные.
func (pl Policy) level(profit float64) (config.TrailingLevel, bool) {
	var (
		found config.TrailingLevel
		ok    bool
	)
	for _, l := range pl.cfg.Levels {
		if profit >= l.MinProfitPct {
			found, ok = l, true
		}
	}
	return found, ok
}

// Compute считает стоп без учёта предыдущего значения.
func (pl Policy) Compute(p models.Position, live float64) Decision {
	profit := ProfitPct(p, live)
	long := p.IsLong()
	entry := p.EntryPrice

	// sign: +1 для long, -1 для short — формулы симметричны
	sign := 1.0
	if !long {
		sign = -1.0
	}

	fixed := Decision{
		Stop:      entry * (1 - sign*pl.cfg.FixedStopLossPct),
		ProfitPct: profit,
		Rule:      RuleFixedStop,
	}
	if profit <= 0 || profit < pl.cfg.StartTrailingPct {
		return fixed
	}

	lvl, ok := pl.level(profit)
	if !ok {
		return fixed
	}
	if lvl.StopOffsetPct != nil {
		return Decision{
			Stop:      entry * (1 + sign*(*lvl.StopOffsetPct)),
			ProfitPct: profit,
			Rule:      RuleDynamic,
		}
	}
	return Decision{
		Stop:      entry * (1 + sign*profit*lvl.BookFraction),
		ProfitPct: profit,
		Rule:      RulePartialBooking,
	}
}

// Tighter возвращает стоп, лучше защищающий позицию: max для long, min для short.
func Tighter(p models.Position, a, b float64) float64 {
	if p.IsShort() {
		if a < b {
			return a
		}
		return b
	}
	if a > b {
		return a
	}
	return b
}

// Breached — цена прошла стоп против позиции.
func Breached(p models.Position, live, stop float64) bool {
	if p.IsShort() {
		return live > stop
	}
	return live < stop
}
