package router

import (
	"strings"

	"delta_bot/internal/models"
	"delta_bot/internal/modules/config"

	"github.com/pkg/errors"
)

type IntentKind string

const (
	IntentClose IntentKind = "close"
	IntentEntry IntentKind = "entry"
)

// Intent — что сигнал просит сделать. Для close сторона пустая.
type Intent struct {
	Kind IntentKind
	Side models.Side
}

func (i Intent) IsClose() bool { return i.Kind == IntentClose }

// ParseIntent ищет ключевые слова по приоритету: "take profit"/"tp", затем "short", затем "buy".
func ParseIntent(text string) (Intent, bool) {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "take profit"), strings.Contains(t, "tp"):
		return Intent{Kind: IntentClose}, true
	case strings.Contains(t, "short"):
		return Intent{Kind: IntentEntry, Side: models.SideSell}, true
	case strings.Contains(t, "buy"):
		return Intent{Kind: IntentEntry, Side: models.SideBuy}, true
	default:
		return Intent{}, false
	}
}

// Levels — вход, стоп и тейк от опорной цены.
type Levels struct {
	Entry      float64
	StopLoss   float64
	TakeProfit float64
}

func (l Levels) Bracket() models.BracketParams {
	return models.BracketParams{
		StopLossPrice:        l.StopLoss,
		StopLossLimitPrice:   l.StopLoss,
		TakeProfitPrice:      l.TakeProfit,
		TakeProfitLimitPrice: l.TakeProfit,
		TriggerMethod:        models.TriggerLastTraded,
	}
}

// ComputeLevels: buy входит ниже опорной цены, sell выше. Другие стороны отклоняются.
func ComputeLevels(side models.Side, ref float64, cfg config.SignalsConfig) (Levels, error) {
	if ref <= 0 {
		return Levels{}, errors.Wrapf(models.ErrData, "reference price %v", ref)
	}
	switch side {
	case models.SideBuy:
		return Levels{
			Entry:      ref - cfg.EntryOffset,
			StopLoss:   ref - cfg.StopOffset,
			TakeProfit: ref + cfg.TargetOffset,
		}, nil
	case models.SideSell:
		return Levels{
			Entry:      ref + cfg.EntryOffset,
			StopLoss:   ref + cfg.StopOffset,
			TakeProfit: ref - cfg.TargetOffset,
		}, nil
	default:
		return Levels{}, errors.Wrapf(models.ErrData, "unsupported side %q", side)
	}
}
