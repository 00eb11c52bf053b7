package models

import (
	"math"
	"strings"
)

// SizeTolerance — размер по модулю меньше этого считается нулевым.
const SizeTolerance = 1e-6

// Position всегда читается свежей с биржи. Size со знаком: >0 long, <0 short.
// ParseErr != nil, если entry или size не удалось разобрать; такую позицию
// движок трейлинга пропускает на текущем тике.
type Position struct {
	ID         string
	Symbol     string
	Size       float64
	EntryPrice float64
	ParseErr   error
}

func (p Position) IsFlat() bool { return math.Abs(p.Size) < SizeTolerance }

func (p Position) IsLong() bool { return !p.IsFlat() && p.Size > 0 }

func (p Position) IsShort() bool { return !p.IsFlat() && p.Size < 0 }

// Direction — сторона, которой позиция была открыта.
func (p Position) Direction() Side {
	switch {
	case p.IsLong():
		return SideBuy
	case p.IsShort():
		return SideSell
	default:
		return SideNone
	}
}

// HasSide: buy — есть long, sell — есть short.
func (p Position) HasSide(side Side) bool {
	return side != SideNone && p.Direction() == side
}

// Matches — символы у биржи бывают с суффиксами ("BTCUSD" внутри "BTCUSD_PERP").
func (p Position) Matches(symbol string) bool {
	return symbol != "" && strings.Contains(p.Symbol, symbol)
}

func (p Position) AbsSize() float64 { return math.Abs(p.Size) }
