package models

import "strings"

// Side — направление ордера, как его понимает биржа: "buy"/"sell".
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide нормализует регистр; всё кроме buy/sell не распознаётся.
func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return SideBuy, true
	case "sell":
		return SideSell, true
	default:
		return SideNone, false
	}
}

func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideNone
	}
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

func (s Side) String() string { return string(s) }
