package service

import (
	"fmt"
	"sort"
	"strings"

	"delta_bot/internal/models"
	"delta_bot/internal/runner/trailing"
)

// FormatPositions — ответ на /positions. live<=0 — цены нет, профит не считаем.
func FormatPositions(ps []models.Position, stops map[string]float64, live float64) string {
	var b strings.Builder
	b.WriteString("*📊 Позиции*\n\n")

	n := 0
	for _, p := range ps {
		if p.IsFlat() && p.ParseErr == nil {
			continue
		}
		n++
		if p.ParseErr != nil {
			fmt.Fprintf(&b, "%s: `не разобрана` (%v)\n", p.Symbol, p.ParseErr)
			continue
		}

		fmt.Fprintf(&b, "%s %s `%s` @ `%s`", sideIcon(p.Direction()), p.Symbol, qty(p.AbsSize()), f2(p.EntryPrice))
		if live > 0 && p.EntryPrice > 0 {
			fmt.Fprintf(&b, "  PnL `%s%%` (`%s`)",
				f2(trailing.ProfitPct(p, live)*100),
				f2(trailing.RawProfit(p, live)),
			)
		}
		if stop, ok := stops[p.ID]; ok {
			fmt.Fprintf(&b, "  SL `%s`", f2(stop))
		}
		b.WriteString("\n")
	}

	if n == 0 {
		b.WriteString("Открытых позиций нет\n")
	}
	return b.String()
}

// FormatOrders — ответ на /orders, свежие сверху.
func FormatOrders(orders []models.Order) string {
	var b strings.Builder
	b.WriteString("*🧾 Ордера*\n\n")

	sorted := append([]models.Order(nil), orders...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })

	n := 0
	for _, o := range sorted {
		if !o.IsPending() {
			continue
		}
		n++
		fmt.Fprintf(&b, "%s `%s` %s %s `%s`", sideIcon(o.Side), shortID(o.ID), o.Symbol, o.Side, qty(o.Amount))
		if o.Price > 0 {
			fmt.Fprintf(&b, " @ `%s`", f2(o.Price))
		}
		if sl := o.Params[models.ParamStopLossPrice]; sl != "" {
			fmt.Fprintf(&b, " SL `%s`", sl)
		}
		if tp := o.Params[models.ParamTakeProfitPrice]; tp != "" {
			fmt.Fprintf(&b, " TP `%s`", tp)
		}
		b.WriteString("\n")
	}

	if n == 0 {
		b.WriteString("Активных ордеров нет\n")
	}
	return b.String()
}

func sideIcon(s models.Side) string {
	switch s {
	case models.SideBuy:
		return "🟢"
	case models.SideSell:
		return "🔴"
	default:
		return "⚪️"
	}
}
