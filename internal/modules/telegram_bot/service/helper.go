package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

func f2(v float64) string { // для красивого вывода
	return fmt.Sprintf("%.2f", v)
}

// qty без хвостовых нулей: 1, 0.5, 12.25
func qty(v float64) string {
	return decimal.NewFromFloat(v).Round(8).String()
}

func shortID(id string) string {
	id = strings.TrimSpace(id)
	if len(id) <= 12 {
		return id
	}
	return id[:4] + "…" + id[len(id)-6:]
}
