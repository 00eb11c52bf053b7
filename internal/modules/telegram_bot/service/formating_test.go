package service

import (
	"strings"
	"testing"
	"time"

	"delta_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestFormatPositions(t *testing.T) {
	ps := []models.Position{
		{ID: "27", Symbol: "BTCUSD", Size: 1, EntryPrice: 45000},
		{ID: "28", Symbol: "ETHUSD", Size: 0, EntryPrice: 2500},
		{ID: "29", Symbol: "SOLUSD", ParseErr: errors.Wrap(models.ErrData, "size")},
	}

	out := FormatPositions(ps, map[string]float64{"27": 45270}, 45500)

	assert.Contains(t, out, "🟢 BTCUSD `1` @ `45000.00`")
	assert.Contains(t, out, "PnL `1.11%` (`500.00`)")
	assert.Contains(t, out, "SL `45270.00`")
	assert.Contains(t, out, "SOLUSD: `не разобрана`")
	assert.NotContains(t, out, "ETHUSD")
}

func TestFormatPositions_Empty(t *testing.T) {
	assert.Contains(t, FormatPositions(nil, nil, 0), "Открытых позиций нет")
}

func TestFormatOrders(t *testing.T) {
	now := time.Unix(1700000000, 0)
	orders := []models.Order{
		{ID: "old", Symbol: "BTCUSD", Side: models.SideSell, Amount: 1, Price: 45050, Status: models.OrderOpen, CreatedAt: now.Add(-time.Minute)},
		{ID: "new", Symbol: "BTCUSD", Side: models.SideBuy, Amount: 1, Price: 44950, Status: models.OrderOpen, CreatedAt: now,
			Params: map[string]string{models.ParamStopLossPrice: "44500", models.ParamTakeProfitPrice: "48000"}},
		{ID: "done", Symbol: "BTCUSD", Side: models.SideBuy, Amount: 1, Status: models.OrderFilled, CreatedAt: now},
	}

	out := FormatOrders(orders)

	assert.Contains(t, out, "🟢 `new` BTCUSD buy `1` @ `44950.00` SL `44500` TP `48000`")
	assert.Contains(t, out, "🔴 `old`")
	assert.NotContains(t, out, "done")
	assert.Less(t, strings.Index(out, "`new`"), strings.Index(out, "`old`"))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "ex-1", shortID("ex-1"))
	assert.Equal(t, "01HZ…ABCDEF", shortID("01HZXXXXXXXXXXXXABCDEF"))
}
