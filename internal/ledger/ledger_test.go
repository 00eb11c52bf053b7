package ledger

import (
	"context"
	"testing"
	"time"

	"delta_bot/internal/exchangetest"
	"delta_bot/internal/ledger/pg"
	"delta_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const symbol = "BTCUSD"

func newLedger(t *testing.T) (*Ledger, *exchangetest.Fake, *pg.Orders) {
	t.Helper()
	fake := exchangetest.New()
	journal := pg.NewOrders(nil)
	return New(fake, journal), fake, journal
}

func TestIsOrderOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("remote open order", func(t *testing.T) {
		t.Parallel()
		l, fake, _ := newLedger(t)
		fake.SetOrders(models.Order{ID: "1", Symbol: symbol, Side: models.SideBuy, Status: models.OrderOpen})

		assert.True(t, l.IsOrderOpen(ctx, symbol, models.SideBuy))
		assert.False(t, l.IsOrderOpen(ctx, symbol, models.SideSell))
	})

	t.Run("remote says none, local cache ignored", func(t *testing.T) {
		t.Parallel()
		l, _, _ := newLedger(t)
		l.Record(ctx, models.Order{ID: "local", Symbol: symbol, Side: models.SideBuy, Status: models.OrderOpen})

		assert.False(t, l.IsOrderOpen(ctx, symbol, models.SideBuy))
	})

	t.Run("falls back to local cache on failure", func(t *testing.T) {
		t.Parallel()
		l, fake, _ := newLedger(t)
		l.Record(ctx, models.Order{ID: "local", Symbol: symbol, Side: models.SideSell, Status: models.OrderOpen})
		fake.Fail(exchangetest.MethodFetchOrders, errors.New("timeout"))

		assert.True(t, l.IsOrderOpen(ctx, symbol, models.SideSell))
		assert.False(t, l.IsOrderOpen(ctx, symbol, models.SideBuy))
		assert.False(t, l.IsOrderOpen(ctx, "ETHUSD", models.SideSell))
	})
}

func TestHasOpenPosition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, fake, _ := newLedger(t)

	fake.SetPositions(models.Position{Symbol: "BTCUSD", Size: 2, EntryPrice: 45000})
	assert.True(t, l.HasOpenPosition(ctx, symbol, models.SideBuy))
	assert.False(t, l.HasOpenPosition(ctx, symbol, models.SideSell))
	assert.False(t, l.HasOpenPosition(ctx, "ETHUSD", models.SideBuy))

	fake.SetPositions(models.Position{Symbol: "BTCUSD", Size: -1})
	assert.True(t, l.HasOpenPosition(ctx, symbol, models.SideSell))

	fake.SetPositions(models.Position{Symbol: "BTCUSD", Size: 1e-9})
	assert.False(t, l.HasOpenPosition(ctx, symbol, models.SideBuy))

	fake.Fail(exchangetest.MethodFetchPositions, errors.New("boom"))
	assert.False(t, l.HasOpenPosition(ctx, symbol, models.SideSell))
}

func TestPlaceOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("remote id", func(t *testing.T) {
		t.Parallel()
		l, fake, journal := newLedger(t)

		o, err := l.PlaceOrder(ctx, symbol, models.SideBuy, 1, 44950, map[string]string{models.ParamTimeInForce: "gtc"})
		require.NoError(t, err)

		assert.Equal(t, "ex-1", o.ID)
		assert.Equal(t, models.OrderOpen, o.Status)
		assert.Equal(t, "gtc", o.Params[models.ParamTimeInForce])
		assert.Equal(t, 1, fake.Calls(exchangetest.MethodCreateLimit))

		stored, ok := l.Get("ex-1")
		require.True(t, ok)
		assert.Equal(t, o, stored)

		_, ok = journal.Get("ex-1")
		assert.True(t, ok)
	})

	t.Run("synthetic id when exchange omits one", func(t *testing.T) {
		t.Parallel()
		l, fake, _ := newLedger(t)
		fake.OmitIDs = true
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		l.WithClock(func() time.Time { return now })

		first, err := l.PlaceOrder(ctx, symbol, models.SideBuy, 1, 44950, nil)
		require.NoError(t, err)
		second, err := l.PlaceOrder(ctx, symbol, models.SideBuy, 1, 44950, nil)
		require.NoError(t, err)

		assert.Len(t, first.ID, 26)
		assert.Less(t, first.ID, second.ID)
		assert.Equal(t, now, first.CreatedAt)
		assert.Len(t, l.Snapshot(), 2)
	})

	t.Run("submission failure surfaces", func(t *testing.T) {
		t.Parallel()
		l, fake, _ := newLedger(t)
		fake.Fail(exchangetest.MethodCreateLimit, errors.Wrap(models.ErrAuthorization, "ip_not_whitelisted"))

		_, err := l.PlaceOrder(ctx, symbol, models.SideSell, 1, 45050, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrSubmission))
		assert.Equal(t, models.KindAuthorization, models.KindOf(err))
		assert.Empty(t, l.Snapshot())
	})
}

func TestAttachBracket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	bracket := models.BracketParams{
		StopLossPrice:        44500,
		StopLossLimitPrice:   44500,
		TakeProfitPrice:      48000,
		TakeProfitLimitPrice: 48000,
		TriggerMethod:        models.TriggerLastTraded,
	}

	t.Run("known order merges params", func(t *testing.T) {
		t.Parallel()
		l, fake, _ := newLedger(t)
		placed, err := l.PlaceOrder(ctx, symbol, models.SideBuy, 1, 44950, map[string]string{models.ParamTimeInForce: "gtc"})
		require.NoError(t, err)

		o, err := l.AttachBracket(ctx, placed.ID, 27, symbol, bracket)
		require.NoError(t, err)

		assert.Equal(t, "44500", o.Params[models.ParamStopLossPrice])
		assert.Equal(t, "48000", o.Params[models.ParamTakeProfitLimitPrice])
		assert.Equal(t, "last_traded_price", o.Params[models.ParamStopTriggerMethod])
		assert.Equal(t, "gtc", o.Params[models.ParamTimeInForce])
		assert.Equal(t, models.SideBuy, o.Side)
		assert.Equal(t, 27, o.ProductID)

		calls := fake.Brackets()
		require.Len(t, calls, 1)
		assert.Equal(t, placed.ID, calls[0].ID)
		assert.Equal(t, 27, calls[0].ProductID)
	})

	t.Run("unknown order creates record", func(t *testing.T) {
		t.Parallel()
		l, _, _ := newLedger(t)

		o, err := l.AttachBracket(ctx, "pos-77", 27, symbol, models.StopLoss(45270))
		require.NoError(t, err)

		assert.Equal(t, "pos-77", o.ID)
		assert.Equal(t, symbol, o.Symbol)
		assert.Equal(t, "45270", o.Params[models.ParamStopLossLimitPrice])
		_, hasTP := o.Params[models.ParamTakeProfitPrice]
		assert.False(t, hasTP)

		_, ok := l.Get("pos-77")
		assert.True(t, ok)
	})

	t.Run("remote failure surfaces", func(t *testing.T) {
		t.Parallel()
		l, fake, _ := newLedger(t)
		fake.Fail(exchangetest.MethodBracket, errors.New("bad request"))

		_, err := l.AttachBracket(ctx, "x", 27, symbol, bracket)
		require.Error(t, err)
		assert.Equal(t, models.KindSubmission, models.KindOf(err))
		_, ok := l.Get("x")
		assert.False(t, ok)
	})
}

func TestModifyBracket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, fake, _ := newLedger(t)

	_, err := l.ModifyBracket(ctx, "missing", models.StopLoss(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	placed, err := l.PlaceOrder(ctx, symbol, models.SideBuy, 1, 44950, nil)
	require.NoError(t, err)

	o, err := l.ModifyBracket(ctx, placed.ID, models.StopLoss(45100))
	require.NoError(t, err)
	assert.Equal(t, "45100", o.Params[models.ParamStopLossPrice])
	assert.Zero(t, fake.Calls(exchangetest.MethodBracket))
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		l, fake, _ := newLedger(t)

		_, err := l.CancelOrder(ctx, "nope")
		require.Error(t, err)
		assert.Equal(t, models.KindNotFound, models.KindOf(err))
		assert.Zero(t, fake.Calls(exchangetest.MethodCancel))
	})

	t.Run("remote 404 is a submission failure", func(t *testing.T) {
		t.Parallel()
		l, fake, _ := newLedger(t)
		placed, err := l.PlaceOrder(ctx, symbol, models.SideBuy, 1, 44950, nil)
		require.NoError(t, err)
		fake.Fail(exchangetest.MethodCancel, errors.Wrap(models.ErrNotFound, "order_not_found"))

		_, err = l.CancelOrder(ctx, placed.ID)
		require.Error(t, err)
		assert.Equal(t, models.KindSubmission, models.KindOf(err))
		assert.True(t, errors.Is(err, models.ErrNotFound))

		o, _ := l.Get(placed.ID)
		assert.Equal(t, models.OrderOpen, o.Status)
	})

	t.Run("known id", func(t *testing.T) {
		t.Parallel()
		l, fake, journal := newLedger(t)
		placed, err := l.PlaceOrder(ctx, symbol, models.SideBuy, 1, 44950, nil)
		require.NoError(t, err)

		_, err = l.CancelOrder(ctx, placed.ID)
		require.NoError(t, err)

		o, _ := l.Get(placed.ID)
		assert.Equal(t, models.OrderCanceled, o.Status)
		assert.Equal(t, []string{placed.ID}, fake.Canceled())

		saved, _ := journal.Get(placed.ID)
		assert.Equal(t, models.OrderCanceled, saved.Status)
	})

	t.Run("remote failure keeps status", func(t *testing.T) {
		t.Parallel()
		l, fake, _ := newLedger(t)
		placed, err := l.PlaceOrder(ctx, symbol, models.SideBuy, 1, 44950, nil)
		require.NoError(t, err)
		fake.Fail(exchangetest.MethodCancel, errors.New("503"))

		_, err = l.CancelOrder(ctx, placed.ID)
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrSubmission))

		o, _ := l.Get(placed.ID)
		assert.Equal(t, models.OrderOpen, o.Status)
	})
}

func TestEvictStaleAndPending(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _, _ := newLedger(t)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.Record(ctx, models.Order{ID: "old", Symbol: symbol, Side: models.SideBuy, Status: models.OrderPending, CreatedAt: base})
	l.Record(ctx, models.Order{ID: "fresh", Symbol: symbol, Side: models.SideSell, Status: models.OrderOpen, CreatedAt: base.Add(50 * time.Second)})
	l.Record(ctx, models.Order{ID: "done", Symbol: symbol, Side: models.SideSell, Status: models.OrderFilled, CreatedAt: base.Add(50 * time.Second)})

	assert.True(t, l.HasPending(symbol, models.SideBuy))

	evicted := l.EvictStale(base.Add(61*time.Second), time.Minute)
	assert.Equal(t, []string{"old"}, evicted)

	assert.False(t, l.HasPending(symbol, models.SideBuy))
	assert.True(t, l.HasPending(symbol, models.SideSell))
	assert.True(t, l.HasPending("", models.SideSell))
	assert.Len(t, l.Snapshot(), 2)
}
