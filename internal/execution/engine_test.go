package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"delta_bot/internal/exchangetest"
	"delta_bot/internal/ledger"
	"delta_bot/internal/models"
	"delta_bot/internal/modules/config"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const symbol = "BTCUSD"

func newEngine(t *testing.T) (*Engine, *ledger.Ledger, *exchangetest.Fake) {
	t.Helper()
	fake := exchangetest.New()
	l := ledger.New(fake, nil)
	return New(l, config.ExecutionConfig{StaleAfter: time.Minute}), l, fake
}

func ioc() map[string]string {
	return map[string]string{models.ParamTimeInForce: "ioc"}
}

func placeConcurrently(e *Engine, n int) []Outcome {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out []Outcome
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.PlaceMarketOrder(context.Background(), symbol, models.SideBuy, 1, ioc())
			if err != nil {
				return
			}
			mu.Lock()
			out = append(out, res)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

func TestPlaceMarketOrderSkipsWhenPositionExists(t *testing.T) {
	t.Parallel()
	e, _, fake := newEngine(t)
	fake.SetPositions(models.Position{Symbol: symbol, Size: 1, EntryPrice: 45000})

	outcomes := placeConcurrently(e, 2)

	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.True(t, o.Skipped)
		assert.Equal(t, ReasonPositionExists, o.Reason)
	}
	assert.Zero(t, fake.Calls(exchangetest.MethodCreate))
}

func TestPlaceMarketOrderAtMostOneUnderRace(t *testing.T) {
	t.Parallel()
	e, l, fake := newEngine(t)
	fake.OnSubmit = func(f *exchangetest.Fake, s exchangetest.Submitted) {
		f.SetPositionsLocked(models.Position{Symbol: s.Symbol, Size: s.Amount, EntryPrice: 45000})
	}

	outcomes := placeConcurrently(e, 5)

	require.Len(t, outcomes, 5)
	placed := 0
	for _, o := range outcomes {
		if !o.Skipped {
			placed++
		}
	}
	assert.Equal(t, 1, placed)
	assert.Len(t, fake.Submitted(), 1)
	assert.Len(t, l.Snapshot(), 1)
}

func TestPlaceMarketOrderChecks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("remote open order on same side", func(t *testing.T) {
		t.Parallel()
		e, _, fake := newEngine(t)
		fake.SetOrders(models.Order{ID: "o1", Symbol: symbol, Side: models.SideBuy, Status: models.OrderOpen})

		res, err := e.PlaceMarketOrder(ctx, symbol, models.SideBuy, 1, ioc())
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, ReasonOpenOrder, res.Reason)
	})

	t.Run("remote open order on other side does not block", func(t *testing.T) {
		t.Parallel()
		e, _, fake := newEngine(t)
		fake.SetOrders(models.Order{ID: "o1", Symbol: symbol, Side: models.SideSell, Status: models.OrderOpen})

		res, err := e.PlaceMarketOrder(ctx, symbol, models.SideBuy, 1, ioc())
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Len(t, fake.Submitted(), 1)
	})

	t.Run("local pending order", func(t *testing.T) {
		t.Parallel()
		e, l, fake := newEngine(t)
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		e.WithClock(func() time.Time { return now })
		l.Record(ctx, models.Order{ID: "local", Symbol: symbol, Side: models.SideBuy, Status: models.OrderOpen, CreatedAt: now.Add(-10 * time.Second)})

		res, err := e.PlaceMarketOrder(ctx, symbol, models.SideBuy, 1, ioc())
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, ReasonLocalPending, res.Reason)
		assert.Zero(t, fake.Calls(exchangetest.MethodCreate))
	})

	t.Run("open market response blocks repeat", func(t *testing.T) {
		t.Parallel()
		e, _, fake := newEngine(t)
		fake.MarketStatus = models.OrderOpen

		res, err := e.PlaceMarketOrder(ctx, symbol, models.SideBuy, 1, ioc())
		require.NoError(t, err)
		require.False(t, res.Skipped)

		res, err = e.PlaceMarketOrder(ctx, symbol, models.SideBuy, 1, ioc())
		require.NoError(t, err)
		assert.True(t, res.Skipped)
		assert.Equal(t, ReasonLocalPending, res.Reason)
		assert.Len(t, fake.Submitted(), 1)
	})

	t.Run("stale local order is evicted", func(t *testing.T) {
		t.Parallel()
		e, l, fake := newEngine(t)
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		e.WithClock(func() time.Time { return now })
		l.Record(ctx, models.Order{ID: "stale", Symbol: symbol, Side: models.SideBuy, Status: models.OrderOpen, CreatedAt: now.Add(-2 * time.Minute)})

		res, err := e.PlaceMarketOrder(ctx, symbol, models.SideBuy, 1, ioc())
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Len(t, fake.Submitted(), 1)

		_, ok := l.Get("stale")
		assert.False(t, ok)
	})

	t.Run("read failures fall through to local cache", func(t *testing.T) {
		t.Parallel()
		e, _, fake := newEngine(t)
		fake.Fail(exchangetest.MethodFetchPositions, errors.New("timeout"))
		fake.Fail(exchangetest.MethodFetchOrders, errors.New("timeout"))

		res, err := e.PlaceMarketOrder(ctx, symbol, models.SideSell, 2, ioc())
		require.NoError(t, err)
		assert.False(t, res.Skipped)
		assert.Equal(t, models.SideSell, res.Order.Side)
		assert.Equal(t, "ioc", res.Order.Params[models.ParamTimeInForce])
	})

	t.Run("submission failure is returned", func(t *testing.T) {
		t.Parallel()
		e, l, fake := newEngine(t)
		fake.Fail(exchangetest.MethodCreate, errors.New("insufficient margin"))

		_, err := e.PlaceMarketOrder(ctx, symbol, models.SideBuy, 1, ioc())
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrSubmission))
		assert.Empty(t, l.Snapshot())
	})

	t.Run("invalid side", func(t *testing.T) {
		t.Parallel()
		e, _, fake := newEngine(t)

		_, err := e.PlaceMarketOrder(ctx, symbol, models.SideNone, 1, nil)
		require.Error(t, err)
		assert.Zero(t, fake.Calls(exchangetest.MethodFetchPositions))
	})
}

func TestClosePosition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e, _, fake := newEngine(t)

	res, err := e.ClosePosition(ctx, models.Position{Symbol: symbol, Size: -3, EntryPrice: 45000}, "ioc")
	require.NoError(t, err)
	require.False(t, res.Skipped)

	sub := fake.Submitted()
	require.Len(t, sub, 1)
	assert.Equal(t, models.SideBuy, sub[0].Side)
	assert.Equal(t, models.OrderTypeMarket, sub[0].Type)
	assert.InDelta(t, 3, sub[0].Amount, 1e-12)
	assert.Equal(t, "ioc", sub[0].Params[models.ParamTimeInForce])
	assert.Equal(t, "true", sub[0].Params[models.ParamReduceOnly])
	assert.Equal(t, models.OrderFilled, res.Order.Status)
	assert.False(t, res.Order.IsPending())

	res, err = e.ClosePosition(ctx, models.Position{Symbol: symbol}, "ioc")
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, ReasonFlat, res.Reason)
}
