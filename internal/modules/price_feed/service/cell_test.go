package service

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellStates(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cell := NewCell(30 * time.Second).WithClock(func() time.Time { return now })

	_, ok := cell.Last()
	assert.False(t, ok)
	assert.Equal(t, Unavailable, cell.State())

	cell.Set(45000, now.Add(-10*time.Second))
	p, ok := cell.Last()
	assert.True(t, ok)
	assert.InDelta(t, 45000, p, 1e-9)
	assert.Equal(t, Fresh, cell.State())

	// старые и неположительные значения не перезаписывают
	cell.Set(44000, now.Add(-20*time.Second))
	cell.Set(0, now)
	p, _ = cell.Last()
	assert.InDelta(t, 45000, p, 1e-9)

	now = now.Add(time.Minute)
	_, ok = cell.Last()
	assert.False(t, ok)
	assert.Equal(t, Stale, cell.State())

	price, _, st := cell.Snapshot()
	assert.Equal(t, Stale, st)
	assert.InDelta(t, 45000, price, 1e-9)
}

func TestCellWaitFor(t *testing.T) {
	t.Parallel()

	t.Run("value arrives", func(t *testing.T) {
		t.Parallel()
		cell := NewCell(time.Minute)
		go func() {
			time.Sleep(50 * time.Millisecond)
			cell.Set(45100, time.Now())
		}()

		p, err := cell.WaitFor(context.Background(), 2*time.Second)
		require.NoError(t, err)
		assert.InDelta(t, 45100, p, 1e-9)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		cell := NewCell(time.Minute)

		_, err := cell.WaitFor(context.Background(), 150*time.Millisecond)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrPriceUnavailable))
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()
		cell := NewCell(time.Minute)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := cell.WaitFor(ctx, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestParseAggTrade(t *testing.T) {
	t.Parallel()
	received := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		msg     string
		ok      bool
		wantErr bool
		want    Trade
	}{
		{
			name: "trade",
			msg:  `{"e":"aggTrade","s":"BTCUSDT","p":"45012.10","q":"0.250","m":true,"T":1714564800000}`,
			ok:   true,
			want: Trade{Price: 45012.10, At: received},
		},
		{
			name: "minimal frame",
			msg:  `{"e":"aggTrade","p":"45000"}`,
			ok:   true,
			want: Trade{Price: 45000, At: received},
		},
		{name: "subscription ack", msg: `{"result":null,"id":1}`},
		{name: "missing price", msg: `{"e":"aggTrade","q":"1","m":false}`},
		{name: "bad price", msg: `{"p":"abc","q":"1","m":false}`, wantErr: true},
		{name: "not json", msg: `ping`, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok, err := ParseAggTrade([]byte(tt.msg), received)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

type stubLister struct {
	price float64
	err   error
	calls int
}

func (s *stubLister) LastPrice(ctx context.Context, symbol string) (float64, error) {
	s.calls++
	return s.price, s.err
}

func TestPrime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cell := NewCell(time.Minute)
	lister := &stubLister{price: 45123.5}
	require.NoError(t, Prime(ctx, lister, cell, "BTCUSDT", time.Now()))

	p, ok := cell.Last()
	require.True(t, ok)
	assert.InDelta(t, 45123.5, p, 1e-9)

	// свежая цена уже есть — REST не дёргаем
	require.NoError(t, Prime(ctx, lister, cell, "BTCUSDT", time.Now()))
	assert.Equal(t, 1, lister.calls)

	failing := &stubLister{err: errors.New("418 I'm a teapot")}
	assert.Error(t, Prime(ctx, failing, NewCell(time.Minute), "BTCUSDT", time.Now()))
}
