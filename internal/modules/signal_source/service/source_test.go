package service

import (
	"context"
	"testing"

	"delta_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want models.Signal
	}{
		{
			name: "full document",
			doc:  `{"last_signal":{"text":"BUY now","price":45000},"supply_zone":{"min":45500,"max":45800},"demand_zone":{"min":44200,"max":44500}}`,
			want: models.Signal{
				Text:   "BUY now",
				Price:  45000,
				Supply: models.Zone{Min: 45500, Max: 45800, Set: true},
				Demand: models.Zone{Min: 44200, Max: 44500, Set: true},
			},
		},
		{
			name: "string numbers",
			doc:  `{"last_signal":{"text":"short","price":"45010.5"},"supply_zone":{"min":"45500"},"demand_zone":{"min":"44200","max":null}}`,
			want: models.Signal{
				Text:   "short",
				Price:  45010.5,
				Supply: models.Zone{Min: 45500, Set: true},
				Demand: models.Zone{Min: 44200, Set: true},
			},
		},
		{
			name: "no price and no zones",
			doc:  `{"last_signal":{"text":"tp hit","price":null}}`,
			want: models.Signal{Text: "tp hit"},
		},
		{
			name: "zone without min",
			doc:  `{"last_signal":{"text":"buy"},"supply_zone":{"max":1},"demand_zone":{"min":"n/a"}}`,
			want: models.Signal{Text: "buy"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSignal([]byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseSignal([]byte(`{"last_signal":`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrData))
}

type stubRedis struct {
	val string
	err error
}

func (s stubRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	return redis.NewStringResult(s.val, s.err)
}

func TestSourceFetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	sig, ok, err := NewSource(stubRedis{val: `{"last_signal":{"text":"buy"}}`}, "").Fetch(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "buy", sig.Text)

	_, ok, err = NewSource(stubRedis{err: redis.Nil}, "signal").Fetch(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = NewSource(stubRedis{err: errors.New("dial tcp: refused")}, "signal").Fetch(ctx)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.KindTransient, models.KindOf(err))
}
