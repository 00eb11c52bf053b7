package runner

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerStartStop(t *testing.T) {
	var started, stopped atomic.Int32
	loop := func(ctx context.Context) error {
		started.Add(1)
		<-ctx.Done()
		stopped.Add(1)
		return nil
	}

	m := NewManager(Loop{Name: "a", Run: loop}, Loop{Name: "b", Run: loop})
	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Running())
	assert.Error(t, m.Start(context.Background()))

	m.Stop()
	assert.False(t, m.Running())
	assert.EqualValues(t, 2, started.Load())
	assert.EqualValues(t, 2, stopped.Load())

	// повторный Stop — no-op
	m.Stop()
}

func TestManagerLoopFailureDoesNotBlockStop(t *testing.T) {
	m := NewManager(Loop{Name: "broken", Run: func(context.Context) error {
		return errors.New("no price")
	}})
	require.NoError(t, m.Start(context.Background()))
	m.Stop()
	assert.False(t, m.Running())
}
