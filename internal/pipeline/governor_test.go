package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernor_NeverExceedsLimit(t *testing.T) {
	g := NewGovernor(3)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire(context.Background()))
			assert.LessOrEqual(t, g.InFlight(), 3)
			time.Sleep(2 * time.Millisecond)
			g.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, g.InFlight())
	assert.LessOrEqual(t, g.Peak(), 3)
	assert.Equal(t, 3, g.Limit())
}

func TestGovernor_AcquireHonoursContext(t *testing.T) {
	g := NewGovernor(1)
	require.NoError(t, g.Acquire(context.Background()))
	defer g.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, g.InFlight())
}

func TestGovernor_ZeroLimitMeansOne(t *testing.T) {
	assert.Equal(t, 1, NewGovernor(0).Limit())
}
