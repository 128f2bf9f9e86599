package rategovernor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireConsumesTokens(t *testing.T) {
	g := New(Config{Capacity: 2, RefillPerSecond: 1000, PenaltyFactor: 0.5, RefillFloor: 0.1, RecoveryFactor: 1.25, RecoveryInterval: time.Hour})
	defer g.Close()

	ctx := context.Background()
	require.NoError(t, g.Acquire(ctx, 1))
	require.NoError(t, g.Acquire(ctx, 1))
}

func TestPenalizeBlocksAcquireForWindow(t *testing.T) {
	g := New(Config{Capacity: 5, RefillPerSecond: 1000, PenaltyFactor: 0.5, RefillFloor: 0.1, RecoveryFactor: 1.25, RecoveryInterval: time.Hour})
	defer g.Close()

	g.Penalize(0.2)

	start := time.Now()
	require.NoError(t, g.Acquire(context.Background(), 1))
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 180*time.Millisecond, "acquire must not proceed before the penalty window elapses")
}

func TestPenalizeHalvesRateWithFloor(t *testing.T) {
	g := New(Config{Capacity: 5, RefillPerSecond: 1.0, PenaltyFactor: 0.5, RefillFloor: 0.1, RecoveryFactor: 1.25, RecoveryInterval: time.Hour})
	defer g.Close()

	g.Penalize(0)
	require.InDelta(t, 0.5, g.CurrentRate(), 1e-9)

	for i := 0; i < 10; i++ {
		g.Penalize(0)
	}
	require.GreaterOrEqual(t, g.CurrentRate(), 0.1)
}

func TestRecoverRestoresTowardTargetBoundedAbove(t *testing.T) {
	g := New(Config{Capacity: 5, RefillPerSecond: 1.0, PenaltyFactor: 0.5, RefillFloor: 0.1, RecoveryFactor: 1.25, RecoveryInterval: time.Hour})
	defer g.Close()

	g.Penalize(0)
	before := g.CurrentRate()
	g.Recover()
	after := g.CurrentRate()
	require.Greater(t, after, before)
	require.LessOrEqual(t, after, 1.0)

	for i := 0; i < 20; i++ {
		g.Recover()
	}
	require.Equal(t, 1.0, g.CurrentRate())
}

func TestAcquireFairnessUnderContention(t *testing.T) {
	g := New(Config{Capacity: 1, RefillPerSecond: 200, PenaltyFactor: 0.5, RefillFloor: 0.1, RecoveryFactor: 1.25, RecoveryInterval: time.Hour})
	defer g.Close()

	const workers = 4
	const acquisitionsPerWorker = 20
	counts := make([]int, workers)
	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < acquisitionsPerWorker; i++ {
				if err := g.Acquire(ctx, 1); err != nil {
					return
				}
				counts[w]++
			}
		}()
	}
	wg.Wait()

	min, max := counts[0], counts[0]
	for _, c := range counts {
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	require.LessOrEqual(t, max-min, 2, "acquisitions should be roughly evenly distributed across workers")
}
