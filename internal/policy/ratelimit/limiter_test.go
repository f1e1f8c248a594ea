package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitSpacesCalls(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: 50 * time.Millisecond})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	require.Less(t, time.Since(start), 25*time.Millisecond, "first call should not wait")

	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	require.GreaterOrEqual(t, time.Since(start), 95*time.Millisecond)
}

func TestWaitSharedAcrossGoroutines(t *testing.T) {
	t.Parallel()

	l := New(Config{MinInterval: 20 * time.Millisecond})
	ctx := context.Background()

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(ctx); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, times, 5)
	first, last := times[0], times[0]
	for _, ts := range times {
		if ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	require.GreaterOrEqual(t, last.Sub(first), 75*time.Millisecond)
}

func TestPenalizeHoldsEveryCaller(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	l.Penalize(100 * time.Millisecond)
	l.Penalize(10 * time.Millisecond)

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	l.Penalize(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}
