package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsTasksAndStopsOnCancel(t *testing.T) {
	var runs atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Loop(ctx, Config{
			Name: "test",
			Tasks: []Task{{
				Name:       "tick",
				Interval:   20 * time.Millisecond,
				RunOnStart: true,
				Run:        func(context.Context) { runs.Add(1) },
			}},
		})
	}()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestWaitInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, Wait(ctx, time.Minute), context.Canceled)
	require.NoError(t, Wait(context.Background(), 0))
}

func TestShouldRunDaily(t *testing.T) {
	at := func(day, hour int) time.Time {
		return time.Date(2025, 6, day, hour, 5, 0, 0, time.UTC)
	}

	assert.True(t, ShouldRunDaily(at(2, 3), 3, time.Time{}))
	assert.False(t, ShouldRunDaily(at(2, 4), 3, time.Time{}))
	// Already ran this hour.
	assert.False(t, ShouldRunDaily(at(2, 3), 3, at(2, 3)))
	// Ran yesterday.
	assert.True(t, ShouldRunDaily(at(3, 3), 3, at(2, 3)))
}

func TestShouldRunWeekly(t *testing.T) {
	monday := time.Date(2025, 6, 2, 9, 10, 0, 0, time.UTC)
	require.Equal(t, time.Monday, monday.Weekday())

	assert.True(t, ShouldRunWeekly(monday, time.Monday, 9, time.Time{}))
	assert.False(t, ShouldRunWeekly(monday, time.Monday, 10, time.Time{}))
	assert.False(t, ShouldRunWeekly(monday.AddDate(0, 0, 1), time.Monday, 9, time.Time{}))
	// Ran earlier the same Monday.
	assert.False(t, ShouldRunWeekly(monday, time.Monday, 9, monday.Add(-time.Hour)))
	// Ran last Monday.
	assert.True(t, ShouldRunWeekly(monday, time.Monday, 9, monday.AddDate(0, 0, -7)))
}
