package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdonaldj/zipstage/internal/future"
)

func TestTickRunsFinishedContinuations(t *testing.T) {
	s := New()
	ready := false
	ran := 0
	s.WaitFor(Func(func() bool { return !ready }), func() { ran++ })

	s.Tick()
	assert.Equal(t, 0, ran)
	assert.Equal(t, 1, s.Parked())

	ready = true
	s.Tick()
	assert.Equal(t, 1, ran)
	assert.Equal(t, 0, s.Parked())

	s.Tick()
	assert.Equal(t, 1, ran, "continuation runs once")
	assert.Equal(t, uint64(3), s.Frame())
}

func TestTickPreservesOrder(t *testing.T) {
	s := New()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		s.WaitFor(Func(func() bool { return false }), func() { order = append(order, i) })
	}

	s.Tick()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestContinuationParkedDuringTickWaitsForNextTick(t *testing.T) {
	s := New()
	polled := 0
	s.WaitFor(Func(func() bool { return false }), func() {
		s.WaitFor(Func(func() bool { polled++; return false }), nil)
	})

	s.Tick()
	assert.Equal(t, 0, polled)
	assert.Equal(t, 1, s.Parked())

	s.Tick()
	assert.Equal(t, 1, polled)
	assert.Equal(t, 0, s.Parked())
}

func TestFrames(t *testing.T) {
	s := New()
	done := false
	s.WaitFor(s.Frames(3), func() { done = true })

	s.Tick()
	s.Tick()
	assert.False(t, done)
	s.Tick()
	assert.True(t, done)
}

func TestTickDoesNotBlockOnPendingFuture(t *testing.T) {
	release := make(chan struct{})
	f := future.Spawn(func() (string, error) {
		<-release
		return "done", nil
	})

	s := New()
	var got string
	s.WaitFor(f, func() { got, _ = f.Result() })

	start := time.Now()
	for i := 0; i < 100; i++ {
		s.Tick()
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, got)

	close(release)
	<-f.Done()
	s.Tick()
	assert.Equal(t, "done", got)
}

func TestRunUntilIdle(t *testing.T) {
	f := future.Spawn(func() (int, error) {
		time.Sleep(5 * time.Millisecond)
		return 9, nil
	})

	s := New()
	var got int
	s.WaitFor(f, func() { got, _ = f.Result() })

	require.NoError(t, s.Run(context.Background(), time.Millisecond))
	assert.Equal(t, 9, got)
	assert.Positive(t, s.Frame())
}

func TestRunHonorsContext(t *testing.T) {
	s := New()
	s.WaitFor(Func(func() bool { return true }), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	err := s.Run(ctx, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, s.Parked())
}
