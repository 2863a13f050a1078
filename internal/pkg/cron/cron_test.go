package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunUnknownJob(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.Run(context.Background(), "nope")
	assert.Error(t, err)
}

func TestRunExecutesJob(t *testing.T) {
	t.Parallel()

	var runs int32
	s := New()
	s.Register(Job{
		Name:     "tick",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	require.NoError(t, s.Run(context.Background(), "tick"))
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) == 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return s.List()[0].Status == StatusFulfill
	}, time.Second, 10*time.Millisecond)
}

func TestFailedJobIsRejected(t *testing.T) {
	t.Parallel()

	s := New()
	s.Register(Job{
		Name:     "boom",
		Interval: time.Hour,
		Fn: func(ctx context.Context) error {
			return errors.New("db gone")
		},
	})

	require.NoError(t, s.Run(context.Background(), "boom"))
	require.Eventually(t, func() bool {
		return s.List()[0].Status == StatusReject
	}, time.Second, 10*time.Millisecond)
}

func TestStartRunsOnInterval(t *testing.T) {
	t.Parallel()

	var runs int32
	s := New()
	s.Register(Job{
		Name:     "fast",
		Interval: 20 * time.Millisecond,
		Fn: func(ctx context.Context) error {
			atomic.AddInt32(&runs, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runs) >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListReportsRegisteredJobs(t *testing.T) {
	t.Parallel()

	s := New()
	s.Register(Job{Name: "a", Description: "first", Interval: time.Hour, Fn: func(ctx context.Context) error { return nil }})
	s.Register(Job{Name: "b", Description: "second", Interval: time.Hour, Fn: func(ctx context.Context) error { return nil }})

	items := s.List()
	require.Len(t, items, 2)
	names := map[string]bool{items[0].Name: true, items[1].Name: true}
	assert.True(t, names["a"] && names["b"])
}
