// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPeriodicTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(ctx, "test-scheduler")

	var ticks atomic.Int32
	id := s.AddPeriodic(10*time.Millisecond, func(ctx context.Context) {
		ticks.Add(1)
	})

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)

	err := s.Remove(id)
	assert.NoError(t, err)

	after := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, ticks.Load(), "no further ticks after Remove")
}

func TestPeriodicTaskSurvivesPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(ctx, "test-scheduler-panic")

	var ticks atomic.Int32
	s.AddPeriodic(10*time.Millisecond, func(ctx context.Context) {
		ticks.Add(1)
		panic("boom")
	})

	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond,
		"task keeps ticking even though it panics every time")
}
