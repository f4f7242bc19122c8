package core

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTeardownScheduler_RunsOnceReady(t *testing.T) {
	sched := NewScheduler()
	ts := NewTeardownScheduler(5*time.Millisecond, nil)

	var ran atomic.Bool
	readyAt := time.Now().Add(20 * time.Millisecond)
	ts.ScheduleDeletion(sched, 0, func() bool { return time.Now().After(readyAt) }, func() {
		ran.Store(true)
	})

	require.Eventually(t, func() bool {
		sched.Execute()
		return ran.Load()
	}, time.Second, time.Millisecond)
}

func TestTeardownScheduler_NoSchedulerRunsSynchronously(t *testing.T) {
	ts := NewTeardownScheduler(0, nil)
	ran := false
	ts.ScheduleDeletion(nil, 0, nil, func() { ran = true })
	require.True(t, ran)
}

func TestTeardownScheduler_SpacesConsecutiveDeletions(t *testing.T) {
	sched := NewScheduler()
	ts := NewTeardownScheduler(30*time.Millisecond, nil)

	var firstAt, secondAt atomic.Int64
	ts.ScheduleDeletion(sched, 0, nil, func() { firstAt.Store(time.Now().UnixMilli()) })
	ts.ScheduleDeletion(sched, 0, nil, func() { secondAt.Store(time.Now().UnixMilli()) })

	require.Eventually(t, func() bool {
		sched.Execute()
		return firstAt.Load() != 0 && secondAt.Load() != 0
	}, time.Second, time.Millisecond)

	require.GreaterOrEqual(t, secondAt.Load()-firstAt.Load(), int64(15))
}
