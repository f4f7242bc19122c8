package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_ImmediateDelayedFire(t *testing.T) {
	s := NewScheduler()
	calls := 0
	task := NewTask()
	task.Set(10*time.Millisecond, Forever, func() { calls++ })
	task.EnableDelayed(0)

	require.True(t, s.AddTask(task) != nil)
	require.True(t, s.Execute())
	require.Equal(t, 1, calls)
}

func TestScheduler_FiniteIterationsDisablesItself(t *testing.T) {
	s := NewScheduler()
	calls := 0
	task := NewTask()
	task.Set(0, 2, func() { calls++ })
	task.EnableDelayed(0)
	s.AddTask(task)

	s.Execute()
	time.Sleep(time.Millisecond)
	s.Execute()
	time.Sleep(time.Millisecond)
	s.Execute()

	require.Equal(t, 2, calls)
	require.False(t, task.IsEnabled())
}

func TestScheduler_DisableStopsFiring(t *testing.T) {
	s := NewScheduler()
	calls := 0
	task := NewTask()
	task.Set(0, Forever, func() { calls++ })
	task.EnableDelayed(0)
	s.AddTask(task)
	s.Execute()
	task.Disable()
	time.Sleep(time.Millisecond)
	s.Execute()
	require.Equal(t, 1, calls)
}

func TestScheduler_ForceNextIteration(t *testing.T) {
	s := NewScheduler()
	calls := 0
	task := NewTask()
	task.Set(time.Hour, Forever, func() { calls++ })
	task.Enable()
	s.AddTask(task)
	require.False(t, s.Execute())

	task.ForceNextIteration()
	require.True(t, s.Execute())
	require.Equal(t, 1, calls)
}

func TestScheduler_RemoveTaskStopsPolling(t *testing.T) {
	s := NewScheduler()
	calls := 0
	task := NewTask()
	task.Set(0, Forever, func() { calls++ })
	task.EnableDelayed(0)
	s.AddTask(task)
	s.RemoveTask(task)
	s.Execute()
	require.Equal(t, 0, calls)
}
