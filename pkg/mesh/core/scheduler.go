package core

import (
	"sync"
	"time"
)

// Forever marks a Task that should keep re-firing until explicitly
// disabled, mirroring the collaborator scheduler's TASK_FOREVER sentinel
// (§6 of the spec).
const Forever = -1

// Task is one cooperative, non-blocking unit of recurring or delayed
// work. Nothing here blocks: Run is expected to return quickly, exactly
// as §5 requires ("all asynchronous work is expressed as short,
// non-blocking task closures").
type Task struct {
	mu         sync.Mutex
	interval   time.Duration
	iterations int // Forever, or a positive remaining count
	callback   func()
	enabled    bool
	forceNext  bool
	nextRun    time.Time
}

// NewTask returns a disabled task; call Set then Enable/EnableDelayed.
func NewTask() *Task {
	return &Task{}
}

// Set configures the interval, remaining iteration count (Forever for
// unbounded) and callback. It does not enable the task.
func (t *Task) Set(interval time.Duration, iterations int, callback func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.interval = interval
	t.iterations = iterations
	t.callback = callback
}

// Enable arms the task to fire on its next interval boundary from now.
func (t *Task) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
	t.nextRun = time.Now().Add(t.interval)
}

// EnableDelayed arms the task to first fire after delay, then on its
// configured interval thereafter.
func (t *Task) EnableDelayed(delay time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
	t.nextRun = time.Now().Add(delay)
}

// Disable stops the task from firing until re-enabled.
func (t *Task) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
}

// IsEnabled reports whether the task is currently armed.
func (t *Task) IsEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// ForceNextIteration makes the task fire on the scheduler's next
// Execute pass regardless of its interval.
func (t *Task) ForceNextIteration() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.forceNext = true
}

// due reports whether, as of now, the task should fire, and advances
// its internal state if it does.
func (t *Task) due(now time.Time) (func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return nil, false
	}
	if !t.forceNext && now.Before(t.nextRun) {
		return nil, false
	}
	t.forceNext = false
	cb := t.callback
	if t.iterations != Forever {
		t.iterations--
		if t.iterations <= 0 {
			t.enabled = false
		}
	}
	t.nextRun = now.Add(t.interval)
	return cb, true
}

// Scheduler is a cooperative task list driven entirely by Execute,
// matching §5's single-threaded cooperative model: there is no
// background goroutine here, only the host calling Execute repeatedly
// (directly, or via mesh.Core.Update).
type Scheduler struct {
	mu    sync.Mutex
	tasks []*Task
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// AddTask registers a task with the scheduler and returns it.
func (s *Scheduler) AddTask(t *Task) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	return t
}

// RemoveTask unregisters a task so it is no longer polled by Execute.
func (s *Scheduler) RemoveTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, task := range s.tasks {
		if task == t {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

// Execute runs every due task's callback exactly once and reports
// whether any work was done. Callbacks run outside the scheduler's own
// lock so a callback may itself call AddTask/RemoveTask without
// deadlocking.
func (s *Scheduler) Execute() bool {
	s.mu.Lock()
	tasks := append([]*Task{}, s.tasks...)
	s.mu.Unlock()

	now := time.Now()
	didWork := false
	for _, t := range tasks {
		if cb, ok := t.due(now); ok {
			didWork = true
			if cb != nil {
				cb()
			}
		}
	}
	return didWork
}
