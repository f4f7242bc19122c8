package core

import (
	"sync"
	"time"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// DefaultDeletionSpacing is TCP_CLIENT_DELETION_SPACING_MS from §4.2 of
// the spec: consecutive transport teardowns are spaced apart by at least
// this long so a burst of disconnects cannot free several transports'
// underlying sockets in the same tick.
const DefaultDeletionSpacing = 250 * time.Millisecond

// TeardownScheduler enforces §4.2's deferred-teardown discipline: a
// Connection whose transport is not yet Freeable must not be deleted,
// and even once it is, deletions across every tracked connection are
// spaced apart rather than allowed to land in the same scheduler tick.
// One instance is owned by mesh.Core and shared by every Connection it
// creates.
type TeardownScheduler struct {
	mu          sync.Mutex
	spacing     time.Duration
	lastAt      uint32
	haveLastAt  bool
	log         types.Logger
}

// NewTeardownScheduler returns a scheduler spacing deletions by spacing
// (DefaultDeletionSpacing if zero).
func NewTeardownScheduler(spacing time.Duration, log types.Logger) *TeardownScheduler {
	if spacing <= 0 {
		spacing = DefaultDeletionSpacing
	}
	return &TeardownScheduler{spacing: spacing, log: log}
}

// nextSlot reserves and returns the earliest wrap-safe millisecond
// timestamp at which the next deletion may run, honoring both minDelay
// (caller's own requirement, e.g. "only once Freeable") and the
// scheduler-wide spacing since the last reservation.
func (ts *TeardownScheduler) nextSlot(minDelay time.Duration) uint32 {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := types.Millis32Now()
	candidate := now + uint32(minDelay/time.Millisecond)
	if ts.haveLastAt {
		spacedFloor := ts.lastAt + uint32(ts.spacing/time.Millisecond)
		// If spacedFloor is still ahead of candidate, it wins; "ahead"
		// means the wrap-safe elapsed time from candidate to spacedFloor
		// is a small positive number, not a near-full-range wraparound.
		if elapsed := types.ElapsedMillis32(candidate, spacedFloor); elapsed > 0 && elapsed < uint32(24*time.Hour/time.Millisecond) {
			candidate = spacedFloor
		}
	}
	ts.lastAt = candidate
	ts.haveLastAt = true
	return candidate
}

// ScheduleDeletion arranges for fn to run no sooner than minDelay from
// now and no sooner than this scheduler's spacing after any other deletion
// this scheduler has already arranged, per §4.2 points 2-4. ready is
// polled by re-checking Freeable on every scheduler tick rather than
// trusting a fixed delay: fn only runs once ready() returns true AND the
// spacing floor has elapsed. If sched is nil (no cooperative scheduler
// available, e.g. during shutdown) fn runs synchronously and the
// omission is logged, since running it inline forfeits the spacing
// guarantee.
func (ts *TeardownScheduler) ScheduleDeletion(sched *Scheduler, minDelay time.Duration, ready func() bool, fn func()) {
	if sched == nil {
		if ts.log != nil {
			ts.log.Warn("teardown: no scheduler available, running deletion synchronously")
		}
		fn()
		return
	}

	slot := ts.nextSlot(minDelay)
	task := NewTask()
	task.Set(20*time.Millisecond, Forever, func() {
		now := types.Millis32Now()
		// elapsed wraps modulo 2^32; treat any huge "elapsed" as "not
		// reached yet" rather than misreading a not-yet-due slot as a
		// wraparound that already passed.
		if elapsed := types.ElapsedMillis32(slot, now); elapsed > uint32(24*time.Hour/time.Millisecond) {
			return
		}
		if !readyOrNoCheck(ready) {
			return
		}
		sched.RemoveTask(task)
		fn()
	})
	sched.AddTask(task)
	task.Enable()
}

func readyOrNoCheck(ready func() bool) bool {
	if ready == nil {
		return true
	}
	return ready()
}
