package core

import (
	"sync"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// Default tunables for receive-side de-duplication (§4.3).
const (
	MaxTrackedMessages       = 500
	DuplicateTrackingTimeout = 60000 // milliseconds, wrap-safe 32-bit clock
)

type trackerKey struct {
	messageID uint32
	origin    NodeID
}

type trackerEntry struct {
	markedAt uint32
	seq      uint64
}

// MessageTracker deduplicates packages carrying an (messageId, origin)
// identity, per §4.3. Capacity is bounded; on overflow the oldest entry
// (by insertion sequence, not by age) is evicted, and ages are computed
// with the wrap-safe 32-bit millisecond clock so the tracker survives a
// uint32 rollover correctly.
type MessageTracker struct {
	mu       sync.Mutex
	capacity int
	timeout  uint32
	entries  map[trackerKey]trackerEntry
	nextSeq  uint64
}

// NewMessageTracker returns a tracker bounded to capacity entries
// (MaxTrackedMessages if zero) with the given timeout in milliseconds
// (DuplicateTrackingTimeout if zero).
func NewMessageTracker(capacity int, timeoutMs uint32) *MessageTracker {
	if capacity <= 0 {
		capacity = MaxTrackedMessages
	}
	if timeoutMs == 0 {
		timeoutMs = DuplicateTrackingTimeout
	}
	return &MessageTracker{
		capacity: capacity,
		timeout:  timeoutMs,
		entries:  make(map[trackerKey]trackerEntry),
	}
}

// IsProcessed reports whether (messageID, origin) was marked processed
// and has not yet aged past the tracking timeout.
func (t *MessageTracker) IsProcessed(messageID uint32, origin NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := trackerKey{messageID, origin}
	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	if types.ElapsedMillis32(entry.markedAt, types.Millis32Now()) > t.timeout {
		delete(t.entries, key)
		return false
	}
	return true
}

// MarkProcessed records (messageID, origin) as seen, evicting the oldest
// tracked entry first if this insertion would exceed capacity.
func (t *MessageTracker) MarkProcessed(messageID uint32, origin NodeID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := trackerKey{messageID, origin}
	if _, exists := t.entries[key]; !exists && len(t.entries) >= t.capacity {
		t.evictOldestLocked()
	}
	t.entries[key] = trackerEntry{markedAt: types.Millis32Now(), seq: t.nextSeq}
	t.nextSeq++
}

func (t *MessageTracker) evictOldestLocked() {
	var oldestKey trackerKey
	var oldestSeq uint64
	first := true
	for k, v := range t.entries {
		if first || v.seq < oldestSeq {
			oldestKey = k
			oldestSeq = v.seq
			first = false
		}
	}
	if !first {
		delete(t.entries, oldestKey)
	}
}

// Size reports the number of currently tracked entries, including ones
// that have aged out but not yet been queried.
func (t *MessageTracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
