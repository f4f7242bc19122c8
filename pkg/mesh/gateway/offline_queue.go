package gateway

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// Default tunables (§4.9).
const (
	OfflineQueueCapacity   = 500
	OfflineQueueMaxRetries = 3
	normalPruneAge         = time.Hour
)

// FillBucket is the coarse fill-level the queue reports state-change
// notifications at, per §4.9's 25/50/75/100% rule.
type FillBucket int

const (
	FillEmpty FillBucket = iota // < 25%
	Fill25
	Fill50
	Fill75
	FillFull // 100%
)

// QueuedMessage is one outbound entry held while no gateway is
// reachable, per §3's QueuedMessage data model.
type QueuedMessage struct {
	ID          uint64
	Priority    types.Priority
	EnqueuedAt  time.Time
	Attempts    int
	Payload     string
	Destination string
}

// persistedMessage is the JSON-lines-on-disk shape of §4.9's optional
// persistence: one self-describing object per line. A line with
// Removed set is a tombstone for a prior ID rather than a live message;
// LoadPersisted replays lines in order so the final state reflects every
// enqueue and removal since persistence was enabled, never a duplicated
// snapshot.
type persistedMessage struct {
	ID          uint64         `json:"id"`
	Priority    types.Priority `json:"priority"`
	Timestamp   int64          `json:"timestamp"`
	Attempts    int            `json:"attempts"`
	Payload     string         `json:"payload"`
	Destination string         `json:"destination"`
	Removed     bool           `json:"removed,omitempty"`
}

// OfflineQueue is the bounded, priority-aware buffer of §4.9.
type OfflineQueue struct {
	mu          sync.Mutex
	maxSize     int
	maxRetries  int
	entries     []QueuedMessage
	nextID      uint64
	peakSize    int
	dropped     uint64
	lastBucket  FillBucket

	onStateChange func(bucket FillBucket, size int)

	persist io.Writer
}

// NewOfflineQueue returns a queue bounded to maxSize entries (default
// OfflineQueueCapacity) with maxRetries flush attempts (default
// OfflineQueueMaxRetries) before a failing entry is dropped.
func NewOfflineQueue(maxSize, maxRetries int) *OfflineQueue {
	if maxSize <= 0 {
		maxSize = OfflineQueueCapacity
	}
	if maxRetries <= 0 {
		maxRetries = OfflineQueueMaxRetries
	}
	return &OfflineQueue{maxSize: maxSize, maxRetries: maxRetries}
}

// OnStateChange registers the callback fired after every size change
// that crosses a fill-bucket boundary.
func (q *OfflineQueue) OnStateChange(f func(bucket FillBucket, size int)) { q.onStateChange = f }

// EnablePersistence arms JSON-lines persistence to w: every enqueue of a
// CRITICAL entry appends one message line, and every drain appends one
// tombstone line per entry that left the queue (sent or dropped after
// max retries), per §4.9's supplemented streaming format. w is only ever
// appended to, never rewound.
func (q *OfflineQueue) EnablePersistence(w io.Writer) { q.persist = w }

// LoadPersisted replays a JSON-lines reader written by a prior
// EnablePersistence session. Lines are replayed in order, a tombstone
// retiring whatever its ID last resolved to, so a reader spanning many
// persist events reconstructs the final queue state rather than
// accumulating every message that was ever enqueued. The id counter
// resumes strictly past the maximum ID seen, live or tombstoned.
func (q *OfflineQueue) LoadPersisted(r io.Reader) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	dec := json.NewDecoder(bufio.NewReader(r))
	order := make([]uint64, 0)
	live := make(map[uint64]persistedMessage)
	for {
		var m persistedMessage
		if err := dec.Decode(&m); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if m.Removed {
			delete(live, m.ID)
		} else {
			if _, exists := live[m.ID]; !exists {
				order = append(order, m.ID)
			}
			live[m.ID] = m
		}
		if m.ID >= q.nextID {
			q.nextID = m.ID + 1
		}
	}
	for _, id := range order {
		m, ok := live[id]
		if !ok {
			continue
		}
		q.entries = append(q.entries, QueuedMessage{
			ID:          m.ID,
			Priority:    m.Priority,
			EnqueuedAt:  time.Unix(0, m.Timestamp),
			Attempts:    m.Attempts,
			Payload:     m.Payload,
			Destination: m.Destination,
		})
	}
	return nil
}

// Enqueue appends payload/destination at priority. Returns false (and
// counts a drop) if the queue is full and eviction does not free space
// for anything but CRITICAL/HIGH priority.
func (q *OfflineQueue) Enqueue(priority types.Priority, payload, destination string) (QueuedMessage, bool) {
	q.mu.Lock()

	if len(q.entries) >= q.maxSize {
		if priority == types.PriorityCritical || priority == types.PriorityHigh {
			if !q.evictLocked() {
				q.dropped++
				q.mu.Unlock()
				return QueuedMessage{}, false
			}
		} else {
			q.dropped++
			q.mu.Unlock()
			return QueuedMessage{}, false
		}
	}

	msg := QueuedMessage{
		ID:          q.nextID,
		Priority:    priority,
		EnqueuedAt:  time.Now(),
		Payload:     payload,
		Destination: destination,
	}
	q.nextID++
	q.entries = append(q.entries, msg)
	if len(q.entries) > q.peakSize {
		q.peakSize = len(q.entries)
	}
	size := len(q.entries)
	q.mu.Unlock()

	q.notifyIfCrossed(size)
	if priority == types.PriorityCritical {
		q.persistAppend(persistedMessage{
			ID:          msg.ID,
			Priority:    msg.Priority,
			Timestamp:   msg.EnqueuedAt.UnixNano(),
			Payload:     msg.Payload,
			Destination: msg.Destination,
		})
	}
	return msg, true
}

// evictLocked implements the eviction order of §4.9: first LOW, else
// NORMAL older than an hour, else refuse. Caller holds q.mu.
func (q *OfflineQueue) evictLocked() bool {
	for i, e := range q.entries {
		if e.Priority == types.PriorityLow {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	for i, e := range q.entries {
		if e.Priority == types.PriorityNormal && time.Since(e.EnqueuedAt) > normalPruneAge {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// SendFunc delivers a queued entry's payload to destination, reporting
// success.
type SendFunc func(payload, destination string) bool

// Flush attempts to deliver every queued entry in order via send. On
// success the entry is removed and counted sent; on failure, if
// attempts reaches maxRetries the entry is dropped and counted failed,
// otherwise it is kept for the next Flush.
func (q *OfflineQueue) Flush(send SendFunc) (sent, failed int) {
	q.mu.Lock()
	remaining := make([]QueuedMessage, 0, len(q.entries))
	pending := append([]QueuedMessage{}, q.entries...)
	q.mu.Unlock()

	var retired []uint64
	for _, e := range pending {
		e.Attempts++
		if send(e.Payload, e.Destination) {
			sent++
			retired = append(retired, e.ID)
			continue
		}
		if e.Attempts >= q.maxRetries {
			failed++
			retired = append(retired, e.ID)
			continue
		}
		remaining = append(remaining, e)
	}

	q.mu.Lock()
	q.entries = remaining
	size := len(q.entries)
	q.mu.Unlock()

	q.notifyIfCrossed(size)
	for _, id := range retired {
		q.persistAppend(persistedMessage{ID: id, Removed: true})
	}
	return sent, failed
}

// PruneQueue removes every entry older than maxAge.
func (q *OfflineQueue) PruneQueue(maxAge time.Duration) int {
	q.mu.Lock()
	kept := q.entries[:0]
	removed := 0
	for _, e := range q.entries {
		if time.Since(e.EnqueuedAt) > maxAge {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	size := len(q.entries)
	q.mu.Unlock()

	if removed > 0 {
		q.notifyIfCrossed(size)
	}
	return removed
}

func (q *OfflineQueue) bucketFor(size int) FillBucket {
	pct := float64(size) / float64(q.maxSize) * 100
	switch {
	case pct >= 100:
		return FillFull
	case pct >= 75:
		return Fill75
	case pct >= 50:
		return Fill50
	case pct >= 25:
		return Fill25
	default:
		return FillEmpty
	}
}

func (q *OfflineQueue) notifyIfCrossed(size int) {
	bucket := q.bucketFor(size)
	q.mu.Lock()
	changed := bucket != q.lastBucket
	q.lastBucket = bucket
	cb := q.onStateChange
	q.mu.Unlock()
	if changed && cb != nil {
		cb(bucket, size)
	}
}

// persistAppend appends a single JSON-lines record — a live message or a
// removal tombstone — to the configured writer, if persistence is
// enabled. Errors are swallowed: persistence is a best-effort
// convenience, not a durability guarantee (§9 Non-goals exclude a real
// persistent store beyond this queue).
func (q *OfflineQueue) persistAppend(m persistedMessage) {
	if q.persist == nil {
		return
	}
	_ = json.NewEncoder(q.persist).Encode(m)
}

// Size returns the current entry count.
func (q *OfflineQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// DroppedCount returns the total number of entries rejected by Enqueue.
func (q *OfflineQueue) DroppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Snapshot returns a copy of every currently queued entry, in order.
func (q *OfflineQueue) Snapshot() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]QueuedMessage{}, q.entries...)
}
