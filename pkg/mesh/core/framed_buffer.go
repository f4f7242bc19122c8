// Package core holds the connection-layer and routing-layer primitives:
// FramedBuffer, the cooperative Scheduler, Connection, Router and
// TimeSync.
package core

import (
	"sync"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// outboundFrame is one prioritized frame waiting to be served on the
// send side. wire is the frame body with the trailing NUL separator
// already appended, computed once at push time so requestLength/readPtr
// never need to re-serialize.
type outboundFrame struct {
	wire     []byte
	priority types.Priority
	seq      uint64
	sent     int // bytes of wire already handed to readPtr and freed
}

func (f *outboundFrame) remaining() int { return len(f.wire) - f.sent }

// FramedBuffer accumulates inbound bytes and splits them into whole
// NUL-terminated frames on the receive side, and serves outbound frames
// in priority order (FIFO within a priority) on the send side. See §4.1
// of the spec for the exact contract, including the partial-read
// continuity invariant enforced here by pinning `serving` to one frame
// until it is fully drained.
type FramedBuffer struct {
	mu sync.Mutex

	// receive side
	accum []byte
	ready [][]byte

	// send side
	queue   []*outboundFrame
	nextSeq uint64
	serving *outboundFrame

	lastReadLen      int
	lastReadPriority types.Priority

	enqueueCount [4]uint64
	servedCount  [4]uint64
}

// NewFramedBuffer returns an empty buffer.
func NewFramedBuffer() *FramedBuffer {
	return &FramedBuffer{}
}

// --- receive side ---

// PushBytes appends bytes to the receive accumulator, finalizing one
// ready frame per NUL byte encountered. Zero-length frames (two NULs
// back to back, or a leading NUL) are discarded, never surfaced.
func (b *FramedBuffer) PushBytes(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.accum = append(b.accum, data...)
	for {
		idx := indexOf(b.accum, types.FrameSeparator)
		if idx < 0 {
			return
		}
		if idx > 0 {
			frame := make([]byte, idx)
			copy(frame, b.accum[:idx])
			b.ready = append(b.ready, frame)
		}
		b.accum = b.accum[idx+1:]
	}
}

func indexOf(buf []byte, sep byte) int {
	for i, c := range buf {
		if c == sep {
			return i
		}
	}
	return -1
}

// Front returns the oldest ready frame without removing it.
func (b *FramedBuffer) Front() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ready) == 0 {
		return nil, false
	}
	return b.ready[0], true
}

// PopFront removes and returns the oldest ready frame.
func (b *FramedBuffer) PopFront() ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.ready) == 0 {
		return nil, false
	}
	frame := b.ready[0]
	b.ready = b.ready[1:]
	return frame, true
}

// Empty reports whether the receive side has no ready frames.
func (b *FramedBuffer) Empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ready) == 0
}

// --- send side ---

// PushWithPriority enqueues body for outbound delivery at the given
// priority, clamped to {0..3}.
func (b *FramedBuffer) PushWithPriority(body []byte, priority types.Priority) {
	priority = priority.Clamp()
	wire := make([]byte, len(body)+1)
	copy(wire, body)
	wire[len(body)] = types.FrameSeparator

	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, &outboundFrame{wire: wire, priority: priority, seq: b.nextSeq})
	b.nextSeq++
	b.enqueueCount[priority]++
}

// Push enqueues body at PriorityNormal.
func (b *FramedBuffer) Push(body []byte) {
	b.PushWithPriority(body, types.PriorityNormal)
}

// pickServing returns the frame currently being served, pinning to an
// in-flight partial frame (the continuity invariant of §4.1) or else
// selecting the highest-priority, earliest-enqueued frame.
func (b *FramedBuffer) pickServing() *outboundFrame {
	if b.serving != nil {
		return b.serving
	}
	var best *outboundFrame
	for _, f := range b.queue {
		if best == nil || f.priority < best.priority || (f.priority == best.priority && f.seq < best.seq) {
			best = f
		}
	}
	b.serving = best
	return best
}

// RequestLength returns how many bytes of the current highest-priority
// frame can be served right now, bounded by cap. It returns 0 if the
// send side has nothing queued.
func (b *FramedBuffer) RequestLength(capacity int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.pickServing()
	if f == nil {
		return 0
	}
	remaining := f.remaining()
	if capacity < remaining {
		return capacity
	}
	return remaining
}

// ReadPtr returns a view of up to length unserved bytes of the frame
// selected by RequestLength, and remembers the length and priority just
// served for FreeRead. Callers MUST read LastReadPriority before calling
// FreeRead: FreeRead may remove the serving frame, and the field
// documented there is only meaningful between a ReadPtr and the
// following FreeRead call.
func (b *FramedBuffer) ReadPtr(length int) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.pickServing()
	if f == nil {
		return nil
	}
	if length > f.remaining() {
		length = f.remaining()
	}
	view := f.wire[f.sent : f.sent+length]
	b.lastReadLen = length
	b.lastReadPriority = f.priority
	return view
}

// LastReadPriority returns the priority of the frame most recently
// returned by ReadPtr. Read this before calling FreeRead.
func (b *FramedBuffer) LastReadPriority() types.Priority {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastReadPriority
}

// FreeRead advances the serving frame past the bytes last handed out by
// ReadPtr. If that exhausts the frame (body plus trailing NUL fully
// served), it is removed from the queue and counted in the per-priority
// served statistics; otherwise the served prefix is dropped and the
// same frame remains pinned as `serving` for the next call, so a
// higher-priority arrival cannot preempt a partial transmission.
func (b *FramedBuffer) FreeRead() {
	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.serving
	if f == nil {
		return
	}
	f.sent += b.lastReadLen
	b.lastReadLen = 0
	if f.remaining() > 0 {
		return
	}
	for i, q := range b.queue {
		if q == f {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			break
		}
	}
	b.servedCount[f.priority]++
	b.serving = nil
}

// SendEmpty reports whether the send side has nothing queued and
// nothing in flight.
func (b *FramedBuffer) SendEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue) == 0 && b.serving == nil
}

// Stats returns the per-priority enqueue and fully-served counts.
func (b *FramedBuffer) Stats() (enqueued, served [4]uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enqueueCount, b.servedCount
}
