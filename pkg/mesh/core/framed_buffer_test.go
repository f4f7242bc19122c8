package core

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

func TestFramedBuffer_ReceiveSplitsOnNUL(t *testing.T) {
	b := NewFramedBuffer()
	b.PushBytes([]byte("abc\x00de"))
	b.PushBytes([]byte("f\x00"))

	first, ok := b.PopFront()
	require.True(t, ok)
	require.Equal(t, "abc", string(first))

	second, ok := b.PopFront()
	require.True(t, ok)
	require.Equal(t, "def", string(second))

	require.True(t, b.Empty())
}

func TestFramedBuffer_DiscardsZeroLengthFrames(t *testing.T) {
	b := NewFramedBuffer()
	b.PushBytes([]byte("\x00\x00abc\x00"))
	frame, ok := b.PopFront()
	require.True(t, ok)
	require.Equal(t, "abc", string(frame))
	require.True(t, b.Empty())
}

func TestFramedBuffer_PartialTailRetained(t *testing.T) {
	b := NewFramedBuffer()
	b.PushBytes([]byte("partia"))
	require.True(t, b.Empty())
	b.PushBytes([]byte("l\x00"))
	frame, ok := b.PopFront()
	require.True(t, ok)
	require.Equal(t, "partial", string(frame))
}

// Scenario 3 of §8: priority preemption with continuity of a partial
// read.
func TestFramedBuffer_PriorityPreemptionScenario(t *testing.T) {
	b := NewFramedBuffer()
	b.PushWithPriority([]byte("N1"), types.PriorityNormal)
	b.PushWithPriority([]byte("N2"), types.PriorityNormal)
	b.PushWithPriority([]byte("C1"), types.PriorityCritical)

	serveWhole := func() string {
		n := b.RequestLength(1024)
		view := append([]byte{}, b.ReadPtr(n)...)
		b.FreeRead()
		return string(view)
	}

	require.Equal(t, "C1\x00", serveWhole())
	require.Equal(t, "N1\x00", serveWhole())

	// Half-serve N2, then enqueue N3 (normal) and H1 (high) mid-flight.
	n := b.RequestLength(1)
	half := append([]byte{}, b.ReadPtr(n)...)
	require.Equal(t, "N", string(half))
	b.FreeRead()

	b.PushWithPriority([]byte("N3"), types.PriorityNormal)
	b.PushWithPriority([]byte("H1"), types.PriorityHigh)

	// Remainder of N2 must be served before H1 preempts.
	rest := b.RequestLength(1024)
	view := append([]byte{}, b.ReadPtr(rest)...)
	b.FreeRead()
	require.Equal(t, "2\x00", string(view))

	require.Equal(t, "H1\x00", serveWhole())
	require.Equal(t, "N3\x00", serveWhole())
	require.True(t, b.SendEmpty())
}

func TestFramedBuffer_FIFOWithinPriority(t *testing.T) {
	b := NewFramedBuffer()
	b.PushWithPriority([]byte("A"), types.PriorityLow)
	b.PushWithPriority([]byte("B"), types.PriorityLow)
	b.PushWithPriority([]byte("C"), types.PriorityLow)

	var order []string
	for i := 0; i < 3; i++ {
		n := b.RequestLength(1024)
		order = append(order, string(b.ReadPtr(n)[:1]))
		b.FreeRead()
	}
	require.Equal(t, []string{"A", "B", "C"}, order)
}

func TestFramedBuffer_PriorityClamped(t *testing.T) {
	b := NewFramedBuffer()
	b.PushWithPriority([]byte("X"), types.Priority(99))
	n := b.RequestLength(1024)
	b.ReadPtr(n)
	require.Equal(t, types.PriorityLow, b.LastReadPriority())
}

func TestFramedBuffer_Stats(t *testing.T) {
	b := NewFramedBuffer()
	b.PushWithPriority([]byte("A"), types.PriorityCritical)
	b.PushWithPriority([]byte("B"), types.PriorityCritical)
	enq, served := b.Stats()
	require.Equal(t, uint64(2), enq[types.PriorityCritical])
	require.Equal(t, uint64(0), served[types.PriorityCritical])

	n := b.RequestLength(1024)
	b.ReadPtr(n)
	b.FreeRead()
	_, served = b.Stats()
	require.Equal(t, uint64(1), served[types.PriorityCritical])
}
