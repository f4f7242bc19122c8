package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-mesh/mesh/pkg/mesh/transport"
)

// pumpUntilSignal drives sched.Execute() in a loop — the dial itself now
// runs on a goroutine per §5's no-blocking-in-a-Task-callback rule, so
// its result only reaches the retryer's state the next time the
// scheduler is pumped — until signal fires or timeout elapses.
func pumpUntilSignal(t *testing.T, sched *Scheduler, signal <-chan struct{}, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		sched.Execute()
		select {
		case <-signal:
			return
		case <-deadline:
			t.Fatal("signal never fired")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestConnectRetryer_SucceedsOnFirstAttempt(t *testing.T) {
	sched := NewScheduler()
	dialer := transport.NewPipeDialer()
	peer := dialer.Register("node-a")
	go func() { peer.Accept() }()

	retryer := NewConnectRetryer(sched, dialer, NewBlocklist(), nil)
	connected := make(chan transport.Transport, 1)
	done := make(chan struct{})
	retryer.Dial("node-a", 1, time.Second, func(tr transport.Transport) {
		connected <- tr
		close(done)
	})

	pumpUntilSignal(t, sched, done, time.Second)
	require.NotNil(t, <-connected)
}

func TestConnectRetryer_BlocksAfterExhaustion(t *testing.T) {
	sched := NewScheduler()
	dialer := transport.NewPipeDialer()
	// no peer registered at this address: every dial fails
	blocklist := NewBlocklist()
	retryer := NewConnectRetryer(sched, dialer, blocklist, nil)

	exhausted := make(chan struct{}, 1)
	retryer.OnExhausted(func(NodeID) { exhausted <- struct{}{} })
	retryer.OnReconnectDue(func() {})

	// Drive the last attempt directly instead of waiting out the real
	// exponential backoff schedule (seconds of wall-clock delay) —
	// attempt() is unexported and reachable from this in-package test.
	retryer.attempt("ghost", 42, 10*time.Millisecond, ConnectMaxRetries, func(transport.Transport) {})

	pumpUntilSignal(t, sched, exhausted, time.Second)

	require.True(t, blocklist.IsBlocked(42))
	// scheduleReconnect must have armed a one-shot task on the shared
	// scheduler rather than firing the callback synchronously.
	sched.mu.Lock()
	taskCount := len(sched.tasks)
	sched.mu.Unlock()
	require.Equal(t, 1, taskCount)
}

func TestBlocklist_ExpiresAfterDuration(t *testing.T) {
	b := NewBlocklist()
	b.Block(7)
	require.True(t, b.IsBlocked(7))

	b.SetBlockDuration(20 * time.Millisecond)
	b.Block(8)
	require.True(t, b.IsBlocked(8))
	time.Sleep(40 * time.Millisecond)
	require.False(t, b.IsBlocked(8))
}
