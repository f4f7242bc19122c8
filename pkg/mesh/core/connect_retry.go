package core

import (
	"sync"
	"time"

	"github.com/go-mesh/mesh/pkg/mesh/transport"
	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// Blocklist holds NodeIds that recently exhausted their connect retries,
// per §4.2's "insert into a time-boxed blocklist for
// TCP_FAILURE_BLOCK_DURATION_MS" rule.
type Blocklist struct {
	mu       sync.Mutex
	blocked  map[NodeID]time.Time
	duration time.Duration
}

// NewBlocklist returns an empty blocklist using the package default
// block duration; override with SetBlockDuration.
func NewBlocklist() *Blocklist {
	return &Blocklist{blocked: make(map[NodeID]time.Time), duration: FailureBlockDuration}
}

// SetBlockDuration overrides the block window (ignored if non-positive),
// letting a Config override FailureBlockDuration per §6/§7.
func (b *Blocklist) SetBlockDuration(d time.Duration) {
	if d <= 0 {
		return
	}
	b.mu.Lock()
	b.duration = d
	b.mu.Unlock()
}

// Block marks id as unreachable until the configured block duration
// elapses.
func (b *Blocklist) Block(id NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocked[id] = time.Now().Add(b.duration)
}

// IsBlocked reports whether id is still within its block window,
// lazily evicting expired entries.
func (b *Blocklist) IsBlocked(id NodeID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.blocked[id]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(b.blocked, id)
		return false
	}
	return true
}

// ConnectRetryer drives the bounded, exponential-backoff outbound
// connect sequence of §4.2: 1000ms * min(2^retryCount, 8), up to
// ConnectMaxRetries, then blocklist + deletion + scheduled Wi-Fi
// reconnect. The Wi-Fi reconnect itself is the external driver's
// concern (§1 Non-goals); this only schedules the callback that would
// invoke it.
type ConnectRetryer struct {
	sched     *Scheduler
	dialer    transport.Dialer
	blocklist *Blocklist
	log       types.Logger

	maxRetries      int
	retryBaseDelay  time.Duration
	backoffCap      int
	reconnectWait   time.Duration

	onExhausted func(target NodeID)
	onReconnect func()
}

// NewConnectRetryer returns a retryer driving dials through dialer and
// scheduling backoff via sched, seeded with the package default
// tunables; override with SetTunables.
func NewConnectRetryer(sched *Scheduler, dialer transport.Dialer, blocklist *Blocklist, log types.Logger) *ConnectRetryer {
	return &ConnectRetryer{
		sched:          sched,
		dialer:         dialer,
		blocklist:      blocklist,
		log:            log,
		maxRetries:     ConnectMaxRetries,
		retryBaseDelay: ConnectRetryBaseDelay,
		backoffCap:     ConnectBackoffCap,
		reconnectWait:  ExhaustionReconnectWait,
	}
}

// SetTunables overrides the retry/backoff tunables (zero/non-positive
// values are ignored), letting a Config override them per §6/§7.
func (r *ConnectRetryer) SetTunables(maxRetries int, retryBaseDelay time.Duration, backoffCap int, reconnectWait time.Duration) {
	if maxRetries > 0 {
		r.maxRetries = maxRetries
	}
	if retryBaseDelay > 0 {
		r.retryBaseDelay = retryBaseDelay
	}
	if backoffCap > 0 {
		r.backoffCap = backoffCap
	}
	if reconnectWait > 0 {
		r.reconnectWait = reconnectWait
	}
}

// OnExhausted registers the callback fired once retries are exhausted
// for a target, after it has been blocklisted.
func (r *ConnectRetryer) OnExhausted(f func(target NodeID)) { r.onExhausted = f }

// OnReconnectDue registers the callback fired ExhaustionReconnectWait
// after exhaustion — the hook the external Wi-Fi driver attaches to.
func (r *ConnectRetryer) OnReconnectDue(f func()) { r.onReconnect = f }

// Dial attempts to connect to address (identifying target), retrying
// with exponential backoff on failure until ConnectMaxRetries is
// reached. onConnected fires exactly once, from whichever attempt
// succeeds.
func (r *ConnectRetryer) Dial(address string, target NodeID, timeout time.Duration, onConnected func(transport.Transport)) {
	if r.blocklist != nil && r.blocklist.IsBlocked(target) {
		return
	}
	r.attempt(address, target, timeout, 0, onConnected)
}

// dialOutcome is the result of one connect attempt, handed from the
// dialing goroutine back to the scheduler thread via a buffered channel.
type dialOutcome struct {
	tr  transport.Transport
	err error
}

// attempt dials off the scheduler thread on a goroutine — the blocking
// net.DialTimeout underneath transport.TCPDialer never runs inside a
// Task callback, only the result handoff does, the same async-handoff
// shape transport.TCPTransport's reader goroutine uses.
func (r *ConnectRetryer) attempt(address string, target NodeID, timeout time.Duration, retryCount int, onConnected func(transport.Transport)) {
	resultCh := make(chan dialOutcome, 1)
	go func() {
		tr, err := r.dialer.Dial(address, timeout)
		resultCh <- dialOutcome{tr: tr, err: err}
	}()

	poll := NewTask()
	poll.Set(0, Forever, func() {
		select {
		case res := <-resultCh:
			r.sched.RemoveTask(poll)
			r.handleDialResult(res, address, target, timeout, retryCount, onConnected)
		default:
		}
	})
	r.sched.AddTask(poll)
	poll.Enable()
}

func (r *ConnectRetryer) handleDialResult(res dialOutcome, address string, target NodeID, timeout time.Duration, retryCount int, onConnected func(transport.Transport)) {
	if res.err == nil {
		onConnected(res.tr)
		return
	}
	if r.log != nil {
		r.log.Warnf("connect retry: dial %s (attempt %d) failed: %v", address, retryCount, res.err)
	}
	if retryCount >= r.maxRetries {
		if r.blocklist != nil {
			r.blocklist.Block(target)
		}
		if r.onExhausted != nil {
			r.onExhausted(target)
		}
		r.scheduleReconnect()
		return
	}

	mult := 1 << retryCount
	if mult > r.backoffCap {
		mult = r.backoffCap
	}
	delay := r.retryBaseDelay * time.Duration(mult)

	task := NewTask()
	task.Set(delay, 1, func() {
		r.sched.RemoveTask(task)
		r.attempt(address, target, timeout, retryCount+1, onConnected)
	})
	r.sched.AddTask(task)
	task.EnableDelayed(delay)
}

func (r *ConnectRetryer) scheduleReconnect() {
	if r.onReconnect == nil || r.sched == nil {
		return
	}
	task := NewTask()
	task.Set(r.reconnectWait, 1, func() {
		r.sched.RemoveTask(task)
		r.onReconnect()
	})
	r.sched.AddTask(task)
	task.EnableDelayed(r.reconnectWait)
}
