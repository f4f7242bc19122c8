package gateway

import (
	"net"
	"sync"
	"time"

	"github.com/go-mesh/mesh/pkg/mesh/core"
)

// Default tunables (§4.8).
const (
	HealthCheckHost     = "8.8.8.8:53"
	HealthCheckInterval = 30 * time.Second
	HealthCheckTimeout  = 5 * time.Second
)

// HealthStatus is the observable record a HealthChecker maintains.
type HealthStatus struct {
	Available     bool
	CheckCount    uint64
	SuccessCount  uint64
	LastLatency   time.Duration
	LastError     error
	LastSuccessAt time.Time
}

// dialFunc abstracts the network probe so tests can run in mock mode
// without a real socket.
type dialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// HealthChecker periodically probes a host:port over TCP to determine
// local Internet reachability, per §4.8.
type HealthChecker struct {
	mu       sync.Mutex
	host     string
	interval time.Duration
	timeout  time.Duration
	dial     dialFunc
	status   HealthStatus

	onChanged func(available bool)
	sched     *core.Scheduler
	task      *core.Task
	stopped   bool
}

// probeOutcome is the result of one dial, handed from the probing
// goroutine back to the scheduler thread via a buffered channel.
type probeOutcome struct {
	latency time.Duration
	err     error
}

// NewHealthChecker returns a checker probing host (default
// HealthCheckHost) every interval (default HealthCheckInterval) with
// the given per-probe timeout (default HealthCheckTimeout).
func NewHealthChecker(host string, interval, timeout time.Duration) *HealthChecker {
	if host == "" {
		host = HealthCheckHost
	}
	if interval <= 0 {
		interval = HealthCheckInterval
	}
	if timeout <= 0 {
		timeout = HealthCheckTimeout
	}
	return &HealthChecker{
		host:     host,
		interval: interval,
		timeout:  timeout,
		dial: func(network, address string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout(network, address, timeout)
		},
	}
}

// SetMockMode replaces the real dialer with a deterministic function for
// tests, matching §4.8's "supports a mock-mode boolean for testing".
func (h *HealthChecker) SetMockMode(probe func() (bool, time.Duration, error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dial = func(string, string, time.Duration) (net.Conn, error) {
		ok, _, err := probe()
		if !ok {
			if err == nil {
				err = errMockProbeFailed
			}
			return nil, err
		}
		return nil, nil
	}
}

var errMockProbeFailed = &mockProbeError{}

type mockProbeError struct{}

func (*mockProbeError) Error() string { return "gateway: mock probe reported unavailable" }

// OnChanged registers the callback fired when availability transitions,
// i.e. onLocalInternetChanged (§4.4).
func (h *HealthChecker) OnChanged(f func(available bool)) { h.onChanged = f }

// Start arms the periodic probe task on sched.
func (h *HealthChecker) Start(sched *core.Scheduler) {
	h.mu.Lock()
	h.stopped = false
	h.mu.Unlock()
	h.sched = sched
	h.task = core.NewTask()
	h.task.Set(h.interval, core.Forever, h.probeOnce)
	sched.AddTask(h.task)
	h.task.Enable()
	h.probeOnce()
}

// Stop removes the probe task from its scheduler and discards the
// result of any probe still in flight.
func (h *HealthChecker) Stop(sched *core.Scheduler) {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	if h.task != nil {
		sched.RemoveTask(h.task)
	}
}

// probeOnce dials off the scheduler thread on a goroutine, the same
// async-handoff shape transport.TCPTransport uses for its reader
// goroutine: the blocking syscall never runs inside a Task callback,
// only the result handoff does.
func (h *HealthChecker) probeOnce() {
	resultCh := make(chan probeOutcome, 1)
	go func() {
		start := time.Now()
		conn, err := h.dial("tcp", h.host, h.timeout)
		latency := time.Since(start)
		if conn != nil {
			_ = conn.Close()
		}
		resultCh <- probeOutcome{latency: latency, err: err}
	}()

	poll := core.NewTask()
	poll.Set(0, core.Forever, func() {
		select {
		case res := <-resultCh:
			h.sched.RemoveTask(poll)
			h.mu.Lock()
			stopped := h.stopped
			h.mu.Unlock()
			if stopped {
				return
			}
			h.applyResult(res)
		default:
		}
	})
	h.sched.AddTask(poll)
	poll.Enable()
}

func (h *HealthChecker) applyResult(res probeOutcome) {
	h.mu.Lock()
	was := h.status.Available
	h.status.CheckCount++
	if res.err == nil {
		h.status.SuccessCount++
		h.status.Available = true
		h.status.LastLatency = res.latency
		h.status.LastSuccessAt = time.Now()
		h.status.LastError = nil
	} else {
		h.status.Available = false
		h.status.LastError = res.err
	}
	now := h.status.Available
	cb := h.onChanged
	h.mu.Unlock()

	if was != now && cb != nil {
		cb(now)
	}
}

// Status returns a snapshot of the current health record.
func (h *HealthChecker) Status() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}
