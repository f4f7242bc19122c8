package gateway

import (
	"sync"
	"time"

	"github.com/go-mesh/mesh/pkg/mesh/core"
	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// Default tunables (§4.7).
const (
	InternetRequestTimeout = 30 * time.Second
	InternetRetryCount     = 3
	InternetRetryBaseDelay = 1 * time.Second
	timeoutSweepInterval   = 5 * time.Second
)

// InternetResultCallback reports the outcome of a sendToInternet
// request exactly once, per §4.7/§7's error-kind enumeration.
type InternetResultCallback func(success bool, httpStatus int, errMsg string)

// PendingInternetRequest is one outstanding Internet-bound request, per
// §3's PendingInternetRequest data model.
type PendingInternetRequest struct {
	MessageID     uint32
	CreatedAt     time.Time
	RetryCount    int
	MaxRetries    int
	Priority      types.Priority
	TimeoutMs     time.Duration
	RetryDelay    time.Duration
	GatewayNodeID types.NodeID
	Destination   string
	Payload       string
	Callback      InternetResultCallback
}

// GatewayRouter implements sendToInternet: pending-request bookkeeping,
// ack correlation, retry with backoff, and the periodic timeout sweep of
// §4.7.
type GatewayRouter struct {
	mu       sync.Mutex
	self     types.NodeID
	router   *core.Router
	sched    *core.Scheduler
	bridges  *BridgeTracker
	nextSeq  uint32

	pending map[uint32]*PendingInternetRequest

	enabled   bool
	sweepTask *core.Task

	requestTimeout time.Duration
	retryCount     int
	retryBaseDelay time.Duration
}

// NewGatewayRouter returns a router for self, sending through router and
// scheduling retries/sweeps via sched, selecting gateways from bridges,
// seeded with the package default tunables; override with SetTunables.
func NewGatewayRouter(self types.NodeID, router *core.Router, sched *core.Scheduler, bridges *BridgeTracker) *GatewayRouter {
	return &GatewayRouter{
		self:           self,
		router:         router,
		sched:          sched,
		bridges:        bridges,
		pending:        make(map[uint32]*PendingInternetRequest),
		requestTimeout: InternetRequestTimeout,
		retryCount:     InternetRetryCount,
		retryBaseDelay: InternetRetryBaseDelay,
	}
}

// SetTunables overrides the request timeout/retry tunables (zero/
// non-positive values are ignored), letting a Config override them per
// §6/§7.
func (g *GatewayRouter) SetTunables(requestTimeout time.Duration, retryCount int, retryBaseDelay time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if requestTimeout > 0 {
		g.requestTimeout = requestTimeout
	}
	if retryCount > 0 {
		g.retryCount = retryCount
	}
	if retryBaseDelay > 0 {
		g.retryBaseDelay = retryBaseDelay
	}
}

// nextMessageID builds a messageId per §3: upper 16 bits are the low 16
// bits of self, lower 16 bits are a per-node counter wrapping at 65535.
func (g *GatewayRouter) nextMessageID() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	counter := g.nextSeq & 0xFFFF
	g.nextSeq++
	return (uint32(g.self)&0xFFFF)<<16 | counter
}

// EnableSendToInternet registers the GatewayAck handler and starts the
// timeout sweep task.
func (g *GatewayRouter) EnableSendToInternet() {
	g.mu.Lock()
	if g.enabled {
		g.mu.Unlock()
		return
	}
	g.enabled = true
	g.mu.Unlock()

	g.router.RegisterHandler(types.TypeGatewayAck, func(pkg types.Package, _ *core.Connection, _ int64) bool {
		ack := pkg.(*types.GatewayAck)
		if ack.Destination() != g.self {
			return true
		}
		g.handleAck(ack)
		return true
	})

	g.sweepTask = core.NewTask()
	g.sweepTask.Set(timeoutSweepInterval, core.Forever, g.sweep)
	g.sched.AddTask(g.sweepTask)
	g.sweepTask.Enable()
}

// DisableSendToInternet stops the sweep task and fires every outstanding
// callback with "API disabled".
func (g *GatewayRouter) DisableSendToInternet() {
	g.mu.Lock()
	g.enabled = false
	if g.sweepTask != nil {
		g.sched.RemoveTask(g.sweepTask)
		g.sweepTask = nil
	}
	outstanding := g.pending
	g.pending = make(map[uint32]*PendingInternetRequest)
	g.mu.Unlock()

	for _, req := range outstanding {
		req.Callback(false, 0, "API disabled")
	}
}

// SendToInternet routes payload to destination via the current primary
// gateway, retrying with backoff and firing cb exactly once across the
// full lifecycle, per §4.7.
func (g *GatewayRouter) SendToInternet(destination, payload string, cb InternetResultCallback, priority types.Priority) uint32 {
	gatewayID := g.bridges.GetPrimaryGateway()
	if !gatewayID.Valid() {
		g.scheduleImmediate(func() { cb(false, 0, "No gateway available") })
		return 0
	}

	g.mu.Lock()
	maxRetries, timeout, retryDelay := g.retryCount, g.requestTimeout, g.retryBaseDelay
	g.mu.Unlock()

	msgID := g.nextMessageID()
	req := &PendingInternetRequest{
		MessageID:     msgID,
		CreatedAt:     time.Now(),
		MaxRetries:    maxRetries,
		TimeoutMs:     timeout,
		RetryDelay:    retryDelay,
		GatewayNodeID: gatewayID,
		Destination:   destination,
		Payload:       payload,
		Priority:      priority,
		Callback:      cb,
	}
	g.mu.Lock()
	g.pending[msgID] = req
	g.mu.Unlock()

	g.sendAttempt(req)
	return msgID
}

func (g *GatewayRouter) sendAttempt(req *PendingInternetRequest) {
	data := types.NewGatewayData(g.self, req.GatewayNodeID, req.MessageID, g.self, req.Priority, req.Destination, req.Payload)
	data.RetryCount = req.RetryCount

	conn := g.router.FindRoute(req.GatewayNodeID)
	if conn == nil || !g.router.SendWithPriority(data, conn, req.Priority) {
		g.scheduleRetry(req)
		return
	}

	task := core.NewTask()
	task.Set(0, 1, func() { g.checkTimeout(req.MessageID) })
	g.sched.AddTask(task)
	task.EnableDelayed(req.TimeoutMs)
}

func (g *GatewayRouter) scheduleRetry(req *PendingInternetRequest) {
	if req.RetryCount >= req.MaxRetries {
		g.finish(req.MessageID, false, 0, "Max retries exceeded")
		return
	}
	delay := req.RetryDelay * time.Duration(1<<req.RetryCount)
	req.RetryCount++

	task := core.NewTask()
	task.Set(0, 1, func() {
		// Gateway selection may have changed since the last attempt.
		req.GatewayNodeID = g.bridges.GetPrimaryGateway()
		if !req.GatewayNodeID.Valid() {
			g.finish(req.MessageID, false, 0, "No gateway available")
			return
		}
		g.sendAttempt(req)
	})
	g.sched.AddTask(task)
	task.EnableDelayed(delay)
}

func (g *GatewayRouter) checkTimeout(msgID uint32) {
	g.mu.Lock()
	req, ok := g.pending[msgID]
	g.mu.Unlock()
	if !ok {
		return
	}
	if time.Since(req.CreatedAt) >= req.TimeoutMs {
		g.finish(msgID, false, 0, "Request timed out")
	}
}

// sweep removes every pending request whose deadline has passed, run
// every timeoutSweepInterval while the API is enabled.
func (g *GatewayRouter) sweep() {
	g.mu.Lock()
	var expired []uint32
	for id, req := range g.pending {
		if time.Since(req.CreatedAt) >= req.TimeoutMs {
			expired = append(expired, id)
		}
	}
	g.mu.Unlock()
	for _, id := range expired {
		g.finish(id, false, 0, "Request timed out")
	}
}

func (g *GatewayRouter) handleAck(ack *types.GatewayAck) {
	g.finish(ack.MessageID_, ack.Success, ack.HTTPStatus, ack.Err)
}

// CancelInternetRequest fires the callback with a cancellation reason
// and removes the entry.
func (g *GatewayRouter) CancelInternetRequest(msgID uint32) {
	g.finish(msgID, false, 0, "Request cancelled")
}

// finish fires the callback exactly once and removes the pending entry;
// a second call for the same msgID (e.g. a late ACK after timeout) is a
// no-op, matching §5's "any further ACK arriving for that messageId is
// ignored".
func (g *GatewayRouter) finish(msgID uint32, success bool, httpStatus int, errMsg string) {
	g.mu.Lock()
	req, ok := g.pending[msgID]
	if ok {
		delete(g.pending, msgID)
	}
	g.mu.Unlock()
	if !ok {
		return
	}
	req.Callback(success, httpStatus, errMsg)
}

func (g *GatewayRouter) scheduleImmediate(f func()) {
	task := core.NewTask()
	task.Set(0, 1, func() {
		g.sched.RemoveTask(task)
		f()
	})
	g.sched.AddTask(task)
	task.ForceNextIteration()
	task.Enable()
}

// PendingCount reports how many requests are currently outstanding.
func (g *GatewayRouter) PendingCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
