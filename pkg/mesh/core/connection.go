package core

import (
	"container/ring"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/go-mesh/mesh/pkg/mesh/transport"
	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// Connect-retry and deferred-teardown tunables (§4.2, §6).
const (
	ConnectMaxRetries       = 5
	ConnectRetryBaseDelay   = 1000 * time.Millisecond
	ConnectBackoffCap       = 8
	ClientCleanupDelay      = 1000 * time.Millisecond
	ExhaustionReconnectWait = 10 * time.Second
	FailureBlockDuration    = 60 * time.Second

	NodeSyncInterval = 60 * time.Second
	NodeSyncTimeout  = 2 * NodeSyncInterval
	latencyWindow    = 10
)

// NodeID is re-exported from types for convenience within this package.
type NodeID = types.NodeID

// Role reports which side of a Connection this node is: the station
// connecting out, or the access point a peer connected into.
type Role uint8

const (
	RoleStation Role = iota
	RoleAccessPoint
)

// onFrame is called once per whole frame delivered by the receive pump,
// translating the Connection API into the Router's. inboundNodeTime is
// the local nodeTime at the moment of delivery.
type onFrameFunc func(conn *Connection, body []byte, inboundNodeTime int64)

// Connection is one bidirectional link to a neighbour (§4.2). It owns
// exactly one transport.Transport and the two FramedBuffers that
// translate it into whole frames; lifecycle tasks and transport freeing
// are deferred through a TeardownScheduler, never synchronous.
type Connection struct {
	mu sync.Mutex

	peerID NodeID
	role   Role

	tr  transport.Transport
	log types.Logger

	recv *FramedBuffer
	send *FramedBuffer

	subtree   types.Tree
	haveSubtree bool

	nodeSyncTask *Task
	timeSyncTask *Task
	timeoutTask  *Task

	sched    *Scheduler
	teardown *TeardownScheduler

	onFrame        onFrameFunc
	onPeerDiscover func(NodeID)
	onClosed       func(NodeID, Role)
	onSubtreeChanged func(NodeID)

	closed   atomic.Bool
	closedCB atomic.Bool

	messagesTx      atomic.Uint64
	messagesDropped atomic.Uint64
	messagesRx      atomic.Uint64
	parseErrors     atomic.Uint64

	latencies *ring.Ring
	latencyMu sync.Mutex
	rssi      atomic.Int32

	nodeSyncInterval   time.Duration
	nodeSyncTimeout    time.Duration
	clientCleanupDelay time.Duration
}

// NewConnection wraps tr as one neighbour link. The caller must call
// Initialize once a Scheduler is available before traffic will pump.
func NewConnection(tr transport.Transport, role Role, teardown *TeardownScheduler, log types.Logger) *Connection {
	c := &Connection{
		role:               role,
		tr:                 tr,
		log:                log,
		recv:               NewFramedBuffer(),
		send:               NewFramedBuffer(),
		teardown:           teardown,
		latencies:          ring.New(latencyWindow),
		nodeSyncInterval:   NodeSyncInterval,
		nodeSyncTimeout:    NodeSyncTimeout,
		clientCleanupDelay: ClientCleanupDelay,
	}
	c.rssi.Store(0)
	c.wireTransportCallbacks()
	return c
}

// SetTunables overrides the connect-lifecycle tunables (zero values are
// ignored, leaving the package default in place), letting a Config
// override them per §6/§7's "all overridable at init".
func (c *Connection) SetTunables(nodeSyncInterval, nodeSyncTimeout, clientCleanupDelay time.Duration) {
	if nodeSyncInterval > 0 {
		c.nodeSyncInterval = nodeSyncInterval
	}
	if nodeSyncTimeout > 0 {
		c.nodeSyncTimeout = nodeSyncTimeout
	}
	if clientCleanupDelay > 0 {
		c.clientCleanupDelay = clientCleanupDelay
	}
}

func (c *Connection) wireTransportCallbacks() {
	c.tr.OnData(func(b []byte) {
		c.recv.PushBytes(b)
		c.messagesRx.Inc()
	})
	c.tr.OnDisconnect(func() {
		c.Close()
	})
	c.tr.OnError(func(err error) {
		if c.log != nil {
			c.log.Warnf("connection %s: transport error: %v", c.peerID, err)
		}
	})
}

// PeerID returns the discovered neighbour id, or UnknownNode before the
// first NodeSync reply.
func (c *Connection) PeerID() NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// SetPeerID is called by the router the first time a NodeSync reply
// names the peer; it fires onPeerDiscover exactly once.
func (c *Connection) SetPeerID(id NodeID) {
	c.mu.Lock()
	first := !c.peerID.Valid() && id.Valid()
	c.peerID = id
	cb := c.onPeerDiscover
	c.mu.Unlock()
	if first && cb != nil {
		cb(id)
	}
}

// Subtree returns the peer's last-advertised subtree and whether one has
// ever been received.
func (c *Connection) Subtree() (types.Tree, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subtree, c.haveSubtree
}

// SetSubtree stores the peer's newly advertised subtree. If it differs
// from the previous one, onSubtreeChanged fires with the peer id.
func (c *Connection) SetSubtree(t types.Tree) {
	c.mu.Lock()
	changed := !c.haveSubtree || !treeEqual(c.subtree, t)
	c.subtree = t
	c.haveSubtree = true
	peer := c.peerID
	cb := c.onSubtreeChanged
	c.mu.Unlock()
	if changed && cb != nil {
		cb(peer)
	}
}

func treeEqual(a, b types.Tree) bool {
	if a.NodeID != b.NodeID || a.Root != b.Root || a.ContainsRoot != b.ContainsRoot || a.HasTimeAuthority != b.HasTimeAuthority {
		return false
	}
	as, bs := a.Subs(), b.Subs()
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if !treeEqual(as[i], bs[i]) {
			return false
		}
	}
	return true
}

// OnFrame registers the router's delivery callback.
func (c *Connection) OnFrame(f onFrameFunc) { c.onFrame = f }

// OnPeerDiscovered registers the first-NodeSync-reply callback.
func (c *Connection) OnPeerDiscovered(f func(NodeID)) { c.onPeerDiscover = f }

// OnSubtreeChanged registers the callback fired when the peer's
// advertised subtree changes.
func (c *Connection) OnSubtreeChanged(f func(NodeID)) { c.onSubtreeChanged = f }

// OnClosed registers the callback fired exactly once when Close runs.
func (c *Connection) OnClosed(f func(NodeID, Role)) { c.onClosed = f }

// Initialize binds the receive pump, send pump and per-connection tasks
// to sched, per §4.2's initialize(scheduler) operation.
func (c *Connection) Initialize(sched *Scheduler, nodeSync func(*Connection), timeSync func(*Connection)) {
	c.sched = sched

	recvPump := NewTask()
	recvPump.Set(0, Forever, c.pumpReceive)
	sched.AddTask(recvPump)
	recvPump.Enable()

	sendPump := NewTask()
	sendPump.Set(0, Forever, c.pumpSend)
	sched.AddTask(sendPump)
	sendPump.Enable()

	c.nodeSyncTask = NewTask()
	c.nodeSyncTask.Set(c.nodeSyncInterval, Forever, func() { nodeSync(c) })
	c.nodeSyncTask.Enable()
	sched.AddTask(c.nodeSyncTask)

	c.timeSyncTask = NewTask()
	c.timeSyncTask.Set(5*c.nodeSyncInterval, Forever, func() { timeSync(c) })
	c.timeSyncTask.Enable()
	sched.AddTask(c.timeSyncTask)

	c.timeoutTask = NewTask()
	c.timeoutTask.Set(c.nodeSyncTimeout, Forever, func() { c.Close() })
	c.timeoutTask.Enable()
	sched.AddTask(c.timeoutTask)
}

// ResetTimeout re-arms the timeout task, called on every NodeSync
// exchange per §4.3.
func (c *Connection) ResetTimeout() {
	if c.timeoutTask != nil {
		c.timeoutTask.Enable()
	}
}

// pumpReceive delivers at most one ready frame per scheduler tick, per
// the receive-pump contract of §4.2.
func (c *Connection) pumpReceive() {
	if c.closed.Load() {
		return
	}
	body, ok := c.recv.PopFront()
	if !ok {
		return
	}
	if c.onFrame != nil {
		c.onFrame(c, body, time.Now().UnixMicro())
	}
}

// pumpSend drains whatever the transport has capacity for right now,
// observing the partial-frame continuity invariant of FramedBuffer.
func (c *Connection) pumpSend() {
	if c.closed.Load() || !c.tr.CanSend() {
		return
	}
	space := c.tr.Space()
	if space <= 0 {
		return
	}
	length := c.send.RequestLength(space)
	if length == 0 {
		return
	}
	view := c.send.ReadPtr(length)
	priority := c.send.LastReadPriority()
	if _, err := c.tr.Write(view); err != nil {
		c.messagesDropped.Inc()
		if c.log != nil {
			c.log.Warnf("connection %s: write failed: %v", c.peerID, err)
		}
		return
	}
	c.send.FreeRead()
	if priority == types.PriorityCritical || priority == types.PriorityHigh {
		_ = c.tr.Flush()
	}
}

// Write enqueues body at PriorityNormal.
func (c *Connection) Write(body []byte) bool {
	return c.WriteWithPriority(body, types.PriorityNormal)
}

// WriteWithPriority enqueues body for outbound delivery. Success means
// accepted into the send buffer, not delivered. Every attempt updates
// exactly one of messagesTx/messagesDropped (the spec's corrected
// invariant over the counters the source left inconsistent).
func (c *Connection) WriteWithPriority(body []byte, priority types.Priority) bool {
	if c.closed.Load() {
		c.messagesDropped.Inc()
		return false
	}
	c.send.PushWithPriority(body, priority)
	c.messagesTx.Inc()
	return true
}

// Close is idempotent: cancels the three tasks, detaches every transport
// callback, requests transport close, drains both buffers and fires the
// disconnect callback exactly once. Freeing the transport is left to
// deferredFree.
func (c *Connection) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if c.sched != nil {
		if c.nodeSyncTask != nil {
			c.sched.RemoveTask(c.nodeSyncTask)
		}
		if c.timeSyncTask != nil {
			c.sched.RemoveTask(c.timeSyncTask)
		}
		if c.timeoutTask != nil {
			c.sched.RemoveTask(c.timeoutTask)
		}
	}
	c.tr.OnConnect(nil)
	c.tr.OnData(nil)
	c.tr.OnAck(nil)
	c.tr.OnDisconnect(nil)
	c.tr.OnError(nil)
	_ = c.tr.Close()
	c.deferredFree()

	c.recv.mu.Lock()
	c.recv.accum, c.recv.ready = nil, nil
	c.recv.mu.Unlock()
	c.send.mu.Lock()
	c.send.queue, c.send.serving = nil, nil
	c.send.mu.Unlock()

	if c.closedCB.CompareAndSwap(false, true) && c.onClosed != nil {
		c.onClosed(c.peerID, c.role)
	}
}

// deferredFree arranges for the transport handle to be released once it
// reports Freeable, observing the deletion spacing of the
// TeardownScheduler it was given (§4.2). When the Connection was never
// Initialized (no scheduler) the release runs synchronously from Close;
// with no TeardownScheduler it does not run at all.
func (c *Connection) deferredFree() {
	if c.teardown == nil {
		return
	}
	tr := c.tr
	c.teardown.ScheduleDeletion(c.sched, c.clientCleanupDelay, tr.Freeable, func() {
		_ = tr.Abort()
	})
}

// RecordLatency adds a round-trip sample in milliseconds, used by
// Quality's rolling mean of the last ten samples.
func (c *Connection) RecordLatency(ms float64) {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()
	c.latencies.Value = ms
	c.latencies = c.latencies.Next()
}

func (c *Connection) meanLatency() float64 {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()
	var sum float64
	var n int
	c.latencies.Do(func(v interface{}) {
		if v == nil {
			return
		}
		sum += v.(float64)
		n++
	})
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// SetRSSI records the last-read Wi-Fi signal strength, consumed by
// Quality.
func (c *Connection) SetRSSI(rssi int32) { c.rssi.Store(rssi) }

// Quality computes the connection-quality score in [0,100] per §4.2:
// 100 minus a latency penalty, the observed packet-loss percentage, and
// a weak-RSSI penalty.
func (c *Connection) Quality() int {
	quality := 100.0

	latency := c.meanLatency()
	if latency > 100 {
		quality -= (latency - 100) / 5
	}

	tx := c.messagesTx.Load()
	dropped := c.messagesDropped.Load()
	if tx+dropped > 0 {
		lossPct := float64(dropped) / float64(tx+dropped) * 100
		quality -= lossPct
	}

	if rssi := c.rssi.Load(); rssi < -80 {
		quality += float64(80 + rssi)
	}

	if quality < 0 {
		return 0
	}
	if quality > 100 {
		return 100
	}
	return int(quality)
}

// Stats returns the raw tx/dropped/rx counters for observability.
func (c *Connection) Stats() (tx, dropped, rx uint64) {
	return c.messagesTx.Load(), c.messagesDropped.Load(), c.messagesRx.Load()
}
