package core

import (
	"sync"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// TimeSyncInterval is the long interval TimeSync tasks run at; the spec
// notes adoption changes are rare, so this is much longer than NodeSync
// (§4.5).
const TimeSyncInterval = 5 * NodeSyncInterval

// Clock maintains the scalar nodeTime (microseconds) described in §4.5
// and the three-step NTP-like offset computation against a peer.
type Clock struct {
	mu            sync.Mutex
	nodeTime      int64
	hasAuthority  bool
	onAdjusted    func(offsetUs int64)
	onNodeDelay   func(peer NodeID, delayUs int64)
	nowFunc       func() int64
	pendingDelays map[uint32]delayRequest
	nextDelayID   uint32
}

type delayRequest struct {
	peer NodeID
	sent int64
}

// NewClock returns a Clock seeded from nowFunc (the host's microsecond
// time source); hasAuthority marks whether this node owns an RTC or
// direct Internet time.
func NewClock(nowFunc func() int64, hasAuthority bool) *Clock {
	return &Clock{
		nowFunc:       nowFunc,
		hasAuthority:  hasAuthority,
		pendingDelays: make(map[uint32]delayRequest),
	}
}

// OnAdjusted registers the callback fired whenever NodeTime is
// corrected by a completed TimeSync exchange.
func (c *Clock) OnAdjusted(f func(offsetUs int64)) { c.onAdjusted = f }

// OnNodeDelay registers the callback fired when a TimeDelay round trip
// completes, per startDelayMeas (§4.5).
func (c *Clock) OnNodeDelay(f func(peer NodeID, delayUs int64)) { c.onNodeDelay = f }

// NodeTime returns the current scalar clock value in microseconds.
func (c *Clock) NodeTime() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFunc() + c.nodeTime
}

// HasTimeAuthority reports whether this node is a source of truth for
// time (owns an RTC, or has direct Internet/NTP time).
func (c *Clock) HasTimeAuthority() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasAuthority
}

// SetTimeAuthority updates the authority flag, e.g. once RTC sync
// completes.
func (c *Clock) SetTimeAuthority(v bool) {
	c.mu.Lock()
	c.hasAuthority = v
	c.mu.Unlock()
}

func (c *Clock) adjust(offsetUs int64) {
	c.mu.Lock()
	c.nodeTime += offsetUs
	cb := c.onAdjusted
	c.mu.Unlock()
	if cb != nil {
		cb(offsetUs)
	}
}

// ShouldAdoptFrom implements the direction-of-adoption rule of §4.5: a
// node adopts the peer's time if the peer has authority and self does
// not, or the peer lies on the path to root, or the peer is root.
func ShouldAdoptFrom(selfTree, peerTree types.Tree, selfHasAuthority, peerHasAuthority bool, peerOnPathToRoot bool) bool {
	if peerHasAuthority && !selfHasAuthority {
		return true
	}
	if peerOnPathToRoot {
		return true
	}
	if peerTree.Root {
		return true
	}
	return false
}

// StartExchange begins the three-step TimeSync exchange by sending step
// T1 to peer over conn.
func (c *Clock) StartExchange(router *Router, conn *Connection, self, peer NodeID) {
	t0 := c.NodeTime()
	router.Send(types.NewTimeSyncRequest(self, peer, t0), conn)
}

// RequestPull sends an empty TimeSync carrying no timestamps: "adopt
// your time from me", used when the adoption rule decides the peer
// should pull from this node instead.
func (c *Clock) RequestPull(router *Router, conn *Connection, self, peer NodeID) {
	router.Send(types.NewTimeSyncPull(self, peer), conn)
}

// HandleTimeSync processes an inbound TimeSync package, advancing the
// three-step exchange. self/conn identify the local node and the
// Connection the package arrived on.
func (c *Clock) HandleTimeSync(router *Router, conn *Connection, self NodeID, pkg *types.TimeSync) {
	switch pkg.Step {
	case types.TimeSyncPull:
		// Peer asked us to push: restart the exchange as the initiator.
		c.StartExchange(router, conn, self, pkg.Origin())
	case types.TimeSyncRequest:
		t0 := pkg.Msg[0]
		t1 := c.NodeTime()
		t2 := c.NodeTime()
		router.Send(types.NewTimeSyncReply(self, pkg.Origin(), t0, t1, t2), conn)
	case types.TimeSyncReply:
		t0, t1, t2 := pkg.Msg[0], pkg.Msg[1], pkg.Msg[2]
		t3 := c.NodeTime()
		offset := ((t1 - t0) + (t2 - t3)) / 2
		c.adjust(offset)
	}
}

// StartDelayMeas routes a TimeDelay package to peer over conn, recording
// the send time so the eventual reply can compute a one-way estimate.
func (c *Clock) StartDelayMeas(router *Router, conn *Connection, self, peer NodeID) uint32 {
	c.mu.Lock()
	id := c.nextDelayID
	c.nextDelayID++
	c.pendingDelays[id] = delayRequest{peer: peer, sent: c.nowFunc()}
	c.mu.Unlock()
	router.Send(types.NewTimeDelay(self, peer, int64(id)), conn)
	return id
}

// HandleTimeDelay answers an inbound TimeDelay probe by echoing its
// request id (req.Time) back to the sender unchanged, or completes the
// measurement if the id matches one of this node's pending probes. The
// echo carries no timestamp of its own, so the reported delay is half
// the measured round trip.
func (c *Clock) HandleTimeDelay(router *Router, conn *Connection, self NodeID, pkg *types.TimeDelay) {
	c.mu.Lock()
	reqID := uint32(pkg.Time)
	pending, isEcho := c.pendingDelays[reqID]
	if isEcho {
		delete(c.pendingDelays, reqID)
	}
	c.mu.Unlock()

	if !isEcho {
		// Inbound probe from a peer: echo the request id back so the
		// originator can complete the one-way estimate.
		router.Send(types.NewTimeDelay(self, pkg.Origin(), pkg.Time), conn)
		return
	}

	delay := (c.nowFunc() - pending.sent) / 2
	if c.onNodeDelay != nil {
		c.onNodeDelay(pending.peer, delay)
	}
}
