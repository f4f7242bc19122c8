// Package gateway implements the Internet-bridging subsystem: tracking
// known bridges, electing a primary gateway, routing Internet-bound
// requests with retry/ack, the local health check, and the offline
// queue that buffers traffic while no gateway is reachable.
package gateway

import (
	"sync"
	"time"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// Default tunables (§4.6).
const (
	MaxKnownBridges        = 20
	BridgeStatusInterval   = 30 * time.Second
	BridgeTimeout          = 60 * time.Second
)

// BridgeRadioInfo is the host application's view of this node's own
// uplink — the fields a bridge-capable node cannot learn from the mesh
// itself and must be told, fed into the BridgeStatus it broadcasts
// every BridgeStatusInterval per §4.6.
type BridgeRadioInfo struct {
	RouterRSSI    int8
	RouterChannel uint8
	GatewayIP     string
}

// BridgeInfo is one tracked bridge-capable node's last-known state, per
// §3's BridgeInfo data model.
type BridgeInfo struct {
	NodeID            types.NodeID
	InternetConnected bool
	RouterRSSI        int8
	RouterChannel     uint8
	LastSeen          uint32 // wrap-safe 32-bit millisecond clock
	Uptime            uint64
	GatewayIP         string
	Timestamp         int64
}

func (b BridgeInfo) isHealthy(timeoutMs uint32, now uint32) bool {
	return types.ElapsedMillis32(b.LastSeen, now) < timeoutMs
}

// BridgeTracker maintains the bounded table of known bridges and elects
// a primary gateway, per §4.6.
type BridgeTracker struct {
	mu       sync.Mutex
	cap      int
	timeout  uint32 // milliseconds
	bridges  map[types.NodeID]BridgeInfo

	hasMeshConnection func() bool

	primary         types.NodeID
	onGatewayChange func(old, new types.NodeID)
}

// NewBridgeTracker returns a tracker bounded to cap entries (default
// MaxKnownBridges) with the given staleness timeout in milliseconds
// (default BridgeTimeout). hasMeshConnection reports whether this node
// currently has at least one live mesh Connection, selecting between
// connected/disconnected election mode.
func NewBridgeTracker(cap int, timeoutMs uint32, hasMeshConnection func() bool) *BridgeTracker {
	if cap <= 0 {
		cap = MaxKnownBridges
	}
	if timeoutMs == 0 {
		timeoutMs = uint32(BridgeTimeout / time.Millisecond)
	}
	return &BridgeTracker{
		cap:               cap,
		timeout:           timeoutMs,
		bridges:           make(map[types.NodeID]BridgeInfo),
		hasMeshConnection: hasMeshConnection,
	}
}

// OnGatewayChanged registers the callback fired whenever getPrimaryGateway
// would return a different value than before, including transitions to
// or from UnknownNode.
func (t *BridgeTracker) OnGatewayChanged(f func(old, new types.NodeID)) { t.onGatewayChange = f }

// Update records a BridgeStatus observation, evicting per the overflow
// policy of §4.6 when inserting a brand new bridge at capacity:
// expired entries are purged first; if still full, the lowest-RSSI
// entry is evicted.
func (t *BridgeTracker) Update(info BridgeInfo, now uint32) {
	t.mu.Lock()
	info.LastSeen = now
	_, exists := t.bridges[info.NodeID]
	if !exists && len(t.bridges) >= t.cap {
		t.purgeExpiredLocked(now)
		if len(t.bridges) >= t.cap {
			t.evictWorstRSSILocked()
		}
	}
	t.bridges[info.NodeID] = info
	t.mu.Unlock()

	t.reelect(now)
}

func (t *BridgeTracker) purgeExpiredLocked(now uint32) {
	for id, b := range t.bridges {
		if !b.isHealthy(t.timeout, now) {
			delete(t.bridges, id)
		}
	}
}

func (t *BridgeTracker) evictWorstRSSILocked() {
	var worstID types.NodeID
	var worstRSSI int8 = 127
	first := true
	for id, b := range t.bridges {
		if first || b.RouterRSSI < worstRSSI {
			worstID = id
			worstRSSI = b.RouterRSSI
			first = false
		}
	}
	if !first {
		delete(t.bridges, worstID)
	}
}

// Cleanup purges every stale entry, intended to be driven by a periodic
// task every bridgeTimeoutMs per §4.6's last paragraph. It is a no-op in
// disconnected mode: a node isolated from the mesh cannot receive bridge
// updates, so the table must retain its last-known-good entries for the
// disconnected-mode primary-selection rule to have anything to select.
func (t *BridgeTracker) Cleanup(now uint32) {
	t.mu.Lock()
	if t.hasMeshConnection == nil || t.hasMeshConnection() {
		t.purgeExpiredLocked(now)
	}
	t.mu.Unlock()
	t.reelect(now)
}

// reelect recomputes the primary gateway and fires onGatewayChange if it
// changed.
func (t *BridgeTracker) reelect(now uint32) {
	newPrimary := t.computePrimary(now)

	t.mu.Lock()
	old := t.primary
	changed := old != newPrimary
	t.primary = newPrimary
	cb := t.onGatewayChange
	t.mu.Unlock()

	if changed && cb != nil {
		cb(old, newPrimary)
	}
}

func (t *BridgeTracker) computePrimary(now uint32) types.NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	connected := t.hasMeshConnection == nil || t.hasMeshConnection()

	var best types.NodeID
	var bestRSSI int8 = -128
	found := false
	for id, b := range t.bridges {
		if !b.InternetConnected {
			continue
		}
		if connected && !b.isHealthy(t.timeout, now) {
			continue // connected mode: staleness disqualifies
		}
		// disconnected mode ignores staleness entirely (§4.6 rationale).
		if !found || b.RouterRSSI > bestRSSI {
			best = id
			bestRSSI = b.RouterRSSI
			found = true
		}
	}
	if !found {
		return types.UnknownNode
	}
	return best
}

// GetPrimaryGateway returns the currently selected bridge, or
// types.UnknownNode if none qualifies.
func (t *BridgeTracker) GetPrimaryGateway() types.NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.primary
}

// IsPrimaryGateway reports whether id is the currently selected bridge.
func (t *BridgeTracker) IsPrimaryGateway(id types.NodeID) bool {
	return id.Valid() && t.GetPrimaryGateway() == id
}

// GetGateways returns a snapshot of every currently tracked bridge.
func (t *BridgeTracker) GetGateways() []BridgeInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]BridgeInfo, 0, len(t.bridges))
	for _, b := range t.bridges {
		out = append(out, b)
	}
	return out
}

// GetGatewayCount reports how many bridges are currently tracked.
func (t *BridgeTracker) GetGatewayCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bridges)
}
