package mesh

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/go-mesh/mesh/pkg/mesh/core"
	"github.com/go-mesh/mesh/pkg/mesh/gateway"
	"github.com/go-mesh/mesh/pkg/mesh/transport"
	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// updateGuardTimeout bounds how long Update will wait for this Core's
// update guard ("~100 scheduler ticks", §5) before giving up and
// reporting no work done, rather than blocking a caller that raced
// another Update on the same Core.
const updateGuardTimeout = 100 * 10 * time.Millisecond

// Core binds the Scheduler, Connections, router and gateway
// collaborators into one mesh node, per §4.4.
type Core struct {
	cfg Config
	self types.NodeID
	log  types.Logger

	sched     *core.Scheduler
	registry  *types.Registry
	tracker   *core.MessageTracker
	router    *core.Router
	teardown  *core.TeardownScheduler
	blocklist *core.Blocklist
	retryer   *core.ConnectRetryer
	clock     *core.Clock

	bridges       *gateway.BridgeTracker
	gatewayRouter *gateway.GatewayRouter
	healthChecker *gateway.HealthChecker
	offlineQueue  *gateway.OfflineQueue

	metrics *Metrics

	startedAt       time.Time
	bridgeRadio     gateway.BridgeRadioInfo
	bridgeStatusTask *core.Task

	updateSem chan struct{}

	mu          sync.Mutex
	connections map[*core.Connection]struct{}

	nextBroadcastID atomic.Uint32

	onNewConnection       func(types.NodeID)
	onDroppedConnection   func(types.NodeID)
	onChangedConnections  func()
	onReceive             func(from types.NodeID, msg json.RawMessage, broadcast bool)
	onNodeTimeAdjusted    func(offsetUs int64)
	onNodeDelayReceived   func(peer types.NodeID, delayUs int64)
	onBridgeStatusChanged func(bridge types.NodeID, internetAvailable bool)
	onGatewayChanged      func(old, new types.NodeID)
	onLocalInternetChanged func(available bool)
	onRTCSyncComplete     func(unixTime int64)

	onGatewayRequest func(*types.GatewayData)
}

// NewCore constructs a Core from cfg, wiring every collaborator and
// registering the baseline handlers (NTP family, routing family,
// bridge-status), matching §4.4's init responsibilities. reg may be nil
// to skip Prometheus registration (e.g. in tests that construct several
// Cores against the default registry).
func NewCore(cfg Config, reg prometheus.Registerer) *Core {
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	registry := types.NewRegistry()
	tracker := core.NewMessageTracker(cfg.MaxTrackedMessages, cfg.DuplicateTrackingTimeout)
	router := core.NewRouter(cfg.Self, registry, tracker)
	teardown := core.NewTeardownScheduler(cfg.DeletionSpacing, cfg.Logger)
	blocklist := core.NewBlocklist()

	co := &Core{
		cfg:         cfg,
		self:        cfg.Self,
		log:         cfg.Logger,
		sched:       core.NewScheduler(),
		registry:    registry,
		tracker:     tracker,
		router:      router,
		teardown:    teardown,
		blocklist:   blocklist,
		clock:       core.NewClock(func() int64 { return time.Now().UnixMicro() }, cfg.HasTimeAuthority),
		metrics:     NewMetrics(reg, cfg.Self),
		updateSem:   make(chan struct{}, 1),
		connections: make(map[*core.Connection]struct{}),
		startedAt:   time.Now(),
	}
	co.updateSem <- struct{}{}
	blocklist.SetBlockDuration(cfg.FailureBlockDuration)
	co.retryer = core.NewConnectRetryer(co.sched, transport.TCPDialer{}, blocklist, cfg.Logger)
	co.retryer.SetTunables(cfg.ConnectMaxRetries, cfg.ConnectRetryBaseDelay, cfg.ConnectBackoffCap, cfg.ExhaustionReconnectWait)

	co.bridges = gateway.NewBridgeTracker(cfg.MaxKnownBridges, uint32(cfg.BridgeTimeout/time.Millisecond), co.IsConnected)
	co.gatewayRouter = gateway.NewGatewayRouter(cfg.Self, router, co.sched, co.bridges)
	co.gatewayRouter.SetTunables(cfg.InternetRequestTimeout, cfg.InternetRetryCount, cfg.InternetRetryBaseDelay)
	co.healthChecker = gateway.NewHealthChecker(cfg.HealthCheckHost, cfg.HealthCheckInterval, cfg.HealthCheckTimeout)
	co.offlineQueue = gateway.NewOfflineQueue(cfg.OfflineQueueCapacity, cfg.OfflineQueueMaxRetries)

	co.wireClock()
	co.wireBridges()
	co.wireHealthChecker()
	co.registerHandlers()

	return co
}

type noopLogger struct{}

func (noopLogger) Info(...interface{})            {}
func (noopLogger) Infof(string, ...interface{})   {}
func (noopLogger) Warn(...interface{})            {}
func (noopLogger) Warnf(string, ...interface{})   {}
func (noopLogger) Error(...interface{})           {}
func (noopLogger) Errorf(string, ...interface{})  {}
func (noopLogger) Debug(...interface{})           {}
func (noopLogger) Debugf(string, ...interface{})  {}
func (noopLogger) Fatal(...interface{})           {}
func (noopLogger) Fatalf(string, ...interface{})  {}
func (noopLogger) Panic(...interface{})           {}
func (noopLogger) Panicf(string, ...interface{})  {}
func (noopLogger) ToggleDebug(v bool) bool         { return v }
func (l noopLogger) With(string, interface{}) types.Logger { return l }

func (co *Core) wireClock() {
	co.clock.OnAdjusted(func(offsetUs int64) {
		if co.onNodeTimeAdjusted != nil {
			co.onNodeTimeAdjusted(offsetUs)
		}
	})
	co.clock.OnNodeDelay(func(peer types.NodeID, delayUs int64) {
		if co.onNodeDelayReceived != nil {
			co.onNodeDelayReceived(peer, delayUs)
		}
	})
}

func (co *Core) wireBridges() {
	co.bridges.OnGatewayChanged(func(old, new types.NodeID) {
		if co.onGatewayChanged != nil {
			co.onGatewayChanged(old, new)
		}
	})
}

func (co *Core) wireHealthChecker() {
	co.healthChecker.OnChanged(func(available bool) {
		if co.onLocalInternetChanged != nil {
			co.onLocalInternetChanged(available)
		}
	})
}

// registerHandlers installs the baseline handlers of §4.4: NTP family
// (TimeSync/TimeDelay), routing family (NodeSyncRequest/Reply) and
// bridge-status.
func (co *Core) registerHandlers() {
	co.router.RegisterHandler(types.TypeTimeSync, func(pkg types.Package, inbound *core.Connection, _ int64) bool {
		co.clock.HandleTimeSync(co.router, inbound, co.self, pkg.(*types.TimeSync))
		return true
	})
	co.router.RegisterHandler(types.TypeTimeDelay, func(pkg types.Package, inbound *core.Connection, _ int64) bool {
		co.clock.HandleTimeDelay(co.router, inbound, co.self, pkg.(*types.TimeDelay))
		return true
	})
	co.router.RegisterHandler(types.TypeNodeSyncRequest, func(pkg types.Package, inbound *core.Connection, _ int64) bool {
		req := pkg.(*types.NodeSyncRequest)
		inbound.SetPeerID(req.Subtree.NodeID)
		inbound.SetSubtree(req.Subtree)
		inbound.ResetTimeout()
		reply := co.subtreeExcluding(inbound)
		co.router.Send(types.NewNodeSyncReply(co.self, reply), inbound)
		return true
	})
	co.router.RegisterHandler(types.TypeNodeSyncReply, func(pkg types.Package, inbound *core.Connection, _ int64) bool {
		rep := pkg.(*types.NodeSyncReply)
		inbound.SetPeerID(rep.Subtree.NodeID)
		inbound.SetSubtree(rep.Subtree)
		inbound.ResetTimeout()
		return true
	})
	co.router.RegisterHandler(types.TypeBridgeStatus, func(pkg types.Package, _ *core.Connection, _ int64) bool {
		bs := pkg.(*types.BridgeStatus)
		co.bridges.Update(gateway.BridgeInfo{
			NodeID:            bs.Origin(),
			InternetConnected: bs.InternetConnected,
			RouterRSSI:        bs.RouterRSSI,
			RouterChannel:     bs.RouterChannel,
			Uptime:            bs.Uptime,
			GatewayIP:         bs.GatewayIP,
			Timestamp:         bs.Timestamp,
		}, types.Millis32Now())
		if co.onBridgeStatusChanged != nil {
			co.onBridgeStatusChanged(bs.Origin(), bs.InternetConnected)
		}
		return true
	})
	co.router.RegisterHandler(types.TypeGatewayData, func(pkg types.Package, _ *core.Connection, _ int64) bool {
		data := pkg.(*types.GatewayData)
		if data.Destination() != co.self {
			return true
		}
		if co.onGatewayRequest != nil {
			co.onGatewayRequest(data)
		}
		return true
	})
	co.router.OnDeliver(func(from types.NodeID, body json.RawMessage, broadcast bool) {
		if co.onReceive != nil {
			co.onReceive(from, body, broadcast)
		}
	})
}

// subtreeExcluding builds the subtree this node advertises to the
// neighbour reached via exclude: itself plus every other connection's
// last-advertised subtree, per §4.3's NodeSync exchange. Pass nil to get
// the full locally-visible tree (used by routing-table queries).
func (co *Core) subtreeExcluding(exclude *core.Connection) types.Tree {
	t := types.NewTree(co.self)
	t.Root = co.cfg.IsRoot
	t.HasTimeAuthority = co.clock.HasTimeAuthority()

	co.mu.Lock()
	conns := make([]*core.Connection, 0, len(co.connections))
	for c := range co.connections {
		if c == exclude {
			continue
		}
		conns = append(conns, c)
	}
	co.mu.Unlock()

	for _, c := range conns {
		if sub, ok := c.Subtree(); ok {
			t.AddSub(sub)
		}
	}
	return t
}

func (co *Core) nodeSync(conn *core.Connection) {
	co.router.Send(types.NewNodeSyncRequest(co.self, co.subtreeExcluding(conn)), conn)
}

func (co *Core) timeSync(conn *core.Connection) {
	peer := conn.PeerID()
	if !peer.Valid() {
		return
	}
	peerSubtree, ok := conn.Subtree()
	if !ok {
		return
	}
	selfHasAuthority := co.clock.HasTimeAuthority()
	if core.ShouldAdoptFrom(co.subtreeExcluding(nil), peerSubtree, selfHasAuthority, peerSubtree.HasTimeAuthority, peerSubtree.ContainsRoot) {
		co.clock.StartExchange(co.router, conn, co.self, peer)
	} else {
		co.clock.RequestPull(co.router, conn, co.self, peer)
	}
}

// AddConnection wraps tr as a tracked Connection, wires its lifecycle
// into this Core's callbacks, and arms its scheduler tasks.
func (co *Core) AddConnection(tr transport.Transport, role core.Role) *core.Connection {
	conn := core.NewConnection(tr, role, co.teardown, co.log)
	co.router.Track(conn)

	conn.OnPeerDiscovered(func(id types.NodeID) {
		if co.onNewConnection != nil {
			co.onNewConnection(id)
		}
	})
	conn.OnSubtreeChanged(func(types.NodeID) {
		if co.onChangedConnections != nil {
			co.onChangedConnections()
		}
	})
	conn.OnClosed(func(id types.NodeID, _ core.Role) {
		co.router.Untrack(conn)
		co.mu.Lock()
		delete(co.connections, conn)
		co.mu.Unlock()
		co.metrics.dropConnectionQuality(id)
		if id.Valid() && co.onDroppedConnection != nil {
			co.onDroppedConnection(id)
		}
	})

	co.mu.Lock()
	co.connections[conn] = struct{}{}
	co.mu.Unlock()

	conn.SetTunables(co.cfg.NodeSyncInterval, co.cfg.NodeSyncTimeout, co.cfg.ClientCleanupDelay)
	conn.Initialize(co.sched, co.nodeSync, co.timeSync)
	return conn
}

// DialPeer opens an outbound connection to address, identifying the
// expected peer by id for the connect-retry blocklist, retrying with
// backoff per §4.2 before giving up.
func (co *Core) DialPeer(address string, peer types.NodeID, timeout time.Duration) {
	co.retryer.Dial(address, peer, timeout, func(tr transport.Transport) {
		conn := co.AddConnection(tr, core.RoleStation)
		conn.SetPeerID(peer)
	})
}

// AcceptPeer wraps an inbound transport (e.g. from a TCPListener.Accept)
// as an access-point-role Connection.
func (co *Core) AcceptPeer(tr transport.Transport) *core.Connection {
	return co.AddConnection(tr, core.RoleAccessPoint)
}

// Init starts the local-Internet health checker and, on a bridge-capable
// node, the periodic BridgeStatus broadcast. Config.IsRoot is not applied
// here: subtreeExcluding sets Root on this node's own entry each time
// the local tree is built. Handlers are
// already registered by NewCore; Init is the lifecycle entrypoint named
// by §4.4's programmatic surface.
func (co *Core) Init() {
	co.healthChecker.Start(co.sched)
	if co.cfg.IsBridge {
		co.startBridgeStatusBroadcast()
	}
}

// SetBridgeRadioInfo records the uplink details a bridge-capable node
// cannot observe from the mesh itself — routerRSSI, routerChannel and
// gatewayIP — folded into every BridgeStatus this node broadcasts from
// then on.
func (co *Core) SetBridgeRadioInfo(info gateway.BridgeRadioInfo) {
	co.mu.Lock()
	co.bridgeRadio = info
	co.mu.Unlock()
}

// startBridgeStatusBroadcast arms the periodic BridgeStatus broadcast of
// §4.6 for a bridge-capable node.
func (co *Core) startBridgeStatusBroadcast() {
	co.bridgeStatusTask = core.NewTask()
	co.bridgeStatusTask.Set(co.cfg.BridgeStatusInterval, core.Forever, co.broadcastBridgeStatus)
	co.sched.AddTask(co.bridgeStatusTask)
	co.bridgeStatusTask.Enable()
	co.broadcastBridgeStatus()
}

func (co *Core) broadcastBridgeStatus() {
	co.mu.Lock()
	radio := co.bridgeRadio
	co.mu.Unlock()

	bs := types.NewBridgeStatus(co.self)
	bs.InternetConnected = co.healthChecker.Status().Available
	bs.RouterRSSI = radio.RouterRSSI
	bs.RouterChannel = radio.RouterChannel
	bs.GatewayIP = radio.GatewayIP
	bs.Uptime = uint64(time.Since(co.startedAt).Seconds())
	bs.Timestamp = time.Now().Unix()
	co.router.Broadcast(bs, types.UnknownNode, types.PriorityNormal)
}

// Update executes exactly one scheduler pass. Concurrent Update calls on
// the same Core are serialized by the Core's own update guard; the guard
// is not shared between Cores, and transport callbacks do not take it.
// It is the only public suspension point.
func (co *Core) Update() bool {
	select {
	case <-co.updateSem:
	case <-time.After(updateGuardTimeout):
		return false
	}
	defer func() { co.updateSem <- struct{}{} }()

	for c := range co.snapshotConnections() {
		co.metrics.observeQuality(c.PeerID(), c.Quality())
	}
	co.metrics.observeQueueDepth(co.offlineQueue.Size())
	co.metrics.setPendingInternet(co.gatewayRouter.PendingCount())

	return co.sched.Execute()
}

func (co *Core) snapshotConnections() map[*core.Connection]struct{} {
	co.mu.Lock()
	defer co.mu.Unlock()
	out := make(map[*core.Connection]struct{}, len(co.connections))
	for c := range co.connections {
		out[c] = struct{}{}
	}
	return out
}

// Stop closes every Connection and stops the health checker and gateway
// sweep task. Update must not be called again afterward.
func (co *Core) Stop() {
	co.healthChecker.Stop(co.sched)
	co.gatewayRouter.DisableSendToInternet()
	if co.bridgeStatusTask != nil {
		co.sched.RemoveTask(co.bridgeStatusTask)
	}
	for c := range co.snapshotConnections() {
		c.Close()
	}
}

// Self returns this node's own id.
func (co *Core) Self() types.NodeID { return co.self }

// IsConnected reports whether this node currently has at least one live
// mesh Connection, the connected/disconnected mode switch of §4.6.
func (co *Core) IsConnected() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return len(co.connections) > 0
}

// SendSingle routes msg to dest via the tracked Connection whose
// advertised subtree contains it, returning false if no route exists or
// the send buffer refuses the frame.
func (co *Core) SendSingle(dest types.NodeID, msg json.RawMessage, priority types.Priority) bool {
	conn := co.router.FindRoute(dest)
	if conn == nil {
		return false
	}
	return co.router.SendWithPriority(types.NewSingle(co.self, dest, msg), conn, priority)
}

// SendBroadcast fans msg out to every tracked Connection, optionally
// delivering to this node's own onReceive callback as well.
func (co *Core) SendBroadcast(msg json.RawMessage, priority types.Priority, includeSelf bool) bool {
	id := co.nextBroadcastID.Inc()
	pkg := types.NewBroadcast(co.self, msg, id)
	sent := co.router.Broadcast(pkg, types.UnknownNode, priority)
	if includeSelf && co.onReceive != nil {
		co.onReceive(co.self, msg, true)
	}
	return sent > 0
}

// GetNodeList returns every node reachable from this one, self included.
func (co *Core) GetNodeList() []types.NodeID {
	return types.AsList(co.subtreeExcluding(nil), true)
}

// GetRoutingTable maps every reachable node to the next-hop peer id the
// router would forward a Single package to.
func (co *Core) GetRoutingTable() map[types.NodeID]types.NodeID {
	table := make(map[types.NodeID]types.NodeID)
	for c := range co.snapshotConnections() {
		sub, ok := c.Subtree()
		if !ok {
			continue
		}
		nextHop := c.PeerID()
		for _, id := range types.AsList(sub, true) {
			table[id] = nextHop
		}
	}
	return table
}

// GetPathToNode returns the breadth-first path from self to id.
func (co *Core) GetPathToNode(id types.NodeID) []types.NodeID {
	return types.PathTo(co.subtreeExcluding(nil), id)
}

// GetHopCount returns the hop count from self to id, or -1 if
// unreachable.
func (co *Core) GetHopCount(id types.NodeID) int {
	return types.HopCount(co.subtreeExcluding(nil), id)
}

// StartDelayMeas routes a TimeDelay probe to peer over the Connection
// that currently routes to it, firing onNodeDelayReceived on completion.
func (co *Core) StartDelayMeas(peer types.NodeID) uint32 {
	conn := co.router.FindRoute(peer)
	if conn == nil {
		return 0
	}
	return co.clock.StartDelayMeas(co.router, conn, co.self, peer)
}

// NotifyRTCSyncComplete is called by the host's RTC/NTP collaborator
// once it obtains a trusted wall-clock time; it grants this node time
// authority and fires onRTCSyncComplete.
func (co *Core) NotifyRTCSyncComplete(unixTime int64) {
	co.clock.SetTimeAuthority(true)
	if co.onRTCSyncComplete != nil {
		co.onRTCSyncComplete(unixTime)
	}
}

// --- gateway/bridge/queue surface (§4.6-4.9) ---

func (co *Core) EnableSendToInternet()  { co.gatewayRouter.EnableSendToInternet() }
func (co *Core) DisableSendToInternet() { co.gatewayRouter.DisableSendToInternet() }

// SendToInternet routes payload to destination through the current
// primary gateway, per §4.7.
func (co *Core) SendToInternet(destination, payload string, cb gateway.InternetResultCallback, priority types.Priority) uint32 {
	started := time.Now()
	id := co.gatewayRouter.SendToInternet(destination, payload, func(ok bool, status int, errMsg string) {
		co.metrics.observeGatewayRTT(time.Since(started).Seconds())
		co.metrics.setPendingInternet(co.gatewayRouter.PendingCount())
		cb(ok, status, errMsg)
	}, priority)
	co.metrics.setPendingInternet(co.gatewayRouter.PendingCount())
	return id
}

func (co *Core) CancelInternetRequest(id uint32) { co.gatewayRouter.CancelInternetRequest(id) }

func (co *Core) GetPrimaryGateway() types.NodeID        { return co.bridges.GetPrimaryGateway() }
func (co *Core) IsPrimaryGateway(id types.NodeID) bool  { return co.bridges.IsPrimaryGateway(id) }
func (co *Core) GetGateways() []gateway.BridgeInfo      { return co.bridges.GetGateways() }
func (co *Core) GetGatewayCount() int                   { return co.bridges.GetGatewayCount() }

func (co *Core) LocalInternetStatus() gateway.HealthStatus { return co.healthChecker.Status() }
func (co *Core) SetHealthCheckMock(probe func() (bool, time.Duration, error)) {
	co.healthChecker.SetMockMode(probe)
}

// EnqueueOffline buffers a destination/payload pair while no gateway is
// reachable, per §4.9.
func (co *Core) EnqueueOffline(priority types.Priority, payload, destination string) (gateway.QueuedMessage, bool) {
	msg, ok := co.offlineQueue.Enqueue(priority, payload, destination)
	if !ok {
		co.metrics.addQueueDrop()
	}
	co.metrics.observeQueueDepth(co.offlineQueue.Size())
	return msg, ok
}

// FlushOffline attempts to deliver every queued entry via send.
func (co *Core) FlushOffline(send gateway.SendFunc) (sent, failed int) {
	sent, failed = co.offlineQueue.Flush(send)
	co.metrics.observeQueueDepth(co.offlineQueue.Size())
	return sent, failed
}

func (co *Core) OfflineQueueSize() int { return co.offlineQueue.Size() }

// --- lifecycle callback registration (§4.4) ---

func (co *Core) OnNewConnection(f func(types.NodeID))     { co.onNewConnection = f }
func (co *Core) OnDroppedConnection(f func(types.NodeID)) { co.onDroppedConnection = f }
func (co *Core) OnChangedConnections(f func())            { co.onChangedConnections = f }
func (co *Core) OnReceive(f func(from types.NodeID, msg json.RawMessage, broadcast bool)) {
	co.onReceive = f
}
func (co *Core) OnNodeTimeAdjusted(f func(offsetUs int64))              { co.onNodeTimeAdjusted = f }
func (co *Core) OnNodeDelayReceived(f func(peer types.NodeID, delayUs int64)) {
	co.onNodeDelayReceived = f
}
func (co *Core) OnBridgeStatusChanged(f func(bridge types.NodeID, internetAvailable bool)) {
	co.onBridgeStatusChanged = f
}
func (co *Core) OnGatewayChanged(f func(old, new types.NodeID)) { co.onGatewayChanged = f }
func (co *Core) OnLocalInternetChanged(f func(available bool))  { co.onLocalInternetChanged = f }
func (co *Core) OnRTCSyncComplete(f func(unixTime int64))       { co.onRTCSyncComplete = f }

// OnGatewayRequestReceived registers the callback fired when this node,
// acting as a bridge, receives a GatewayData frame to terminate. Making
// the actual outbound Internet call and replying with a GatewayAck is
// the host application's responsibility — out of scope per spec.md §1.
func (co *Core) OnGatewayRequestReceived(f func(*types.GatewayData)) { co.onGatewayRequest = f }

// SendGatewayAck is the helper a bridge's onGatewayRequest callback uses
// to terminate a GatewayData request it accepted.
func (co *Core) SendGatewayAck(req *types.GatewayData, success bool, httpStatus int, errMsg string) bool {
	conn := co.router.FindRoute(req.OriginNode)
	if conn == nil {
		return false
	}
	ack := types.NewGatewayAck(co.self, req.OriginNode, req.MessageID_, success, httpStatus, errMsg)
	return co.router.Send(ack, conn)
}
