package core

import (
	"encoding/json"
	"sync"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// Handler is invoked once per matching package type. It never
// short-circuits: every registered handler for a type runs regardless
// of what earlier ones returned, per §4.3's handler registry contract.
type Handler func(pkg types.Package, inbound *Connection, inboundNodeTime int64) bool

// Router parses inbound frames, runs registered handlers, and performs
// the Single/Broadcast delivery decisions of §4.3. It owns no
// Connections itself — Connections call back into it via OnFrame.
type Router struct {
	mu sync.Mutex

	self     NodeID
	registry *types.Registry
	tracker  *MessageTracker

	handlers map[uint8][]Handler

	connections map[*Connection]struct{}

	onDeliver func(from NodeID, body json.RawMessage, broadcast bool)
}

// NewRouter returns a Router for self, dispatching through registry and
// deduplicating Broadcast packages through tracker. No other package
// kind is deduplicated by the Router, GatewayData included.
func NewRouter(self NodeID, registry *types.Registry, tracker *MessageTracker) *Router {
	return &Router{
		self:        self,
		registry:    registry,
		tracker:     tracker,
		handlers:    make(map[uint8][]Handler),
		connections: make(map[*Connection]struct{}),
	}
}

// OnDeliver registers the callback fired for Single packages addressed
// to self and for Broadcast packages (which always include self).
func (r *Router) OnDeliver(f func(from NodeID, body json.RawMessage, broadcast bool)) {
	r.onDeliver = f
}

// RegisterHandler appends h to the handler list for tag, run in
// registration order alongside every other handler for that tag.
func (r *Router) RegisterHandler(tag uint8, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[tag] = append(r.handlers[tag], h)
}

// Track adds a Connection to the set broadcast fans out across, and
// wires its OnFrame callback to this router's HandleFrame.
func (r *Router) Track(conn *Connection) {
	r.mu.Lock()
	r.connections[conn] = struct{}{}
	r.mu.Unlock()
	conn.OnFrame(func(c *Connection, body []byte, nodeTime int64) {
		r.HandleFrame(c, body, nodeTime)
	})
}

// Untrack removes conn from the broadcast fan-out set, called from
// OnClosed.
func (r *Router) Untrack(conn *Connection) {
	r.mu.Lock()
	delete(r.connections, conn)
	r.mu.Unlock()
}

// HandleFrame implements the routing algorithm of §4.3: parse, run
// handlers, then deliver/forward/broadcast.
func (r *Router) HandleFrame(inbound *Connection, body []byte, inboundNodeTime int64) {
	pkg, err := r.registry.Parse(body)
	if err != nil {
		inbound.parseErrors.Inc()
		return
	}

	for _, h := range r.handlersFor(pkg.Kind()) {
		h(pkg, inbound, inboundNodeTime)
	}

	switch p := pkg.(type) {
	case *types.Single:
		if p.Destination() == r.self {
			if r.onDeliver != nil {
				r.onDeliver(p.Origin(), p.Msg, false)
			}
			return
		}
		if p.Destination() != types.UnknownNode {
			r.forward(pkg, p.Destination())
		}
	case *types.Broadcast:
		if r.tracker != nil {
			if r.tracker.IsProcessed(p.MsgID, p.OriginFor) {
				return
			}
			r.tracker.MarkProcessed(p.MsgID, p.OriginFor)
		}
		if r.onDeliver != nil {
			r.onDeliver(p.Origin(), p.Msg, true)
		}
		r.broadcast(pkg, inbound)
	case *types.GatewayData:
		if p.Destination() != r.self {
			r.forward(pkg, p.Destination())
		}
	case *types.GatewayAck:
		if p.Destination() != r.self {
			r.forward(pkg, p.Destination())
		}
	}
}

func (r *Router) handlersFor(tag uint8) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handler, len(r.handlers[tag]))
	copy(out, r.handlers[tag])
	return out
}

// FindRoute returns the tracked Connection whose advertised subtree
// contains dest, or nil if none does. Exported for collaborators (e.g.
// gateway.GatewayRouter) that must route to a node outside the
// Single/Broadcast delivery path.
func (r *Router) FindRoute(dest NodeID) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.connections {
		subtree, ok := conn.Subtree()
		if !ok {
			continue
		}
		if types.Contains(subtree, dest) {
			return conn
		}
	}
	return nil
}

func (r *Router) forward(pkg types.Package, dest NodeID) bool {
	conn := r.FindRoute(dest)
	if conn == nil {
		return false
	}
	return r.SendWithPriority(pkg, conn, types.PriorityNormal)
}

// Send serializes pkg and enqueues it on conn at PriorityNormal.
func (r *Router) Send(pkg types.Package, conn *Connection) bool {
	return r.SendWithPriority(pkg, conn, types.PriorityNormal)
}

// SendWithPriority serializes pkg and enqueues it on conn at the given
// priority; CRITICAL/HIGH priority frames request an immediate flush,
// handled by Connection's send pump once the frame is actually served.
func (r *Router) SendWithPriority(pkg types.Package, conn *Connection, priority types.Priority) bool {
	wire, err := types.Marshal(pkg)
	if err != nil {
		return false
	}
	// Marshal appends the trailing separator; Connection.Write expects
	// a body without it, since FramedBuffer's send side appends its own.
	body := wire[:len(wire)-1]
	return conn.WriteWithPriority(body, priority)
}

// Broadcast sends pkg on every tracked Connection except the one whose
// peer id equals excludeNodeID, returning the count of successful
// enqueues.
func (r *Router) Broadcast(pkg types.Package, excludeNodeID NodeID, priority types.Priority) int {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.connections))
	for conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.Unlock()

	sent := 0
	for _, conn := range conns {
		if conn.PeerID() == excludeNodeID {
			continue
		}
		if r.SendWithPriority(pkg, conn, priority) {
			sent++
		}
	}
	return sent
}

// broadcast re-sends an inbound Broadcast on every connection except the
// one it arrived on, per §4.3 point 5.
func (r *Router) broadcast(pkg types.Package, inbound *Connection) {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.connections))
	for conn := range r.connections {
		if conn != inbound {
			conns = append(conns, conn)
		}
	}
	r.mu.Unlock()
	for _, conn := range conns {
		r.Send(pkg, conn)
	}
}
