package types

import (
	"encoding/json"
	"fmt"
)

// Canonical package tags recognized by the core (§6 of the spec). User
// types must use a tag >= FirstUserType.
const (
	TypeSingle           uint8 = 1
	TypeBroadcast        uint8 = 2
	TypeTimeSync         uint8 = 3
	TypeTimeDelay        uint8 = 4
	TypeNodeSyncRequest  uint8 = 5
	TypeNodeSyncReply    uint8 = 6
	TypeBridgeStatus     uint8 = 7
	TypeGatewayData      uint8 = 8
	TypeGatewayAck       uint8 = 9
	FirstUserType        uint8 = 200
)

// Package is a parsed, typed frame. Every variant knows its own
// envelope identity and writes its own type-specific fields; the
// envelope fields (type/from/dest) are written generically by Marshal.
type Package interface {
	// Kind returns the numeric type tag.
	Kind() uint8

	// Origin returns the sending node.
	Origin() NodeID

	// Destination returns the single-destination target, or
	// UnknownNode for packages with no dest field (broadcast/topology).
	Destination() NodeID

	// SetOrigin overwrites the "from" field, used when a node
	// constructs a package to send.
	SetOrigin(NodeID)

	// addTo writes exactly this variant's own fields (never the
	// envelope) into the supplied map.
	addTo(obj map[string]interface{})
}

// Identified is implemented by packages that carry an application
// message identity usable for receive-side de-duplication.
type Identified interface {
	Package
	MessageID() uint32
}

// Constructor builds a zero-value Package for a given type tag;
// Registry.Parse calls json.Unmarshal(raw, package) to fill in
// type-specific fields.
type Constructor func() Package

// Registry maps type tags to Constructors, the dispatch table described
// in §4.3 of the spec ("look up the constructor in a static type-id
// registry; pass the JSON object to that constructor").
type Registry struct {
	constructors map[uint8]Constructor
}

// NewRegistry returns a Registry pre-populated with the canonical types
// of §6. Callers register user types (tag >= FirstUserType) with
// Register.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[uint8]Constructor)}
	r.Register(TypeSingle, func() Package { return &Single{} })
	r.Register(TypeBroadcast, func() Package { return &Broadcast{} })
	r.Register(TypeTimeSync, func() Package { return &TimeSync{} })
	r.Register(TypeTimeDelay, func() Package { return &TimeDelay{} })
	r.Register(TypeNodeSyncRequest, func() Package { return &NodeSyncRequest{} })
	r.Register(TypeNodeSyncReply, func() Package { return &NodeSyncReply{} })
	r.Register(TypeBridgeStatus, func() Package { return &BridgeStatus{} })
	r.Register(TypeGatewayData, func() Package { return &GatewayData{} })
	r.Register(TypeGatewayAck, func() Package { return &GatewayAck{} })
	return r
}

// Register installs the constructor for a type tag, overwriting any
// previous registration. Tags < FirstUserType are reserved for the
// canonical set but registration is not refused — tests exercise
// replacement constructors.
func (r *Registry) Register(tag uint8, ctor Constructor) {
	r.constructors[tag] = ctor
}

// Parse decodes a frame body into its typed Package using the
// registered constructor for the frame's type tag.
func (r *Registry) Parse(body []byte) (Package, error) {
	frame, err := ParseFrame(body)
	if err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	ctor, ok := r.constructors[frame.Type]
	if !ok {
		return nil, ErrUnknownPackageType
	}
	pkg := ctor()
	if err := json.Unmarshal(frame.Raw, pkg); err != nil {
		return nil, fmt.Errorf("parse body for type %d: %w", frame.Type, err)
	}
	return pkg, nil
}

// Marshal serializes a Package into one NUL-terminated wire frame: the
// envelope fields (type/from/dest) plus the variant's own fields,
// written by addTo.
func Marshal(p Package) ([]byte, error) {
	obj := map[string]interface{}{
		"type": p.Kind(),
		"from": p.Origin(),
	}
	if dest := p.Destination(); dest.Valid() {
		obj["dest"] = dest
	}
	p.addTo(obj)
	body, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	return append(body, FrameSeparator), nil
}

// --- envelope helper embedded by every concrete variant ---

type base struct {
	Type uint8  `json:"type"`
	From NodeID `json:"from"`
}

func (b *base) Kind() uint8          { return b.Type }
func (b *base) Origin() NodeID       { return b.From }
func (b *base) SetOrigin(id NodeID)  { b.From = id }

type destBase struct {
	base
	Dest NodeID `json:"dest"`
}

func (d *destBase) Destination() NodeID { return d.Dest }

// --- Single: single-destination application message ---

type Single struct {
	destBase
	Msg json.RawMessage `json:"msg"`
}

func NewSingle(from, dest NodeID, payload json.RawMessage) *Single {
	return &Single{
		destBase: destBase{base: base{Type: TypeSingle, From: from}, Dest: dest},
		Msg:      payload,
	}
}

func (s *Single) addTo(obj map[string]interface{}) { obj["msg"] = s.Msg }

// --- Broadcast: mesh-wide application message ---

type Broadcast struct {
	base
	Msg       json.RawMessage `json:"msg"`
	MsgID     uint32          `json:"msgId,omitempty"`
	OriginFor NodeID          `json:"origin,omitempty"`
}

func NewBroadcast(from NodeID, payload json.RawMessage, msgID uint32) *Broadcast {
	return &Broadcast{base: base{Type: TypeBroadcast, From: from}, Msg: payload, MsgID: msgID, OriginFor: from}
}

func (b *Broadcast) Destination() NodeID          { return UnknownNode }
func (b *Broadcast) addTo(obj map[string]interface{}) {
	obj["msg"] = b.Msg
	obj["msgId"] = b.MsgID
	obj["origin"] = b.OriginFor
}
func (b *Broadcast) MessageID() uint32 { return b.MsgID }

// --- TimeSync: three-step NTP-like exchange ---

// TimeSyncStep identifies which leg of the three-step exchange a
// TimeSync package carries.
type TimeSyncStep uint8

const (
	// TimeSyncPull carries no timestamps: "adopt your time from me".
	TimeSyncPull TimeSyncStep = iota
	// TimeSyncRequest is step T1: A -> B, carries t0.
	TimeSyncRequest
	// TimeSyncReply is step T2: B -> A, carries [t0, t1, t2].
	TimeSyncReply
)

type TimeSync struct {
	destBase
	Step TimeSyncStep `json:"step"`
	Msg  [3]int64     `json:"msg,omitempty"`
}

func NewTimeSyncPull(from, dest NodeID) *TimeSync {
	return &TimeSync{destBase: destBase{base: base{Type: TypeTimeSync, From: from}, Dest: dest}, Step: TimeSyncPull}
}

func NewTimeSyncRequest(from, dest NodeID, t0 int64) *TimeSync {
	ts := &TimeSync{destBase: destBase{base: base{Type: TypeTimeSync, From: from}, Dest: dest}, Step: TimeSyncRequest}
	ts.Msg[0] = t0
	return ts
}

func NewTimeSyncReply(from, dest NodeID, t0, t1, t2 int64) *TimeSync {
	ts := &TimeSync{destBase: destBase{base: base{Type: TypeTimeSync, From: from}, Dest: dest}, Step: TimeSyncReply}
	ts.Msg = [3]int64{t0, t1, t2}
	return ts
}

func (t *TimeSync) addTo(obj map[string]interface{}) {
	obj["step"] = t.Step
	if t.Step != TimeSyncPull {
		obj["msg"] = t.Msg
	}
}

// --- TimeDelay: application latency measurement instrument ---

type TimeDelay struct {
	destBase
	Time int64 `json:"time"`
}

func NewTimeDelay(from, dest NodeID, t int64) *TimeDelay {
	return &TimeDelay{destBase: destBase{base: base{Type: TypeTimeDelay, From: from}, Dest: dest}, Time: t}
}

func (t *TimeDelay) addTo(obj map[string]interface{}) { obj["time"] = t.Time }

// --- NodeSyncRequest / NodeSyncReply: topology advertisement ---

type NodeSyncRequest struct {
	base
	Subtree Tree `json:"subs"`
}

func NewNodeSyncRequest(from NodeID, subtree Tree) *NodeSyncRequest {
	return &NodeSyncRequest{base: base{Type: TypeNodeSyncRequest, From: from}, Subtree: subtree}
}

func (n *NodeSyncRequest) Destination() NodeID { return UnknownNode }
func (n *NodeSyncRequest) addTo(obj map[string]interface{}) {
	obj["subs"] = n.Subtree.subs
	obj["root"] = n.Subtree.Root
	obj["containsRoot"] = n.Subtree.ContainsRoot
	obj["hasTimeAuthority"] = n.Subtree.HasTimeAuthority
	obj["nodeId"] = n.Subtree.NodeID
}

type NodeSyncReply struct {
	base
	Subtree Tree `json:"subs"`
}

func NewNodeSyncReply(from NodeID, subtree Tree) *NodeSyncReply {
	return &NodeSyncReply{base: base{Type: TypeNodeSyncReply, From: from}, Subtree: subtree}
}

func (n *NodeSyncReply) Destination() NodeID { return UnknownNode }
func (n *NodeSyncReply) addTo(obj map[string]interface{}) {
	obj["subs"] = n.Subtree.subs
	obj["root"] = n.Subtree.Root
	obj["containsRoot"] = n.Subtree.ContainsRoot
	obj["hasTimeAuthority"] = n.Subtree.HasTimeAuthority
	obj["nodeId"] = n.Subtree.NodeID
}

// UnmarshalJSON decodes the flattened tree fields back into a Tree.
func (n *NodeSyncRequest) UnmarshalJSON(data []byte) error {
	return unmarshalNodeSync(data, &n.base, &n.Subtree)
}

func (n *NodeSyncReply) UnmarshalJSON(data []byte) error {
	return unmarshalNodeSync(data, &n.base, &n.Subtree)
}

func unmarshalNodeSync(data []byte, b *base, tree *Tree) error {
	var wire struct {
		Type             uint8   `json:"type"`
		From             NodeID  `json:"from"`
		NodeID           NodeID  `json:"nodeId"`
		Root             bool    `json:"root"`
		ContainsRoot     bool    `json:"containsRoot"`
		HasTimeAuthority bool    `json:"hasTimeAuthority"`
		Subs             []Tree  `json:"subs"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	b.Type = wire.Type
	b.From = wire.From
	*tree = Tree{
		NodeID:           wire.NodeID,
		Root:             wire.Root,
		ContainsRoot:     wire.ContainsRoot,
		HasTimeAuthority: wire.HasTimeAuthority,
		subs:             wire.Subs,
	}
	return nil
}

// --- BridgeStatus: gateway heartbeat broadcast ---

type BridgeStatus struct {
	base
	InternetConnected bool   `json:"internetConnected"`
	RouterRSSI        int8   `json:"routerRSSI"`
	RouterChannel     uint8  `json:"routerChannel"`
	Uptime            uint64 `json:"uptime"`
	GatewayIP         string `json:"gatewayIP"`
	Timestamp         int64  `json:"timestamp"`
}

func NewBridgeStatus(from NodeID) *BridgeStatus {
	return &BridgeStatus{base: base{Type: TypeBridgeStatus, From: from}}
}

func (b *BridgeStatus) Destination() NodeID { return UnknownNode }
func (b *BridgeStatus) addTo(obj map[string]interface{}) {
	obj["internetConnected"] = b.InternetConnected
	obj["routerRSSI"] = b.RouterRSSI
	obj["routerChannel"] = b.RouterChannel
	obj["uptime"] = b.Uptime
	obj["gatewayIP"] = b.GatewayIP
	obj["timestamp"] = b.Timestamp
}

// --- GatewayData / GatewayAck: Internet-bound request/ack ---

type GatewayData struct {
	destBase
	MessageID_     uint32   `json:"msgId"`
	OriginNode     NodeID   `json:"origin"`
	Timestamp      int64    `json:"ts"`
	RequestPrio    Priority `json:"prio"`
	DestinationURL string   `json:"dest_url"`
	Payload        string   `json:"payload"`
	ContentType    string   `json:"content"`
	RetryCount     int      `json:"retry"`
	RequiresAck    bool     `json:"ack"`
}

func NewGatewayData(from, gateway NodeID, msgID uint32, origin NodeID, prio Priority, dest, payload string) *GatewayData {
	return &GatewayData{
		destBase:       destBase{base: base{Type: TypeGatewayData, From: from}, Dest: gateway},
		MessageID_:     msgID,
		OriginNode:     origin,
		RequestPrio:    prio,
		DestinationURL: dest,
		Payload:        payload,
		ContentType:    "application/json",
		RequiresAck:    true,
	}
}

func (g *GatewayData) addTo(obj map[string]interface{}) {
	obj["msgId"] = g.MessageID_
	obj["origin"] = g.OriginNode
	obj["ts"] = g.Timestamp
	obj["prio"] = g.RequestPrio
	obj["dest_url"] = g.DestinationURL
	obj["payload"] = g.Payload
	obj["content"] = g.ContentType
	obj["retry"] = g.RetryCount
	obj["ack"] = g.RequiresAck
}

func (g *GatewayData) MessageID() uint32 { return g.MessageID_ }

type GatewayAck struct {
	destBase
	MessageID_ uint32 `json:"msgId"`
	OriginNode NodeID `json:"origin"`
	Success    bool   `json:"success"`
	HTTPStatus int    `json:"http"`
	Err        string `json:"err"`
	Timestamp  int64  `json:"ts"`
}

func NewGatewayAck(from, origin NodeID, msgID uint32, success bool, httpStatus int, errStr string) *GatewayAck {
	return &GatewayAck{
		destBase:   destBase{base: base{Type: TypeGatewayAck, From: from}, Dest: origin},
		MessageID_: msgID,
		OriginNode: origin,
		Success:    success,
		HTTPStatus: httpStatus,
		Err:        errStr,
	}
}

func (g *GatewayAck) addTo(obj map[string]interface{}) {
	obj["msgId"] = g.MessageID_
	obj["origin"] = g.OriginNode
	obj["success"] = g.Success
	obj["http"] = g.HTTPStatus
	obj["err"] = g.Err
	obj["ts"] = g.Timestamp
}

func (g *GatewayAck) MessageID() uint32 { return g.MessageID_ }

// --- UserPackage: open-ended range, tag >= FirstUserType ---

// UserPackage carries an application-defined type whose fields the core
// never interprets; it round-trips the raw JSON object sans envelope.
type UserPackage struct {
	destBase
	Extra map[string]json.RawMessage
}

func NewUserPackage(tag uint8, from, dest NodeID, fields map[string]json.RawMessage) (*UserPackage, error) {
	if tag < FirstUserType {
		return nil, fmt.Errorf("mesh: user package tag %d must be >= %d", tag, FirstUserType)
	}
	return &UserPackage{destBase: destBase{base: base{Type: tag, From: from}, Dest: dest}, Extra: fields}, nil
}

func (u *UserPackage) addTo(obj map[string]interface{}) {
	for k, v := range u.Extra {
		obj[k] = v
	}
}

// UnmarshalJSON captures the envelope fields plus every remaining key
// as opaque application data.
func (u *UserPackage) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	delete(raw, "type")
	delete(raw, "from")
	delete(raw, "dest")
	u.Type = env.Type
	u.From = env.From
	if env.Dest != nil {
		u.Dest = *env.Dest
	}
	u.Extra = raw
	return nil
}
