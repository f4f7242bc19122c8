package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// PipeDialer is an in-memory Dialer used by tests: Dial resolves an
// address to a pre-registered PipePeer and returns one end of a
// connected pair.
type PipeDialer struct {
	mu    sync.Mutex
	peers map[string]*PipePeer
}

// NewPipeDialer returns a dialer with no peers registered yet.
func NewPipeDialer() *PipeDialer {
	return &PipeDialer{peers: make(map[string]*PipePeer)}
}

// PipePeer is a listening endpoint that accepted connections can be
// retrieved from, mirroring TCPListener.Accept for tests.
type PipePeer struct {
	address  string
	incoming chan *pipeEnd
	failNext atomic.Bool
}

// Register installs a listening peer at address.
func (d *PipeDialer) Register(address string) *PipePeer {
	d.mu.Lock()
	defer d.mu.Unlock()
	p := &PipePeer{address: address, incoming: make(chan *pipeEnd, 8)}
	d.peers[address] = p
	return p
}

// Unregister removes a peer so future dials to its address fail,
// simulating the target going offline.
func (d *PipeDialer) Unregister(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.peers, address)
}

// FailNextDial makes the next Dial to this peer fail once, used to
// exercise connect-retry logic.
func (p *PipePeer) FailNextDial() { p.failNext.Store(true) }

// Accept blocks for the next inbound connection.
func (p *PipePeer) Accept() (Transport, string, error) {
	end := <-p.incoming
	return end, "pipe-client", nil
}

// Dial connects to a registered peer, or returns an error if none is
// registered at that address (or the peer has armed FailNextDial).
func (d *PipeDialer) Dial(address string, _ time.Duration) (Transport, error) {
	d.mu.Lock()
	p, ok := d.peers[address]
	d.mu.Unlock()
	if !ok {
		return nil, errors.New("transport: no pipe peer registered at " + address)
	}
	if p.failNext.CompareAndSwap(true, false) {
		return nil, errors.New("transport: simulated dial failure")
	}
	a, b := newPipePair()
	p.incoming <- b
	return a, nil
}

// pipeEnd is one side of an in-memory connected pair.
type pipeEnd struct {
	mu           sync.Mutex
	onConnect    func()
	onData       func([]byte)
	onAck        func(int)
	onDisconnect func()
	onError      func(error)

	peer      *pipeEnd
	inbox     chan []byte
	closed    atomic.Bool
	connected atomic.Bool
	done      chan struct{}
}

func newPipePair() (*pipeEnd, *pipeEnd) {
	a := &pipeEnd{inbox: make(chan []byte, 64), done: make(chan struct{})}
	b := &pipeEnd{inbox: make(chan []byte, 64), done: make(chan struct{})}
	a.peer, b.peer = b, a
	a.connected.Store(true)
	b.connected.Store(true)
	go a.pump()
	go b.pump()
	return a, b
}

func (p *pipeEnd) pump() {
	for {
		select {
		case data, ok := <-p.inbox:
			if !ok {
				return
			}
			p.mu.Lock()
			cb := p.onData
			p.mu.Unlock()
			if cb != nil {
				cb(data)
			}
		case <-p.done:
			return
		}
	}
}

func (p *pipeEnd) OnConnect(f func())    { p.mu.Lock(); p.onConnect = f; p.mu.Unlock() }
func (p *pipeEnd) OnData(f func([]byte)) { p.mu.Lock(); p.onData = f; p.mu.Unlock() }
func (p *pipeEnd) OnAck(f func(int))     { p.mu.Lock(); p.onAck = f; p.mu.Unlock() }
func (p *pipeEnd) OnDisconnect(f func()) { p.mu.Lock(); p.onDisconnect = f; p.mu.Unlock() }
func (p *pipeEnd) OnError(f func(error)) { p.mu.Lock(); p.onError = f; p.mu.Unlock() }

func (p *pipeEnd) Write(data []byte) (int, error) {
	if p.closed.Load() || !p.peer.connected.Load() {
		return 0, errors.New("transport: write on closed pipe")
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	select {
	case p.peer.inbox <- chunk:
	case <-p.peer.done:
		return 0, errors.New("transport: peer closed")
	}
	p.mu.Lock()
	onAck := p.onAck
	p.mu.Unlock()
	if onAck != nil {
		onAck(len(data))
	}
	return len(data), nil
}

func (p *pipeEnd) Flush() error { return nil }

func (p *pipeEnd) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.connected.Store(false)
	close(p.done)
	p.mu.Lock()
	cb := p.onDisconnect
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
	return nil
}

func (p *pipeEnd) Abort() error { return p.Close() }

func (p *pipeEnd) Space() int {
	if p.closed.Load() {
		return 0
	}
	return 64 * 1024
}

func (p *pipeEnd) CanSend() bool  { return !p.closed.Load() && p.peer.connected.Load() }
func (p *pipeEnd) Connected() bool { return p.connected.Load() }
func (p *pipeEnd) Freeable() bool  { return p.closed.Load() }

var _ Transport = (*pipeEnd)(nil)
