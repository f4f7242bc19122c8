// Package transport implements the byte-stream collaborator described
// in §6 of the spec: a connection-oriented transport with async
// callbacks for data, acks, disconnect and error, used by core.Connection.
package transport

import "time"

// Transport is the collaborator boundary the core consumes. It is
// deliberately narrow: everything above this interface (framing,
// priority, routing) lives in core.Connection; everything below it
// (sockets, retries at the OS level) is the transport's concern.
type Transport interface {
	// OnConnect registers the callback fired once the transport
	// finishes an asynchronous connect.
	OnConnect(func())
	// OnData registers the callback fired with each chunk of bytes
	// received. Implementations must not block inside the callback.
	OnData(func([]byte))
	// OnAck registers the callback fired when length previously
	// written bytes have been acknowledged by the peer.
	OnAck(func(length int))
	// OnDisconnect registers the callback fired exactly once when the
	// transport is no longer usable.
	OnDisconnect(func())
	// OnError registers the callback fired on a transport-level error
	// that does not by itself imply disconnection.
	OnError(func(err error))

	// Write enqueues bytes for sending; it does not block and returns
	// the number of bytes accepted.
	Write(data []byte) (int, error)
	// Flush requests the transport push any buffered writes out now.
	Flush() error
	// Close requests a graceful shutdown; see Freeable for when it is
	// safe to release the transport's resources.
	Close() error
	// Abort forces an immediate, possibly lossy shutdown.
	Abort() error

	// Space reports how many bytes can currently be accepted by Write
	// without blocking or queuing unboundedly.
	Space() int
	// CanSend reports whether Write would currently accept any bytes.
	CanSend() bool
	// Connected reports whether the transport believes it has a live
	// peer.
	Connected() bool
	// Freeable reports whether the transport's underlying resources can
	// be safely released. Until this returns true, Connection must
	// defer deletion (§4.2).
	Freeable() bool
}

// Dialer opens an outbound Transport to an address. TCPDialer is the
// production implementation; tests use an in-memory PipeDialer.
type Dialer interface {
	Dial(address string, timeout time.Duration) (Transport, error)
}
