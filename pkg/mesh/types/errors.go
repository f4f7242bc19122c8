package types

import "errors"

// Only ErrUnknownPackageType and ErrNotMeshAddress are returned by
// functions of this module. The conditions the other sentinels name are
// reported through a bool result or a callback instead.
var (
	// ErrNoRoute names the case where no adjacent connection advertises
	// a subtree containing the requested destination.
	ErrNoRoute = errors.New("mesh: no route to destination")

	// ErrUnknownPackageType is returned when a frame's type tag has no
	// registered constructor.
	ErrUnknownPackageType = errors.New("mesh: unknown package type")

	// ErrMissingType names a frame missing the required "type" envelope
	// field.
	ErrMissingType = errors.New("mesh: frame missing type field")

	// ErrMissingFrom names a frame missing the required "from" envelope
	// field.
	ErrMissingFrom = errors.New("mesh: frame missing from field")

	// ErrGatewayUnavailable names a sendToInternet call made with no
	// healthy primary bridge known.
	ErrGatewayUnavailable = errors.New("mesh: no gateway available")

	// ErrBufferFull names the send side of a FramedBuffer or an offline
	// queue at capacity with eviction failed.
	ErrBufferFull = errors.New("mesh: buffer full")

	// ErrDuplicatePackage names a package already processed within the
	// dedup window.
	ErrDuplicatePackage = errors.New("mesh: duplicate package")

	// ErrConnectionClosed names an operation attempted against a
	// Connection that has already completed teardown.
	ErrConnectionClosed = errors.New("mesh: connection closed")

	// ErrNotMeshAddress is returned by the mesh-IP decoder when an
	// address does not follow the 10.high.low.1 convention.
	ErrNotMeshAddress = errors.New("mesh: address is not a mesh peer")
)
