package qcollab

import (
	"errors"

	"github.com/crdtsync/qcollab/internal/connmgr"
	"github.com/crdtsync/qcollab/internal/wire"
)

// ErrUnsupported and ErrDestroyed are re-exported
// from internal/connmgr so callers can errors.Is against a single stable
// value regardless of which layer raised them. ErrFrameTooLarge and
// ErrDatagramTooShort are re-exported from internal/wire for the same
// reason.
var (
	// ErrUnsupported means the host lacks QUIC-bidirectional-transport
	// support; raised only from Connect, not retryable.
	ErrUnsupported = connmgr.ErrUnsupported
	// ErrDestroyed means an operation was attempted on a destroyed
	// Provider or connection manager; not retryable.
	ErrDestroyed = connmgr.ErrDestroyed
	// ErrFrameTooLarge means an encoded stream frame would exceed 65,535
	// bytes.
	ErrFrameTooLarge = wire.ErrFrameTooLarge
	// ErrDatagramTooShort means a received awareness datagram was shorter
	// than the fixed 8-byte header. Logged and discarded; exported mainly
	// for tests.
	ErrDatagramTooShort = wire.ErrDatagramTooShort
	// ErrNoAwarenessFactory is returned by New when neither an Awareness
	// instance nor a NewAwareness factory was supplied. The concrete
	// awareness type is consumed as an external black box, and this
	// package has no default implementation to fall back to.
	ErrNoAwarenessFactory = errors.New("qcollab: no awareness instance or factory supplied")
)

// TransportError wraps a lower-level transport failure (open/write/read/
// close). Surfaced via the connection-error event, never returned from
// Connect directly once reconnection has taken over.
type TransportError = connmgr.TransportError

// CloseEvent is delivered to the connection-close event.
type CloseEvent = connmgr.CloseEvent
