// Package crdt defines the seams the provider binds to: the CRDT document
// replica and the awareness object. Both are consumed as black boxes; no
// concrete CRDT engine lives in this repository.
package crdt

// UpdateHandler receives a locally produced update and the origin token it
// was applied with (nil for genuinely local edits).
type UpdateHandler func(update []byte, origin interface{})

// Doc is the CRDT document replica external capability.
type Doc interface {
	// ApplyUpdate merges update into the document, tagging the resulting
	// change with origin so later OnUpdate observers (including this
	// provider's own echo check) can identify who produced it.
	ApplyUpdate(update []byte, origin interface{}) error
	// EncodeStateAsUpdate returns a full-state snapshot.
	EncodeStateAsUpdate() ([]byte, error)
	// EncodeStateVector returns a compact summary of the updates this
	// replica has observed.
	EncodeStateVector() ([]byte, error)
	// EncodeDiff returns the minimal update that brings a peer holding
	// remoteStateVector up to at least this replica's state. An empty
	// (nil) result means the peer is already caught up.
	EncodeDiff(remoteStateVector []byte) ([]byte, error)
	// OnUpdate subscribes to local update events and returns an
	// unsubscribe function.
	OnUpdate(fn UpdateHandler) (unsubscribe func())
}

// ChangeHandler receives the added/updated/removed client id sets from one
// awareness change event, plus the origin token that produced it.
type ChangeHandler func(added, updated, removed []uint32, origin interface{})

// Awareness is the per-client ephemeral presence external capability.
type Awareness interface {
	ClientID() uint32
	// LocalState returns the local client's structured state and whether
	// one is currently set (a cleared local state emits no datagram).
	// The value is opaque to this package; a StateCodec (see package
	// awareness) turns it into datagram bytes.
	LocalState() (interface{}, bool)
	// States returns every known client's structured state, local included.
	States() map[uint32]interface{}
	SetLocalStateField(field string, value interface{}) error
	// EncodeUpdate encodes an awareness update covering exactly the given
	// client ids.
	EncodeUpdate(clients []uint32) ([]byte, error)
	// ApplyUpdate decodes and applies an awareness update, tagging the
	// resulting change events with origin.
	ApplyUpdate(update []byte, origin interface{}) error
	OnChange(fn ChangeHandler) (unsubscribe func())
}
