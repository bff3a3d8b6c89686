package wire

import "errors"

// MessageType tags the first byte of every frame payload.
type MessageType byte

const (
	// MessageSyncStep1 carries a state vector.
	MessageSyncStep1 MessageType = 0x00
	// MessageSyncStep2 carries the updates the peer was missing.
	MessageSyncStep2 MessageType = 0x01
	// MessageUpdate carries a single incremental CRDT update.
	MessageUpdate MessageType = 0x02
	// MessageAwareness carries an awareness update.
	MessageAwareness MessageType = 0x03
)

// ErrProtocolViolation is returned by DecodeMessage for an empty frame.
// An unrecognized (but non-empty) tag is not an error at this layer; the
// caller decides how to treat unknown tags (spec: log and discard).
var ErrProtocolViolation = errors.New("wire: empty frame has no message tag")

// EncodeMessage prepends the message type tag to body.
func EncodeMessage(t MessageType, body []byte) []byte {
	out := make([]byte, 1+len(body))
	out[0] = byte(t)
	copy(out[1:], body)
	return out
}

// DecodeMessage splits a frame payload into its tag and body.
func DecodeMessage(payload []byte) (MessageType, []byte, error) {
	if len(payload) == 0 {
		return 0, nil, ErrProtocolViolation
	}
	return MessageType(payload[0]), payload[1:], nil
}

// Known reports whether t is one of the tags defined by this protocol
// version. Unknown tags are forward-compatible: log and discard.
func (t MessageType) Known() bool {
	switch t {
	case MessageSyncStep1, MessageSyncStep2, MessageUpdate, MessageAwareness:
		return true
	default:
		return false
	}
}

func (t MessageType) String() string {
	switch t {
	case MessageSyncStep1:
		return "sync-step-1"
	case MessageSyncStep2:
		return "sync-step-2"
	case MessageUpdate:
		return "update"
	case MessageAwareness:
		return "awareness"
	default:
		return "unknown"
	}
}
