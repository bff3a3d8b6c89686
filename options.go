package qcollab

import (
	"time"

	"github.com/crdtsync/qcollab/crdt"
	"github.com/crdtsync/qcollab/internal/awareness"
	"github.com/crdtsync/qcollab/internal/connmgr"
	"github.com/crdtsync/qcollab/internal/logging"
	"github.com/crdtsync/qcollab/internal/transport"
)

// Status is the connection manager's tagged status.
type Status = connmgr.Status

const (
	StatusDisconnected = connmgr.StatusDisconnected
	StatusConnecting   = connmgr.StatusConnecting
	StatusConnected    = connmgr.StatusConnected
	StatusReconnecting = connmgr.StatusReconnecting
)

// CertificateHash pins a self-signed server certificate by SHA-256 digest
// (the serverCertificateHashes option).
type CertificateHash = transport.CertificateHash

// Options configures a Provider. Every field documents its own default
// below.
type Options struct {
	// Awareness binds an existing awareness instance. If nil, NewAwareness
	// is used to construct one bound to Doc.
	Awareness crdt.Awareness
	// NewAwareness constructs an awareness instance bound to doc, used
	// when Awareness is nil. The concrete awareness type is an external
	// capability; supply one of Awareness or NewAwareness.
	NewAwareness func(doc crdt.Doc) (crdt.Awareness, error)

	// Connect auto-connects on construction. Default true.
	Connect *bool

	// ServerCertificateHashes pins self-signed relay certificates.
	ServerCertificateHashes []CertificateHash

	// UseUnreliableAwareness enables the datagram pipeline. Default true.
	UseUnreliableAwareness *bool
	// AwarenessUpdateInterval is the datagram broadcast period. Default 50ms.
	AwarenessUpdateInterval time.Duration
	// AwarenessStaleThreshold is how long a peer may go unseen before
	// eviction.
	AwarenessStaleThreshold time.Duration
	// AwarenessCodec encodes/decodes opaque awareness state. Default JSON.
	AwarenessCodec awareness.StateCodec

	// MaxReconnectAttempts, ReconnectBaseDelay, ReconnectMaxDelay tune the
	// backoff policy. Defaults 10, 1s, 30s.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration

	// ResyncInterval periodically re-sends sync-step-1 while connected.
	// Default 0 (disabled).
	ResyncInterval time.Duration

	// Params are query-string key/values appended verbatim to the
	// logical room URL exposed via Provider.Endpoint (cosmetic: the QUIC
	// dial target is the server authority only, §4.2).
	Params map[string][]string

	// Dialer overrides the transport dialer; nil defaults to
	// transport.QUICDialer{}. Tests inject a fake here.
	Dialer transport.Dialer

	Logger logging.Logger
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// Bool is a convenience constructor for the *bool options fields.
func Bool(b bool) *bool { return &b }
