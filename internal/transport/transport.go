// Package transport wraps the subset of a QUIC connection the connection
// manager needs, so tests can substitute a fake without opening a real UDP
// socket.
package transport

import (
	"context"
	"net"
)

// Stream is the bidirectional control stream, minus the framing; the
// sync/awareness protocol lives above this.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// CloseInfo is what a transport reports when the connection closes, either
// because the peer closed it or because disconnect()/destroy() requested
// it locally.
type CloseInfo struct {
	Code   uint16
	Reason string
}

// Connection is the subset of quic.Connection the connection manager uses:
// opening exactly one bidirectional stream, sending/receiving datagrams,
// closing with a code/reason, and observing connection state.
type Connection interface {
	OpenStreamSync(ctx context.Context) (Stream, error)
	SendDatagram(b []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	CloseWithError(code uint16, reason string) error
	// Closed returns a channel that receives the close reason exactly once,
	// when the connection closes. The channel itself is not closed.
	Closed() <-chan CloseInfo
	Context() context.Context
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// CertificateHash pins a self-signed server certificate by digest (the same
// idea as WebTransport's serverCertificateHashes option): trust is
// established by matching a known hash instead of chaining to a root CA.
type CertificateHash struct {
	Algorithm string // only "sha-256" is supported
	Value     []byte
}

// Dialer opens a Connection to addr. The production Dialer binds to
// quic-go; tests inject a fake.
type Dialer interface {
	Dial(ctx context.Context, addr string, certHashes []CertificateHash) (Connection, error)
}
