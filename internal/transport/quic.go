package transport

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICDialer is the production Dialer, binding the abstract bidirectional
// QUIC transport capability directly to quic-go: no server-initiated
// bidirectional streams, datagrams enabled, and a keep-alive so idle rooms
// don't silently time out.
type QUICDialer struct{}

var _ Dialer = QUICDialer{}

func (QUICDialer) Dial(ctx context.Context, addr string, certHashes []CertificateHash) (Connection, error) {
	host, err := hostOf(addr)
	if err != nil {
		return nil, err
	}
	tlsConf, err := buildTLSConfig(host, certHashes)
	if err != nil {
		return nil, err
	}
	quicConf := &quic.Config{
		MaxIncomingStreams: -1, // the server never opens a bidirectional stream to us
		KeepAlivePeriod:    10 * time.Second,
		EnableDatagrams:    true,
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConf)
	if err != nil {
		return nil, err
	}
	return newQUICConnection(conn), nil
}

func hostOf(addr string) (string, error) {
	h, _, err := net.SplitHostPort(addr)
	if err == nil {
		return h, nil
	}
	// addr may be a bare host (no port); net.SplitHostPort only fails on
	// the "missing port" case, which is fine here.
	u, uerr := url.Parse("udp://" + addr)
	if uerr == nil && u.Hostname() != "" {
		return u.Hostname(), nil
	}
	return addr, nil
}

type quicConnection struct {
	conn quic.Connection

	closeOnce sync.Once
	closed    chan CloseInfo
}

func newQUICConnection(conn quic.Connection) *quicConnection {
	c := &quicConnection{
		conn:   conn,
		closed: make(chan CloseInfo, 1),
	}
	go c.watchClose()
	return c
}

func (c *quicConnection) watchClose() {
	<-c.conn.Context().Done()
	info := CloseInfo{Code: 0, Reason: ""}
	var appErr *quic.ApplicationError
	if errors.As(context.Cause(c.conn.Context()), &appErr) {
		info = CloseInfo{Code: uint16(appErr.ErrorCode), Reason: appErr.ErrorMessage}
	}
	c.closeOnce.Do(func() { c.closed <- info })
}

func (c *quicConnection) OpenStreamSync(ctx context.Context) (Stream, error) {
	return c.conn.OpenStreamSync(ctx)
}

func (c *quicConnection) SendDatagram(b []byte) error {
	return c.conn.SendDatagram(b)
}

func (c *quicConnection) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.conn.ReceiveDatagram(ctx)
}

func (c *quicConnection) CloseWithError(code uint16, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

func (c *quicConnection) Closed() <-chan CloseInfo {
	return c.closed
}

func (c *quicConnection) Context() context.Context {
	return c.conn.Context()
}

func (c *quicConnection) LocalAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *quicConnection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
