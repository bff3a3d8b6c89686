package connmgr_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/crdtsync/qcollab/internal/transport"
)

// fakeConn is a hand-authored substitute for transport.Connection.
type fakeConn struct {
	stream       *fakeStream
	datagrams    chan []byte
	closed       chan transport.CloseInfo
	closeOnce    sync.Once
	openStreamFn func() (transport.Stream, error)

	mu     sync.Mutex
	closeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		stream:    newFakeStream(),
		datagrams: make(chan []byte, 16),
		closed:    make(chan transport.CloseInfo, 1),
	}
}

func (c *fakeConn) OpenStreamSync(ctx context.Context) (transport.Stream, error) {
	if c.openStreamFn != nil {
		return c.openStreamFn()
	}
	return c.stream, nil
}

func (c *fakeConn) SendDatagram(b []byte) error {
	select {
	case c.datagrams <- append([]byte(nil), b...):
	default:
	}
	return nil
}

func (c *fakeConn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.datagrams:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) CloseWithError(code uint16, reason string) error {
	c.closeOnce.Do(func() {
		c.stream.Close()
		c.closed <- transport.CloseInfo{Code: code, Reason: reason}
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// simulateRemoteClose lets a test drive an unsolicited peer close.
func (c *fakeConn) simulateRemoteClose(code uint16, reason string) {
	c.closeOnce.Do(func() {
		c.stream.Close()
		c.closed <- transport.CloseInfo{Code: code, Reason: reason}
	})
}

func (c *fakeConn) Closed() <-chan transport.CloseInfo { return c.closed }
func (c *fakeConn) Context() context.Context           { return context.Background() }
func (c *fakeConn) LocalAddr() net.Addr                { return fakeAddr("local") }
func (c *fakeConn) RemoteAddr() net.Addr               { return fakeAddr("remote") }

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeStream is a hand-authored substitute for transport.Stream. Writes
// are recorded without blocking (the test is the only reader that would
// ever exist on "the other end", and asserting on Writes() is simpler
// than plumbing a real loopback). Reads pull from an in-memory pipe that
// a test feeds via Feed to simulate inbound server frames.
type fakeStream struct {
	readW *io.PipeWriter
	readR *io.PipeReader

	closeOnce sync.Once
	writes    [][]byte
	mu        sync.Mutex
}

func newFakeStream() *fakeStream {
	r, w := io.Pipe()
	return &fakeStream{readR: r, readW: w}
}

func (s *fakeStream) Read(p []byte) (int, error) {
	return s.readR.Read(p)
}

func (s *fakeStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.writes = append(s.writes, append([]byte(nil), p...))
	s.mu.Unlock()
	return len(p), nil
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		s.readW.Close()
		s.readR.Close()
	})
	return nil
}

func (s *fakeStream) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

// Feed simulates the server pushing bytes down the control stream.
func (s *fakeStream) Feed(b []byte) {
	go func() { _, _ = s.readW.Write(b) }()
}

var errFakeDialFailed = errors.New("fake: dial failed")
