// Package connmgr owns the transport handle, the single bidirectional
// control stream, and the datagram endpoints. It exposes send primitives
// and delivers received bytes to callbacks, driving status transitions
// and reconnection with bounded exponential backoff.
package connmgr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/crdtsync/qcollab/internal/logging"
	"github.com/crdtsync/qcollab/internal/transport"
	"github.com/crdtsync/qcollab/internal/wire"
)

// streamTypeSyncStream is the single-byte marker written unframed as the
// first byte on the control stream, so the server can dispatch it. 0x02
// and 0x03 are reserved for future multiplexing.
const streamTypeSyncStream = 0x01

const readBufSize = 4096

var (
	// ErrDestroyed is returned by every entry point once the manager has
	// been destroyed.
	ErrDestroyed = errors.New("connmgr: manager destroyed")
	// ErrUnsupported is returned by Connect when no dialer was wired in,
	// the Go analogue of a host lacking QUIC-bidirectional-transport
	// support (see DESIGN.md).
	ErrUnsupported = errors.New("connmgr: QUIC bidirectional transport is not supported")
)

// TransportError wraps a lower-level transport failure from the open,
// write, read, or close path.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("connmgr: transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// Callbacks are the five nullable callback slots the manager dispatches
// to (close and error are separate slots). A deliberate cost/complexity
// tradeoff over a full pub/sub bus.
type Callbacks struct {
	OnStatus        func(Status)
	OnStreamMessage func([]byte)
	OnDatagram      func([]byte)
	OnClose         func(CloseEvent)
	OnError         func(error)
}

// Options configures a Manager.
type Options struct {
	// Addr is the dial target, already resolved to "host:port" by the
	// caller (the provider owns URL/room-path composition).
	Addr              string
	Room              string
	CertificateHashes []transport.CertificateHash
	Reconnect         ReconnectOptions
	// Dialer opens the QUIC connection. Leave nil to model a host without
	// QUIC-bidirectional-transport support (Connect then fails with
	// ErrUnsupported); production callers set it to transport.QUICDialer{}.
	Dialer transport.Dialer
	Logger logging.Logger
}

// Manager owns the connection lifecycle: dialing, the sync handshake,
// read loops, status transitions, and reconnection.
type Manager struct {
	addr       string
	room       string
	certHashes []transport.CertificateHash
	reconnect  ReconnectOptions
	dialer     transport.Dialer
	cb         Callbacks
	log        logging.Logger

	mu             sync.Mutex
	status         Status
	destroyed      bool
	attempts       int
	conn           transport.Connection
	stream         transport.Stream
	epochCancel    context.CancelFunc
	expectClose    bool
	reconnectTimer *time.Timer
}

// New constructs a Manager. Callbacks may be set any time before Connect.
func New(opts Options, cb Callbacks) *Manager {
	reconnect := opts.Reconnect
	if reconnect.MaxAttempts == 0 && reconnect.BaseDelay == 0 && reconnect.MaxDelay == 0 {
		reconnect = DefaultReconnectOptions()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop{}
	}
	return &Manager{
		addr:       opts.Addr,
		room:       opts.Room,
		certHashes: opts.CertificateHashes,
		reconnect:  reconnect,
		dialer:     opts.Dialer,
		cb:         cb,
		log:        log,
		status:     StatusDisconnected,
	}
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect opens the transport and begins the sync stream.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return ErrDestroyed
	}
	if m.dialer == nil {
		m.mu.Unlock()
		return ErrUnsupported
	}
	if m.status == StatusConnecting || m.status == StatusConnected {
		m.mu.Unlock()
		return nil // already connecting/connected
	}
	m.mu.Unlock()

	m.setStatus(StatusConnecting)

	conn, err := m.dialer.Dial(ctx, m.addr, m.certHashes)
	if err != nil {
		werr := &TransportError{Op: "open", Err: err}
		m.dispatchError(werr)
		m.setStatus(StatusDisconnected)
		m.scheduleReconnect()
		return werr
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		werr := &TransportError{Op: "open-stream", Err: err}
		m.dispatchError(werr)
		m.setStatus(StatusDisconnected)
		m.scheduleReconnect()
		return werr
	}

	if err := m.writeHandshake(stream); err != nil {
		stream.Close()
		conn.CloseWithError(0, "")
		werr := &TransportError{Op: "handshake", Err: err}
		m.dispatchError(werr)
		m.setStatus(StatusDisconnected)
		m.scheduleReconnect()
		return werr
	}

	epochCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(epochCtx)

	m.mu.Lock()
	m.conn = conn
	m.stream = stream
	m.epochCancel = cancel
	m.expectClose = false
	m.attempts = 0
	m.mu.Unlock()

	g.Go(func() error { return m.streamReadLoop(gctx, conn, stream) })
	g.Go(func() error { return m.datagramReadLoop(gctx, conn) })
	go m.watchClose(conn)
	go func() {
		_ = g.Wait() // reader goroutines exit when the epoch context is canceled
	}()

	m.setStatus(StatusConnected)
	return nil
}

// writeHandshake writes the stream-type marker followed by the room name,
// framed the same way application messages are (see DESIGN.md for why the
// room identifier needs an explicit frame here, where a browser
// WebTransport client would instead carry it in the connecting URL).
func (m *Manager) writeHandshake(stream transport.Stream) error {
	if _, err := stream.Write([]byte{streamTypeSyncStream}); err != nil {
		return err
	}
	roomFrame, err := wire.EncodeFrame([]byte(m.room))
	if err != nil {
		return err
	}
	_, err = stream.Write(roomFrame)
	return err
}

func (m *Manager) streamReadLoop(ctx context.Context, conn transport.Connection, stream transport.Stream) error {
	var reassembly []byte
	buf := make([]byte, readBufSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			reassembly = append(reassembly, buf[:n]...)
			var frames [][]byte
			frames, reassembly = wire.DecodeFrames(reassembly)
			for _, f := range frames {
				cp := make([]byte, len(f))
				copy(cp, f)
				if cb := m.cb.OnStreamMessage; cb != nil {
					cb(cp)
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil // epoch torn down intentionally
			}
			if !errors.Is(err, io.EOF) {
				m.handleTransportFailure("stream-read", conn, err)
			}
			return err
		}
	}
}

func (m *Manager) datagramReadLoop(ctx context.Context, conn transport.Connection) error {
	for {
		b, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Datagram reader errors are logged, not a reconnect trigger:
			// the transport's own close future is authoritative.
			m.log.Warnf("connmgr: datagram read failed: %v", err)
			return err
		}
		cp := make([]byte, len(b))
		copy(cp, b)
		if cb := m.cb.OnDatagram; cb != nil {
			cb(cp)
		}
	}
}

func (m *Manager) watchClose(conn transport.Connection) {
	info := <-conn.Closed()

	m.mu.Lock()
	current := m.conn == conn
	// a later epoch has already replaced this connection
	replaced := m.conn != nil && !current
	expected := m.expectClose
	if current {
		m.cleanupLocked()
	}
	m.mu.Unlock()

	if expected || replaced {
		return
	}
	if cb := m.cb.OnClose; cb != nil {
		cb(CloseEvent{Code: info.Code, Reason: info.Reason})
	}
	if !current {
		// the stream-read path already handled this same failure and
		// scheduled the reconnect
		return
	}
	m.setStatus(StatusDisconnected)
	m.scheduleReconnect()
}

// handleTransportFailure reports a stream-read failure and schedules a
// reconnect. It is gated on m.conn identity, the same way watchClose is:
// whichever of the two (this or watchClose, racing on the same underlying
// failure) observes m.conn first clears it via cleanupLocked and schedules
// the reconnect, so the failure is counted once against the reconnect
// attempt budget. If this path wins, watchClose still delivers the close
// event but does not change the status or schedule another reconnect.
func (m *Manager) handleTransportFailure(op string, conn transport.Connection, err error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	expected := m.expectClose
	m.cleanupLocked()
	m.mu.Unlock()
	if expected {
		return
	}
	m.dispatchError(&TransportError{Op: op, Err: err})
	m.setStatus(StatusDisconnected)
	m.scheduleReconnect()
}

func (m *Manager) dispatchError(err error) {
	if cb := m.cb.OnError; cb != nil {
		cb(err)
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
	if cb := m.cb.OnStatus; cb != nil {
		cb(s)
	}
}

// SendSyncMessage frames payload and writes it to the stream. If no
// writer is currently held, the send is dropped; the caller is expected
// to requeue via resync on reconnect.
func (m *Manager) SendSyncMessage(payload []byte) error {
	frame, err := wire.EncodeFrame(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	conn := m.conn
	stream := m.stream
	m.mu.Unlock()
	if stream == nil {
		m.log.Debugf("connmgr: dropping sync message, no stream held")
		return nil
	}
	if _, err := stream.Write(frame); err != nil {
		m.handleTransportFailure("stream-write", conn, err)
		return nil
	}
	return nil
}

// SendDatagram acquires the datagram writer, writes, and swallows any
// failure; datagrams are best-effort by contract.
func (m *Manager) SendDatagram(payload []byte) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.SendDatagram(payload); err != nil {
		m.log.Debugf("connmgr: datagram send failed: %v", err)
	}
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	if m.attempts >= m.reconnect.MaxAttempts {
		m.log.Warnf("connmgr: giving up after %d reconnect attempts", m.attempts)
		m.mu.Unlock()
		return
	}
	if m.status == StatusReconnecting {
		m.mu.Unlock()
		return // already scheduled for this failure epoch
	}
	k := m.attempts
	m.attempts++
	delay := backoffDelay(m.reconnect, k, defaultJitter)
	m.status = StatusReconnecting
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() {
		_ = m.Connect(context.Background())
	})
	m.mu.Unlock()

	if cb := m.cb.OnStatus; cb != nil {
		cb(StatusReconnecting)
	}
}

// cleanupLocked releases the stream/connection handles. Callers must hold m.mu.
func (m *Manager) cleanupLocked() {
	if m.epochCancel != nil {
		m.epochCancel()
		m.epochCancel = nil
	}
	m.stream = nil
	m.conn = nil
}

// Disconnect cancels any pending reconnect, requests transport close with
// code 1000, and reports disconnected. It does not schedule a reconnect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.expectClose = true
	m.mu.Unlock()

	var result *multierror.Error
	if conn != nil {
		if err := conn.CloseWithError(1000, "Client disconnect"); err != nil {
			result = multierror.Append(result, fmt.Errorf("close transport: %w", err))
		}
	}

	m.mu.Lock()
	m.cleanupLocked()
	m.mu.Unlock()

	m.setStatus(StatusDisconnected)
	return result.ErrorOrNil()
}

// Destroy marks the manager destroyed and disconnects without scheduling a
// reconnect. Destroy never returns by panicking; errors are folded into the
// returned multierror for callers that want to observe them.
func (m *Manager) Destroy() error {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil
	}
	m.destroyed = true
	m.mu.Unlock()
	return m.Disconnect()
}
