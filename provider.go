// Package qcollab binds a local CRDT document replica to a remote relay
// over a QUIC-based bidirectional transport: it runs the two-phase sync
// handshake, streams incremental updates without echo, and maintains
// per-client presence over an unreliable datagram channel. See
// internal/connmgr, internal/awareness and internal/wire for the pieces
// this package wires together.
package qcollab

import (
	"context"
	"sync"
	"time"

	"github.com/crdtsync/qcollab/crdt"
	"github.com/crdtsync/qcollab/internal/awareness"
	"github.com/crdtsync/qcollab/internal/connmgr"
	"github.com/crdtsync/qcollab/internal/logging"
	"github.com/crdtsync/qcollab/internal/transport"
	"github.com/crdtsync/qcollab/internal/wire"
)

// originRemote is the stable, comparable token passed as origin whenever
// the provider applies a remote update, so the document's own update
// event can be checked for self-produced echo.
type originRemote struct{}

// Provider is the public orchestrator: it owns the connection manager and
// the awareness pipeline, runs the sync handshake, and exposes the
// observable surface below.
type Provider struct {
	ServerURL string
	RoomName  string
	Doc       crdt.Doc

	opts Options
	mgr  *connmgr.Manager

	mu          sync.Mutex
	awr         crdt.Awareness
	pipeline    *awareness.Pipeline
	synced      bool
	destroyed   bool
	docUnsub    func()
	resyncStop  chan struct{}
	resyncTimer *time.Ticker

	statusCb    []func(Status)
	syncedCb    []func(bool)
	syncCb      []func(bool)
	connErrCb   []func(error)
	connCloseCb []func(CloseEvent)
}

// New constructs a Provider bound to doc and, unless opts.Awareness or
// opts.NewAwareness supplies one, a freshly constructed awareness
// instance. Unless opts.Connect is false, Connect is called before
// returning.
func New(serverURL, roomName string, doc crdt.Doc, opts Options) (*Provider, error) {
	awr := opts.Awareness
	if awr == nil {
		if opts.NewAwareness == nil {
			return nil, ErrNoAwarenessFactory
		}
		var err error
		awr, err = opts.NewAwareness(doc)
		if err != nil {
			return nil, err
		}
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = transport.QUICDialer{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop{}
	}

	addr, err := resolveDialAddr(serverURL)
	if err != nil {
		return nil, err
	}

	p := &Provider{
		ServerURL: serverURL,
		RoomName:  roomName,
		Doc:       doc,
		opts:      opts,
		awr:       awr,
	}

	p.mgr = connmgr.New(connmgr.Options{
		Addr:              addr,
		Room:              roomName,
		CertificateHashes: opts.ServerCertificateHashes,
		Reconnect: connmgr.ReconnectOptions{
			MaxAttempts: orInt(opts.MaxReconnectAttempts, 10),
			BaseDelay:   orDuration(opts.ReconnectBaseDelay, time.Second),
			MaxDelay:    orDuration(opts.ReconnectMaxDelay, 30*time.Second),
		},
		Dialer: dialer,
		Logger: log,
	}, connmgr.Callbacks{
		OnStatus:        p.handleStatus,
		OnStreamMessage: p.handleStreamMessage,
		OnDatagram:      p.handleDatagram,
		OnClose:         p.handleClose,
		OnError:         p.handleError,
	})

	p.docUnsub = doc.OnUpdate(p.handleLocalUpdate)

	if boolOr(opts.Connect, true) {
		if err := p.Connect(context.Background()); err != nil && err != ErrUnsupported {
			return nil, err
		}
	}

	return p, nil
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// Connect opens the transport. A no-op if already connecting/connected
// (connmgr's own invariant); errors are also surfaced via OnConnectionError.
func (p *Provider) Connect(ctx context.Context) error {
	return p.mgr.Connect(ctx)
}

// Disconnect closes the transport without scheduling a reconnect.
func (p *Provider) Disconnect() error {
	return p.mgr.Disconnect()
}

// Status returns the connection manager's current status.
func (p *Provider) Status() Status {
	return p.mgr.Status()
}

// Synced reports whether the handshake has completed at least once since
// the last disconnect.
func (p *Provider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// Awareness returns the bound awareness instance.
func (p *Provider) Awareness() crdt.Awareness {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.awr
}

// OnStatus subscribes to connection status transitions.
func (p *Provider) OnStatus(fn func(Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusCb = append(p.statusCb, fn)
}

// OnSynced subscribes to edges of the synced flag.
func (p *Provider) OnSynced(fn func(bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncedCb = append(p.syncedCb, fn)
}

// OnSync is a compatibility alias firing once per synced(true) transition.
func (p *Provider) OnSync(fn func(bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncCb = append(p.syncCb, fn)
}

// OnConnectionError subscribes to transport-level errors.
func (p *Provider) OnConnectionError(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connErrCb = append(p.connErrCb, fn)
}

// OnConnectionClose subscribes to transport close events.
func (p *Provider) OnConnectionClose(fn func(CloseEvent)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connCloseCb = append(p.connCloseCb, fn)
}

func (p *Provider) handleStatus(s Status) {
	p.mu.Lock()
	wasSynced := p.synced
	becameUnsynced := s == StatusDisconnected && wasSynced
	if becameUnsynced {
		p.synced = false
	}
	cbs := append([]func(Status)(nil), p.statusCb...)
	syncedCbs := append([]func(bool)(nil), p.syncedCb...)
	p.mu.Unlock()

	if s == StatusConnected {
		p.startHandshake()
		p.startResync()
	} else {
		p.stopResync()
	}

	for _, cb := range cbs {
		cb(s)
	}
	if becameUnsynced {
		for _, cb := range syncedCbs {
			cb(false)
		}
	}
}

// startResync arms the periodic sync-step-1 re-send (resyncInterval,
// default 0, disabled). Outside the core protocol; a convenience for
// long-lived connections that want to self-heal drift
// without waiting for a disconnect/reconnect cycle.
func (p *Provider) startResync() {
	if p.opts.ResyncInterval <= 0 {
		return
	}
	p.mu.Lock()
	if p.resyncTimer != nil {
		p.mu.Unlock()
		return
	}
	p.resyncTimer = time.NewTicker(p.opts.ResyncInterval)
	p.resyncStop = make(chan struct{})
	ticker := p.resyncTimer
	stop := p.resyncStop
	p.mu.Unlock()

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.sendStateVector()
			}
		}
	}()
}

func (p *Provider) stopResync() {
	p.mu.Lock()
	ticker := p.resyncTimer
	stop := p.resyncStop
	p.resyncTimer = nil
	p.resyncStop = nil
	p.mu.Unlock()
	if ticker != nil {
		ticker.Stop()
	}
	if stop != nil {
		close(stop)
	}
}

// startHandshake constructs and starts the awareness pipeline, then sends
// sync-step-1. Holds no lock across the blocking sends; only
// the pipeline field assignment is guarded.
func (p *Provider) startHandshake() {
	send := awareness.SendFuncs{
		Stream:   p.mgr.SendSyncMessage,
		Datagram: p.mgr.SendDatagram,
	}
	pipelineOpts := awareness.Options{
		UseDatagrams:      boolOr(p.opts.UseUnreliableAwareness, true),
		BroadcastInterval: orDuration(p.opts.AwarenessUpdateInterval, awareness.DefaultBroadcastInterval),
		StaleThreshold:    orDuration(p.opts.AwarenessStaleThreshold, awareness.DefaultStaleThreshold),
		Codec:             p.opts.AwarenessCodec,
	}
	pipeline := awareness.New(p.awr, send, pipelineOpts, p.opts.Logger)

	p.mu.Lock()
	p.pipeline = pipeline
	p.mu.Unlock()

	if err := pipeline.Start(); err != nil {
		p.dispatchError(err)
	}
	p.sendStateVector()
}

func (p *Provider) sendStateVector() {
	sv, err := p.Doc.EncodeStateVector()
	if err != nil {
		p.dispatchError(err)
		return
	}
	_ = p.mgr.SendSyncMessage(wire.EncodeMessage(wire.MessageSyncStep1, sv))
}

func (p *Provider) handleStreamMessage(frame []byte) {
	tag, body, err := wire.DecodeMessage(frame)
	if err != nil {
		return
	}
	switch tag {
	case wire.MessageSyncStep1:
		p.handleSyncStep1(body)
	case wire.MessageSyncStep2:
		p.applyRemoteUpdate(body)
		p.markSynced()
	case wire.MessageUpdate:
		p.applyRemoteUpdate(body)
	case wire.MessageAwareness:
		p.mu.Lock()
		pipeline := p.pipeline
		p.mu.Unlock()
		if pipeline != nil {
			pipeline.HandleStreamFrame(frame)
		}
	default:
		// unknown tag: forward-compatible, log and discard
		if p.opts.Logger != nil {
			p.opts.Logger.Warnf("qcollab: unknown message tag %d, discarding", byte(tag))
		}
	}
}

func (p *Provider) handleSyncStep1(remoteStateVector []byte) {
	diff, err := p.Doc.EncodeDiff(remoteStateVector)
	if err != nil {
		p.dispatchError(err)
		return
	}
	if len(diff) > 0 {
		body, werr := wire.Wrap(compressionCodecFor(diff), diff)
		if werr != nil {
			p.dispatchError(werr)
			return
		}
		_ = p.mgr.SendSyncMessage(wire.EncodeMessage(wire.MessageSyncStep2, body))
	}

	p.mu.Lock()
	already := p.synced
	p.mu.Unlock()
	if !already {
		p.sendStateVector()
	}
}

// compressionCodecFor picks S2 for bodies worth compressing and CodecNone
// otherwise; sync-step-2/update bodies always carry the one-byte envelope
// so the receiving side can unwrap unconditionally.
func compressionCodecFor(body []byte) wire.CompressionCodec {
	if wire.ShouldCompress(body) {
		return wire.CodecS2
	}
	return wire.CodecNone
}

func (p *Provider) applyRemoteUpdate(body []byte) {
	update, err := wire.Unwrap(body)
	if err != nil {
		p.dispatchError(err)
		return
	}
	if err := p.Doc.ApplyUpdate(update, originRemote{}); err != nil {
		p.dispatchError(err)
	}
}

func (p *Provider) markSynced() {
	p.mu.Lock()
	if p.synced {
		p.mu.Unlock()
		return
	}
	p.synced = true
	syncedCbs := append([]func(bool)(nil), p.syncedCb...)
	syncCbs := append([]func(bool)(nil), p.syncCb...)
	p.mu.Unlock()

	for _, cb := range syncedCbs {
		cb(true)
	}
	for _, cb := range syncCbs {
		cb(true)
	}
}

func (p *Provider) handleDatagram(payload []byte) {
	p.mu.Lock()
	pipeline := p.pipeline
	p.mu.Unlock()
	if pipeline != nil {
		pipeline.HandleDatagram(payload)
	}
}

func (p *Provider) handleClose(ev CloseEvent) {
	p.mu.Lock()
	cbs := append([]func(CloseEvent)(nil), p.connCloseCb...)
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

func (p *Provider) handleError(err error) {
	p.dispatchError(err)
}

func (p *Provider) dispatchError(err error) {
	p.mu.Lock()
	cbs := append([]func(error)(nil), p.connErrCb...)
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(err)
	}
}

// handleLocalUpdate is wired to doc.OnUpdate. Updates tagged
// with this provider's own origin token are echoes of an applied remote
// message and are dropped; everything else is sent as [0x02, update] if
// currently connected, or silently dropped if not (the next handshake
// reconciles).
func (p *Provider) handleLocalUpdate(update []byte, origin interface{}) {
	if _, isEcho := origin.(originRemote); isEcho {
		return
	}
	if p.mgr.Status() != StatusConnected {
		return
	}
	body, err := wire.Wrap(compressionCodecFor(update), update)
	if err != nil {
		p.dispatchError(err)
		return
	}
	_ = p.mgr.SendSyncMessage(wire.EncodeMessage(wire.MessageUpdate, body))
}

// Destroy is idempotent: it destroys the awareness pipeline and the
// awareness object (if it implements a Destroy() method), destroys the
// connection manager, and unsubscribes from the document.
func (p *Provider) Destroy() error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil
	}
	p.destroyed = true
	pipeline := p.pipeline
	unsub := p.docUnsub
	p.mu.Unlock()

	p.stopResync()
	if pipeline != nil {
		pipeline.Destroy()
	}
	if d, ok := p.awr.(interface{ Destroy() error }); ok {
		_ = d.Destroy()
	}
	if unsub != nil {
		unsub()
	}
	return p.mgr.Destroy()
}

// Endpoint returns the logical room URL for introspection; it is never
// dialed directly.
func (p *Provider) Endpoint() string {
	return endpoint(p.ServerURL, p.RoomName, p.opts.Params)
}
