// Package awareness implements the presence pipeline: local state changes
// go out over datagrams (or the stream when datagrams are disabled),
// remote datagrams are applied with per-client clock loss/reorder
// tolerance, and a reliable full-state snapshot goes out on start so a
// newly connected peer learns pre-existing presence.
package awareness

import (
	"sync"
	"time"

	"github.com/crdtsync/qcollab/crdt"
	"github.com/crdtsync/qcollab/internal/logging"
	"github.com/crdtsync/qcollab/internal/wire"
)

const (
	// DefaultBroadcastInterval is the periodic datagram refresh period.
	DefaultBroadcastInterval = 50 * time.Millisecond
	// DefaultStaleThreshold is how long a peer may go unseen before
	// EvictStale removes it.
	DefaultStaleThreshold = 10 * time.Second

	originRemoteStream   = "remote-stream"
	originRemoteDatagram = "remote-datagram"
)

// SendFuncs are the two send closures the pipeline is wired to (spec
// §4.4's "two send closures (stream, datagram)").
type SendFuncs struct {
	// Stream sends a tagged message payload on the control stream; the
	// caller (connmgr.Manager.SendSyncMessage) applies the length-prefix
	// framing from §4.1.
	Stream func(payload []byte) error
	// Datagram sends raw bytes on the unreliable channel.
	Datagram func(payload []byte)
}

// Options tunes the pipeline.
type Options struct {
	UseDatagrams      bool
	BroadcastInterval time.Duration
	StaleThreshold    time.Duration
	Codec             StateCodec
}

// DefaultOptions returns the documented default tuning.
func DefaultOptions() Options {
	return Options{
		UseDatagrams:      true,
		BroadcastInterval: DefaultBroadcastInterval,
		StaleThreshold:    DefaultStaleThreshold,
		Codec:             JSONCodec{},
	}
}

// Pipeline is the awareness pipeline.
type Pipeline struct {
	awr  crdt.Awareness
	send SendFuncs
	opts Options
	log  logging.Logger

	mu             sync.Mutex
	localClock     uint32
	remote         *remoteTable
	remotePresence map[uint32]interface{} // dedicated remote mirror; never written into awr's own local state
	listeners      []crdt.ChangeHandler
	unsubscribe    func()
	stopBroadcast  chan struct{}
	started        bool
}

// New constructs a Pipeline bound to awr and the two send closures.
func New(awr crdt.Awareness, send SendFuncs, opts Options, log logging.Logger) *Pipeline {
	if opts.BroadcastInterval == 0 {
		opts.BroadcastInterval = DefaultBroadcastInterval
	}
	if opts.StaleThreshold == 0 {
		opts.StaleThreshold = DefaultStaleThreshold
	}
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Pipeline{
		awr:            awr,
		send:           send,
		opts:           opts,
		log:            log,
		remote:         newRemoteTable(),
		remotePresence: make(map[uint32]interface{}),
	}
}

// OnChange subscribes to synthetic change events produced by the datagram
// path.
func (p *Pipeline) OnChange(fn crdt.ChangeHandler) (unsubscribe func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
	idx := len(p.listeners) - 1
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.listeners[idx] = nil
	}
}

// RemoteStates returns the current mirror of remote presence learned over
// datagrams. It never reflects the local client and is kept separate from
// the awr object's own state, so a stale or out-of-order datagram can
// never corrupt the local client's own presence record.
func (p *Pipeline) RemoteStates() map[uint32]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[uint32]interface{}, len(p.remotePresence))
	for k, v := range p.remotePresence {
		out[k] = v
	}
	return out
}

// Start subscribes to local awareness changes, sends the initial reliable
// snapshot, and (if datagrams are enabled) starts the periodic
// broadcaster.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	p.unsubscribe = p.awr.OnChange(p.onLocalChange)

	if err := p.sendInitialSnapshot(); err != nil {
		return err
	}

	if p.opts.UseDatagrams {
		p.mu.Lock()
		p.stopBroadcast = make(chan struct{})
		stop := p.stopBroadcast
		p.mu.Unlock()
		go p.broadcastLoop(stop)
	}
	return nil
}

// sendInitialSnapshot sends a reliable full-state awareness frame
// covering every currently known client, including local.
func (p *Pipeline) sendInitialSnapshot() error {
	states := p.awr.States()
	clients := make([]uint32, 0, len(states))
	for id := range states {
		clients = append(clients, id)
	}
	body, err := p.awr.EncodeUpdate(clients)
	if err != nil {
		return err
	}
	codec := wire.CodecNone
	if wire.ShouldCompress(body) {
		codec = wire.CodecBrotli
	}
	wrapped, err := wire.Wrap(codec, body)
	if err != nil {
		return err
	}
	return p.send.Stream(wire.EncodeMessage(wire.MessageAwareness, wrapped))
}

func (p *Pipeline) broadcastLoop(stop chan struct{}) {
	ticker := time.NewTicker(p.opts.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.sendLocalDatagram()
		}
	}
}

// onLocalChange is wired to awr.OnChange. For every change whose set
// added∪updated∪removed contains the local client id, the local state
// goes out immediately, via datagram if enabled, otherwise framed on the
// stream.
func (p *Pipeline) onLocalChange(added, updated, removed []uint32, origin interface{}) {
	local := p.awr.ClientID()
	if !containsClient(local, added, updated, removed) {
		return
	}
	if p.opts.UseDatagrams {
		p.sendLocalDatagram()
		return
	}
	body, err := p.awr.EncodeUpdate([]uint32{local})
	if err != nil {
		p.log.Errorf("awareness: encode update for local change failed: %v", err)
		return
	}
	wrapped, err := wire.Wrap(wire.CodecNone, body)
	if err != nil {
		p.log.Errorf("awareness: wrap update for local change failed: %v", err)
		return
	}
	if err := p.send.Stream(wire.EncodeMessage(wire.MessageAwareness, wrapped)); err != nil {
		p.log.Debugf("awareness: stream send failed: %v", err)
	}
}

func (p *Pipeline) sendLocalDatagram() {
	state, ok := p.awr.LocalState()
	if !ok {
		return // local state cleared: no datagram
	}
	encoded, err := p.opts.Codec.Encode(state)
	if err != nil {
		p.log.Errorf("awareness: encode local state failed: %v", err)
		return
	}
	p.mu.Lock()
	p.localClock++
	clock := p.localClock
	p.mu.Unlock()
	datagram := wire.EncodeAwarenessDatagram(p.awr.ClientID(), clock, encoded)
	p.send.Datagram(datagram)
}

// HandleStreamFrame is wired to the provider's dispatch for an inbound
// 0x03 frame: the full frame, tag included, is stripped, the compression
// envelope is unwrapped, and the result is applied via the external
// awareness codec with origin "remote-stream".
func (p *Pipeline) HandleStreamFrame(frame []byte) {
	_, wrapped, err := wire.DecodeMessage(frame)
	if err != nil {
		p.log.Warnf("awareness: empty stream frame")
		return
	}
	body, err := wire.Unwrap(wrapped)
	if err != nil {
		p.log.Warnf("awareness: malformed compression envelope: %v", err)
		return
	}
	if err := p.awr.ApplyUpdate(body, originRemoteStream); err != nil {
		p.log.Errorf("awareness: apply stream update failed: %v", err)
	}
}

// HandleDatagram is wired to the connection manager's datagram callback.
func (p *Pipeline) HandleDatagram(payload []byte) {
	clientID, clock, stateBytes, err := wire.DecodeAwarenessDatagram(payload)
	if err != nil {
		p.log.Warnf("awareness: malformed datagram: %v", err)
		return
	}
	if clientID == p.awr.ClientID() {
		return // self-echo
	}

	p.mu.Lock()
	accepted := p.remote.accept(clientID, clock, time.Now())
	p.mu.Unlock()
	if !accepted {
		return // old/duplicate
	}

	state, err := p.opts.Codec.Decode(stateBytes)
	if err != nil {
		p.log.Warnf("awareness: malformed datagram state for client %d: %v", clientID, err)
		return
	}

	p.mu.Lock()
	p.remotePresence[clientID] = state
	listeners := append([]crdt.ChangeHandler(nil), p.listeners...)
	p.mu.Unlock()

	for _, l := range listeners {
		if l == nil {
			continue
		}
		l(nil, []uint32{clientID}, nil, originRemoteDatagram)
	}
}

// EvictStale scans the remote-clock table for clients unseen for longer
// than the configured threshold and removes them from both the table and
// the local mirror. Callers invoke this on demand.
func (p *Pipeline) EvictStale() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	stale := p.remote.stale(time.Now(), p.opts.StaleThreshold)
	for _, id := range stale {
		p.remote.evict(id)
		delete(p.remotePresence, id)
	}
	return stale
}

// Stop cancels the periodic broadcast task.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	stop := p.stopBroadcast
	p.stopBroadcast = nil
	unsub := p.unsubscribe
	p.unsubscribe = nil
	p.started = false
	p.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if unsub != nil {
		unsub()
	}
}

// Destroy stops the pipeline and clears the remote-clock table.
func (p *Pipeline) Destroy() {
	p.Stop()
	p.mu.Lock()
	p.remote.clear()
	p.remotePresence = make(map[uint32]interface{})
	p.mu.Unlock()
}

func containsClient(id uint32, sets ...[]uint32) bool {
	for _, s := range sets {
		for _, v := range s {
			if v == id {
				return true
			}
		}
	}
	return false
}
