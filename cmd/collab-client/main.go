package main

import (
	"encoding/json"
	"flag"
	"log"

	"github.com/crdtsync/qcollab"
	"github.com/crdtsync/qcollab/crdt"
)

func main() {
	server := flag.String("server", "https://localhost:4433", "relay server authority")
	room := flag.String("room", "demo", "room name")
	flag.Parse()

	doc := newMemDoc()

	p, err := qcollab.New(*server, *room, doc, qcollab.Options{
		NewAwareness: func(doc crdt.Doc) (crdt.Awareness, error) {
			return newMemAwareness(1), nil
		},
	})
	if err != nil {
		log.Fatalf("collab-client: %v", err)
	}

	p.OnStatus(func(s qcollab.Status) { log.Printf("status: %s", s) })
	p.OnSynced(func(synced bool) { log.Printf("synced: %v", synced) })
	p.OnConnectionError(func(err error) { log.Printf("connection error: %v", err) })
	p.OnConnectionClose(func(ev qcollab.CloseEvent) { log.Printf("closed: code=%d reason=%q", ev.Code, ev.Reason) })

	_ = p.Awareness().SetLocalStateField("cursor", map[string]int{"line": 0, "col": 0})

	select {}
}

// memDoc is a minimal crdt.Doc stand-in for the demo binary: a single
// opaque blob treated as the whole document state. A real deployment
// supplies an actual CRDT engine.
type memDoc struct {
	state     []byte
	listeners []crdt.UpdateHandler
}

func newMemDoc() *memDoc { return &memDoc{} }

func (d *memDoc) ApplyUpdate(update []byte, origin interface{}) error {
	d.state = append([]byte(nil), update...)
	for _, l := range d.listeners {
		l(update, origin)
	}
	return nil
}

func (d *memDoc) EncodeStateAsUpdate() ([]byte, error) { return d.state, nil }
func (d *memDoc) EncodeStateVector() ([]byte, error)   { return d.state, nil }
func (d *memDoc) EncodeDiff(remoteStateVector []byte) ([]byte, error) {
	if string(remoteStateVector) == string(d.state) {
		return nil, nil
	}
	return d.state, nil
}

func (d *memDoc) OnUpdate(fn crdt.UpdateHandler) func() {
	d.listeners = append(d.listeners, fn)
	idx := len(d.listeners) - 1
	return func() { d.listeners[idx] = nil }
}

// memAwareness is a minimal crdt.Awareness stand-in keyed by JSON-encodable
// field maps, enough to exercise the awareness pipeline end to end.
type memAwareness struct {
	clientID  uint32
	local     map[string]interface{}
	localSet  bool
	states    map[uint32]interface{}
	listeners []crdt.ChangeHandler
}

func newMemAwareness(clientID uint32) *memAwareness {
	return &memAwareness{clientID: clientID, states: map[uint32]interface{}{}}
}

func (a *memAwareness) ClientID() uint32 { return a.clientID }

func (a *memAwareness) LocalState() (interface{}, bool) { return a.local, a.localSet }

func (a *memAwareness) States() map[uint32]interface{} {
	out := make(map[uint32]interface{}, len(a.states)+1)
	for k, v := range a.states {
		out[k] = v
	}
	if a.localSet {
		out[a.clientID] = a.local
	}
	return out
}

func (a *memAwareness) SetLocalStateField(field string, value interface{}) error {
	if a.local == nil {
		a.local = map[string]interface{}{}
	}
	a.local[field] = value
	a.localSet = true
	for _, l := range a.listeners {
		if l != nil {
			l([]uint32{a.clientID}, nil, nil, nil)
		}
	}
	return nil
}

func (a *memAwareness) EncodeUpdate(clients []uint32) ([]byte, error) {
	out := map[uint32]interface{}{}
	for _, id := range clients {
		if id == a.clientID && a.localSet {
			out[id] = a.local
		} else if s, ok := a.states[id]; ok {
			out[id] = s
		}
	}
	return json.Marshal(out)
}

func (a *memAwareness) ApplyUpdate(update []byte, origin interface{}) error {
	var in map[uint32]interface{}
	if err := json.Unmarshal(update, &in); err != nil {
		return err
	}
	var added []uint32
	for id, s := range in {
		if id == a.clientID {
			continue
		}
		if _, existed := a.states[id]; !existed {
			added = append(added, id)
		}
		a.states[id] = s
	}
	for _, l := range a.listeners {
		if l != nil {
			l(added, nil, nil, origin)
		}
	}
	return nil
}

func (a *memAwareness) OnChange(fn crdt.ChangeHandler) func() {
	a.listeners = append(a.listeners, fn)
	idx := len(a.listeners) - 1
	return func() { a.listeners[idx] = nil }
}
