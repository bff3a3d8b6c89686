package awareness_test

import (
	"encoding/json"
	"sync"

	"github.com/crdtsync/qcollab/crdt"
)

// fakeAwareness is a hand-authored substitute for crdt.Awareness, recording
// calls the way a generated mock would while staying simple enough to drive
// by hand from a test.
type fakeAwareness struct {
	mu        sync.Mutex
	clientID  uint32
	local     interface{}
	localOK   bool
	states    map[uint32]interface{}
	listeners []crdt.ChangeHandler
	applied   []appliedUpdate
}

type appliedUpdate struct {
	body   []byte
	origin interface{}
}

func newFakeAwareness(clientID uint32) *fakeAwareness {
	return &fakeAwareness{clientID: clientID, states: map[uint32]interface{}{}}
}

func (a *fakeAwareness) ClientID() uint32 { return a.clientID }

func (a *fakeAwareness) LocalState() (interface{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local, a.localOK
}

func (a *fakeAwareness) States() map[uint32]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint32]interface{}, len(a.states)+1)
	for k, v := range a.states {
		out[k] = v
	}
	if a.localOK {
		out[a.clientID] = a.local
	}
	return out
}

func (a *fakeAwareness) SetLocalStateField(field string, value interface{}) error {
	a.mu.Lock()
	m, _ := a.local.(map[string]interface{})
	if m == nil {
		m = map[string]interface{}{}
	}
	m[field] = value
	a.local = m
	a.localOK = true
	listeners := append([]crdt.ChangeHandler(nil), a.listeners...)
	a.mu.Unlock()

	for _, l := range listeners {
		if l != nil {
			l([]uint32{a.clientID}, nil, nil, nil)
		}
	}
	return nil
}

// clearLocalState simulates the local presence being cleared (no datagram
// should be emitted afterwards).
func (a *fakeAwareness) clearLocalState() {
	a.mu.Lock()
	a.local = nil
	a.localOK = false
	a.mu.Unlock()
}

func (a *fakeAwareness) EncodeUpdate(clients []uint32) ([]byte, error) {
	a.mu.Lock()
	out := map[uint32]interface{}{}
	for _, id := range clients {
		if id == a.clientID && a.localOK {
			out[id] = a.local
		} else if s, ok := a.states[id]; ok {
			out[id] = s
		}
	}
	a.mu.Unlock()
	return json.Marshal(out)
}

func (a *fakeAwareness) ApplyUpdate(update []byte, origin interface{}) error {
	a.mu.Lock()
	a.applied = append(a.applied, appliedUpdate{body: append([]byte(nil), update...), origin: origin})
	a.mu.Unlock()
	return nil
}

func (a *fakeAwareness) OnChange(fn crdt.ChangeHandler) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
	idx := len(a.listeners) - 1
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.listeners[idx] = nil
	}
}

var _ crdt.Awareness = (*fakeAwareness)(nil)
