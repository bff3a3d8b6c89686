package qcollab_test

import (
	"encoding/json"
	"sync"

	"github.com/crdtsync/qcollab/crdt"
)

// fakeProviderAwareness is a minimal crdt.Awareness used only to satisfy
// Provider's construction requirements in provider_test.go; the awareness
// pipeline itself is exercised directly in internal/awareness's own tests.
type fakeProviderAwareness struct {
	mu       sync.Mutex
	clientID uint32
	local    interface{}
	localOK  bool
}

func newFakeProviderAwareness(clientID uint32) *fakeProviderAwareness {
	return &fakeProviderAwareness{clientID: clientID}
}

func (a *fakeProviderAwareness) ClientID() uint32 { return a.clientID }

func (a *fakeProviderAwareness) LocalState() (interface{}, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local, a.localOK
}

func (a *fakeProviderAwareness) States() map[uint32]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := map[uint32]interface{}{}
	if a.localOK {
		out[a.clientID] = a.local
	}
	return out
}

func (a *fakeProviderAwareness) SetLocalStateField(field string, value interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, _ := a.local.(map[string]interface{})
	if m == nil {
		m = map[string]interface{}{}
	}
	m[field] = value
	a.local = m
	a.localOK = true
	return nil
}

func (a *fakeProviderAwareness) EncodeUpdate(clients []uint32) ([]byte, error) {
	return json.Marshal(a.States())
}

func (a *fakeProviderAwareness) ApplyUpdate(update []byte, origin interface{}) error {
	return nil
}

func (a *fakeProviderAwareness) OnChange(fn crdt.ChangeHandler) func() {
	return func() {}
}

var _ crdt.Awareness = (*fakeProviderAwareness)(nil)
