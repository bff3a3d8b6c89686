package awareness_test

import (
	"encoding/json"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/crdtsync/qcollab/internal/awareness"
	"github.com/crdtsync/qcollab/internal/wire"
)

type recordingSend struct {
	mu        sync.Mutex
	streamMsg [][]byte
	datagrams [][]byte
}

func (r *recordingSend) funcs() awareness.SendFuncs {
	return awareness.SendFuncs{
		Stream: func(p []byte) error {
			r.mu.Lock()
			r.streamMsg = append(r.streamMsg, append([]byte(nil), p...))
			r.mu.Unlock()
			return nil
		},
		Datagram: func(p []byte) {
			r.mu.Lock()
			r.datagrams = append(r.datagrams, append([]byte(nil), p...))
			r.mu.Unlock()
		},
	}
}

func (r *recordingSend) datagramCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.datagrams)
}

func (r *recordingSend) lastDatagram() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.datagrams) == 0 {
		return nil
	}
	return r.datagrams[len(r.datagrams)-1]
}

func (r *recordingSend) streamCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streamMsg)
}

var _ = Describe("Pipeline", func() {
	It("sends a reliable full-state snapshot on Start", func() {
		awr := newFakeAwareness(1)
		awr.states[2] = map[string]interface{}{"name": "bob"}
		send := &recordingSend{}
		p := awareness.New(awr, send.funcs(), awareness.Options{UseDatagrams: false}, nil)

		Expect(p.Start()).To(Succeed())
		Expect(send.streamCount()).To(Equal(1))

		_, body, err := wire.DecodeMessage(send.streamMsg[0])
		Expect(err).NotTo(HaveOccurred())
		_, err = wire.Unwrap(body)
		Expect(err).NotTo(HaveOccurred())
	})

	It("emits a datagram immediately on a local change when datagrams are enabled", func() {
		awr := newFakeAwareness(1)
		send := &recordingSend{}
		p := awareness.New(awr, send.funcs(), awareness.Options{UseDatagrams: true}, nil)
		Expect(p.Start()).To(Succeed())
		defer p.Destroy()

		Expect(awr.SetLocalStateField("cursor", 3)).To(Succeed())

		Eventually(send.datagramCount, time.Second, 5*time.Millisecond).Should(BeNumerically(">=", 1))
		id, _, _, err := wire.DecodeAwarenessDatagram(send.lastDatagram())
		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal(uint32(1)))
	})

	It("emits no datagram once the local state is cleared", func() {
		awr := newFakeAwareness(1)
		send := &recordingSend{}
		p := awareness.New(awr, send.funcs(), awareness.Options{UseDatagrams: true, BroadcastInterval: 10 * time.Millisecond}, nil)
		Expect(p.Start()).To(Succeed())
		defer p.Destroy()

		awr.clearLocalState()
		before := send.datagramCount()
		time.Sleep(60 * time.Millisecond)
		Expect(send.datagramCount()).To(Equal(before))
	})

	It("broadcasts at roughly the configured interval", func() {
		awr := newFakeAwareness(1)
		Expect(awr.SetLocalStateField("cursor", 0)).To(Succeed())
		send := &recordingSend{}
		p := awareness.New(awr, send.funcs(), awareness.Options{UseDatagrams: true, BroadcastInterval: 50 * time.Millisecond}, nil)
		Expect(p.Start()).To(Succeed())
		defer p.Destroy()

		time.Sleep(time.Second)
		n := send.datagramCount()
		Expect(n).To(BeNumerically(">=", 18))
		Expect(n).To(BeNumerically("<=", 23))
	})

	It("applies the highest clock out of an out-of-order datagram sequence", func() {
		awr := newFakeAwareness(1)
		send := &recordingSend{}
		p := awareness.New(awr, send.funcs(), awareness.Options{UseDatagrams: false}, nil)
		Expect(p.Start()).To(Succeed())
		defer p.Destroy()

		var lastAdded []uint32
		p.OnChange(func(added, updated, removed []uint32, origin interface{}) {
			lastAdded = append(lastAdded, updated...)
		})

		send1, _ := json.Marshal("first")
		send4, _ := json.Marshal("fourth")
		p.HandleDatagram(wire.EncodeAwarenessDatagram(2, 3, send1))
		p.HandleDatagram(wire.EncodeAwarenessDatagram(2, 1, send1))
		p.HandleDatagram(wire.EncodeAwarenessDatagram(2, 2, send1))
		p.HandleDatagram(wire.EncodeAwarenessDatagram(2, 4, send4))

		states := p.RemoteStates()
		Expect(states[2]).To(Equal("fourth"))
		Expect(lastAdded).To(ContainElement(uint32(2)))
	})

	It("drops a datagram whose clock does not exceed the recorded clock", func() {
		awr := newFakeAwareness(1)
		send := &recordingSend{}
		p := awareness.New(awr, send.funcs(), awareness.Options{UseDatagrams: false}, nil)
		Expect(p.Start()).To(Succeed())
		defer p.Destroy()

		events := 0
		p.OnChange(func(added, updated, removed []uint32, origin interface{}) { events++ })

		body, _ := json.Marshal("x")
		p.HandleDatagram(wire.EncodeAwarenessDatagram(9, 5, body))
		Expect(events).To(Equal(1))

		p.HandleDatagram(wire.EncodeAwarenessDatagram(9, 5, body))
		Expect(events).To(Equal(1))
	})

	It("drops a datagram whose clientId equals the local client (self-echo)", func() {
		awr := newFakeAwareness(1)
		send := &recordingSend{}
		p := awareness.New(awr, send.funcs(), awareness.Options{UseDatagrams: false}, nil)
		Expect(p.Start()).To(Succeed())
		defer p.Destroy()

		body, _ := json.Marshal("self")
		p.HandleDatagram(wire.EncodeAwarenessDatagram(1, 1, body))
		Expect(p.RemoteStates()).To(BeEmpty())
	})

	It("evicts stale remote clients from both the table and the mirror", func() {
		awr := newFakeAwareness(1)
		send := &recordingSend{}
		p := awareness.New(awr, send.funcs(), awareness.Options{UseDatagrams: false, StaleThreshold: time.Millisecond}, nil)
		Expect(p.Start()).To(Succeed())
		defer p.Destroy()

		body, _ := json.Marshal("gone-soon")
		p.HandleDatagram(wire.EncodeAwarenessDatagram(5, 1, body))
		Expect(p.RemoteStates()).To(HaveKey(uint32(5)))

		time.Sleep(10 * time.Millisecond)
		evicted := p.EvictStale()
		Expect(evicted).To(ContainElement(uint32(5)))
		Expect(p.RemoteStates()).NotTo(HaveKey(uint32(5)))
	})
})
