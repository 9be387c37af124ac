package relay_test

import (
	"fmt"
	"sync"

	"github.com/meshdrop/relay/internal/relay"
)

// fakeHandle is an in-memory relay.OutboundHandle recording every
// envelope sent to it, used by every test in this package in place of a
// real transport connection.
type fakeHandle struct {
	mu      sync.Mutex
	sent    []sentEnvelope
	closed  bool
	failing bool
}

type sentEnvelope struct {
	Type relay.MessageType
	Data any
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{}
}

func (h *fakeHandle) Send(msgType relay.MessageType, data any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed || h.failing {
		return fmt.Errorf("fakeHandle: send to closed or failing handle")
	}

	h.sent = append(h.sent, sentEnvelope{Type: msgType, Data: data})
	return nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) setFailing(failing bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failing = failing
}

func (h *fakeHandle) messagesOfType(msgType relay.MessageType) []sentEnvelope {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []sentEnvelope
	for _, e := range h.sent {
		if e.Type == msgType {
			out = append(out, e)
		}
	}
	return out
}

func (h *fakeHandle) count(msgType relay.MessageType) int {
	return len(h.messagesOfType(msgType))
}
