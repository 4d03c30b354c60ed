package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/LemmyAI/callroom/internal/protocol"
)

// MockTransport is a mock implementation for testing.
type MockTransport struct {
	mu         sync.Mutex
	state      State
	sent       []*protocol.Envelope
	connectErr error

	// ReplyFunc answers Request calls. When nil, requests block until ctx
	// expires — useful for exercising timeout paths.
	ReplyFunc func(env *protocol.Envelope) (json.RawMessage, error)

	handlerMu      sync.Mutex
	nextHandlerID  int
	handlers       map[string]map[int]Handler
	reconnects     map[int]func()
	reconnectFails map[int]func()
}

// NewMockTransport creates a disconnected mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		state:          StateDisconnected,
		handlers:       make(map[string]map[int]Handler),
		reconnects:     make(map[int]func()),
		reconnectFails: make(map[int]func()),
	}
}

// FailConnectWith makes the next Connect calls fail with err.
func (t *MockTransport) FailConnectWith(err error) {
	t.mu.Lock()
	t.connectErr = err
	t.mu.Unlock()
}

// Connect flips the mock to connected unless FailConnectWith was set.
func (t *MockTransport) Connect(_ context.Context, _ string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		t.state = StateFailed
		return t.connectErr
	}
	t.state = StateConnected
	return nil
}

// Close flips the mock to disconnected and drops all handlers.
func (t *MockTransport) Close() error {
	t.mu.Lock()
	t.state = StateDisconnected
	t.mu.Unlock()

	t.handlerMu.Lock()
	t.handlers = make(map[string]map[int]Handler)
	t.reconnects = make(map[int]func())
	t.reconnectFails = make(map[int]func())
	t.handlerMu.Unlock()
	return nil
}

// IsConnected reports the mock connection flag.
func (t *MockTransport) IsConnected() bool {
	return t.State() == StateConnected
}

// State returns the mock state.
func (t *MockTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Emit records the envelope as sent.
func (t *MockTransport) Emit(env *protocol.Envelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnected {
		return ErrNotConnected
	}
	t.sent = append(t.sent, env)
	return nil
}

// Request records the envelope and answers via ReplyFunc.
func (t *MockTransport) Request(ctx context.Context, env *protocol.Envelope) (json.RawMessage, error) {
	if err := t.Emit(env); err != nil {
		return nil, err
	}
	t.mu.Lock()
	reply := t.ReplyFunc
	t.mu.Unlock()
	if reply == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return reply(env)
}

// On registers a handler for inbound envelopes.
func (t *MockTransport) On(event string, h Handler) (cancel func()) {
	t.handlerMu.Lock()
	t.nextHandlerID++
	id := t.nextHandlerID
	if t.handlers[event] == nil {
		t.handlers[event] = make(map[int]Handler)
	}
	t.handlers[event][id] = h
	t.handlerMu.Unlock()

	return func() {
		t.handlerMu.Lock()
		delete(t.handlers[event], id)
		t.handlerMu.Unlock()
	}
}

// OnReconnect registers a reconnect handler.
func (t *MockTransport) OnReconnect(h func()) (cancel func()) {
	t.handlerMu.Lock()
	t.nextHandlerID++
	id := t.nextHandlerID
	t.reconnects[id] = h
	t.handlerMu.Unlock()

	return func() {
		t.handlerMu.Lock()
		delete(t.reconnects, id)
		t.handlerMu.Unlock()
	}
}

// OnReconnectFailed registers a reconnect-exhausted handler.
func (t *MockTransport) OnReconnectFailed(h func()) (cancel func()) {
	t.handlerMu.Lock()
	t.nextHandlerID++
	id := t.nextHandlerID
	t.reconnectFails[id] = h
	t.handlerMu.Unlock()

	return func() {
		t.handlerMu.Lock()
		delete(t.reconnectFails, id)
		t.handlerMu.Unlock()
	}
}

// Deliver synchronously invokes the handlers registered for env's event,
// simulating an inbound message from the server.
func (t *MockTransport) Deliver(env *protocol.Envelope) {
	t.handlerMu.Lock()
	handlers := make([]Handler, 0, len(t.handlers[env.Event]))
	for _, h := range t.handlers[env.Event] {
		handlers = append(handlers, h)
	}
	t.handlerMu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

// FireReconnect synchronously invokes the registered reconnect handlers,
// simulating a transport-level drop and re-dial.
func (t *MockTransport) FireReconnect() {
	t.handlerMu.Lock()
	fns := make([]func(), 0, len(t.reconnects))
	for _, fn := range t.reconnects {
		fns = append(fns, fn)
	}
	t.handlerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// FireReconnectFailed synchronously invokes the reconnect-exhausted
// handlers, simulating the transport giving up and settling in StateFailed.
func (t *MockTransport) FireReconnectFailed() {
	t.mu.Lock()
	t.state = StateFailed
	t.mu.Unlock()

	t.handlerMu.Lock()
	fns := make([]func(), 0, len(t.reconnectFails))
	for _, fn := range t.reconnectFails {
		fns = append(fns, fn)
	}
	t.handlerMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Sent returns a copy of every envelope emitted so far.
func (t *MockTransport) Sent() []*protocol.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*protocol.Envelope, len(t.sent))
	copy(out, t.sent)
	return out
}

// SentWithEvent returns the emitted envelopes matching the event name.
func (t *MockTransport) SentWithEvent(event string) []*protocol.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*protocol.Envelope
	for _, env := range t.sent {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}
