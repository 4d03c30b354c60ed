package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/LemmyAI/callroom/internal/protocol"
)

// WS implements Transport over a single gorilla websocket connection.
//
// At most one live connection exists at a time. After a drop it re-dials
// transparently (bounded by Config.MaxReconnects) and fires the OnReconnect
// handlers; it does not re-establish room membership itself.
type WS struct {
	cfg Config
	log zerolog.Logger
	clk clock.Clock

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	token string
	gen   int // connection generation; stale read loops exit on mismatch

	writeMu sync.Mutex

	handlerMu      sync.RWMutex
	nextHandlerID  int
	handlers       map[string]map[int]Handler
	reconnects     map[int]func()
	reconnectFails map[int]func()

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage
}

// NewWS creates a websocket transport. No connection is made until Connect.
func NewWS(cfg Config, log zerolog.Logger) *WS {
	cfg = cfg.withDefaults()
	return &WS{
		cfg:            cfg,
		log:            log.With().Str("component", "transport").Logger(),
		clk:            cfg.Clock,
		state:          StateDisconnected,
		handlers:       make(map[string]map[int]Handler),
		reconnects:     make(map[int]func()),
		reconnectFails: make(map[int]func()),
		pending:        make(map[string]chan json.RawMessage),
	}
}

// Connect dials the signaling endpoint with the bearer token. Returns the
// existing connection unchanged when already connected, and
// ErrConnectInProgress when another dial (initial or reconnect) is still in
// flight. Fails with ErrConnectTimeout when the handshake does not complete
// within Config.ConnectTimeout, or a *ConnectError for transport-level
// failures.
func (t *WS) Connect(ctx context.Context, token string) error {
	t.mu.Lock()
	if t.state == StateConnected {
		t.mu.Unlock()
		return nil
	}
	if t.state == StateConnecting {
		t.mu.Unlock()
		return ErrConnectInProgress
	}
	t.state = StateConnecting
	t.token = token
	t.mu.Unlock()

	conn, err := t.dial(ctx, token)

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.state = StateFailed
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrConnectTimeout
		}
		return &ConnectError{Err: err}
	}

	t.conn = conn
	t.state = StateConnected
	t.gen++
	go t.readLoop(conn, t.gen)

	t.log.Info().Str("url", t.cfg.URL).Msg("signaling connected")
	return nil
}

func (t *WS) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(dialCtx, t.cfg.URL, header)
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return conn, nil
}

// Close unregisters every handler, fails all pending requests and closes the
// connection. Safe to call at any time, in any state.
func (t *WS) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.gen++ // invalidate read and reconnect loops
	t.state = StateDisconnected
	t.mu.Unlock()

	t.handlerMu.Lock()
	t.handlers = make(map[string]map[int]Handler)
	t.reconnects = make(map[int]func())
	t.reconnectFails = make(map[int]func())
	t.handlerMu.Unlock()

	t.pendingMu.Lock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
	t.pendingMu.Unlock()

	if conn != nil {
		_ = conn.Close()
		t.log.Info().Msg("signaling disconnected")
	}
	return nil
}

// IsConnected reports whether a live connection exists.
func (t *WS) IsConnected() bool {
	return t.State() == StateConnected
}

// State returns the current connection state.
func (t *WS) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Emit writes one envelope to the socket. Fire-and-forget: a nil error means
// the write was dispatched, not that the server received it.
func (t *WS) Emit(env *protocol.Envelope) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.state == StateConnected
	t.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Request emits an envelope with a correlation id and blocks until the
// matching reply arrives, ctx expires, or the transport closes.
func (t *WS) Request(ctx context.Context, env *protocol.Envelope) (json.RawMessage, error) {
	if env.AckID == "" {
		return nil, errors.New("request envelope has no correlation id")
	}

	ch := make(chan json.RawMessage, 1)
	t.pendingMu.Lock()
	t.pending[env.AckID] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, env.AckID)
		t.pendingMu.Unlock()
	}()

	if err := t.Emit(env); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case raw, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return raw, nil
	}
}

// On registers a handler for inbound envelopes with the given event name.
func (t *WS) On(event string, h Handler) (cancel func()) {
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

// OnReconnect registers a handler fired after a successful automatic re-dial.
func (t *WS) OnReconnect(h func()) (cancel func()) {
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

// OnReconnectFailed registers a handler fired when automatic re-dial attempts
// run out and the transport gives up.
func (t *WS) OnReconnectFailed(h func()) (cancel func()) {
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

func (t *WS) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			current := gen == t.gen
			t.mu.Unlock()
			if current {
				t.log.Warn().Err(err).Msg("signaling read failed, reconnecting")
				t.reconnect(gen)
			}
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			t.log.Warn().Err(err).Msg("dropping malformed envelope")
			continue
		}
		t.route(env)
	}
}

func (t *WS) route(env *protocol.Envelope) {
	if env.AckID != "" {
		t.pendingMu.Lock()
		ch, ok := t.pending[env.AckID]
		if ok {
			delete(t.pending, env.AckID)
		}
		t.pendingMu.Unlock()
		if ok {
			ch <- env.Data
			return
		}
		// Unknown correlation id: the requester already gave up. Drop it.
		return
	}

	t.handlerMu.RLock()
	handlers := make([]Handler, 0, len(t.handlers[env.Event]))
	for _, h := range t.handlers[env.Event] {
		handlers = append(handlers, h)
	}
	t.handlerMu.RUnlock()

	for _, h := range handlers {
		h(env)
	}
}

// reconnect re-dials after a dropped connection, bounded by MaxReconnects.
// Exits silently when superseded by Close or a newer connection.
func (t *WS) reconnect(gen int) {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.state = StateConnecting
	token := t.token
	t.mu.Unlock()

	for attempt := 1; attempt <= t.cfg.MaxReconnects; attempt++ {
		t.clk.Sleep(t.cfg.ReconnectDelay)

		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		conn, err := t.dial(context.Background(), token)
		if err != nil {
			t.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}

		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.gen++
		newGen := t.gen
		t.conn = conn
		t.state = StateConnected
		t.mu.Unlock()

		go t.readLoop(conn, newGen)

		t.handlerMu.RLock()
		fns := make([]func(), 0, len(t.reconnects))
		for _, fn := range t.reconnects {
			fns = append(fns, fn)
		}
		t.handlerMu.RUnlock()
		for _, fn := range fns {
			fn()
		}

		t.log.Info().Int("attempt", attempt).Msg("signaling reconnected")
		return
	}

	t.mu.Lock()
	exhausted := gen == t.gen
	if exhausted {
		t.state = StateFailed
	}
	t.mu.Unlock()
	if !exhausted {
		return
	}
	t.log.Error().Int("attempts", t.cfg.MaxReconnects).Msg("reconnect attempts exhausted")

	t.handlerMu.RLock()
	fns := make([]func(), 0, len(t.reconnectFails))
	for _, fn := range t.reconnectFails {
		fns = append(fns, fn)
	}
	t.handlerMu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
