// Package transport provides the signaling connection layer.
// This allows swapping the websocket implementation for a mock without
// changing session logic.
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/LemmyAI/callroom/internal/protocol"
)

// State of the signaling connection.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// Handler is called with each inbound envelope for a subscribed event.
type Handler func(env *protocol.Envelope)

// Transport is the interface for the signaling channel.
type Transport interface {
	// Connect dials and authenticates. Idempotent while already connected.
	Connect(ctx context.Context, token string) error

	// Close unregisters all event handlers and closes the connection.
	// Always callable; no-op when not connected.
	Close() error

	// IsConnected reports whether a live connection exists.
	IsConnected() bool

	// State returns the current connection state.
	State() State

	// Emit sends a fire-and-forget envelope. A nil error means dispatched,
	// not delivered.
	Emit(env *protocol.Envelope) error

	// Request sends an envelope carrying a correlation id and waits for the
	// single matching reply, bounded by ctx.
	Request(ctx context.Context, env *protocol.Envelope) (json.RawMessage, error)

	// On registers a handler for inbound envelopes with the given event name.
	// The returned cancel func must be called to avoid leaking handlers
	// across room transitions.
	On(event string, h Handler) (cancel func())

	// OnReconnect registers a handler fired after the transport re-dials
	// following a dropped connection. Room membership is NOT restored by the
	// transport; the subscriber decides what to re-establish.
	OnReconnect(h func()) (cancel func())

	// OnReconnectFailed registers a handler fired when automatic re-dial
	// attempts are exhausted and the transport settles in StateFailed.
	OnReconnectFailed(h func()) (cancel func())
}

// Config holds connection settings.
type Config struct {
	// URL is the signaling endpoint, e.g. ws://localhost:3000/ws.
	URL string

	// ConnectTimeout bounds the initial dial+handshake.
	ConnectTimeout time.Duration

	// MaxReconnects bounds automatic re-dial attempts after a drop.
	MaxReconnects int

	// ReconnectDelay is the pause between re-dial attempts.
	ReconnectDelay time.Duration

	// Clock drives the reconnect backoff. Defaults to the wall clock;
	// tests inject clock.NewMock().
	Clock clock.Clock
}

// DefaultConfig returns the stock connection settings.
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		ConnectTimeout: 12 * time.Second,
		MaxReconnects:  10,
		ReconnectDelay: 2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.URL)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = d.MaxReconnects
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = d.ReconnectDelay
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	return c
}
