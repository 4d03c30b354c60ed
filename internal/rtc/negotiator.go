// Package rtc handles media-router capability negotiation.
//
// Obtaining the router's RTP capabilities is a precondition for publishing
// media through a routed topology. Failure here is degraded service, not
// fatal: the room's chat/presence side-channel keeps working without it.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/LemmyAI/callroom/internal/protocol"
	"github.com/LemmyAI/callroom/internal/transport"
)

// DefaultTimeout bounds the wait for the correlated capability reply.
const DefaultTimeout = 8 * time.Second

// ErrNotConnected is returned synchronously when no live connection exists.
// The message matches the in-band error the router emits for the same case.
var ErrNotConnected = errors.New("Socket not connected")

// ErrTimeout is returned when the correlated reply does not arrive in time.
var ErrTimeout = errors.New("capability request timed out")

// RouterError is a capability failure reported in-band by the router.
type RouterError struct {
	Reason string
}

func (e *RouterError) Error() string {
	return fmt.Sprintf("router: %s", e.Reason)
}

// Capabilities is the router's negotiated media surface.
type Capabilities struct {
	RTP webrtc.RTPCapabilities `json:"rtpCapabilities"`
}

type capabilityReply struct {
	RTPCapabilities *webrtc.RTPCapabilities `json:"rtpCapabilities,omitempty"`
	Error           string                  `json:"error,omitempty"`
}

// Negotiator requests and caches router capabilities per room.
type Negotiator struct {
	t       transport.Transport
	log     zerolog.Logger
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]*Capabilities
}

// NewNegotiator creates a negotiator with the default reply timeout.
func NewNegotiator(t transport.Transport, log zerolog.Logger) *Negotiator {
	return &Negotiator{
		t:       t,
		log:     log.With().Str("component", "rtc").Logger(),
		timeout: DefaultTimeout,
		cache:   make(map[string]*Capabilities),
	}
}

// RouterCapabilities returns the router capabilities for roomID, issuing a
// correlated request unless cached. Rejects synchronously with
// ErrNotConnected when no live connection exists — no network round-trip is
// attempted.
func (n *Negotiator) RouterCapabilities(ctx context.Context, roomID string) (*Capabilities, error) {
	n.mu.Lock()
	if caps, ok := n.cache[roomID]; ok {
		n.mu.Unlock()
		return caps, nil
	}
	n.mu.Unlock()

	if !n.t.IsConnected() {
		return nil, ErrNotConnected
	}

	env, err := protocol.NewCapabilityRequest(roomID)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	raw, err := n.t.Request(reqCtx, env)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}

	var reply capabilityReply
	if err := (&protocol.Envelope{Event: env.Event, Data: raw}).Bind(&reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, &RouterError{Reason: reply.Error}
	}
	if reply.RTPCapabilities == nil {
		return nil, &RouterError{Reason: "reply carried no rtpCapabilities"}
	}

	caps := &Capabilities{RTP: *reply.RTPCapabilities}
	n.mu.Lock()
	n.cache[roomID] = caps
	n.mu.Unlock()

	n.log.Debug().Str("room", roomID).Int("codecs", len(caps.RTP.Codecs)).Msg("router capabilities cached")
	return caps, nil
}

// Invalidate drops the cached capabilities for roomID. Called after a
// transport reconnect, since the router may have been replaced.
func (n *Negotiator) Invalidate(roomID string) {
	n.mu.Lock()
	delete(n.cache, roomID)
	n.mu.Unlock()
}
