package room

import (
	"github.com/rs/zerolog"

	"github.com/LemmyAI/callroom/internal/protocol"
	"github.com/LemmyAI/callroom/internal/transport"
)

// MessageListener receives inbound room-scoped chat deliveries.
type MessageListener func(msg protocol.RoomMessageDelivery)

// Controller routes room membership intents and chat over the transport.
//
// Join, Leave and SendMessage are fire-and-forget: the protocol is
// at-most-once and nothing here waits for acknowledgment. This keeps the UI
// responsive under flaky connectivity; the chat/presence side-channel favors
// eventual consistency over delivery guarantees.
type Controller struct {
	t   transport.Transport
	log zerolog.Logger
}

// NewController creates a room controller on top of t.
func NewController(t transport.Transport, log zerolog.Logger) *Controller {
	return &Controller{
		t:   t,
		log: log.With().Str("component", "room").Logger(),
	}
}

// Join emits a join intent for roomID. No-op when not connected.
func (c *Controller) Join(roomID string) {
	if !c.t.IsConnected() {
		return
	}
	env, err := protocol.NewRoomJoin(roomID)
	if err != nil {
		c.log.Error().Err(err).Msg("build join intent")
		return
	}
	if err := c.t.Emit(env); err != nil {
		c.log.Warn().Err(err).Str("room", roomID).Msg("join intent not dispatched")
		return
	}
	c.log.Debug().Str("room", roomID).Msg("join intent dispatched")
}

// Leave emits a leave intent for roomID. No-op when not connected.
func (c *Controller) Leave(roomID string) {
	if !c.t.IsConnected() {
		return
	}
	env, err := protocol.NewRoomLeave(roomID)
	if err != nil {
		c.log.Error().Err(err).Msg("build leave intent")
		return
	}
	if err := c.t.Emit(env); err != nil {
		c.log.Warn().Err(err).Str("room", roomID).Msg("leave intent not dispatched")
		return
	}
	c.log.Debug().Str("room", roomID).Msg("leave intent dispatched")
}

// SendMessage dispatches a chat message to roomID. Returns false immediately
// when not connected, true once the send is dispatched. Dispatch is not
// delivery confirmation.
func (c *Controller) SendMessage(roomID, text string) bool {
	if !c.t.IsConnected() {
		return false
	}
	env, err := protocol.NewRoomMessage(roomID, text)
	if err != nil {
		c.log.Error().Err(err).Msg("build room message")
		return false
	}
	if err := c.t.Emit(env); err != nil {
		c.log.Warn().Err(err).Str("room", roomID).Msg("room message not dispatched")
		return false
	}
	return true
}

// OnMessage registers a listener for inbound room:message events. The
// returned cancel func must be called when leaving a room to avoid leaking
// listeners across room transitions.
func (c *Controller) OnMessage(fn MessageListener) (cancel func()) {
	return c.t.On(protocol.EventRoomMessage, func(env *protocol.Envelope) {
		var msg protocol.RoomMessageDelivery
		if err := env.Bind(&msg); err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed room message")
			return
		}
		fn(msg)
	})
}
