// Package protocol provides helpers for encoding/decoding signaling messages.
// Every message on the wire is an Envelope: an event name, an optional
// correlation id for request/reply exchanges, and a JSON payload.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Signaling event names.
const (
	EventRoomJoin    = "room:join"
	EventRoomLeave   = "room:leave"
	EventRoomMessage = "room:message"

	// EventRouterCapabilities is the only request/reply exchange on the
	// otherwise fire-and-forget channel. The reply carries the same AckID.
	EventRouterCapabilities = "mediasoup:getRouterCapabilities"
)

// Envelope is one signaling message.
type Envelope struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomMessageSend is the outbound chat payload.
type RoomMessageSend struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// RoomMessageDelivery is the inbound chat payload.
type RoomMessageDelivery struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
	SentAt      string `json:"sentAt"`
}

// Encode serializes an Envelope to bytes.
func Encode(env *Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode deserializes bytes to an Envelope.
func Decode(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return env, nil
}

// Bind unmarshals the envelope payload into v.
func (e *Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope %q has no payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("unmarshal %q payload: %w", e.Event, err)
	}
	return nil
}

func newEnvelope(event, ackID string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %q payload: %w", event, err)
	}
	return &Envelope{Event: event, AckID: ackID, Data: data}, nil
}

// NewRoomJoin creates a room:join intent. The payload is the bare room id.
func NewRoomJoin(roomID string) (*Envelope, error) {
	return newEnvelope(EventRoomJoin, "", roomID)
}

// NewRoomLeave creates a room:leave intent.
func NewRoomLeave(roomID string) (*Envelope, error) {
	return newEnvelope(EventRoomLeave, "", roomID)
}

// NewRoomMessage creates an outbound room:message.
func NewRoomMessage(roomID, text string) (*Envelope, error) {
	return newEnvelope(EventRoomMessage, "", RoomMessageSend{RoomID: roomID, Text: text})
}

// NewCapabilityRequest creates a capability request with a fresh correlation id.
func NewCapabilityRequest(roomID string) (*Envelope, error) {
	return newEnvelope(EventRouterCapabilities, uuid.NewString(), roomID)
}

// NewReply builds a reply envelope for a given request. Used by the server
// side of the exchange and by transport mocks in tests.
func NewReply(req *Envelope, payload any) (*Envelope, error) {
	return newEnvelope(req.Event, req.AckID, payload)
}
