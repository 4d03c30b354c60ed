package call

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LemmyAI/callroom/internal/protocol"
)

// Message is one chat entry. Display order is insertion order; messages are
// never re-sorted by timestamp.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sentAt"`
	Mine       bool      `json:"mine"`
}

// ChatLog is the ordered message log of one call.
type ChatLog struct {
	messages []Message
}

// NewChatLog creates an empty log.
func NewChatLog() *ChatLog {
	return &ChatLog{}
}

// AppendLocal appends a locally authored message (optimistic local echo —
// the sender never waits for an acknowledgment to see their own message).
// The draft is trimmed; empty or whitespace-only drafts are a no-op.
func (c *ChatLog) AppendLocal(senderName, draft string, at time.Time) (Message, bool) {
	text := strings.TrimSpace(draft)
	if text == "" {
		return Message{}, false
	}
	msg := Message{
		ID:         "chat-" + uuid.NewString(),
		SenderID:   LocalID,
		SenderName: senderName,
		Text:       text,
		SentAt:     at,
		Mine:       true,
	}
	c.messages = append(c.messages, msg)
	return msg, true
}

// AppendRemote appends a message from a remote participant (real or
// simulated).
func (c *ChatLog) AppendRemote(senderID, senderName, text string, at time.Time) Message {
	msg := Message{
		ID:         "chat-" + uuid.NewString(),
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		SentAt:     at,
		Mine:       false,
	}
	c.messages = append(c.messages, msg)
	return msg
}

// Receive applies the inbound filtering rules to a transport delivery:
// messages echoing the local sender are discarded (the transport may loop
// the sender's own message back), as are messages for any room other than
// the current one. Returns true when the message was appended.
func (c *ChatLog) Receive(d protocol.RoomMessageDelivery, currentRoomID string, now time.Time) bool {
	if d.UserID == LocalID {
		return false
	}
	if d.RoomID != currentRoomID {
		return false
	}
	name := d.DisplayName
	if name == "" {
		name = "Participant"
	}
	at := now
	if ts, err := time.Parse(time.RFC3339, d.SentAt); err == nil {
		at = ts
	}
	c.AppendRemote(d.UserID, name, d.Text, at)
	return true
}

// Messages returns the log in display order.
func (c *ChatLog) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages.
func (c *ChatLog) Len() int {
	return len(c.messages)
}

// Reset drops the log. Used on call teardown.
func (c *ChatLog) Reset() {
	c.messages = nil
}
