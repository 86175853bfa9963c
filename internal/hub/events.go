// ABOUTME: Wire shape of events pushed to real-time observers
// ABOUTME: One frame per persisted message, JSON-encoded

package hub

import (
	"time"

	"github.com/2389/omni-gateway/internal/store"
)

// MessageEvent is the frame observers receive for every persisted message.
type MessageEvent struct {
	Type           string    `json:"type"`
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        *string   `json:"content,omitempty"`
	MediaURL       *string   `json:"media_url,omitempty"`
	MediaType      *string   `json:"media_type,omitempty"`
	SenderType     string    `json:"sender_type"`
	Timestamp      time.Time `json:"timestamp"`
}

// NewMessageEvent builds the broadcast frame for a persisted message.
func NewMessageEvent(msg *store.Message) MessageEvent {
	return MessageEvent{
		Type:           "message",
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Content:        msg.Content,
		MediaURL:       msg.MediaURL,
		MediaType:      msg.MediaType,
		SenderType:     string(msg.Sender),
		Timestamp:      msg.Timestamp,
	}
}
