package domain

import (
	"time"
)

// HumanMessage is a chat message exchanged while a handoff is connected.
// Messages are immutable once created and retained for conversation history.
type HumanMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	IsFromAdmin    bool      `json:"is_from_admin"`
	AdminID        int64     `json:"admin_id,omitempty"`
	AdminName      string    `json:"admin_name,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
