package models

import "time"

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ChatMessage is one entry of a conversation transcript.
type ChatMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Text           string    `json:"text"`
	Sender         Sender    `json:"sender"`
	Timestamp      time.Time `json:"timestamp"`
	IsTyping       bool      `json:"is_typing"`
}
