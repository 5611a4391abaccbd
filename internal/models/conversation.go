package models

import "time"

// DefaultTitle is used until the first user message names the conversation.
const DefaultTitle = "محادثة جديدة"

// Conversation groups an ordered sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationDetail is a conversation with its messages in creation order.
type ConversationDetail struct {
	Conversation
	Messages []*Message `json:"messages"`
}
