package msghttp

import "time"

// Message is one delivered wall message. Sender comes from the asserted
// identity, never from the request body.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sent_at"`
}

// Conversation summarizes the exchange between the caller and one peer.
type Conversation struct {
	Peer          string    `json:"peer"`
	MessageCount  int       `json:"message_count"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// CreateMessageRequest is the POST /api/messages body.
type CreateMessageRequest struct {
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
}

// MessageList is the GET /api/messages response.
type MessageList struct {
	Messages []Message `json:"messages"`
	Count    int       `json:"count"`
}

// ConversationList is the GET /api/conversations response.
type ConversationList struct {
	Conversations []Conversation `json:"conversations"`
	Count         int            `json:"count"`
}

// ErrorResponse is the JSON error body shared by all handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
