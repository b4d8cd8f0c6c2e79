package chat

import "spark-client/internal/jsontime"

type Message struct {
	ID         int           `json:"id,omitempty"`
	SenderID   int           `json:"sender_id"`
	ReceiverID int           `json:"receiver_id,omitempty"`
	Content    string        `json:"content"`
	Timestamp  jsontime.Time `json:"timestamp"`
	IsRead     bool          `json:"is_read"`

	// LocalID identifies a message appended optimistically by this client.
	LocalID string `json:"-"`
	// Unsent marks a local message whose frame never left the client.
	Unsent bool `json:"-"`
}

// Conversation is the cached chat metadata for one counterpart.
type Conversation struct {
	UserID      int    `json:"user_id"`
	FullName    string `json:"full_name"`
	Image       string `json:"image"`
	LastMessage string `json:"last_message"`
	Unread      bool   `json:"unread"`
}

const noMessagesYet = "No messages yet"
