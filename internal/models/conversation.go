package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// PlaceholderTitle is assigned on creation and replaced once by a title
// derived from the first message.
const PlaceholderTitle = "New Conversation"

const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// Turn kinds. Only chat turns are subject to the empty-text check.
const (
	TurnChat          = "chat"
	TurnUploadFile    = "upload_file"
	TurnGenerateImage = "generate_image"
)

// ErrConversationNotTouched is wrapped by a store when a message was
// written but the parent conversation's updated_at could not be bumped.
var ErrConversationNotTouched = errors.New("conversation timestamp not updated")

type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Content        string    `json:"content"`
	Sender         string    `json:"sender"`
	CreatedAt      time.Time `json:"created_at"`
}

// TimelineEntry is a message as held in a session's local timeline.
// IsError, Kind and Persisted never reach the database.
type TimelineEntry struct {
	Message
	Kind      string `json:"kind"`
	IsError   bool   `json:"is_error"`
	Persisted bool   `json:"persisted"`
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type RenameConversationRequest struct {
	Title string `json:"title"`
}

type ConversationList struct {
	Conversations []Conversation `json:"conversations"`
	SelectedID    *uuid.UUID     `json:"selected_id"`
}

type Timeline struct {
	ConversationID *uuid.UUID      `json:"conversation_id"`
	Messages       []TimelineEntry `json:"messages"`
	Loading        bool            `json:"loading"`
}

// SessionState is the snapshot of a signed-in user's session.
type SessionState struct {
	User          User            `json:"user"`
	Conversations []Conversation  `json:"conversations"`
	SelectedID    *uuid.UUID      `json:"selected_id"`
	Timeline      []TimelineEntry `json:"timeline"`
	Loading       bool            `json:"loading"`
}
