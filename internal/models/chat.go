package models

import "github.com/google/uuid"

// ChatMessage represents a single message in a completion request.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// ProxyChatRequest is the payload of POST /chat.
type ProxyChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// ProxyError is the failure body of the proxy endpoints.
type ProxyError struct {
	Error string `json:"error"`
}

// UploadDocumentResponse is the success body of POST /upload-document.
type UploadDocumentResponse struct {
	Message       string `json:"message"`
	ExtractedText string `json:"extractedText"`
}

type SendMessageRequest struct {
	Text string `json:"text"`
	Kind string `json:"kind"`
}

type GenerateImageRequest struct {
	Prompt string `json:"prompt"`
}

// TurnResponse reports how an outbound turn ended.
type TurnResponse struct {
	State          string         `json:"state"`
	ConversationID uuid.UUID      `json:"conversation_id"`
	UserMessage    *TimelineEntry `json:"user_message,omitempty"`
	Reply          *TimelineEntry `json:"reply,omitempty"`
	Error          string         `json:"error,omitempty"`
}
