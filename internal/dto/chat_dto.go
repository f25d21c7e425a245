package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateSessionResponse struct {
	Id uuid.UUID `json:"id"`
}

type SessionResponse struct {
	Id        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Archived  bool       `json:"archived"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at"`
}

type MessageResponse struct {
	Id             uuid.UUID `json:"id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ThoughtContent string    `json:"thought_content,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Message length is enforced by the service against constant.MaxQuestionChars
// so the limit has one source of truth.
type SendChatRequest struct {
	ChatSessionId *uuid.UUID `json:"chat_session_id"` // nil: create session implicitly
	Message       string     `json:"message" validate:"required"`
}

type EditMessageRequest struct {
	Message string `json:"message" validate:"required"`
}

type RenameSessionRequest struct {
	Title string `json:"title" validate:"required,max=80"`
}

type SendChatResponseChat struct {
	Id             uuid.UUID `json:"id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ThoughtContent string    `json:"thought_content,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendChatResponse is the single-shot (non-streaming) reply envelope.
type SendChatResponse struct {
	ChatSessionId    uuid.UUID             `json:"chat_session_id"`
	ChatSessionTitle string                `json:"title"`
	Sent             *SendChatResponseChat `json:"sent"`
	Reply            *SendChatResponseChat `json:"reply"`
}

type DatasetDebugResponse struct {
	Meta        any    `json:"meta"`
	QueryCount  int    `json:"query_count"`
	CacheStatus string `json:"cache_status"`
	CharCount   int    `json:"char_count"`
}
