package dto

import "github.com/google/uuid"

// ExchangeCompletedMessage is published after a persisted exchange for the
// telemetry consumer.
type ExchangeCompletedMessage struct {
	ChatSessionId uuid.UUID `json:"chat_session_id"`
	UserId        uuid.UUID `json:"user_id"`
	QuestionChars int       `json:"question_chars"`
	AnswerChars   int       `json:"answer_chars"`
	ThoughtChars  int       `json:"thought_chars"`
	DatasetChars  int       `json:"dataset_chars"`
	QueryCount    int       `json:"query_count"`
	CacheStatus   string    `json:"cache_status"`
	DurationMs    int64     `json:"duration_ms"`
}
