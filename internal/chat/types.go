package chat

import (
	"context"
	"time"
)

// Message is one chat bubble. Optimistic messages carry a temporary id
// until the backend assigns one.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a stored conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	IsArticle bool      `json:"is_article"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists sessions and messages.
type Store interface {
	CreateSession(ctx context.Context, userID, title string) (Session, error)
	ListSessions(ctx context.Context, userID string) ([]Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	SaveMessage(ctx context.Context, sessionID, userID, text string, isUser bool) (Message, error)
	ListMessages(ctx context.Context, sessionID, userID string) ([]Message, error)
}

// AnswerRequest is the payload of the answer function.
type AnswerRequest struct {
	Question string `json:"question"`
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
}

// Answerer produces the AI reply to a question.
type Answerer interface {
	Answer(ctx context.Context, req AnswerRequest) (string, error)
}
