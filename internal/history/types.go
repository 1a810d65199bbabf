package history

import (
	"context"
	"time"
)

// TurnRecord stores one finished conversational turn. The orchestrator hands
// records over only once a turn is complete; streaming text never touches
// the store.
type TurnRecord struct {
	ID          string    `json:"id"`
	ChatID      string    `json:"chat_id"`
	UserID      string    `json:"user_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	PIIRedacted bool      `json:"pii_redacted"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists and retrieves chat history.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	RecentTurns(ctx context.Context, chatID string, limit int) ([]TurnRecord, error)
	DeleteChat(ctx context.Context, chatID string) error
	Close() error
}
