package chat

import (
	"context"
	"time"
)

// Kind identifies who authored a turn.
type Kind string

const (
	KindClient    Kind = "CLIENT"
	KindAssistant Kind = "ASSISTANT"
)

// Valid reports whether k is a known turn kind.
func (k Kind) Valid() bool {
	return k == KindClient || k == KindAssistant
}

// Turn is one persisted conversational exchange. Immutable once stored.
type Turn struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// TurnStore is the durable, ordered storage of turns.
type TurnStore interface {
	// Append persists a new turn and returns it with id and createdAt assigned.
	Append(ctx context.Context, content string, kind Kind, userID string) (Turn, error)
	// ListByUser returns every turn of userID ordered by createdAt, ties in insertion order.
	ListByUser(ctx context.Context, userID string) ([]Turn, error)
}

// FirstAssistant returns the first assistant turn of turns, which by construction is the welcome.
func FirstAssistant(turns []Turn) (Turn, bool) {
	for _, t := range turns {
		if t.Kind == KindAssistant {
			return t, true
		}
	}
	return Turn{}, false
}
