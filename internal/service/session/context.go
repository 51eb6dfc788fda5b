package session

import (
	"context"

	"github.com/zhouzirui/forno/backend/internal/model/chat"
)

// BuildPrompt rebuilds the full generation context for userID: persona preamble, persisted
// turns, in-memory history not yet visible in the store, then newText. excludeTurnID names a
// persisted turn that newText already stands for.
func (c *Coordinator) BuildPrompt(ctx context.Context, userID, newText, excludeTurnID string) (string, error) {
	turns, err := c.History(ctx, userID)
	if err != nil {
		return "", err
	}

	persisted := make(map[string]struct{}, len(turns))
	kept := make([]chat.Turn, 0, len(turns))
	for _, turn := range turns {
		persisted[turn.ID] = struct{}{}
		if turn.ID == excludeTurnID {
			continue
		}
		kept = append(kept, turn)
	}
	if c.contextLimit > 0 && len(kept) > c.contextLimit {
		kept = kept[len(kept)-c.contextLimit:]
	}

	var pending []chat.HistoryEntry
	if sess, ok := c.sessions.Peek(userID); ok {
		for _, entry := range sess.History() {
			if entry.TurnID != "" {
				if _, seen := persisted[entry.TurnID]; seen {
					continue
				}
			}
			pending = append(pending, entry)
		}
	}

	return c.prompts.ConversationPrompt(kept, pending, newText), nil
}
