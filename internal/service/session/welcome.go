package session

import (
	"context"
	"errors"

	"github.com/zhouzirui/forno/backend/internal/model/chat"
)

var errEmptyGeneration = errors.New("empty generation")

const (
	welcomeExisting  = "existing"
	welcomeCreated   = "created"
	welcomeDiscarded = "discarded"
	welcomePending   = "pending"
	welcomeFailed    = "failed"
	welcomeShared    = "shared"
)

// EnsureWelcome makes sure userID has exactly one welcome turn and returns it. Concurrent
// callers for the same user share a single in-flight production; the result is nil only when
// an earlier attempt claimed the welcome and nothing has been persisted yet.
//
// The welcome is published by the producing call alone, never once per waiting caller.
func (c *Coordinator) EnsureWelcome(ctx context.Context, userID string) (*chat.Turn, error) {
	ch := c.welcomes.DoChan(userID, func() (any, error) {
		return c.produceWelcome(context.WithoutCancel(ctx), userID)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.WelcomeOutcome(welcomeShared)
			c.logger.Debug().Str("userId", userID).Msg("joined in-flight welcome")
		}
		if res.Err != nil {
			return nil, res.Err
		}
		turn, _ := res.Val.(*chat.Turn)
		return turn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) produceWelcome(ctx context.Context, userID string) (*chat.Turn, error) {
	sess := c.sessions.acquire(userID)
	defer c.sessions.release(sess)

	existing, err := c.findWelcome(ctx, userID)
	if err != nil {
		c.metrics.WelcomeOutcome(welcomeFailed)
		return nil, err
	}
	if existing != nil {
		sess.setWelcomed(true)
		c.metrics.WelcomeOutcome(welcomeExisting)
		return existing, nil
	}

	if !sess.claimWelcome() {
		// Claimed by an earlier attempt that has not persisted anything yet.
		existing, err = c.findWelcome(ctx, userID)
		if err != nil {
			c.metrics.WelcomeOutcome(welcomeFailed)
			return nil, err
		}
		if existing == nil {
			c.metrics.WelcomeOutcome(welcomePending)
		} else {
			c.metrics.WelcomeOutcome(welcomeExisting)
		}
		return existing, nil
	}

	turn, err := c.generateWelcome(ctx, userID)
	if err != nil {
		sess.setWelcomed(false)
		c.metrics.WelcomeOutcome(welcomeFailed)
		c.logger.Error().Err(err).Str("userId", userID).Msg("welcome failed")
		return nil, err
	}

	sess.appendHistory(chat.HistoryEntry{TurnID: turn.ID, Role: chat.RoleModel, Text: turn.Content})
	return turn, nil
}

func (c *Coordinator) generateWelcome(ctx context.Context, userID string) (*chat.Turn, error) {
	text, err := c.generate(ctx, "welcome", c.prompts.WelcomePrompt())
	if err != nil {
		return nil, err
	}

	unlock := c.locks.lock(userID)
	defer unlock()

	// A welcome may have been persisted while the generation call was in flight.
	existing, err := c.findWelcome(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		c.metrics.WelcomeOutcome(welcomeDiscarded)
		c.logger.Debug().Str("userId", userID).Msg("discarded generated welcome, one already exists")
		return existing, nil
	}

	turn, err := c.recordLocked(ctx, userID, chat.KindAssistant, text)
	if err != nil {
		return nil, err
	}
	c.metrics.WelcomeOutcome(welcomeCreated)
	c.logger.Info().Str("userId", userID).Str("turnId", turn.ID).Msg("welcome created")
	return &turn, nil
}

func (c *Coordinator) findWelcome(ctx context.Context, userID string) (*chat.Turn, error) {
	turns, err := c.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	if turn, ok := chat.FirstAssistant(turns); ok {
		return &turn, nil
	}
	return nil, nil
}
