package session

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/forno/backend/internal/logger"
	"github.com/zhouzirui/forno/backend/internal/model/chat"
	"github.com/zhouzirui/forno/backend/internal/observability"
	"github.com/zhouzirui/forno/backend/internal/service/ai"
)

// Publisher receives every turn right after it is persisted, in persistence order per user.
type Publisher interface {
	Publish(turn chat.Turn)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(turn chat.Turn)

func (f PublisherFunc) Publish(turn chat.Turn) { f(turn) }

// Options tunes a Coordinator.
type Options struct {
	HistoryLimit int
	ContextLimit int
	Metrics      *observability.Metrics
	Logger       zerolog.Logger
}

// Coordinator owns per-user conversational state: the welcome state machine, prompt
// reconstruction and ordered recording of turns.
type Coordinator struct {
	store     chat.TurnStore
	generator ai.Generator
	prompts   *ai.PromptBuilder
	publisher Publisher

	sessions     *Sessions
	locks        *userLocks
	welcomes     singleflight.Group
	contextLimit int

	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewCoordinator wires the coordinator. publisher may be nil when nothing listens for turns.
func NewCoordinator(store chat.TurnStore, generator ai.Generator, prompts *ai.PromptBuilder, publisher Publisher, opts Options) *Coordinator {
	if publisher == nil {
		publisher = PublisherFunc(func(chat.Turn) {})
	}
	return &Coordinator{
		store:        store,
		generator:    generator,
		prompts:      prompts,
		publisher:    publisher,
		sessions:     NewSessions(opts.HistoryLimit),
		locks:        newUserLocks(),
		contextLimit: opts.ContextLimit,
		metrics:      opts.Metrics,
		logger:       logger.Component(opts.Logger, "session"),
	}
}

// Sessions exposes the session registry.
func (c *Coordinator) Sessions() *Sessions {
	return c.sessions
}

// History returns every persisted turn of userID.
func (c *Coordinator) History(ctx context.Context, userID string) ([]chat.Turn, error) {
	turns, err := c.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, asPersistence("list", err)
	}
	return turns, nil
}

// Record persists a turn and publishes it while holding the user's lock, so the published
// order always equals the persisted order.
func (c *Coordinator) Record(ctx context.Context, userID string, kind chat.Kind, content string) (chat.Turn, error) {
	unlock := c.locks.lock(userID)
	defer unlock()
	return c.recordLocked(ctx, userID, kind, content)
}

func (c *Coordinator) recordLocked(ctx context.Context, userID string, kind chat.Kind, content string) (chat.Turn, error) {
	turn, err := c.store.Append(ctx, content, kind, userID)
	if err != nil {
		return chat.Turn{}, asPersistence("append", err)
	}
	c.publisher.Publish(turn)
	return turn, nil
}

// Converse runs one client message through the full exchange: the client turn is recorded
// and published, the reply is generated from the rebuilt context and recorded in turn.
// A generation failure leaves the client turn in place.
func (c *Coordinator) Converse(ctx context.Context, userID, content string) (chat.Turn, error) {
	ctx = context.WithoutCancel(ctx)

	sess := c.sessions.acquire(userID)
	defer c.sessions.release(sess)

	clientTurn, err := c.Record(ctx, userID, chat.KindClient, content)
	if err != nil {
		return chat.Turn{}, err
	}

	prompt, err := c.BuildPrompt(ctx, userID, content, clientTurn.ID)
	if err != nil {
		return chat.Turn{}, err
	}

	text, err := c.generate(ctx, "reply", prompt)
	if err != nil {
		c.logger.Error().Err(err).Str("userId", userID).Msg("reply generation failed")
		return chat.Turn{}, err
	}

	reply, err := c.Record(ctx, userID, chat.KindAssistant, text)
	if err != nil {
		return chat.Turn{}, err
	}

	sess.appendHistory(
		chat.HistoryEntry{TurnID: clientTurn.ID, Role: chat.RoleUser, Text: content},
		chat.HistoryEntry{TurnID: reply.ID, Role: chat.RoleModel, Text: reply.Content},
	)
	return reply, nil
}

func (c *Coordinator) generate(ctx context.Context, purpose, prompt string) (string, error) {
	start := time.Now()
	text, err := c.generator.Generate(ctx, prompt)
	c.metrics.ObserveGeneration(purpose, time.Since(start), err)
	if err != nil {
		if !chat.IsProvider(err) {
			err = &chat.ProviderError{Provider: "unknown", Err: err}
		}
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &chat.ProviderError{Provider: "unknown", Err: errEmptyGeneration}
	}
	return text, nil
}

func asPersistence(op string, err error) error {
	if chat.IsPersistence(err) {
		return err
	}
	return &chat.PersistenceError{Op: op, Err: err}
}
