package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/forno/backend/internal/model/chat"
	"github.com/zhouzirui/forno/backend/internal/model/persona"
	"github.com/zhouzirui/forno/backend/internal/service/ai"
	chatsvc "github.com/zhouzirui/forno/backend/internal/service/chat"
)

const welcomeText = "Olá! Bem-vindo à pizzaria. Nosso cardápio: Margherita, Calabresa..."

type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
	delay   time.Duration
	reply   func(call int, prompt string) (string, error)
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	call := len(g.prompts)
	g.mu.Unlock()

	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.reply != nil {
		return g.reply(call, prompt)
	}
	return fmt.Sprintf("resposta %d", call), nil
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *scriptedGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// welcomeFirst answers the welcome prompt with welcomeText and numbers every other reply.
func welcomeFirst(prompts *ai.PromptBuilder) func(int, string) (string, error) {
	return func(call int, prompt string) (string, error) {
		if prompt == prompts.WelcomePrompt() {
			return welcomeText, nil
		}
		return fmt.Sprintf("resposta %d", call), nil
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	turns []chat.Turn
}

func (p *recordingPublisher) Publish(turn chat.Turn) {
	p.mu.Lock()
	p.turns = append(p.turns, turn)
	p.mu.Unlock()
}

func (p *recordingPublisher) published() []chat.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]chat.Turn, len(p.turns))
	copy(out, p.turns)
	return out
}

type failingStore struct {
	chat.TurnStore
	appendErr error
}

func (s failingStore) Append(context.Context, string, chat.Kind, string) (chat.Turn, error) {
	return chat.Turn{}, s.appendErr
}

var errDiskFull = errors.New("disk full")

type fixture struct {
	coord     *Coordinator
	store     *chatsvc.MemoryStore
	generator *scriptedGenerator
	publisher *recordingPublisher
	prompts   *ai.PromptBuilder
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	p, err := persona.Resolve(persona.NewMemoryStore(persona.Seed()), persona.DefaultID)
	require.NoError(t, err)
	prompts := ai.NewPromptBuilder(p)

	f := &fixture{
		store:     chatsvc.NewMemoryStore(),
		generator: &scriptedGenerator{},
		publisher: &recordingPublisher{},
		prompts:   prompts,
	}
	f.generator.reply = welcomeFirst(prompts)
	opts.Logger = zerolog.Nop()
	f.coord = NewCoordinator(f.store, f.generator, prompts, f.publisher, opts)
	return f
}

func (f *fixture) turns(t *testing.T, userID string) []chat.Turn {
	t.Helper()
	turns, err := f.store.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	return turns
}

func countKind(turns []chat.Turn, kind chat.Kind) int {
	n := 0
	for _, turn := range turns {
		if turn.Kind == kind {
			n++
		}
	}
	return n
}
