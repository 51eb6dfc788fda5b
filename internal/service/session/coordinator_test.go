package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/forno/backend/internal/model/chat"
)

func TestConversePromptCarriesWelcomeThenNewMessage(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	welcome, err := f.coord.EnsureWelcome(ctx, "u1")
	require.NoError(t, err)

	reply, err := f.coord.Converse(ctx, "u1", "quero uma calabresa")
	require.NoError(t, err)
	assert.Equal(t, chat.KindAssistant, reply.Kind)

	prompt := f.generator.lastPrompt()
	idxPreamble := strings.Index(prompt, f.prompts.SystemPrompt())
	idxWelcome := strings.Index(prompt, "Atendente responde: "+welcomeText)
	idxClient := strings.Index(prompt, "Cliente diz: quero uma calabresa")

	assert.Equal(t, 0, idxPreamble)
	assert.Greater(t, idxWelcome, idxPreamble)
	assert.Greater(t, idxClient, idxWelcome)
	assert.Equal(t, 1, strings.Count(prompt, welcomeText))
	assert.Equal(t, 1, strings.Count(prompt, "quero uma calabresa"))

	published := f.publisher.published()
	require.Len(t, published, 3)
	assert.Equal(t, welcome.ID, published[0].ID)
	assert.Equal(t, chat.KindClient, published[1].Kind)
	assert.Equal(t, "quero uma calabresa", published[1].Content)
	assert.Equal(t, reply.ID, published[2].ID)
}

func TestConverseGenerationFailureKeepsClientTurn(t *testing.T) {
	f := newFixture(t, Options{})
	f.generator.reply = func(int, string) (string, error) {
		return "", &chat.ProviderError{Provider: "stub", Err: errors.New("unavailable")}
	}

	_, err := f.coord.Converse(context.Background(), "u1", "tem pepperoni?")
	require.Error(t, err)
	assert.True(t, chat.IsProvider(err))

	turns := f.turns(t, "u1")
	require.Len(t, turns, 1)
	assert.Equal(t, chat.KindClient, turns[0].Kind)
	assert.Len(t, f.publisher.published(), 1)

	sess, ok := f.coord.Sessions().Peek("u1")
	require.True(t, ok)
	assert.Empty(t, sess.History())
}

func TestConverseEmptyGenerationIsProviderError(t *testing.T) {
	f := newFixture(t, Options{})
	f.generator.reply = func(int, string) (string, error) { return "   ", nil }

	_, err := f.coord.Converse(context.Background(), "u1", "oi")
	assert.True(t, chat.IsProvider(err))
}

func TestConversePersistenceFailure(t *testing.T) {
	f := newFixture(t, Options{})
	f.coord.store = failingStore{TurnStore: f.store, appendErr: errDiskFull}

	_, err := f.coord.Converse(context.Background(), "u1", "oi")
	require.Error(t, err)
	assert.True(t, chat.IsPersistence(err))
	assert.Zero(t, f.generator.calls())
	assert.Empty(t, f.publisher.published())
}

func TestConversePublishesInPersistedOrder(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := f.coord.Converse(ctx, "u1", fmt.Sprintf("mensagem %d", i))
		require.NoError(t, err)
	}

	turns := f.turns(t, "u1")
	published := f.publisher.published()
	require.Len(t, turns, 10)
	require.Len(t, published, 10)
	for i := range turns {
		assert.Equal(t, turns[i].ID, published[i].ID)
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("mensagem %d", i), turns[2*i].Content)
		assert.Equal(t, chat.KindAssistant, turns[2*i+1].Kind)
	}
}

func TestConcurrentUsersDoNotShareOrder(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var g errgroup.Group
	for _, userID := range []string{"a", "b", "c"} {
		g.Go(func() error {
			for i := 0; i < 3; i++ {
				if _, err := f.coord.Converse(ctx, userID, fmt.Sprintf("%s-%d", userID, i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	perUser := map[string][]string{}
	for _, turn := range f.publisher.published() {
		perUser[turn.UserID] = append(perUser[turn.UserID], turn.ID)
	}
	for _, userID := range []string{"a", "b", "c"} {
		turns := f.turns(t, userID)
		require.Len(t, turns, 6)
		ids := make([]string, len(turns))
		for i, turn := range turns {
			ids[i] = turn.ID
		}
		assert.Equal(t, ids, perUser[userID])
	}
	assert.Zero(t, f.coord.locks.size())
}

func TestBuildPromptReplaysUnpersistedHistory(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	persisted, err := f.store.Append(ctx, "tem borda recheada?", chat.KindClient, "u1")
	require.NoError(t, err)

	f.coord.Sessions().Get("u1").appendHistory(
		chat.HistoryEntry{TurnID: persisted.ID, Role: chat.RoleUser, Text: persisted.Content},
		chat.HistoryEntry{Role: chat.RoleModel, Text: "Não temos borda recheada."},
	)

	prompt, err := f.coord.BuildPrompt(ctx, "u1", "então uma margherita", "")
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(prompt, "tem borda recheada?"))
	idxPersisted := strings.Index(prompt, "Cliente diz: tem borda recheada?")
	idxMemory := strings.Index(prompt, "Atendente responde: Não temos borda recheada.")
	idxNew := strings.Index(prompt, "Cliente diz: então uma margherita")
	assert.Less(t, idxPersisted, idxMemory)
	assert.Less(t, idxMemory, idxNew)
}

func TestBuildPromptContextLimitKeepsNewest(t *testing.T) {
	f := newFixture(t, Options{ContextLimit: 2})
	ctx := context.Background()

	for _, content := range []string{"um", "dois", "três"} {
		_, err := f.store.Append(ctx, content, chat.KindClient, "u1")
		require.NoError(t, err)
	}

	prompt, err := f.coord.BuildPrompt(ctx, "u1", "quatro", "")
	require.NoError(t, err)
	assert.NotContains(t, prompt, "Cliente diz: um\n")
	assert.Contains(t, prompt, "Cliente diz: dois")
	assert.Contains(t, prompt, "Cliente diz: três")
}

func TestBuildPromptExcludesCurrentTurn(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	current, err := f.store.Append(ctx, "uma coca", chat.KindClient, "u1")
	require.NoError(t, err)

	prompt, err := f.coord.BuildPrompt(ctx, "u1", "uma coca", current.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(prompt, "uma coca"))
}
