package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/forno/backend/internal/model/chat"
)

func TestEnsureWelcomeExactlyOnceUnderConcurrency(t *testing.T) {
	f := newFixture(t, Options{})
	f.generator.delay = 50 * time.Millisecond

	const callers = 16
	results := make([]*chat.Turn, callers)

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			turn, err := f.coord.EnsureWelcome(context.Background(), "u1")
			results[i] = turn
			return err
		})
	}
	require.NoError(t, g.Wait())

	turns := f.turns(t, "u1")
	require.Len(t, turns, 1)
	assert.Equal(t, chat.KindAssistant, turns[0].Kind)
	assert.Equal(t, welcomeText, turns[0].Content)
	assert.Equal(t, 1, f.generator.calls())

	for i, turn := range results {
		require.NotNil(t, turn, "caller %d", i)
		assert.Equal(t, turns[0].ID, turn.ID)
	}

	published := f.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, turns[0].ID, published[0].ID)
}

func TestEnsureWelcomeReidentifyDoesNotRegenerate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	first, err := f.coord.EnsureWelcome(ctx, "u1")
	require.NoError(t, err)
	second, err := f.coord.EnsureWelcome(ctx, "u1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.generator.calls())
	assert.Equal(t, 1, countKind(f.turns(t, "u1"), chat.KindAssistant))
	assert.Len(t, f.publisher.published(), 1)
}

func TestEnsureWelcomeReturnsPersistedAssistantTurn(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	existing, err := f.store.Append(ctx, "bem-vindo de volta", chat.KindAssistant, "u1")
	require.NoError(t, err)

	turn, err := f.coord.EnsureWelcome(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, existing.ID, turn.ID)
	assert.Zero(t, f.generator.calls())
	assert.Empty(t, f.publisher.published())

	sess, ok := f.coord.Sessions().Peek("u1")
	require.True(t, ok)
	assert.True(t, sess.Welcomed())
}

func TestEnsureWelcomeFailureAllowsRetry(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.generator.reply = func(call int, _ string) (string, error) {
		if call == 1 {
			return "", &chat.ProviderError{Provider: "stub", Err: errors.New("quota exceeded")}
		}
		return welcomeText, nil
	}

	turn, err := f.coord.EnsureWelcome(ctx, "u1")
	require.Error(t, err)
	assert.True(t, chat.IsProvider(err))
	assert.Nil(t, turn)
	assert.Empty(t, f.turns(t, "u1"))

	sess, ok := f.coord.Sessions().Peek("u1")
	require.True(t, ok)
	assert.False(t, sess.Welcomed())

	turn, err = f.coord.EnsureWelcome(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, welcomeText, turn.Content)
	assert.Equal(t, 2, f.generator.calls())
}

func TestEnsureWelcomePersistenceFailureResetsClaim(t *testing.T) {
	f := newFixture(t, Options{})
	f.coord.store = failingStore{TurnStore: f.store, appendErr: errDiskFull}

	_, err := f.coord.EnsureWelcome(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, chat.IsPersistence(err))
	assert.ErrorIs(t, err, errDiskFull)

	sess, ok := f.coord.Sessions().Peek("u1")
	require.True(t, ok)
	assert.False(t, sess.Welcomed())
	assert.Empty(t, f.publisher.published())
}

func TestEnsureWelcomeDiscardsWhenPersistedDuringGeneration(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	var raced chat.Turn
	f.generator.reply = func(int, string) (string, error) {
		var err error
		raced, err = f.store.Append(ctx, "outra saudação", chat.KindAssistant, "u1")
		return welcomeText, err
	}

	turn, err := f.coord.EnsureWelcome(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, raced.ID, turn.ID)
	assert.Equal(t, 1, countKind(f.turns(t, "u1"), chat.KindAssistant))
	assert.Empty(t, f.publisher.published())
}

func TestEnsureWelcomeClaimedButUnpersistedReturnsNil(t *testing.T) {
	f := newFixture(t, Options{})
	f.coord.Sessions().Get("u1").setWelcomed(true)

	turn, err := f.coord.EnsureWelcome(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, turn)
	assert.Zero(t, f.generator.calls())
}

func TestEnsureWelcomeCallerCancellationDoesNotAbortProduction(t *testing.T) {
	f := newFixture(t, Options{})
	f.generator.delay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.coord.EnsureWelcome(ctx, "u1")
	require.ErrorIs(t, err, context.Canceled)

	turn, err := f.coord.EnsureWelcome(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, 1, f.generator.calls())
	assert.Len(t, f.turns(t, "u1"), 1)
}
