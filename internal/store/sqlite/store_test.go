package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/forno/backend/internal/model/chat"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "forno.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAndListOrdered(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	contents := []string{"bem-vindo", "quero uma calabresa", "ótima escolha"}
	kinds := []chat.Kind{chat.KindAssistant, chat.KindClient, chat.KindAssistant}
	for i := range contents {
		_, err := store.Append(ctx, contents[i], kinds[i], "u1")
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, "noise", chat.KindClient, "u2")
	require.NoError(t, err)

	turns, err := store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i, turn := range turns {
		assert.Equal(t, contents[i], turn.Content)
		assert.Equal(t, kinds[i], turn.Kind)
		assert.Equal(t, "u1", turn.UserID)
		assert.NotEmpty(t, turn.ID)
	}

	welcome, ok := chat.FirstAssistant(turns)
	require.True(t, ok)
	assert.Equal(t, "bem-vindo", welcome.Content)
}

func TestAppendRejectsInvalidKind(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Append(context.Background(), "x", chat.Kind("IA"), "u1")
	assert.True(t, chat.IsPersistence(err))
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestReopenKeepsTurns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forno.db")
	ctx := context.Background()

	store, err := Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	_, err = store.Append(ctx, "bem-vindo", chat.KindAssistant, "u1")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	turns, err := reopened.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestUsersGetOrCreate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.CreateUser(ctx, "Ana", "11999990000")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	again, err := store.CreateUser(ctx, "Outra", "11999990000")
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, "Ana", again.Name)

	_, err = store.FindByPhone(ctx, "404")
	assert.ErrorIs(t, err, chat.ErrUserNotFound)

	_, err = store.CreateUser(ctx, "Ana", " ")
	assert.ErrorIs(t, err, chat.ErrInvalidUser)
}
