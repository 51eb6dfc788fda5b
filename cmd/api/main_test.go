package main

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/forno/backend/internal/config"
	"github.com/zhouzirui/forno/backend/internal/handler/relay"
)

func TestRunServerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	registry := relay.NewRegistry(relay.RegistryOptions{Logger: zerolog.Nop()})
	relayHandler := relay.NewHandler(registry, nil, relay.Options{Logger: zerolog.Nop()})

	done := make(chan error, 1)
	go func() { done <- runServer(ctx, srv, registry, relayHandler) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRunServerReportsListenError(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:-1", Handler: http.NotFoundHandler()}
	registry := relay.NewRegistry(relay.RegistryOptions{Logger: zerolog.Nop()})
	relayHandler := relay.NewHandler(registry, nil, relay.Options{Logger: zerolog.Nop()})

	err := runServer(context.Background(), srv, registry, relayHandler)
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	mem, err := openStore(ctx, config.StoreConfig{Driver: config.StoreDriverMemory}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, mem.Close())

	db, err := openStore(ctx, config.StoreConfig{Driver: config.StoreDriverSQLite, Path: t.TempDir() + "/forno.db"}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = openStore(ctx, config.StoreConfig{Driver: "postgres"}, zerolog.Nop())
	assert.Error(t, err)
}
