package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/forno/backend/internal/config"
	"github.com/zhouzirui/forno/backend/internal/logger"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "forno",
	Short: "Forno chat backend",
	Long: `Forno relays websocket chat between pizzeria customers and a generative
attendant, persisting every turn.

Run without a subcommand to start the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the dotenv file, the environment and installs the process logger.
func loadConfig() (*config.Config, error) {
	envErr := godotenv.Load(envFile)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return nil, err
	}

	logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if envErr != nil {
		log.Debug().Err(envErr).Str("file", envFile).Msg("continuing with system environment variables only")
	}
	return cfg, nil
}
