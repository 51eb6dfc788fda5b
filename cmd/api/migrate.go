package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/forno/backend/internal/config"
	"github.com/zhouzirui/forno/backend/internal/store/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the SQLite schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.Driver != config.StoreDriverSQLite {
			return fmt.Errorf("migrate requires STORE_DRIVER=%s, got %q", config.StoreDriverSQLite, cfg.Store.Driver)
		}

		store, err := sqlite.Open(cmd.Context(), cfg.Store.Path, log.Logger)
		if err != nil {
			return err
		}
		defer store.Close()

		log.Info().Str("path", cfg.Store.Path).Msg("schema up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
