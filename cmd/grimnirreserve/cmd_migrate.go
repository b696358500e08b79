/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_reserve/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Apply the reservation and waiting list schema to the configured database.

Requires RESERVE_DB_BACKEND to be postgres, mysql or sqlite and RESERVE_DB_DSN
to point at the database. On PostgreSQL an overlap trigger for confirmed
reservations is installed as well.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if !cfg.Persistent() {
		return fmt.Errorf("migrate needs a SQL backend, RESERVE_DB_BACKEND is %q", cfg.DBBackend)
	}

	database, err := db.Connect(cfg.DBBackend, cfg.DBDSN, logger)
	if err != nil {
		return err
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return err
	}
	logger.Info().Str("backend", string(cfg.DBBackend)).Msg("schema migrated")
	return nil
}
