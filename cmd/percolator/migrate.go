package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	_ "github.com/lib/pq"

	"github.com/naturalis/percolator/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Bootstrap the Postgres schema for every configured Source (§4.10)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer db.Close()

		ctx := context.Background()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping: %w", err)
		}

		st := store.New(db)
		if err := st.BootstrapAll(ctx, cfg.Sources); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}

		fmt.Printf("bootstrapped %d sources plus the delete registry\n", len(cfg.Sources))
		return nil
	},
}
