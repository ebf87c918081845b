package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/yunfie-twitter/ytdlp-api/internal/config"
	"github.com/yunfie-twitter/ytdlp-api/internal/store/postgres"
)

func newMigrateCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("migrate: database_url is not configured")
			}

			db, err := sql.Open("pgx", cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			return postgres.Migrate(db)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config.yaml")
	return cmd
}
