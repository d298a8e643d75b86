package main

import (
	"identity-service/internal/config"
	"identity-service/internal/migrations"
	"identity-service/pkg/utils"

	"github.com/spf13/cobra"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  `Apply every pending embedded migration to the configured PostgreSQL database.`,
		RunE:  runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	cmd.Println("Connecting to database...")
	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PoolOptions{MaxOpen: 2})
	if err != nil {
		return err
	}
	defer db.Close()

	cmd.Println("Running migrations...")
	if err := migrations.Up(ctx, db); err != nil {
		return err
	}
	cmd.Println("Migrations completed successfully")
	return nil
}
