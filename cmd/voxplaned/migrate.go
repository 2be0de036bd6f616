package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nodalflow/voxplane/internal/config"
	"github.com/nodalflow/voxplane/internal/database"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if cfg.Database.DSN == "" {
				return fmt.Errorf("migrate: database.dsn is not configured")
			}

			dbCfg := database.DefaultConfig(cfg.Database.DSN)
			db, err := database.Open(context.Background(), dbCfg)
			if err != nil {
				return err
			}
			defer db.Close()

			fmt.Println("migrations applied")
			return nil
		},
	}
}
