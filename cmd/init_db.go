package main

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/cmd/providers"
	"go.yarde.network/sweeper/pkg/entities"
	"go.yarde.network/sweeper/pkg/report"
)

var initDBCmd = cobra.Command{
	Use:   "init-db",
	Short: "Create the job report and inventory tables",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		app := providers.NewApp(cmd,
			fx.Invoke(func(
				ctx context.Context,
				shutdown fx.Shutdowner,
				db *sqlx.DB,
				inventory *entities.Store,
			) {
				reports := &report.SQLStore{
					DB:        db,
					TableName: viper.GetString(providers.ConfReportsTable),
				}
				if err := reports.CreateTable(ctx); err != nil {
					log.Fatal("Failed to create reports table", zap.Error(err))
				}
				if err := inventory.CreateTables(ctx); err != nil {
					log.Fatal("Failed to create inventory tables", zap.Error(err))
				}
				log.Info("Created tables")
				if err := shutdown.Shutdown(); err != nil {
					log.Fatal("Failed to shut down", zap.Error(err))
				}
			}),
		)
		app.Run()
	},
}

func init() {
	rootCmd.AddCommand(&initDBCmd)
}
