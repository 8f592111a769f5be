package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/cmd/providers"
	"go.yarde.network/sweeper/pkg/sweep"
)

var sweepCmd = cobra.Command{
	Use:   "sweep",
	Short: "Run sweeps forever",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		runLoop(cmd, false)
	},
}

var oneshotCmd = cobra.Command{
	Use:   "oneshot",
	Short: "Run exactly one sweep cycle, then exit",
	Long: "Runs one sweep-build-and-wait cycle, sleeps the computed\n" +
		"cooldown, and exits. For deployments where an external\n" +
		"supervisor restarts the process per cycle.",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		runLoop(cmd, true)
	},
}

func init() {
	rootCmd.AddCommand(&sweepCmd)
	rootCmd.AddCommand(&oneshotCmd)
}

func runLoop(cmd *cobra.Command, once bool) {
	handler, err := providers.SetupPrometheus()
	if err != nil {
		log.Fatal("Failed to set up metrics", zap.Error(err))
	}
	app := providers.NewApp(cmd,
		fx.Invoke(func(lc fx.Lifecycle) {
			providers.ServeMetrics(log, lc, handler)
		}),
		fx.Invoke(func(
			ctx context.Context,
			lc fx.Lifecycle,
			shutdown fx.Shutdowner,
			loop *sweep.Loop,
		) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go func() {
						var err error
						if once {
							err = loop.RunOnce(ctx)
						} else {
							err = loop.Run(ctx)
						}
						if err != nil && err != context.Canceled {
							log.Error("Sweep loop failed", zap.Error(err))
						}
						if err := shutdown.Shutdown(); err != nil {
							log.Fatal("Failed to shut down", zap.Error(err))
						}
					}()
					return nil
				},
			})
		}),
	)
	app.Run()
}
