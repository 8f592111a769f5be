package main

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/cmd/providers"
	"go.yarde.network/sweeper/pkg/pulse"
	"go.yarde.network/sweeper/pkg/shardq"
	"go.yarde.network/sweeper/pkg/sweep"
	"go.yarde.network/sweeper/pkg/topology"
	"go.yarde.network/sweeper/pkg/topology/redisshard"
)

var dropSweepCmd = cobra.Command{
	Use:   "drop-sweep <sweep-id>",
	Short: "Delete all keys of a stale sweep",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		app := providers.NewApp(cmd,
			fx.Invoke(func(
				ctx context.Context,
				shutdown fx.Shutdowner,
				topo *topology.Config,
				shards redisshard.Factory,
				rd *redis.Client,
			) {
				dropSweep(ctx, topo, shards, rd, args[0])
				if err := shutdown.Shutdown(); err != nil {
					log.Fatal("Failed to shut down", zap.Error(err))
				}
			}),
		)
		app.Run()
	},
}

func init() {
	rootCmd.AddCommand(&dropSweepCmd)
}

func dropSweep(
	ctx context.Context,
	topo *topology.Config,
	shards redisshard.Factory,
	rd *redis.Client,
	sweepID string,
) {
	queue := &shardq.Queue{
		Sweep:    sweepID,
		Topology: topo,
		Shards:   shards,
		Options:  shardq.DefaultOptions,
	}
	if err := queue.Drop(ctx); err != nil {
		log.Fatal("Failed to drop sweep queue", zap.Error(err))
	}
	tracker := &pulse.Tracker{Redis: rd, Sweep: sweepID}
	if err := tracker.Drop(ctx, time.Now(), 24*time.Hour); err != nil {
		log.Fatal("Failed to drop pulse counters", zap.Error(err))
	}
	flag := &sweep.Flag{Redis: rd}
	if err := flag.Clear(ctx, sweepID); err != nil {
		log.Fatal("Failed to clear sweep flag", zap.Error(err))
	}
	log.Info("Dropped sweep", zap.String("sweep", sweepID))
}
