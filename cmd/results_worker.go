package main

import (
	"context"
	"time"

	"github.com/Shopify/sarama"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/cmd/providers"
	"go.yarde.network/sweeper/pkg/entities"
	"go.yarde.network/sweeper/pkg/pulse"
	"go.yarde.network/sweeper/pkg/report"
	"go.yarde.network/sweeper/pkg/results"
)

// Results worker config keys.
const (
	ConfResultsBatch    = "results.batch"
	ConfResultsMaxDelay = "results.max_delay"
	ConfResultsPulseTTL = "results.pulse_ttl"
)

func init() {
	viper.SetDefault(ConfResultsBatch, uint(256))
	viper.SetDefault(ConfResultsMaxDelay, 2*time.Second)
	viper.SetDefault(ConfResultsPulseTTL, time.Hour)
	rootCmd.AddCommand(&resultsWorkerCmd)
}

var resultsWorkerCmd = cobra.Command{
	Use:   "results-worker",
	Short: "Consume worker outcome records",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		app := providers.NewApp(cmd, fx.Invoke(runResultsWorker))
		app.Run()
	},
}

func runResultsWorker(
	ctx context.Context,
	lc fx.Lifecycle,
	shutdown fx.Shutdowner,
	rd *redis.Client,
	reports report.Store,
	inventory *entities.Store,
	consumerGroup sarama.ConsumerGroup,
) {
	worker := &results.Worker{
		MaxDelay:  viper.GetDuration(ConfResultsMaxDelay),
		BatchSize: viper.GetUint(ConfResultsBatch),
		Reports:   reports,
		Entities:  inventory,
		Pulses:    &pulse.TrackerSet{Redis: rd, BucketTTL: viper.GetDuration(ConfResultsPulseTTL)},
		Log:       log,
	}
	topic := viper.GetString(providers.ConfKafkaResultsTopic)
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				log.Info("Starting results worker",
					zap.String(providers.ConfKafkaResultsTopic, topic))
				for ctx.Err() == nil {
					if err := consumerGroup.Consume(ctx, []string{topic}, worker); err != nil {
						log.Error("Consumer group session failed", zap.Error(err))
						break
					}
				}
				if err := shutdown.Shutdown(); err != nil {
					log.Fatal("Failed to shut down", zap.Error(err))
				}
			}()
			return nil
		},
	})
}
