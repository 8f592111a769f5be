// Package providers wires shared components for the sweeper commands.
package providers

import (
	"context"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric/global"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.yarde.network/sweeper/pkg/appctx"
)

// Log is the global logger.
var Log *zap.Logger

// Providers holds constructors for shared components.
var Providers = []interface{}{
	// mysql.go
	NewMySQL,
	// providers.go
	NewContext,
	// redis.go
	NewRedis,
	// sarama.go
	NewSaramaConfig,
	NewSaramaClient,
	NewSaramaConsumerGroup,
	NewSaramaAsyncProducer,
	// topology.go
	NewTopologyConfig,
	NewShardFactory,
	// sweeper.go
	NewReportStore,
	NewEntityStore,
	NewSubmitter,
	NewLoopOptions,
	NewLoop,
}

// NewApp builds an fx app over the shared providers.
func NewApp(cmd *cobra.Command, opts ...fx.Option) *fx.App {
	baseOpts := []fx.Option{
		fx.Provide(Providers...),
		fx.Supply(cmd),
		fx.Supply(Log),
		fx.Logger(zap.NewStdLog(Log)),
		fx.Supply(global.GetMeterProvider().Meter(cmd.Name())),
	}
	baseOpts = append(baseOpts, opts...)
	return fx.New(baseOpts...)
}

// NewContext provides the app context, cancelled on shutdown or interrupt.
func NewContext(lc fx.Lifecycle) context.Context {
	ctx, cancel := context.WithCancel(appctx.Context())
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
	return ctx
}
