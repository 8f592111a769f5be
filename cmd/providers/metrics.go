package providers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	otelprom "go.opentelemetry.io/otel/exporters/metric/prometheus"
	"go.opentelemetry.io/otel/metric/global"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Metrics config keys.
const (
	ConfMetricsListen = "metrics.listen"
)

func init() {
	viper.SetDefault(ConfMetricsListen, "")
}

// SetupPrometheus configures the OpenTelemetry Prometheus exporter.
// Returns the Prometheus exporter HTTP handler.
func SetupPrometheus() (http.Handler, error) {
	exporter, err := otelprom.NewExportPipeline(otelprom.Config{
		Registerer: prometheus.DefaultRegisterer,
		Gatherer:   prometheus.DefaultGatherer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build OpenTelemetry Prometheus exporter: %w", err)
	}
	global.SetMeterProvider(exporter.MeterProvider())
	return exporter, nil
}

// ServeMetrics exposes the Prometheus handler over HTTP for the
// lifetime of the app. Disabled when no listen address is configured.
func ServeMetrics(log *zap.Logger, lc fx.Lifecycle, handler http.Handler) {
	addr := viper.GetString(ConfMetricsListen)
	if addr == "" {
		return
	}
	server := &http.Server{Addr: addr, Handler: handler}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			log.Info("Starting metrics server", zap.String(ConfMetricsListen, addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("Metrics server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
