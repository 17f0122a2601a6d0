package commands

import (
	"context"

	"github.com/Sumatoshi-tech/coverage-runner/pkg/observability"
)

// startObservability initializes providers and returns a shutdown func that
// flushes telemetry, first writing metricsFile when one is given.
func startObservability(
	flags *GlobalFlags,
	mode observability.AppMode,
	metricsFile string,
) (observability.Providers, func(), error) {
	cfg := flags.observabilityConfig(mode)
	cfg.PrometheusExport = metricsFile != ""

	providers, err := observability.Init(cfg)
	if err != nil {
		return observability.Providers{}, nil, err
	}

	shutdown := func() {
		if metricsFile != "" {
			writeErr := observability.WriteMetricsFile(metricsFile, providers.Gatherer)
			if writeErr != nil {
				providers.Logger.Warn("metrics file not written", "path", metricsFile, "error", writeErr)
			} else {
				providers.Logger.Debug("metrics written", "path", metricsFile)
			}
		}

		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("observability shutdown failed", "error", shutdownErr)
		}
	}

	return providers, shutdown, nil
}
