package observability

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoGatherer indicates metrics were requested without Prometheus export.
var ErrNoGatherer = errors.New("prometheus export not enabled")

// WriteMetricsFile writes the gathered metrics to path in the Prometheus text
// format, for node_exporter's textfile collector.
func WriteMetricsFile(path string, gatherer prometheus.Gatherer) error {
	if gatherer == nil {
		return ErrNoGatherer
	}

	err := prometheus.WriteToTextfile(path, gatherer)
	if err != nil {
		return fmt.Errorf("write metrics file %s: %w", path, err)
	}

	return nil
}
