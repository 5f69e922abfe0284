package sharder

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/sharder/internal/logging"
	"github.com/arloliu/sharder/internal/metrics"
)

// NewPrometheusMetrics returns a MetricsCollector that exports Prometheus metrics.
//
// Collectors are registered on reg on first use. A nil reg uses
// prometheus.DefaultRegisterer and an empty namespace uses "sharder".
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) MetricsCollector {
	return metrics.NewPrometheus(reg, namespace)
}

// NewSlogLogger adapts a *slog.Logger to Logger. A nil logger uses slog.Default().
func NewSlogLogger(logger *slog.Logger) Logger {
	if logger == nil {
		return logging.NewSlogDefault()
	}

	return logging.NewSlog(logger)
}
