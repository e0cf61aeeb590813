package telemetry

import (
	"context"

	"github.com/giobyte8/thumbcache/internal/telemetry/metrics"
)

// Config controls metrics export.
type Config struct {
	OtelEnabled       bool
	CollectorEndpoint string
}

type TelemetrySvc struct {
	metrics metrics.MetricsSvc
}

func NewTelemetrySvc(ctx context.Context, cfg Config) (*TelemetrySvc, error) {
	if !cfg.OtelEnabled {
		return NewNoopTelemetrySvc(), nil
	}

	metricsSvc, err := metrics.NewOtelMetricsSvc(ctx, cfg.CollectorEndpoint)
	if err != nil {
		return nil, err
	}

	return &TelemetrySvc{
		metrics: metricsSvc,
	}, nil
}

// NewNoopTelemetrySvc discards every measurement.
func NewNoopTelemetrySvc() *TelemetrySvc {
	return NewTelemetrySvcWith(metrics.NewNoopMetricsSvc())
}

// NewTelemetrySvcWith wraps an existing metrics implementation.
func NewTelemetrySvcWith(metricsSvc metrics.MetricsSvc) *TelemetrySvc {
	return &TelemetrySvc{metrics: metricsSvc}
}

func (t *TelemetrySvc) Metrics() metrics.MetricsSvc {
	return t.metrics
}

func (t *TelemetrySvc) Shutdown(ctx context.Context) error {
	return t.metrics.Shutdown(ctx)
}
