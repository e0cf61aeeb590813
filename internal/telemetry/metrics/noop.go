package metrics

import "context"

// NoopMetricsSvc discards every measurement. Used when OpenTelemetry
// is disabled.
type NoopMetricsSvc struct{}

func NewNoopMetricsSvc() *NoopMetricsSvc {
	return &NoopMetricsSvc{}
}

func (*NoopMetricsSvc) Increment(MetricName) {}

func (*NoopMetricsSvc) IncrementWAttrs(MetricName, map[string]string) {}

func (*NoopMetricsSvc) Observe(MetricName, float64, map[string]string) {}

func (*NoopMetricsSvc) Shutdown(context.Context) error { return nil }
