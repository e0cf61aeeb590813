package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
)

const (
	meterName      = "github.com/giobyte8/thumbcache"
	exportInterval = 3 * time.Second
)

var serviceName = semconv.ServiceNameKey.String("thumbcache")

type instrumentSpec struct {
	description string
	unit        string
}

var counterSpecs = map[MetricName]instrumentSpec{
	ThumbGenRequestReceived: {"Received thumbnail generation requests", "{request}"},
	ThumbDelRequestReceived: {"Received source deletion requests", "{request}"},
	ThumbCreated:            {"Thumbnails rendered and written to storage", "{thumbnail}"},
	ThumbCacheHit:           {"Thumbnails served from the key-value store", "{thumbnail}"},
	ThumbPlaceholderServed:  {"Placeholders served for missing or unreadable sources", "{thumbnail}"},
	SourceDeleted:           {"Sources forgotten along with their thumbnails", "{image}"},
}

var histogramSpecs = map[MetricName]instrumentSpec{
	SourceDecodeDuration: {"Time spent decoding source images", "s"},
	ThumbRenderDuration:  {"Time spent rendering and encoding one thumbnail", "s"},
}

// OtelMetricsSvc exports counters and histograms to an OTLP collector.
type OtelMetricsSvc struct {
	counters   map[MetricName]metric.Int64Counter
	histograms map[MetricName]metric.Float64Histogram
	shutdown   func(ctx context.Context) error
}

func NewOtelMetricsSvc(ctx context.Context, collectorEndpoint string) (*OtelMetricsSvc, error) {
	provider, shutdown, err := newExportingProvider(ctx, collectorEndpoint)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(provider)

	svc, err := newOtelMetricsSvc(provider.Meter(meterName))
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	svc.shutdown = shutdown
	return svc, nil
}

// newOtelMetricsSvc registers every instrument on meter.
func newOtelMetricsSvc(meter metric.Meter) (*OtelMetricsSvc, error) {
	svc := &OtelMetricsSvc{
		counters:   make(map[MetricName]metric.Int64Counter, len(counterSpecs)),
		histograms: make(map[MetricName]metric.Float64Histogram, len(histogramSpecs)),
	}

	for name, spec := range counterSpecs {
		counter, err := meter.Int64Counter(
			string(name),
			metric.WithDescription(spec.description),
			metric.WithUnit(spec.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to register counter %s: %w", name, err)
		}
		svc.counters[name] = counter
	}

	for name, spec := range histogramSpecs {
		histogram, err := meter.Float64Histogram(
			string(name),
			metric.WithDescription(spec.description),
			metric.WithUnit(spec.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to register histogram %s: %w", name, err)
		}
		svc.histograms[name] = histogram
	}

	return svc, nil
}

func (s *OtelMetricsSvc) Increment(metricName MetricName) {
	s.IncrementWAttrs(metricName, nil)
}

func (s *OtelMetricsSvc) IncrementWAttrs(metricName MetricName, attrs map[string]string) {
	counter, ok := s.counters[metricName]
	if !ok {
		slog.Warn("Unknown counter", "metricName", metricName)
		return
	}

	counter.Add(context.Background(), 1, attributeSet(attrs))
}

func (s *OtelMetricsSvc) Observe(metricName MetricName, value float64, attrs map[string]string) {
	histogram, ok := s.histograms[metricName]
	if !ok {
		slog.Warn("Unknown histogram", "metricName", metricName)
		return
	}

	histogram.Record(context.Background(), value, attributeSet(attrs))
}

func (s *OtelMetricsSvc) Shutdown(ctx context.Context) error {
	if s.shutdown == nil {
		return nil
	}

	if err := s.shutdown(ctx); err != nil {
		slog.Error("Error during OpenTelemetry shutdown", "error", err)
		return err
	}

	slog.Debug("OpenTelemetry services shutdown successfully")
	return nil
}

func attributeSet(attrs map[string]string) metric.MeasurementOption {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for key, value := range attrs {
		kvs = append(kvs, attribute.String(key, value))
	}
	return metric.WithAttributeSet(attribute.NewSet(kvs...))
}

// newExportingProvider builds a meter provider that pushes to the
// collector at endpoint over gRPC. The returned func flushes pending
// measurements and then closes the connection.
func newExportingProvider(
	ctx context.Context,
	endpoint string,
) (*sdkmetric.MeterProvider, func(context.Context) error, error) {
	if endpoint == "" {
		return nil, nil, errors.New("OpenTelemetry collector endpoint is not configured")
	}
	slog.Debug("Initializing OpenTelemetry", "collector", endpoint)

	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(serviceName))
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create resource for OpenTelemetry: %w", err)
	}

	exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			exporter,
			sdkmetric.WithInterval(exportInterval),
		)),
	)

	shutdown := func(ctx context.Context) error {
		return errors.Join(provider.Shutdown(ctx), conn.Close())
	}
	return provider, shutdown, nil
}
