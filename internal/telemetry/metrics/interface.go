package metrics

import (
	"context"
)

// MetricName identifies a counter or a histogram.
type MetricName string

// Counters
const (
	ThumbGenRequestReceived MetricName = "thumbnail.gen_request.received"
	ThumbDelRequestReceived MetricName = "thumbnail.del_request.received"
	ThumbCreated            MetricName = "thumbnail.created"
	ThumbCacheHit           MetricName = "thumbnail.cache.hit"
	ThumbPlaceholderServed  MetricName = "thumbnail.placeholder.served"
	SourceDeleted           MetricName = "source.deleted"
)

// Histograms, measured in seconds
const (
	SourceDecodeDuration MetricName = "source.decode.duration"
	ThumbRenderDuration  MetricName = "thumbnail.render.duration"
)

type MetricsSvc interface {
	Increment(metric MetricName)
	IncrementWAttrs(metric MetricName, attrs map[string]string)

	// Observe records one value of a histogram.
	Observe(metric MetricName, value float64, attrs map[string]string)

	Shutdown(ctx context.Context) error
}
