// Package observe provides bandviz metrics through the OpenTelemetry metric
// API, with a Prometheus exporter bridge for scraping.
//
// Tests should build Metrics with NewMetrics and a ManualReader-backed
// provider to avoid sharing global state.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/olivier-w/bandviz"

// Metrics holds the instruments recorded by the pipeline. All fields are safe
// for concurrent use.
type Metrics struct {
	// CaptureBlocks counts blocks accepted from the capture callback.
	CaptureBlocks metric.Int64Counter

	// CaptureDropped counts blocks discarded because the queue was full or
	// contended.
	CaptureDropped metric.Int64Counter

	// CaptureOverflows counts blocks flagged with input overflow or
	// underflow. Use with attribute.String("kind", "overflow"|"underflow").
	CaptureOverflows metric.Int64Counter

	// Recoveries counts successful reconnects after device loss.
	Recoveries metric.Int64Counter

	// RecoveryFailures counts reconnect attempts that failed.
	RecoveryFailures metric.Int64Counter

	// AnalysisDuration tracks worker time per block, downmix through
	// publish.
	AnalysisDuration metric.Float64Histogram

	// ActiveStreams tracks open capture streams.
	ActiveStreams metric.Int64UpDownCounter
}

// analysisBuckets are in seconds; one block at 44.1 kHz and 1024 frames is
// about 23 ms.
var analysisBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CaptureBlocks, err = m.Int64Counter("bandviz.capture.blocks",
		metric.WithDescription("Capture blocks accepted into the analysis queue."),
	); err != nil {
		return nil, err
	}
	if met.CaptureDropped, err = m.Int64Counter("bandviz.capture.dropped",
		metric.WithDescription("Capture blocks dropped because the queue was full or busy."),
	); err != nil {
		return nil, err
	}
	if met.CaptureOverflows, err = m.Int64Counter("bandviz.capture.overflows",
		metric.WithDescription("Capture blocks reported with device overflow or underflow."),
	); err != nil {
		return nil, err
	}
	if met.Recoveries, err = m.Int64Counter("bandviz.pipeline.recoveries",
		metric.WithDescription("Successful capture reconnects after device loss."),
	); err != nil {
		return nil, err
	}
	if met.RecoveryFailures, err = m.Int64Counter("bandviz.pipeline.recovery_failures",
		metric.WithDescription("Failed capture reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("bandviz.analysis.duration",
		metric.WithDescription("Worker time spent analysing one capture block."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(analysisBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("bandviz.capture.active_streams",
		metric.WithDescription("Open capture streams."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns metrics bound to the global meter provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Discard returns metrics that record nothing.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: noop metrics: " + err.Error())
	}
	return m
}

// RecordOverflow counts one flagged block.
func (m *Metrics) RecordOverflow(ctx context.Context, kind string) {
	m.CaptureOverflows.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRecovery counts one reconnect outcome for the given backend.
func (m *Metrics) RecordRecovery(ctx context.Context, backend string, ok bool) {
	attrs := metric.WithAttributes(attribute.String("backend", backend))
	if ok {
		m.Recoveries.Add(ctx, 1, attrs)
		return
	}
	m.RecoveryFailures.Add(ctx, 1, attrs)
}
