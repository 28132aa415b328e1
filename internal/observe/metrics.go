// Package observe provides application-wide observability primitives for
// notescribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all notescribe metrics.
const meterName = "github.com/MrWong99/notescribe"

// Transcription pipeline stage names used as the "stage" attribute.
const (
	StageAnalyze  = "analyze"
	StageDetect   = "detect"
	StageSegment  = "segment"
	StageAssemble = "assemble"
	StageEncode   = "encode"
	StageDecode   = "decode"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// StageDuration tracks per-stage pipeline latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// TranscriptionDuration tracks end-to-end transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// --- Counters ---

	// Transcriptions counts finished transcriptions. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	Transcriptions metric.Int64Counter

	// Notes counts emitted note events.
	Notes metric.Int64Counter

	// --- Error counters ---

	// TranscriptionErrors counts failed transcriptions. Use with attribute:
	//   attribute.String("kind", ...)
	TranscriptionErrors metric.Int64Counter

	// --- Input size ---

	// AudioDuration tracks the length of transcribed audio in seconds.
	AudioDuration metric.Float64Histogram

	// --- Gauges ---

	// ActiveTranscriptions tracks the number of in-flight transcriptions.
	ActiveTranscriptions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// pipeline stage latencies.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// audioBuckets defines bucket boundaries (in seconds) for input audio length.
var audioBuckets = []float64{
	1, 5, 10, 30, 60, 120, 300, 600, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.StageDuration, err = m.Float64Histogram("notescribe.stage.duration",
		metric.WithDescription("Latency of a single transcription pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("notescribe.transcription.duration",
		metric.WithDescription("End-to-end transcription latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioDuration, err = m.Float64Histogram("notescribe.audio.duration",
		metric.WithDescription("Length of transcribed audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(audioBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Transcriptions, err = m.Int64Counter("notescribe.transcriptions",
		metric.WithDescription("Total transcriptions by status."),
	); err != nil {
		return nil, err
	}
	if met.Notes, err = m.Int64Counter("notescribe.notes",
		metric.WithDescription("Total note events emitted."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TranscriptionErrors, err = m.Int64Counter("notescribe.transcription.errors",
		metric.WithDescription("Total failed transcriptions by error kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTranscriptions, err = m.Int64UpDownCounter("notescribe.active_transcriptions",
		metric.WithDescription("Number of in-flight transcriptions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("notescribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordTranscription records a successful transcription: its latency, the
// length of the input audio and the number of notes emitted.
func (m *Metrics) RecordTranscription(ctx context.Context, d time.Duration, audioSeconds float64, notes int) {
	m.Transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
	m.TranscriptionDuration.Record(ctx, d.Seconds())
	m.AudioDuration.Record(ctx, audioSeconds)
	m.Notes.Add(ctx, int64(notes))
}

// RecordTranscriptionError records a failed transcription of the given error
// kind.
func (m *Metrics) RecordTranscriptionError(ctx context.Context, kind string) {
	m.Transcriptions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
	m.TranscriptionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
