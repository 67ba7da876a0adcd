// Package observe provides application-wide observability primitives for
// voxnote: OpenTelemetry metrics, tracing, trace-aware logging and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped
// through the Prometheus registry owned by [Telemetry]. Tests build their
// own [Metrics] with [NewMetrics] on a manual reader; [DefaultMetrics] binds
// to whatever global meter provider is installed.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxnote metrics.
const meterName = "github.com/MrWong99/voxnote"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// VADDuration tracks per-chunk voice activity detection latency.
	VADDuration metric.Float64Histogram

	// ASRDuration tracks speech recognition latency for one utterance.
	ASRDuration metric.Float64Histogram

	// ClassifyDuration tracks intent classification latency.
	ClassifyDuration metric.Float64Histogram

	// NotesDuration tracks note file mutation latency.
	NotesDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts utterances emitted by the segmenter. Use with
	// attribute.String("outcome", "emitted"|"discarded").
	Utterances metric.Int64Counter

	// PipelineRuns counts completed pipeline runs. Use with
	// attribute.String("intent", ...), attribute.String("status", ...).
	PipelineRuns metric.Int64Counter

	// ProviderErrors counts failures of external collaborators. Use with
	// attribute.String("provider", ...), attribute.String("kind", ...).
	ProviderErrors metric.Int64Counter

	// DroppedChunks counts inbound audio chunks rejected for their size.
	DroppedChunks metric.Int64Counter

	// SessionsReaped counts sessions destroyed by the idle reaper.
	SessionsReaped metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attribute.String("breaker", ...), attribute.String("state", ...).
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live connections.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). ASR and
// classification of a spoken command routinely take several seconds.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.VADDuration, "voxnote.vad.duration", "Latency of voice activity detection per audio chunk."},
		{&met.ASRDuration, "voxnote.asr.duration", "Latency of speech recognition per utterance."},
		{&met.ClassifyDuration, "voxnote.classify.duration", "Latency of intent classification."},
		{&met.NotesDuration, "voxnote.notes.duration", "Latency of note file mutations."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.Utterances, err = m.Int64Counter("voxnote.utterances",
		metric.WithDescription("Utterances closed by the segmenter by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PipelineRuns, err = m.Int64Counter("voxnote.pipeline.runs",
		metric.WithDescription("Pipeline runs by intent and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("voxnote.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("voxnote.dropped_chunks",
		metric.WithDescription("Inbound audio chunks rejected for an invalid size."),
	); err != nil {
		return nil, err
	}
	if met.SessionsReaped, err = m.Int64Counter("voxnote.sessions.reaped",
		metric.WithDescription("Sessions destroyed after exceeding the idle timeout."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("voxnote.breaker.transitions",
		metric.WithDescription("Circuit breaker transitions by breaker and new state."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxnote.active_sessions",
		metric.WithDescription("Number of live audio sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxnote.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// ObserveSince records the seconds elapsed since start on h.
func ObserveSince(ctx context.Context, h metric.Float64Histogram, start time.Time, attrs ...attribute.KeyValue) {
	h.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attrs...))
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordUtterance records a segmenter outcome: "emitted" or "discarded".
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPipelineRun records the result of one pipeline run.
func (m *Metrics) RecordPipelineRun(ctx context.Context, intent, status string) {
	m.PipelineRuns.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition records that breaker moved to state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("state", state),
		),
	)
}
