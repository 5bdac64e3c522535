// Package observe provides application-wide observability primitives for
// the playback core: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all core metrics.
const meterName = "github.com/ssi-learning/playbackcore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per playback phase ---

	// PhaseDuration tracks wall-clock time spent in each Cycle Player phase.
	// Use with attribute.String("phase", ...).
	PhaseDuration metric.Float64Histogram

	// PauseAccuracyMs tracks the signed delta (observed − computed) between
	// a cycle's measured PAUSE phase and its computed pauseDurationMs.
	PauseAccuracyMs metric.Float64Histogram

	// ResponseLatency tracks the VAD's responseLatencyMs per cycle — time
	// from PROMPT start to the learner's first detected speech.
	ResponseLatency metric.Float64Histogram

	// ScriptGenerationDuration tracks how long a single Generate call takes.
	ScriptGenerationDuration metric.Float64Histogram

	// --- Counters ---

	// CyclesCompleted counts cycles that reached cycle:complete. Use with
	// attribute.String("type", ...).
	CyclesCompleted metric.Int64Counter

	// CyclesAborted counts cycles ended by stop() before completion.
	CyclesAborted metric.Int64Counter

	// AudioErrors counts cycle:audio-error occurrences. Use with
	// attribute.String("phase", ...).
	AudioErrors metric.Int64Counter

	// RoundsCompleted counts round:completed occurrences.
	RoundsCompleted metric.Int64Counter

	// LoaderFetchErrors counts ContentFetchError occurrences in the
	// Priority Round Loader, keyed by attribute.String("signature", ...).
	LoaderFetchErrors metric.Int64Counter

	// VADSpeechDetected counts cycles where speechDetected was true.
	VADSpeechDetected metric.Int64Counter

	// MicrophoneUnavailable counts sessions that degraded to no-timing mode.
	MicrophoneUnavailable metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live Session Controllers.
	ActiveSessions metric.Int64UpDownCounter

	// LoaderQueueDepth tracks the Priority Round Loader's pending-seed count.
	LoaderQueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// cycle-phase and response-latency durations, which range from sub-second
// (pause accuracy jitter) to tens of seconds (a long spoken response).
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.PhaseDuration, err = m.Float64Histogram("playbackcore.phase.duration",
		metric.WithDescription("Wall-clock duration of a Cycle Player phase."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PauseAccuracyMs, err = m.Float64Histogram("playbackcore.pause.accuracy_ms",
		metric.WithDescription("Signed delta between measured and computed pause duration, in milliseconds."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if met.ResponseLatency, err = m.Float64Histogram("playbackcore.vad.response_latency",
		metric.WithDescription("Time from PROMPT start to first detected learner speech."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScriptGenerationDuration, err = m.Float64Histogram("playbackcore.script.generation_duration",
		metric.WithDescription("Latency of a single Generate call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.CyclesCompleted, err = m.Int64Counter("playbackcore.cycles.completed",
		metric.WithDescription("Total cycles that reached cycle:complete, by type."),
	); err != nil {
		return nil, err
	}
	if met.CyclesAborted, err = m.Int64Counter("playbackcore.cycles.aborted",
		metric.WithDescription("Total cycles ended by stop() before completion."),
	); err != nil {
		return nil, err
	}
	if met.AudioErrors, err = m.Int64Counter("playbackcore.audio.errors",
		metric.WithDescription("Total cycle:audio-error occurrences, by phase."),
	); err != nil {
		return nil, err
	}
	if met.RoundsCompleted, err = m.Int64Counter("playbackcore.rounds.completed",
		metric.WithDescription("Total round:completed occurrences."),
	); err != nil {
		return nil, err
	}
	if met.LoaderFetchErrors, err = m.Int64Counter("playbackcore.loader.fetch_errors",
		metric.WithDescription("Total ContentFetchError occurrences, by error signature."),
	); err != nil {
		return nil, err
	}
	if met.VADSpeechDetected, err = m.Int64Counter("playbackcore.vad.speech_detected",
		metric.WithDescription("Total cycles where the analyzer detected learner speech."),
	); err != nil {
		return nil, err
	}
	if met.MicrophoneUnavailable, err = m.Int64Counter("playbackcore.vad.microphone_unavailable",
		metric.WithDescription("Total sessions that degraded to no-timing mode."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("playbackcore.active_sessions",
		metric.WithDescription("Number of live Session Controllers."),
	); err != nil {
		return nil, err
	}
	if met.LoaderQueueDepth, err = m.Int64UpDownCounter("playbackcore.loader.queue_depth",
		metric.WithDescription("Pending-seed count in the Priority Round Loader's queue."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("playbackcore.http.request.duration",
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

// RecordCycleComplete is a convenience method that records a cycle
// completion counter increment with the cycle's type.
func (m *Metrics) RecordCycleComplete(ctx context.Context, cycleType string) {
	m.CyclesCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("type", cycleType)))
}

// RecordAudioError is a convenience method that records an audio error
// counter increment for the phase it interrupted.
func (m *Metrics) RecordAudioError(ctx context.Context, phase string) {
	m.AudioErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordLoaderFetchError is a convenience method that records a loader
// fetch-error counter increment keyed by error signature, matching the
// loader's own log-once-per-signature policy.
func (m *Metrics) RecordLoaderFetchError(ctx context.Context, signature string) {
	m.LoaderFetchErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("signature", signature)))
}
