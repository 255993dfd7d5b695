// Package observe provides application-wide observability primitives for
// VoxBridge: OpenTelemetry metrics and structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is wired up in cmd/voxbridged so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all VoxBridge metrics.
const meterName = "github.com/voxbridge/voxbridge"

// Metrics holds all OpenTelemetry metric instruments for the voice pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- STT stage ---

	// STTConnectionDuration tracks how long it takes to establish (or
	// re-establish) the upstream STT websocket connection.
	STTConnectionDuration metric.Float64Histogram

	// STTFirstPartial tracks time from utterance start to the first partial
	// transcript.
	STTFirstPartial metric.Float64Histogram

	// TranscriptionDuration tracks time from utterance start to the final
	// transcript for that utterance.
	TranscriptionDuration metric.Float64Histogram

	// SilenceDetectionDuration tracks time from last speech frame to the
	// silence threshold firing.
	SilenceDetectionDuration metric.Float64Histogram

	// --- LLM stage ---

	// LLMFirstFragment tracks time from context submission to the first
	// streamed response fragment.
	LLMFirstFragment metric.Float64Histogram

	// LLMTotalDuration tracks time from context submission to the final
	// response fragment.
	LLMTotalDuration metric.Float64Histogram

	// LLMParseDuration tracks latency of parsing/validating a streamed
	// response fragment into sentence-boundary units.
	LLMParseDuration metric.Float64Histogram

	// --- TTS stage ---

	// TTSPerSentenceDuration tracks synthesis latency for a single sentence.
	TTSPerSentenceDuration metric.Float64Histogram

	// TTSTotalStreamDuration tracks time from the first sentence submitted to
	// tts_complete for the whole turn.
	TTSTotalStreamDuration metric.Float64Histogram

	// --- End-to-end ---

	// E2ETimeToFirstAudio tracks time from utterance end (stop_listening) to
	// the first TTS audio chunk delivered to the client.
	E2ETimeToFirstAudio metric.Float64Histogram

	// E2ETotalDuration tracks time from utterance end to tts_complete.
	E2ETotalDuration metric.Float64Histogram

	// --- Counters ---

	// TurnCount counts completed turns. Use with attribute:
	//   attribute.String("agent_id", ...)
	TurnCount metric.Int64Counter

	// ErrorCount counts errors surfaced to a session. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("op", ...)
	ErrorCount metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTConnectionDuration, err = m.Float64Histogram("voxbridge.stt.connection.duration",
		metric.WithDescription("Latency of establishing the upstream STT connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTFirstPartial, err = m.Float64Histogram("voxbridge.stt.first_partial.duration",
		metric.WithDescription("Time from utterance start to the first partial transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = m.Float64Histogram("voxbridge.stt.transcription.duration",
		metric.WithDescription("Time from utterance start to the final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SilenceDetectionDuration, err = m.Float64Histogram("voxbridge.stt.silence_detection.duration",
		metric.WithDescription("Time from last speech frame to silence threshold."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.LLMFirstFragment, err = m.Float64Histogram("voxbridge.llm.first_fragment.duration",
		metric.WithDescription("Time from context submission to the first streamed LLM fragment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMTotalDuration, err = m.Float64Histogram("voxbridge.llm.total.duration",
		metric.WithDescription("Time from context submission to the final LLM fragment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMParseDuration, err = m.Float64Histogram("voxbridge.llm.parse.duration",
		metric.WithDescription("Latency of splitting a streamed fragment into sentence units."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TTSPerSentenceDuration, err = m.Float64Histogram("voxbridge.tts.sentence.duration",
		metric.WithDescription("Synthesis latency for a single sentence."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSTotalStreamDuration, err = m.Float64Histogram("voxbridge.tts.stream.duration",
		metric.WithDescription("Time from the first sentence submitted to tts_complete."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.E2ETimeToFirstAudio, err = m.Float64Histogram("voxbridge.e2e.time_to_first_audio",
		metric.WithDescription("Time from utterance end to the first TTS audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.E2ETotalDuration, err = m.Float64Histogram("voxbridge.e2e.total.duration",
		metric.WithDescription("Time from utterance end to tts_complete."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TurnCount, err = m.Int64Counter("voxbridge.turn.count",
		metric.WithDescription("Total completed conversation turns."),
	); err != nil {
		return nil, err
	}
	if met.ErrorCount, err = m.Int64Counter("voxbridge.error.count",
		metric.WithDescription("Total errors surfaced to a session, by kind and operation."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxbridge.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
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

// RecordTurn is a convenience method that records a completed-turn counter
// increment.
func (m *Metrics) RecordTurn(ctx context.Context, agentID string) {
	m.TurnCount.Add(ctx, 1, metric.WithAttributes(attribute.String("agent_id", agentID)))
}

// RecordError is a convenience method that records an error counter
// increment with the standard attribute set.
func (m *Metrics) RecordError(ctx context.Context, kind, op string) {
	m.ErrorCount.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("op", op),
		),
	)
}
