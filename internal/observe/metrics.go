// Package observe provides application-wide observability primitives for
// Trunkline: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Trunkline metrics.
const meterName = "github.com/trunkline-ai/trunkline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnLatency tracks final-transcript-to-first-audio-frame latency,
	// the number callers actually perceive.
	TurnLatency metric.Float64Histogram

	// STTDuration tracks speech-to-text session stage latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM completion stage latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis stage latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// CallsTotal counts finished calls. Use with attribute:
	//   attribute.String("status", ...)
	CallsTotal metric.Int64Counter

	// TokensTotal counts LLM tokens. Use with attribute:
	//   attribute.String("kind", "input"|"output")
	TokensTotal metric.Int64Counter

	// TTSCharacters counts characters sent to synthesis (the TTS billing
	// unit).
	TTSCharacters metric.Int64Counter

	// ToolExecutions counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("outcome", ...)
	ToolExecutions metric.Int64Counter

	// BargeIns counts caller interruptions of agent speech.
	BargeIns metric.Int64Counter

	// RAGCacheLookups counts embedding-cache outcomes. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	RAGCacheLookups metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
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

	// Histograms.
	if met.TurnLatency, err = m.Float64Histogram("trunkline.turn.latency",
		metric.WithDescription("Latency from final transcript to first outbound audio frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("trunkline.stt.duration",
		metric.WithDescription("Latency of speech-to-text stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("trunkline.llm.duration",
		metric.WithDescription("Latency of LLM completion steps."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("trunkline.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CallsTotal, err = m.Int64Counter("trunkline.calls.total",
		metric.WithDescription("Total finished calls by terminal status."),
	); err != nil {
		return nil, err
	}
	if met.TokensTotal, err = m.Int64Counter("trunkline.llm.tokens",
		metric.WithDescription("Total LLM tokens by kind (input/output)."),
	); err != nil {
		return nil, err
	}
	if met.TTSCharacters, err = m.Int64Counter("trunkline.tts.characters",
		metric.WithDescription("Total characters sent to speech synthesis."),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutions, err = m.Int64Counter("trunkline.tool.executions",
		metric.WithDescription("Total tool invocations by tool name and outcome."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("trunkline.call.barge_ins",
		metric.WithDescription("Total caller interruptions of agent speech."),
	); err != nil {
		return nil, err
	}
	if met.RAGCacheLookups, err = m.Int64Counter("trunkline.rag.cache_lookups",
		metric.WithDescription("Total query-embedding cache lookups by result."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("trunkline.active_calls",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("trunkline.http.request.duration",
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

// ─────────────────────────────────────────────────────────────────────────────
// Observer adapters
//
// Metrics satisfies the observer interfaces of internal/call, internal/tools,
// and internal/rag so the app can hand one instance to all three.
// ─────────────────────────────────────────────────────────────────────────────

// CallStarted marks a call as live.
func (m *Metrics) CallStarted(ctx context.Context) {
	m.ActiveCalls.Add(ctx, 1)
}

// CallEnded marks a call as finished with its terminal status.
func (m *Metrics) CallEnded(ctx context.Context, status string) {
	m.ActiveCalls.Add(ctx, -1)
	m.CallsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// TurnCompleted records one transcript-to-first-audio measurement.
func (m *Metrics) TurnCompleted(ctx context.Context, firstAudioLatency time.Duration) {
	m.TurnLatency.Record(ctx, firstAudioLatency.Seconds())
}

// BargeIn counts one caller interruption.
func (m *Metrics) BargeIn(ctx context.Context) {
	m.BargeIns.Add(ctx, 1)
}

// ToolExecuted counts one tool invocation by outcome.
func (m *Metrics) ToolExecuted(ctx context.Context, name, outcome string) {
	m.ToolExecutions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", name),
			attribute.String("outcome", outcome),
		),
	)
}

// RAGCacheHit counts one embedding-cache hit.
func (m *Metrics) RAGCacheHit(ctx context.Context) {
	m.RAGCacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", "hit")))
}

// RAGCacheMiss counts one embedding-cache miss.
func (m *Metrics) RAGCacheMiss(ctx context.Context) {
	m.RAGCacheLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", "miss")))
}

// Pipeline stage names accepted by [Metrics.StageCompleted].
const (
	StageSTT = "stt"
	StageLLM = "llm"
	StageTTS = "tts"
)

// StageCompleted records one pipeline stage measurement into the matching
// histogram. Unknown stage names are dropped.
func (m *Metrics) StageCompleted(ctx context.Context, stage string, d time.Duration) {
	switch stage {
	case StageSTT:
		m.STTDuration.Record(ctx, d.Seconds())
	case StageLLM:
		m.LLMDuration.Record(ctx, d.Seconds())
	case StageTTS:
		m.TTSDuration.Record(ctx, d.Seconds())
	}
}

// RecordTokens accumulates one usage report into the token counters.
func (m *Metrics) RecordTokens(ctx context.Context, input, output int64) {
	if input > 0 {
		m.TokensTotal.Add(ctx, input,
			metric.WithAttributes(attribute.String("kind", "input")))
	}
	if output > 0 {
		m.TokensTotal.Add(ctx, output,
			metric.WithAttributes(attribute.String("kind", "output")))
	}
}
