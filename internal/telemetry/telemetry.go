// Package telemetry carries per-call usage accounting and publishes call
// lifecycle events to a Redis stream for downstream billing and dashboard
// consumers.
//
// Emission is best-effort: a failed XADD is logged and dropped, never
// propagated into the call path.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream key consumed by the billing worker.
const DefaultStream = "call_events"

// Call terminal statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// CallMetrics accumulates usage for a single call. It is mutated only by the
// call's orchestrator goroutine and emitted exactly once on teardown.
type CallMetrics struct {
	CallID          string
	TenantID        string
	AgentID         string
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds float64
	InputTokens     int64
	OutputTokens    int64
	TTSCharacters   int64
	Status          string
	EndReason       string
}

// Finalize stamps the end time, duration, and status. EndReason is set only
// for failed calls.
func (m *CallMetrics) Finalize(end time.Time, status, endReason string) {
	m.EndTime = end
	m.DurationSeconds = end.Sub(m.StartTime).Seconds()
	m.Status = status
	m.EndReason = endReason
}

// StreamAppender is the narrow slice of the Redis client the emitter needs.
// *redis.Client satisfies it.
type StreamAppender interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Emitter publishes call events to a Redis stream.
type Emitter struct {
	client StreamAppender
	stream string
	log    *slog.Logger
}

// NewEmitter returns an Emitter appending to stream on client. An empty
// stream name means [DefaultStream].
func NewEmitter(client StreamAppender, stream string, log *slog.Logger) *Emitter {
	if stream == "" {
		stream = DefaultStream
	}
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{
		client: client,
		stream: stream,
		log:    log.With("component", "telemetry"),
	}
}

// EmitCallEnded publishes the final call summary as a flattened call_ended
// event. Failures are logged and swallowed.
func (e *Emitter) EmitCallEnded(ctx context.Context, m CallMetrics) {
	values := map[string]any{
		"event":            "call_ended",
		"timestamp":        m.EndTime.Unix(),
		"call_id":          m.CallID,
		"tenant_id":        m.TenantID,
		"agent_id":         m.AgentID,
		"duration_seconds": m.DurationSeconds,
		"input_tokens":     m.InputTokens,
		"output_tokens":    m.OutputTokens,
		"tts_characters":   m.TTSCharacters,
		"status":           m.Status,
	}
	if m.EndReason != "" {
		values["end_reason"] = m.EndReason
	}
	if err := e.append(ctx, values); err != nil {
		e.log.Warn("failed to emit call_ended", "call_id", m.CallID, "error", err)
		return
	}
	e.log.Info("emitted call_ended", "call_id", m.CallID, "status", m.Status)
}

// EmitTranscript publishes a live transcript line for real-time dashboards.
// Failures are logged and swallowed.
func (e *Emitter) EmitTranscript(ctx context.Context, callID, role, content string) {
	values := map[string]any{
		"event":     "transcript",
		"timestamp": time.Now().Unix(),
		"call_id":   callID,
		"role":      role,
		"content":   content,
	}
	if err := e.append(ctx, values); err != nil {
		e.log.Warn("failed to emit transcript", "call_id", callID, "error", err)
	}
}

func (e *Emitter) append(ctx context.Context, values map[string]any) error {
	return e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: e.stream,
		Values: values,
	}).Err()
}
