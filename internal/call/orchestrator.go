// Package call implements the per-call voice orchestrator: the state machine
// that mediates one telephony media stream against the STT, LLM, and TTS
// providers, runs the tool loop, and accounts usage into telemetry.
//
// One Orchestrator is built per accepted media-stream socket and runs for the
// lifetime of the call. All failure handling is internal: a broken provider
// degrades the call (silence, early hangup) but never reaches the gateway as
// an error.
//
// Usage:
//
//	orc, err := call.New(call.Config{
//	    Transport: transport,
//	    Resolver:  resolver,
//	    STT:       sttProvider,
//	    LLM:       llmProvider,
//	    TTS:       ttsProvider,
//	    Tools:     registry,
//	    Telemetry: emitter,
//	})
//	if err != nil { ... }
//	_ = orc.Run(ctx, call.Params{PhoneNumber: to, Call: callCtx})
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trunkline-ai/trunkline/internal/agentconfig"
	"github.com/trunkline-ai/trunkline/internal/telemetry"
	"github.com/trunkline-ai/trunkline/pkg/provider/llm"
	"github.com/trunkline-ai/trunkline/pkg/provider/stt"
	"github.com/trunkline-ai/trunkline/pkg/provider/tts"
	"github.com/trunkline-ai/trunkline/pkg/telephony"
)

const (
	// closeAgentNotConfigured is the application close code sent when no
	// agent is configured for the dialed number.
	closeAgentNotConfigured  = websocket.StatusCode(4000)
	reasonAgentNotConfigured = "Agent not configured"

	// turnQueueSize bounds pending final transcripts. A caller speaking
	// faster than the agent can answer loses the overflow, with a warning.
	turnQueueSize = 8

	greetingTemplate = "Hello %s, I am calling from Acme Corp. Is this a good time?"
)

// sttStreamConfig matches the telephony media-stream audio format.
var sttStreamConfig = stt.StreamConfig{SampleRate: 8000, Channels: 1, Language: "en-US"}

// errCallEnded signals a clean remote hangup inside the call's errgroup.
var errCallEnded = errors.New("call: media stream ended")

// Transport is the slice of the telephony transport the orchestrator uses.
// *telephony.Transport satisfies it; tests substitute a fake.
type Transport interface {
	Receive(ctx context.Context) (telephony.Frame, error)
	SendAudio(ctx context.Context, pcm []byte) error
	SendClear(ctx context.Context) error
	StreamID() string
	Close(code websocket.StatusCode, reason string) error
}

var _ Transport = (*telephony.Transport)(nil)

// ConfigResolver resolves the agent configuration for a dialed number.
// *agentconfig.Resolver satisfies it.
type ConfigResolver interface {
	Resolve(ctx context.Context, phoneNumber string) (*agentconfig.AgentConfig, error)
}

// ContextRetriever supplies knowledge-base context for a user query.
// *rag.Retriever satisfies it. A nil retriever disables retrieval.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query, tenantID string) (string, bool)
}

// ToolExecutor exposes the tool surface offered to the model.
// *tools.Registry satisfies it.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, call llm.ToolCall) string
}

// Redactor scrubs PII from user transcripts before they reach the
// conversation history or telemetry. *redact.Redactor satisfies it.
type Redactor interface {
	Redact(text string) string
}

// Observer receives call-level measurement callbacks. All methods must be
// non-blocking.
type Observer interface {
	CallStarted(ctx context.Context)
	CallEnded(ctx context.Context, status string)
	TurnCompleted(ctx context.Context, firstAudioLatency time.Duration)
	BargeIn(ctx context.Context)
	RecordTokens(ctx context.Context, input, output int64)
	StageCompleted(ctx context.Context, stage string, d time.Duration)
}

// Stage names reported through [Observer.StageCompleted].
const (
	stageSTT = "stt"
	stageLLM = "llm"
	stageTTS = "tts"
)

type nopObserver struct{}

func (nopObserver) CallStarted(context.Context)                       {}
func (nopObserver) CallEnded(context.Context, string)                 {}
func (nopObserver) TurnCompleted(context.Context, time.Duration)      {}
func (nopObserver) BargeIn(context.Context)                           {}
func (nopObserver) RecordTokens(context.Context, int64, int64)        {}
func (nopObserver) StageCompleted(context.Context, string, time.Duration) {}

// Config assembles the per-call dependency set.
type Config struct {
	Transport Transport
	Resolver  ConfigResolver
	STT       stt.Provider
	LLM       llm.Provider
	TTS       tts.Provider
	Tools     ToolExecutor
	Telemetry *telemetry.Emitter

	// RAG is optional; nil disables knowledge retrieval.
	RAG ContextRetriever

	// Redactor is optional; nil passes transcripts through unredacted.
	Redactor Redactor

	// Observer is optional.
	Observer Observer

	// Log is optional; nil uses slog.Default.
	Log *slog.Logger
}

// Params carries the per-call values parsed from the media-stream URL query.
type Params struct {
	// PhoneNumber is the agent's number: the dialed number for inbound
	// calls, the caller ID for outbound.
	PhoneNumber string

	// Call is the normalized direction / answering-party context.
	Call agentconfig.CallContext
}

// Orchestrator drives a single call. Build one per accepted socket with New
// and invoke Run exactly once.
type Orchestrator struct {
	transport Transport
	resolver  ConfigResolver
	stt       stt.Provider
	llm       llm.Provider
	tts       tts.Provider
	tools     ToolExecutor
	telemetry *telemetry.Emitter
	rag       ContextRetriever
	redactor  Redactor
	observer  Observer
	log       *slog.Logger
}

// New validates the dependency set and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Transport == nil {
		errs = append(errs, errors.New("call: missing transport"))
	}
	if cfg.Resolver == nil {
		errs = append(errs, errors.New("call: missing config resolver"))
	}
	if cfg.STT == nil {
		errs = append(errs, errors.New("call: missing stt provider"))
	}
	if cfg.LLM == nil {
		errs = append(errs, errors.New("call: missing llm provider"))
	}
	if cfg.TTS == nil {
		errs = append(errs, errors.New("call: missing tts provider"))
	}
	if cfg.Tools == nil {
		errs = append(errs, errors.New("call: missing tool executor"))
	}
	if cfg.Telemetry == nil {
		errs = append(errs, errors.New("call: missing telemetry emitter"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Orchestrator{
		transport: cfg.Transport,
		resolver:  cfg.Resolver,
		stt:       cfg.STT,
		llm:       cfg.LLM,
		tts:       cfg.TTS,
		tools:     cfg.Tools,
		telemetry: cfg.Telemetry,
		rag:       cfg.RAG,
		redactor:  cfg.Redactor,
		observer:  observer,
		log:       log.With("component", "call"),
	}, nil
}

// callState is the per-call mutable state. History and metrics are touched
// only by the turn loop; the speaking flag and interrupt token cross
// goroutines.
type callState struct {
	callID  string
	agent   *agentconfig.AgentConfig
	voice   tts.Voice
	history []llm.Message
	metrics telemetry.CallMetrics

	interrupt *InterruptToken
	speaking  atomic.Bool
}

// turnInput is one queued final transcript awaiting a turn.
type turnInput struct {
	text     string
	received time.Time
}

// Run drives the call to completion. It always returns nil: every failure
// mode ends in either a rejected socket or a finalized call with telemetry
// flushed.
func (o *Orchestrator) Run(ctx context.Context, p Params) error {
	agent, err := o.resolver.Resolve(ctx, p.PhoneNumber)
	if err != nil {
		o.log.Warn("rejecting call: no agent for number",
			"phone_number", p.PhoneNumber, "error", err)
		_ = o.transport.Close(closeAgentNotConfigured, reasonAgentNotConfigured)
		return nil
	}

	sess, err := o.stt.StartStream(ctx, sttStreamConfig)
	if err != nil {
		o.log.Error("rejecting call: stt session failed", "error", err)
		_ = o.transport.Close(websocket.StatusInternalError, "speech recognition unavailable")
		return nil
	}

	st := &callState{
		callID: uuid.NewString(),
		agent:  agent,
		voice:  tts.Voice{ID: agent.VoiceID},
		history: []llm.Message{
			{Role: llm.RoleSystem, Content: agent.SystemPrompt},
		},
		metrics: telemetry.CallMetrics{
			TenantID:  agent.TenantID,
			AgentID:   agent.AgentID,
			StartTime: time.Now(),
		},
		interrupt: NewInterruptToken(),
	}
	st.metrics.CallID = st.callID

	log := o.log.With("call_id", st.callID, "tenant_id", agent.TenantID)
	log.Info("call started",
		"agent_id", agent.AgentID,
		"direction", p.Call.Direction,
		"stream_id", o.transport.StreamID())
	o.observer.CallStarted(ctx)

	if p.Call.Direction == agentconfig.DirectionOutbound && p.Call.AnsweredBy == agentconfig.AnsweredByMachine {
		log.Info("answering machine detected, ending call")
		o.teardown(st, sess, telemetry.StatusCompleted, "")
		return nil
	}

	if p.Call.Direction == agentconfig.DirectionOutbound {
		name := p.Call.CustomerName
		if name == "" {
			name = "there"
		}
		greeting := fmt.Sprintf(greetingTemplate, name)
		st.history = append(st.history, llm.Message{Role: llm.RoleAssistant, Content: greeting})
		st.metrics.TTSCharacters += int64(len(greeting))
		o.telemetry.EmitTranscript(ctx, st.callID, "assistant", greeting)
		if err := o.speak(ctx, st, greeting); err != nil {
			log.Warn("greeting synthesis failed", "error", err)
		}
	}

	turns := make(chan turnInput, turnQueueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.pumpTransport(gctx, log, sess) })
	g.Go(func() error { return o.pumpEvents(gctx, log, st, sess, turns) })
	g.Go(func() error {
		o.consumeTurns(gctx, st, turns)
		return nil
	})

	err = g.Wait()
	status, reason := telemetry.StatusCompleted, ""
	switch {
	case err == nil, errors.Is(err, errCallEnded), errors.Is(err, context.Canceled):
	default:
		status, reason = telemetry.StatusFailed, err.Error()
		log.Error("call failed", "error", err)
	}
	o.teardown(st, sess, status, reason)
	return nil
}

// pumpTransport feeds caller audio into the STT session until the stream
// ends. A failed audio hand-off is fatal: the agent would otherwise be deaf
// for the rest of the call.
func (o *Orchestrator) pumpTransport(ctx context.Context, log *slog.Logger, sess stt.SessionHandle) error {
	for {
		frame, err := o.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, telephony.ErrClosed) || ctx.Err() != nil {
				return errCallEnded
			}
			log.Warn("dropping unreadable media frame", "error", err)
			continue
		}
		switch frame.Kind {
		case telephony.FrameMedia:
			if err := sess.SendAudio(frame.PCM); err != nil {
				return fmt.Errorf("call: forward audio to stt: %w", err)
			}
		case telephony.FrameStopped:
			return errCallEnded
		}
	}
}

// pumpEvents consumes the STT event stream: speech-start edges trigger
// barge-in while the agent is speaking, and final transcripts are queued for
// the turn loop.
func (o *Orchestrator) pumpEvents(ctx context.Context, log *slog.Logger, st *callState, sess stt.SessionHandle, turns chan<- turnInput) error {
	events := sess.Events()
	var speechStart time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("call: stt event stream ended unexpectedly")
			}
			switch ev.Kind {
			case stt.EventSpeechStarted:
				speechStart = time.Now()
				if st.speaking.Load() {
					st.interrupt.Raise()
					if err := o.transport.SendClear(ctx); err != nil {
						log.Warn("failed to clear playback on barge-in", "error", err)
					}
					o.observer.BargeIn(ctx)
					log.Info("barge-in: caller interrupted agent")
				}
			case stt.EventTranscript:
				t := ev.Transcript
				if !t.IsFinal || strings.TrimSpace(t.Text) == "" {
					continue
				}
				// Speech-start edge to final transcript is the stage the
				// recognizer is accountable for.
				if !speechStart.IsZero() {
					o.observer.StageCompleted(ctx, stageSTT, time.Since(speechStart))
					speechStart = time.Time{}
				}
				select {
				case turns <- turnInput{text: t.Text, received: time.Now()}:
				default:
					log.Warn("turn queue full, dropping transcript", "text_len", len(t.Text))
				}
			case stt.EventError:
				return fmt.Errorf("call: stt session: %w", ev.Err)
			}
		}
	}
}

// consumeTurns runs queued transcripts through the turn loop, one at a time.
func (o *Orchestrator) consumeTurns(ctx context.Context, st *callState, turns <-chan turnInput) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-turns:
			text := in.text
			if o.redactor != nil {
				text = o.redactor.Redact(text)
			}
			st.history = append(st.history, llm.Message{Role: llm.RoleUser, Content: text})
			o.telemetry.EmitTranscript(ctx, st.callID, "user", text)
			o.runTurn(ctx, st, in.received)
		}
	}
}

// teardown closes the STT session, finalizes metrics, and emits the
// call_ended event. Reached exactly once on every non-rejected call.
func (o *Orchestrator) teardown(st *callState, sess stt.SessionHandle, status, reason string) {
	if err := sess.Close(); err != nil {
		o.log.Warn("stt session close failed", "call_id", st.callID, "error", err)
	}
	st.metrics.Finalize(time.Now(), status, reason)

	// The call context is gone by now; telemetry gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.telemetry.EmitCallEnded(ctx, st.metrics)
	o.observer.CallEnded(ctx, status)

	o.log.Info("call ended",
		"call_id", st.callID,
		"status", status,
		"duration_seconds", st.metrics.DurationSeconds,
		"input_tokens", st.metrics.InputTokens,
		"output_tokens", st.metrics.OutputTokens)
}
