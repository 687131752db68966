package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/trunkline-ai/trunkline/pkg/provider/llm"
	"github.com/trunkline-ai/trunkline/pkg/provider/tts"
)

const (
	// maxTurnSteps caps the completion → tools → completion loop per user
	// turn. A model still asking for tools after the cap loses the turn.
	maxTurnSteps = 3

	// completionTokenCap keeps spoken answers phone-length.
	completionTokenCap = 250

	ragPromptPrefix = "Use the following context to answer the user question if relevant:\n"

	fallbackPhrase = "I'm sorry, I'm having trouble responding right now."
)

// errSpeak marks failures of the synthesis/playback path. These abort the
// turn silently; speaking a fallback through the same broken path is
// pointless.
var errSpeak = errors.New("call: speak pipeline failed")

// turnState carries per-turn latency bookkeeping across LLM steps.
type turnState struct {
	received   time.Time
	firstFrame bool
}

// runTurn answers the most recent user message: it re-arms the interrupt
// token, retrieves knowledge context once, and runs up to maxTurnSteps LLM
// steps. Tool results feed the next step; plain text ends the turn.
func (o *Orchestrator) runTurn(ctx context.Context, st *callState, received time.Time) {
	st.interrupt.Reset()

	// The retrieval overlay lives only for this turn. It is rebuilt into
	// every step's message list and never enters the persisted history.
	var ragMsg *llm.Message
	if o.rag != nil {
		query := st.history[len(st.history)-1].Content
		if kctx, ok := o.rag.Retrieve(ctx, query, st.agent.TenantID); ok {
			ragMsg = &llm.Message{Role: llm.RoleSystem, Content: ragPromptPrefix + kctx}
		}
	}

	tn := &turnState{received: received}
	for step := 0; step < maxTurnSteps; step++ {
		wantTools, err := o.runStep(ctx, st, tn, ragMsg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.log.Error("turn step failed",
				"call_id", st.callID, "step", step, "error", err)
			if !errors.Is(err, errSpeak) {
				if serr := o.speak(ctx, st, fallbackPhrase); serr != nil {
					o.log.Warn("fallback phrase failed", "call_id", st.callID, "error", serr)
				} else {
					st.metrics.TTSCharacters += int64(len(fallbackPhrase))
				}
			}
			return
		}
		if !wantTools {
			return
		}
	}
	o.log.Warn("tool loop cap reached, ending turn",
		"call_id", st.callID, "max_steps", maxTurnSteps)
}

// runStep performs one LLM completion, streaming content to TTS while
// collecting tool-call fragments. It reports whether the model requested
// tools, in which case the executed results are already appended to history.
func (o *Orchestrator) runStep(ctx context.Context, st *callState, tn *turnState, ragMsg *llm.Message) (bool, error) {
	req := llm.CompletionRequest{
		Messages:  overlay(st.history, ragMsg),
		Tools:     o.tools.Definitions(),
		MaxTokens: completionTokenCap,
	}
	llmStart := time.Now()
	chunks, err := o.llm.StreamCompletion(ctx, req)
	if err != nil {
		return false, fmt.Errorf("call: start completion: %w", err)
	}

	speakCtx, cancelSpeak := context.WithCancel(ctx)
	defer cancelSpeak()

	ttsStart := time.Now()
	textCh := make(chan string, 32)
	stream, err := o.tts.SynthesizeStream(speakCtx, textCh, st.voice)
	if err != nil {
		cancelSpeak()
		go func() {
			for range chunks {
			}
		}()
		return false, fmt.Errorf("%w: %v", errSpeak, err)
	}

	st.speaking.Store(true)
	defer st.speaking.Store(false)

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- o.pumpAudio(speakCtx, st, tn, stream)
	}()

	assembler := llm.NewToolCallAssembler()
	var spoken strings.Builder
	var streamErr error
	interrupted := false
	for ch := range chunks {
		switch ch.Kind {
		case llm.ChunkContent:
			if interrupted {
				continue
			}
			if st.interrupt.Raised() {
				interrupted = true
				cancelSpeak()
				continue
			}
			select {
			case textCh <- ch.Text:
				spoken.WriteString(ch.Text)
			case <-st.interrupt.Done():
				interrupted = true
				cancelSpeak()
			case <-ctx.Done():
				interrupted = true
			}
		case llm.ChunkToolFragment:
			assembler.Add(ch.Fragment)
		case llm.ChunkUsage:
			in, out := int64(ch.Usage.PromptTokens), int64(ch.Usage.CompletionTokens)
			st.metrics.InputTokens += in
			st.metrics.OutputTokens += out
			o.observer.RecordTokens(ctx, in, out)
		case llm.ChunkDone:
			streamErr = ch.Err
		}
	}
	o.observer.StageCompleted(ctx, stageLLM, time.Since(llmStart))
	close(textCh)
	speakErr := <-pumpDone
	o.observer.StageCompleted(ctx, stageTTS, time.Since(ttsStart))

	// A barge-in raised between chunks still truncates the turn.
	if st.interrupt.Raised() {
		interrupted = true
	}

	if streamErr != nil {
		return false, fmt.Errorf("call: completion stream: %w", streamErr)
	}
	if interrupted {
		o.appendSpoken(ctx, st, spoken.String())
		return false, nil
	}
	if speakErr != nil {
		o.log.Warn("synthesis failed mid-turn",
			"call_id", st.callID, "error", speakErr)
		o.appendSpoken(ctx, st, spoken.String())
		return false, nil
	}

	if assembler.Len() > 0 {
		calls := assembler.Calls()
		st.history = append(st.history, llm.Message{Role: llm.RoleAssistant, ToolCalls: calls})
		if s := spoken.String(); s != "" {
			st.metrics.TTSCharacters += int64(len(s))
		}
		for _, c := range calls {
			result := o.tools.Execute(ctx, c)
			st.history = append(st.history, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: c.ID,
			})
		}
		return true, nil
	}

	o.appendSpoken(ctx, st, spoken.String())
	return false, nil
}

// pumpAudio forwards synthesized frames to the telephony transport. Once a
// barge-in or send failure occurs the remaining frames are drained so the
// synthesizer never blocks.
func (o *Orchestrator) pumpAudio(ctx context.Context, st *callState, tn *turnState, stream tts.Stream) error {
	var sendErr error
	for pcm := range stream.Audio() {
		if sendErr != nil || st.interrupt.Raised() {
			continue
		}
		if tn != nil && !tn.firstFrame {
			tn.firstFrame = true
			latency := time.Since(tn.received)
			o.log.Info("first audio frame",
				"call_id", st.callID, "latency_ms", latency.Milliseconds())
			o.observer.TurnCompleted(ctx, latency)
		}
		if err := o.transport.SendAudio(ctx, pcm); err != nil {
			sendErr = err
		}
	}
	if sendErr != nil {
		return fmt.Errorf("%w: %v", errSpeak, sendErr)
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("%w: %v", errSpeak, err)
	}
	return nil
}

// speak synthesizes a single fixed utterance outside the LLM path, used for
// the outbound greeting and the turn-failure fallback.
func (o *Orchestrator) speak(ctx context.Context, st *callState, text string) error {
	speakCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ttsStart := time.Now()
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)
	stream, err := o.tts.SynthesizeStream(speakCtx, textCh, st.voice)
	if err != nil {
		return fmt.Errorf("%w: %v", errSpeak, err)
	}

	st.speaking.Store(true)
	defer st.speaking.Store(false)
	err = o.pumpAudio(speakCtx, st, nil, stream)
	o.observer.StageCompleted(ctx, stageTTS, time.Since(ttsStart))
	return err
}

// appendSpoken commits produced assistant text to the history, counts it for
// billing, and mirrors it to telemetry. Empty text (e.g. a pure tool step
// interrupted before any content) is a no-op.
func (o *Orchestrator) appendSpoken(ctx context.Context, st *callState, text string) {
	if text == "" {
		return
	}
	st.history = append(st.history, llm.Message{Role: llm.RoleAssistant, Content: text})
	st.metrics.TTSCharacters += int64(len(text))
	o.telemetry.EmitTranscript(ctx, st.callID, "assistant", text)
}

// overlay builds the message list for one LLM step: the system prompt, the
// optional per-turn retrieval context, then the rest of the history.
func overlay(history []llm.Message, ragMsg *llm.Message) []llm.Message {
	if ragMsg == nil {
		out := make([]llm.Message, len(history))
		copy(out, history)
		return out
	}
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, history[0], *ragMsg)
	out = append(out, history[1:]...)
	return out
}
