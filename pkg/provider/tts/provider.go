// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a streaming speech synthesis service (e.g., ElevenLabs)
// behind a bidirectional pipe: the caller feeds text fragments into a channel
// as they arrive from the LLM, and the provider emits raw PCM audio frames on
// the returned Stream as soon as they are synthesised. Fragments are forwarded
// immediately, never batched to sentence boundaries — on a live call, time to
// first audio byte dominates everything else.
//
// Implementations must be safe for concurrent use. One Stream is opened per
// utterance; concurrent streams belong to different calls.
package tts

import "context"

// Voice carries the per-call synthesis parameters resolved from the agent
// configuration. The zero value of Stability and SimilarityBoost means "use
// the provider default".
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Stability controls synthesis consistency in [0.0, 1.0].
	Stability float64

	// SimilarityBoost controls how closely output matches the reference
	// voice, in [0.0, 1.0].
	SimilarityBoost float64
}

// Stream is one live synthesis session. The audio channel closes when the
// provider has synthesised all input text, when the context is cancelled, or
// when the session fails; Err distinguishes the last case.
type Stream interface {
	// Audio returns the channel emitting raw PCM16 audio frames at the
	// provider's configured output rate. Callers must drain it.
	Audio() <-chan []byte

	// Err reports why the stream terminated. It is valid only after Audio
	// has closed; nil means clean end-of-synthesis.
	Err() error
}

// Provider is the abstraction over any streaming TTS backend.
type Provider interface {
	// SynthesizeStream opens a synthesis session. Text fragments read from
	// text are forwarded to the provider as they arrive; closing text
	// signals end of input and flushes any buffered synthesis. The session
	// ends when all audio for the supplied text has been emitted.
	//
	// Returns a non-nil error only if the session cannot be started.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (Stream, error)
}
