// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a real-time transcription service (e.g., Deepgram or
// a compatible streaming recognizer) and exposes a uniform streaming
// interface. The central abstraction is SessionHandle: once opened, a session
// accepts raw PCM audio frames and emits a single ordered stream of Event
// values carrying voice-activity signals, interim and final transcripts, and
// terminal errors.
//
// One channel rather than one per event class keeps the relative order of
// speech-start signals and transcripts exactly as the provider produced them.
// Barge-in handling depends on that ordering.
//
// Implementations must be safe for concurrent use. Audio input and event
// output channels are goroutine-safe by construction.
package stt

import "context"

// StreamConfig describes the audio format and recognition hints for a new STT
// session. All fields must be compatible with what the underlying provider
// supports; see each provider's documentation for valid ranges.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephony media streams
	// deliver 8000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers).
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US",
	// "de-DE"). An empty string applies the provider default.
	Language string
}

// Transcript represents a speech-to-text result from an STT provider.
// Both interim and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or interim
	// transcript. Only final transcripts belong in a conversation history.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64
}

// EventKind tags the session event variant.
type EventKind uint8

const (
	// EventSpeechStarted signals that the provider's voice-activity
	// detection heard the caller begin speaking. It fires on raw audio
	// energy, before any transcript exists.
	EventSpeechStarted EventKind = iota + 1
	// EventTranscript carries an interim or final transcript.
	EventTranscript
	// EventError reports a session failure. No further events follow it.
	EventError
)

// Event is one item in a session's ordered event stream.
type Event struct {
	Kind EventKind

	// Transcript is set for EventTranscript.
	Transcript Transcript

	// Err is set for EventError.
	Err error
}

// SessionHandle represents an open STT streaming session. It is an interface
// so that test code can provide mock implementations without requiring a live
// provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to do
// so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio bytes to the provider for
	// transcription. The chunk must match the SampleRate, Channels, and
	// bit-depth agreed in StreamConfig. Calling SendAudio after Close
	// returns an error.
	SendAudio(chunk []byte) error

	// Events returns a read-only channel emitting the session's events in
	// the order the provider produced them. The channel is bounded and is
	// closed when the session ends, whether by Close, provider shutdown, or
	// a failure reported as a final EventError.
	Events() <-chan Event

	// Close terminates the session, flushes any pending audio, and releases
	// all associated resources. After Close returns, the Events channel
	// will be closed. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple sessions may be
// open simultaneously, one per active call.
type Provider interface {
	// StartStream opens a new streaming transcription session with the
	// given audio format and recognition configuration. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session (e.g.,
	// authentication failure, unsupported configuration, or ctx already
	// cancelled). The caller owns the SessionHandle and must call Close
	// when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
