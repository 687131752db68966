// Package mock provides a test double for the tts.Provider interface.
//
// The mock synthesises a fixed audio frame for every text fragment it reads,
// so consumers can correlate outbound audio with the exact tokens that were
// forwarded. Set StreamErr/FailAfterFragments to simulate a session that dies
// mid-synthesis.
//
// Example:
//
//	p := &mock.Provider{Frame: []byte{0, 1}}
//	s, _ := p.SynthesizeStream(ctx, textCh, tts.Voice{ID: "v1"})
//	for pcm := range s.Audio() { ... }
package mock

import (
	"context"
	"sync"

	"github.com/trunkline-ai/trunkline/pkg/provider/tts"
)

// defaultFrame is 20 ms of PCM16 silence at 8 kHz.
var defaultFrame = make([]byte, 320)

// SynthesizeCall records a single invocation of SynthesizeStream.
type SynthesizeCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Voice is the Voice passed to SynthesizeStream.
	Voice tts.Voice
	// Stream is the mock stream handed back to the caller. Inspect its
	// Fragments after the session ends.
	Stream *Stream
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Frame is the audio payload emitted per consumed text fragment.
	// Defaults to 320 bytes of silence.
	Frame []byte

	// FramesPerFragment is how many copies of Frame each text fragment
	// produces. Defaults to 1.
	FramesPerFragment int

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream instead
	// of starting a session.
	SynthesizeErr error

	// StreamErr, if non-nil, terminates the session abnormally after
	// FailAfterFragments fragments have been synthesised.
	StreamErr error

	// FailAfterFragments is the number of fragments synthesised before
	// StreamErr fires. Zero fails before any audio is emitted.
	FailAfterFragments int

	// SynthesizeCalls records every call to SynthesizeStream in order.
	SynthesizeCalls []SynthesizeCall
}

// Stream is the mock synthesis session returned by SynthesizeStream.
type Stream struct {
	audio chan []byte

	mu        sync.Mutex
	fragments []string
	err       error
}

var _ tts.Stream = (*Stream)(nil)

// Audio returns the mock audio channel.
func (s *Stream) Audio() <-chan []byte { return s.audio }

// Err reports the scripted stream error, if the session failed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Fragments returns a snapshot of the text fragments consumed so far.
func (s *Stream) Fragments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.fragments))
	copy(out, s.fragments)
	return out
}

// SynthesizeStream records the call and starts a goroutine that turns each
// incoming text fragment into scripted audio frames.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (tts.Stream, error) {
	p.mu.Lock()
	if p.SynthesizeErr != nil {
		err := p.SynthesizeErr
		p.mu.Unlock()
		return nil, err
	}
	frame := p.Frame
	if frame == nil {
		frame = defaultFrame
	}
	perFragment := p.FramesPerFragment
	if perFragment <= 0 {
		perFragment = 1
	}
	streamErr := p.StreamErr
	failAfter := p.FailAfterFragments

	s := &Stream{audio: make(chan []byte, 64)}
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Voice: voice, Stream: s})
	p.mu.Unlock()

	go func() {
		defer close(s.audio)
		seen := 0
		for {
			select {
			case <-ctx.Done():
				return
			case fragment, ok := <-text:
				if !ok {
					return
				}
				s.mu.Lock()
				s.fragments = append(s.fragments, fragment)
				s.mu.Unlock()

				if streamErr != nil && seen >= failAfter {
					s.mu.Lock()
					s.err = streamErr
					s.mu.Unlock()
					// Keep draining text so the producer never blocks.
					go func() {
						for range text {
						}
					}()
					return
				}
				seen++

				for i := 0; i < perFragment; i++ {
					buf := make([]byte, len(frame))
					copy(buf, frame)
					select {
					case s.audio <- buf:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return s, nil
}

// Calls returns a snapshot of recorded SynthesizeStream invocations.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
