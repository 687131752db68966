package resilience

import (
	"context"

	"github.com/trunkline-ai/trunkline/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// SynthesizeStream opens a synthesis session against the first healthy
// provider. Only session setup is covered by failover; a provider must not
// consume text before its session is established, so fragments are never lost
// to a failed attempt. Mid-stream errors surface through [tts.Stream.Err].
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (tts.Stream, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.Stream, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}
