// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket input API. It implements the tts.Provider
// interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/trunkline-ai/trunkline/pkg/provider/tts"
)

const (
	wsEndpointFmt = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"

	defaultModel = "eleven_turbo_v2_5"

	// defaultOutputFmt matches the telephony leg so no resampling happens
	// between synthesis and the media stream.
	defaultOutputFmt = "pcm_8000"

	// frameReadTimeout bounds the wait for any single audio frame. A stall
	// longer than this means the synthesis session is dead.
	frameReadTimeout = 10 * time.Second

	defaultStability       = 0.5
	defaultSimilarityBoost = 0.75
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_turbo_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_8000", "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// bosMessage is the initial "begin of stream" handshake carrying auth and
// voice configuration.
type bosMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// textMessage is the JSON payload sent for each text fragment. The empty-text
// message doubles as the end-of-stream marker.
type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

// audioResponse is one JSON message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// stream is the live synthesis session returned by SynthesizeStream.
type stream struct {
	audio chan []byte

	mu  sync.Mutex
	err error
}

var _ tts.Stream = (*stream)(nil)

func (s *stream) Audio() <-chan []byte { return s.audio }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// SynthesizeStream opens a WebSocket to ElevenLabs and runs the two halves of
// the session: a writer that forwards text fragments the moment they arrive,
// and a reader that decodes audio frames onto the returned stream.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (tts.Stream, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	wsURL := buildURLForVoice(voice.ID, p.model, p.outputFormat)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	bos := bosMessage{
		Text:          " ", // ElevenLabs requires a non-empty first text value
		VoiceSettings: settingsForVoice(voice),
		XiAPIKey:      p.apiKey,
	}
	bosBytes, _ := json.Marshal(bos)
	if err := conn.Write(ctx, websocket.MessageText, bosBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "failed to send BOS")
		return nil, fmt.Errorf("elevenlabs: send BOS: %w", err)
	}

	s := &stream{audio: make(chan []byte, 256)}

	// Writer: forward each fragment with a trailing space, then EOS.
	go func() {
		for {
			select {
			case chunk, ok := <-text:
				if !ok {
					eos, _ := json.Marshal(textMessage{Text: ""})
					_ = conn.Write(ctx, websocket.MessageText, eos)
					return
				}
				if chunk == "" {
					continue
				}
				payload, _ := json.Marshal(textMessage{
					Text:                 chunk + " ",
					TryTriggerGeneration: true,
				})
				if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
					s.setErr(fmt.Errorf("elevenlabs: send text: %w", err))
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Reader: decode audio frames until the provider signals the end.
	go func() {
		defer close(s.audio)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for {
			msg, err := readWithTimeout(ctx, conn)
			if err != nil {
				if ctx.Err() == nil {
					s.setErr(err)
				}
				return
			}

			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err != nil {
					continue
				}
				select {
				case s.audio <- pcm:
				case <-ctx.Done():
					return
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	return s, nil
}

// readWithTimeout reads one WebSocket message under the per-frame deadline.
func readWithTimeout(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	readCtx, cancel := context.WithTimeout(ctx, frameReadTimeout)
	defer cancel()

	_, msg, err := conn.Read(readCtx)
	if err != nil {
		if readCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("elevenlabs: no audio frame within %s: %w", frameReadTimeout, err)
		}
		return nil, fmt.Errorf("elevenlabs: read: %w", err)
	}
	return msg, nil
}

// settingsForVoice maps the agent voice parameters onto the wire settings,
// filling in the documented defaults for zero values.
func settingsForVoice(voice tts.Voice) *voiceSettings {
	vs := &voiceSettings{
		Stability:       voice.Stability,
		SimilarityBoost: voice.SimilarityBoost,
	}
	if vs.Stability == 0 {
		vs.Stability = defaultStability
	}
	if vs.SimilarityBoost == 0 {
		vs.SimilarityBoost = defaultSimilarityBoost
	}
	return vs
}

// buildURLForVoice constructs the WebSocket URL for a voice, model, and output
// format.
func buildURLForVoice(voiceID, model, outputFormat string) string {
	return fmt.Sprintf(wsEndpointFmt, voiceID, model, outputFormat)
}
