// Package telephony speaks the media-stream WebSocket protocol used by the
// telephony provider: JSON text frames carrying call lifecycle events and
// base64 mu-law audio. Inbound messages are parsed into a tagged [Frame]
// variant; outbound audio and clear-playback directives are serialized onto
// the single socket.
package telephony

import (
	"encoding/json"
	"fmt"

	"github.com/trunkline-ai/trunkline/pkg/audio"
)

// FrameKind tags the inbound frame variant.
type FrameKind uint8

const (
	// FrameConnected is the provider's protocol handshake event.
	FrameConnected FrameKind = iota + 1
	// FrameStarted carries the stream ID required for outbound frames.
	FrameStarted
	// FrameMedia carries one chunk of caller audio, already decoded to PCM16.
	FrameMedia
	// FrameMark acknowledges a previously sent mark.
	FrameMark
	// FrameStopped signals the provider ended the stream.
	FrameStopped
	// FrameUnknown is any event this package does not understand. Callers
	// skip it; the frame has already been logged.
	FrameUnknown
)

// Frame is one parsed inbound media-stream message.
type Frame struct {
	Kind FrameKind

	// StreamID is set for FrameStarted.
	StreamID string

	// PCM is set for FrameMedia: little-endian PCM16, 8 kHz mono.
	PCM []byte

	// Mark is set for FrameMark.
	Mark string

	// Params carries the custom parameters of a FrameStarted, when present.
	Params map[string]string
}

// wireMessage is the JSON envelope shared by all media-stream events.
type wireMessage struct {
	Event     string            `json:"event"`
	StreamSid string            `json:"streamSid,omitempty"`
	Media     *wireMedia        `json:"media,omitempty"`
	Start     *wireStart        `json:"start,omitempty"`
	Mark      *wireMark         `json:"mark,omitempty"`
	Stop      map[string]string `json:"stop,omitempty"`
}

type wireMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type wireStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid,omitempty"`
	AccountSid       string            `json:"accountSid,omitempty"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type wireMark struct {
	Name string `json:"name"`
}

// parseMessage decodes one inbound text frame. A JSON error is a protocol
// error; a bad media payload is reported separately so the caller can drop
// just that frame.
func parseMessage(data []byte) (Frame, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Frame{}, fmt.Errorf("telephony: malformed frame: %w", err)
	}

	switch msg.Event {
	case "connected":
		return Frame{Kind: FrameConnected}, nil

	case "start":
		f := Frame{Kind: FrameStarted}
		if msg.Start != nil {
			f.StreamID = msg.Start.StreamSid
			f.Params = msg.Start.CustomParameters
		}
		if f.StreamID == "" {
			f.StreamID = msg.StreamSid
		}
		return f, nil

	case "media":
		if msg.Media == nil {
			return Frame{}, fmt.Errorf("telephony: media event without media body")
		}
		pcm, err := audio.DecodePayload(msg.Media.Payload)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameMedia, PCM: pcm}, nil

	case "mark":
		f := Frame{Kind: FrameMark}
		if msg.Mark != nil {
			f.Mark = msg.Mark.Name
		}
		return f, nil

	case "stop":
		return Frame{Kind: FrameStopped}, nil

	default:
		return Frame{Kind: FrameUnknown}, nil
	}
}
