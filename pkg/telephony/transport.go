package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/trunkline-ai/trunkline/pkg/audio"
)

// ErrClosed is returned by Receive once the peer has closed the stream,
// either with a close frame or by dropping the connection.
var ErrClosed = errors.New("telephony: stream closed")

// Socket is the subset of a WebSocket connection the transport needs.
// *websocket.Conn satisfies it directly; tests substitute a fake.
type Socket interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

var _ Socket = (*websocket.Conn)(nil)

// Transport frames call audio and control events over one media-stream
// socket. Reads are single-consumer; writes are serialized internally so the
// speaking path and the interrupt path may send concurrently.
type Transport struct {
	sock Socket
	log  *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	streamID string
}

// NewTransport wraps an accepted media-stream socket.
func NewTransport(sock Socket, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{sock: sock, log: log}
}

// Receive blocks for the next inbound frame. Malformed events and undecodable
// media payloads are logged and surfaced as FrameUnknown so the caller can
// skip them without tearing down the call. Once the peer closes the stream,
// Receive returns ErrClosed.
func (t *Transport) Receive(ctx context.Context) (Frame, error) {
	for {
		typ, data, err := t.sock.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Frame{}, ctx.Err()
			}
			if errors.Is(err, io.EOF) || websocket.CloseStatus(err) != -1 {
				return Frame{}, ErrClosed
			}
			return Frame{}, fmt.Errorf("telephony: read: %w", err)
		}
		if typ != websocket.MessageText {
			t.log.Warn("ignoring non-text frame", "type", typ)
			continue
		}

		frame, err := parseMessage(data)
		if err != nil {
			t.log.Warn("dropping inbound frame", "error", err)
			return Frame{Kind: FrameUnknown}, nil
		}
		if frame.Kind == FrameStarted {
			t.mu.Lock()
			t.streamID = frame.StreamID
			t.mu.Unlock()
		}
		return frame, nil
	}
}

// SendAudio encodes one PCM16 chunk to a media event. Before the start event
// has announced a stream ID the chunk is dropped with a warning, never
// buffered.
func (t *Transport) SendAudio(ctx context.Context, pcm []byte) error {
	sid := t.StreamID()
	if sid == "" {
		t.log.Warn("dropping outbound audio before stream start", "bytes", len(pcm))
		return nil
	}

	payload, err := audio.EncodePayload(pcm)
	if err != nil {
		return err
	}
	return t.send(ctx, wireMessage{
		Event:     "media",
		StreamSid: sid,
		Media:     &wireMedia{Payload: payload},
	})
}

// SendClear tells the provider to flush any buffered playback. Used on
// barge-in so the caller stops hearing stale agent audio immediately.
func (t *Transport) SendClear(ctx context.Context) error {
	sid := t.StreamID()
	if sid == "" {
		return nil
	}
	return t.send(ctx, wireMessage{Event: "clear", StreamSid: sid})
}

func (t *Transport) send(ctx context.Context, msg wireMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("telephony: marshal %s event: %w", msg.Event, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := t.sock.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("telephony: write %s event: %w", msg.Event, err)
	}
	return nil
}

// StreamID reports the stream ID announced by the start event, or "" before
// it arrives.
func (t *Transport) StreamID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.streamID
}

// Close closes the underlying socket with the given status.
func (t *Transport) Close(code websocket.StatusCode, reason string) error {
	return t.sock.Close(code, reason)
}
