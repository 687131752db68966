package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type inboundMsg struct {
	typ  websocket.MessageType
	data []byte
	err  error
}

type fakeSocket struct {
	in chan inboundMsg

	mu     sync.Mutex
	writes [][]byte
	closed bool
	code   websocket.StatusCode
	reason string
}

func newFakeSocket(msgs ...inboundMsg) *fakeSocket {
	in := make(chan inboundMsg, len(msgs)+1)
	for _, m := range msgs {
		in <- m
	}
	return &fakeSocket{in: in}
}

func (f *fakeSocket) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case m := <-f.in:
		return m.typ, m.data, m.err
	}
}

func (f *fakeSocket) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	f.writes = append(f.writes, buf)
	return nil
}

func (f *fakeSocket) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	f.reason = reason
	return nil
}

func (f *fakeSocket) written(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.writes))
	for _, raw := range f.writes {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("unmarshal written frame %q: %v", raw, err)
		}
		out = append(out, m)
	}
	return out
}

func text(s string) inboundMsg {
	return inboundMsg{typ: websocket.MessageText, data: []byte(s)}
}

func TestReceive_ParsesLifecycleEvents(t *testing.T) {
	t.Parallel()

	// 0xFF is mu-law silence, so two bytes decode to two zero samples.
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xFF})

	sock := newFakeSocket(
		text(`{"event":"connected","protocol":"Call","version":"1.0.0"}`),
		text(`{"event":"start","start":{"streamSid":"MZ123","customParameters":{"direction":"inbound"}}}`),
		text(`{"event":"media","streamSid":"MZ123","media":{"payload":"`+payload+`"}}`),
		text(`{"event":"mark","streamSid":"MZ123","mark":{"name":"done"}}`),
		text(`{"event":"stop","streamSid":"MZ123"}`),
	)
	tr := NewTransport(sock, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := []FrameKind{FrameConnected, FrameStarted, FrameMedia, FrameMark, FrameStopped}
	for i, kind := range want {
		frame, err := tr.Receive(ctx)
		if err != nil {
			t.Fatalf("frame %d: unexpected error: %v", i, err)
		}
		if frame.Kind != kind {
			t.Fatalf("frame %d: kind = %d, want %d", i, frame.Kind, kind)
		}
		switch kind {
		case FrameStarted:
			if frame.StreamID != "MZ123" {
				t.Errorf("StreamID = %q, want %q", frame.StreamID, "MZ123")
			}
			if frame.Params["direction"] != "inbound" {
				t.Errorf("Params = %v, want direction=inbound", frame.Params)
			}
		case FrameMedia:
			if len(frame.PCM) != 4 {
				t.Fatalf("PCM length = %d, want 4", len(frame.PCM))
			}
			for _, b := range frame.PCM {
				if b != 0 {
					t.Errorf("PCM = %v, want silence", frame.PCM)
					break
				}
			}
		case FrameMark:
			if frame.Mark != "done" {
				t.Errorf("Mark = %q, want %q", frame.Mark, "done")
			}
		}
	}

	if got := tr.StreamID(); got != "MZ123" {
		t.Errorf("StreamID() = %q, want %q", got, "MZ123")
	}
}

func TestReceive_MalformedFramesAreSkippable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{"event":"media",`},
		{"bad base64 payload", `{"event":"media","media":{"payload":"%%%"}}`},
		{"media without body", `{"event":"media"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tr := NewTransport(newFakeSocket(text(tc.raw)), nil)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			frame, err := tr.Receive(ctx)
			if err != nil {
				t.Fatalf("Receive returned error %v, want skippable frame", err)
			}
			if frame.Kind != FrameUnknown {
				t.Errorf("Kind = %d, want FrameUnknown", frame.Kind)
			}
		})
	}
}

func TestReceive_UnknownEventKind(t *testing.T) {
	t.Parallel()

	tr := NewTransport(newFakeSocket(text(`{"event":"dtmf","dtmf":{"digit":"1"}}`)), nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame, err := tr.Receive(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Kind != FrameUnknown {
		t.Errorf("Kind = %d, want FrameUnknown", frame.Kind)
	}
}

func TestReceive_SkipsBinaryFrames(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket(
		inboundMsg{typ: websocket.MessageBinary, data: []byte{1, 2, 3}},
		text(`{"event":"connected"}`),
	)
	tr := NewTransport(sock, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame, err := tr.Receive(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Kind != FrameConnected {
		t.Errorf("Kind = %d, want FrameConnected", frame.Kind)
	}
}

func TestReceive_ClosedStream(t *testing.T) {
	t.Parallel()

	closeErr := websocket.CloseError{Code: websocket.StatusNormalClosure}
	tr := NewTransport(newFakeSocket(inboundMsg{err: closeErr}), nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := tr.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive error = %v, want ErrClosed", err)
	}
}

func TestSendAudio_DropsBeforeStart(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	tr := NewTransport(sock, nil)

	if err := tr.SendAudio(context.Background(), []byte{0, 0}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(sock.written(t)); got != 0 {
		t.Errorf("wrote %d frames before stream start, want 0", got)
	}
}

func TestSendAudio_EncodesMediaEvent(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket(text(`{"event":"start","start":{"streamSid":"MZ9"}}`))
	tr := NewTransport(sock, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := tr.Receive(ctx); err != nil {
		t.Fatalf("receive start: %v", err)
	}
	// One zero sample encodes to mu-law 0xFF.
	if err := tr.SendAudio(ctx, []byte{0, 0}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	frames := sock.written(t)
	if len(frames) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(frames))
	}
	msg := frames[0]
	if msg["event"] != "media" {
		t.Errorf("event = %v, want media", msg["event"])
	}
	if msg["streamSid"] != "MZ9" {
		t.Errorf("streamSid = %v, want MZ9", msg["streamSid"])
	}
	media, ok := msg["media"].(map[string]any)
	if !ok {
		t.Fatalf("media body missing: %v", msg)
	}
	wantPayload := base64.StdEncoding.EncodeToString([]byte{0xFF})
	if media["payload"] != wantPayload {
		t.Errorf("payload = %v, want %v", media["payload"], wantPayload)
	}
}

func TestSendClear(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket(text(`{"event":"start","start":{"streamSid":"MZ9"}}`))
	tr := NewTransport(sock, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := tr.Receive(ctx); err != nil {
		t.Fatalf("receive start: %v", err)
	}
	if err := tr.SendClear(ctx); err != nil {
		t.Fatalf("SendClear: %v", err)
	}

	frames := sock.written(t)
	if len(frames) != 1 {
		t.Fatalf("wrote %d frames, want 1", len(frames))
	}
	if frames[0]["event"] != "clear" || frames[0]["streamSid"] != "MZ9" {
		t.Errorf("frame = %v, want clear event for MZ9", frames[0])
	}
}

func TestClose_Passthrough(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	tr := NewTransport(sock, nil)

	if err := tr.Close(websocket.StatusCode(4000), "Agent not configured"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sock.mu.Lock()
	defer sock.mu.Unlock()
	if !sock.closed || sock.code != websocket.StatusCode(4000) || sock.reason != "Agent not configured" {
		t.Errorf("close = (%v, %d, %q), want (true, 4000, Agent not configured)", sock.closed, sock.code, sock.reason)
	}
}
