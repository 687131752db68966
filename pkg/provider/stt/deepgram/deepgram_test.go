package deepgram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/trunkline-ai/trunkline/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cfg := stt.StreamConfig{
		SampleRate: 8000,
		Channels:   1,
		Language:   "en-US",
	}

	rawURL, err := p.buildURL(cfg)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-2", q.Get("model"))
	assertEqual(t, "language", "en-US", q.Get("language"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "true", q.Get("interim_results"))
	assertEqual(t, "vad_events", "true", q.Get("vad_events"))
	assertEqual(t, "endpointing", "300", q.Get("endpointing"))
	assertEqual(t, "sample_rate", "8000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(16000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
}

func TestBuildURL_LanguageOverridenByCfg(t *testing.T) {
	// cfg.Language should take precedence over the provider-level default.
	p, err := New("key", WithLanguage("en-US"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.StreamConfig{Language: "fr-FR", SampleRate: 8000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "What are your hours?",
				"confidence": 0.95
			}]
		}
	}`)

	ev, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if ev.Kind != stt.EventTranscript {
		t.Fatalf("expected EventTranscript, got %d", ev.Kind)
	}
	if !ev.Transcript.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "What are your hours?", ev.Transcript.Text)
	if ev.Transcript.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", ev.Transcript.Confidence)
	}
}

func TestParseDeepgramResponse_Interim(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": false,
		"channel": {
			"alternatives": [{
				"transcript": "What are",
				"confidence": 0.7
			}]
		}
	}`)

	ev, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if ev.Transcript.IsFinal {
		t.Error("expected IsFinal=false for interim result")
	}
	assertEqual(t, "text", "What are", ev.Transcript.Text)
}

func TestParseDeepgramResponse_SpeechStarted(t *testing.T) {
	raw := []byte(`{"type":"SpeechStarted","channel":[0],"timestamp":1.42}`)

	ev, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for SpeechStarted message")
	}
	if ev.Kind != stt.EventSpeechStarted {
		t.Errorf("expected EventSpeechStarted, got %d", ev.Kind)
	}
}

func TestParseDeepgramResponse_EmptyTranscript(t *testing.T) {
	// Deepgram regularly emits Results with an empty transcript; they must
	// not reach the consumer.
	raw := []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"","confidence":0}]}}`)
	_, ok := parseDeepgramResponse(raw)
	if ok {
		t.Error("expected ok=false for empty transcript")
	}
}

func TestParseDeepgramResponse_NonResultsType(t *testing.T) {
	raw := []byte(`{"type":"Metadata","request_id":"abc"}`)
	_, ok := parseDeepgramResponse(raw)
	if ok {
		t.Error("expected ok=false for non-Results message")
	}
}

func TestParseDeepgramResponse_EmptyAlternatives(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`)
	_, ok := parseDeepgramResponse(raw)
	if ok {
		t.Error("expected ok=false when alternatives is empty")
	}
}

func TestParseDeepgramResponse_InvalidJSON(t *testing.T) {
	_, ok := parseDeepgramResponse([]byte(`{invalid`))
	if ok {
		t.Error("expected ok=false for invalid JSON")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, p.sampleRate)
	}
}

// ---- session shutdown tests ----

func TestSessionClose_UnresponsiveServer(t *testing.T) {
	// A server that accepts the connection and the CloseStream message but
	// never completes the closing handshake. Close must still return once
	// its wait deadline elapses.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(context.Background(), wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	sess := newSession(context.Background(), conn)
	sess.closeTimeout = 100 * time.Millisecond

	closed := make(chan struct{})
	go func() {
		_ = sess.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return against an unresponsive server")
	}

	// The event channel must be closed once the session is torn down.
	select {
	case _, ok := <-sess.Events():
		if ok {
			t.Error("expected event channel to be closed")
		}
	case <-time.After(time.Second):
		t.Error("event channel still open after Close")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
