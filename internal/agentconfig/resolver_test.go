package agentconfig

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeCache is an in-memory CacheClient.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
	setTTLs map[string]time.Duration
	getErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries: map[string]string{},
		setTTLs: map[string]time.Duration{},
	}
}

func (f *fakeCache) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringCmd(ctx)
	if f.getErr != nil {
		cmd.SetErr(f.getErr)
		return cmd
	}
	v, ok := f.entries[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeCache) SetEx(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value.(string)
	f.setTTLs[key] = expiration
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func validPayload() []byte {
	b, _ := json.Marshal(AgentConfig{
		AgentID:       "agent-1",
		TenantID:      "tenant-a",
		Name:          "Support Agent",
		SystemPrompt:  "You are a helpful receptionist.",
		VoiceProvider: "elevenlabs",
		VoiceID:       "voice-9",
		PhoneNumber:   "+15551230001",
	})
	return b
}

func TestResolve_CacheHit(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	cache.entries["agent_config:+15551230001"] = string(validPayload())

	// Any HTTP traffic is a test failure on a cache hit.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("unexpected management api request on cache hit")
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewResolver(cache, nil, srv.URL, "secret", nil)
	cfg, err := r.Resolve(context.Background(), "+15551230001")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.AgentID != "agent-1" || cfg.TenantID != "tenant-a" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}

func TestResolve_CacheMissFetchesAndCaches(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	var gotKey, gotPhone string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Internal-Key")
		gotPhone = r.URL.Query().Get("phone_number")
		if r.URL.Path != "/api/v1/agents/internal/lookup" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(validPayload())
	}))
	defer srv.Close()

	r := NewResolver(cache, nil, srv.URL, "secret", nil)
	cfg, err := r.Resolve(context.Background(), "+15551230001")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.VoiceID != "voice-9" {
		t.Errorf("voice id: got %q", cfg.VoiceID)
	}
	if gotKey != "secret" {
		t.Errorf("X-Internal-Key: got %q", gotKey)
	}
	if gotPhone != "+15551230001" {
		t.Errorf("phone_number param: got %q", gotPhone)
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if _, ok := cache.entries["agent_config:+15551230001"]; !ok {
		t.Error("successful fetch was not cached")
	}
	if ttl := cache.setTTLs["agent_config:+15551230001"]; ttl != 300*time.Second {
		t.Errorf("cache TTL: got %v, want 300s", ttl)
	}
}

func TestResolve_NotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no agent", http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewResolver(newFakeCache(), nil, srv.URL, "secret", nil)
	_, err := r.Resolve(context.Background(), "+15550000000")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestResolve_BackendError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewResolver(newFakeCache(), nil, srv.URL, "secret", nil)
	_, err := r.Resolve(context.Background(), "+15551230001")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestResolve_BackendUnreachable(t *testing.T) {
	t.Parallel()

	r := NewResolver(newFakeCache(), nil, "http://127.0.0.1:19999", "secret", nil)
	_, err := r.Resolve(context.Background(), "+15551230001")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestResolve_InvalidConfigRejected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Missing system_prompt and voice_id.
		_, _ = w.Write([]byte(`{"id":"agent-1","tenant_id":"tenant-a"}`))
	}))
	defer srv.Close()

	r := NewResolver(newFakeCache(), nil, srv.URL, "secret", nil)
	_, err := r.Resolve(context.Background(), "+15551230001")
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
}

func TestResolve_CorruptCacheFallsThrough(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	cache.entries["agent_config:+15551230001"] = "{not json"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(validPayload())
	}))
	defer srv.Close()

	r := NewResolver(cache, nil, srv.URL, "secret", nil)
	cfg, err := r.Resolve(context.Background(), "+15551230001")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.AgentID != "agent-1" {
		t.Errorf("unexpected config: %+v", cfg)
	}
}
