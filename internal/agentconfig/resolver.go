package agentconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors distinguishing "no agent owns this number" from transient
// backend failures. Both reject the call; only the latter is alarming.
var (
	ErrNotFound    = errors.New("agent config: not found")
	ErrUnavailable = errors.New("agent config: management api unavailable")
)

const (
	cacheKeyPrefix = "agent_config:"
	cacheTTL       = 300 * time.Second
	lookupTimeout  = 2 * time.Second
	lookupPath     = "/api/v1/agents/internal/lookup"
)

// CacheClient is the narrow slice of the Redis client the resolver needs.
// *redis.Client satisfies it.
type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Resolver looks up agent configurations by phone number, cache-aside:
// Redis first, then the management API, writing successful fetches back with
// a short TTL.
type Resolver struct {
	cache       CacheClient
	httpClient  *http.Client
	baseURL     string
	internalKey string
	log         *slog.Logger
}

// NewResolver returns a Resolver against the management API at baseURL,
// authenticating with internalKey. A nil httpClient gets a default one; the
// per-lookup timeout is enforced via context regardless.
func NewResolver(cache CacheClient, httpClient *http.Client, baseURL, internalKey string, log *slog.Logger) *Resolver {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		cache:       cache,
		httpClient:  httpClient,
		baseURL:     baseURL,
		internalKey: internalKey,
		log:         log.With("component", "agentconfig"),
	}
}

// Resolve returns the configuration for phoneNumber. It returns ErrNotFound
// when no agent owns the number and ErrUnavailable when the management API
// cannot be reached; both reject the call. Configs that decode but fail
// validation are rejected here, not at first use.
func (r *Resolver) Resolve(ctx context.Context, phoneNumber string) (*AgentConfig, error) {
	key := cacheKeyPrefix + phoneNumber

	if raw, err := r.cache.Get(ctx, key).Result(); err == nil {
		cfg, err := decode([]byte(raw))
		if err == nil {
			r.log.Info("using cached config", "phone_number", phoneNumber)
			return cfg, nil
		}
		// Stale or corrupt cache entry: fall through to a fresh fetch.
		r.log.Warn("discarding bad cached config", "phone_number", phoneNumber, "error", err)
	} else if !errors.Is(err, redis.Nil) {
		r.log.Warn("config cache read failed", "phone_number", phoneNumber, "error", err)
	}

	r.log.Info("fetching config from management api", "phone_number", phoneNumber)
	body, err := r.fetch(ctx, phoneNumber)
	if err != nil {
		return nil, err
	}

	cfg, err := decode(body)
	if err != nil {
		return nil, fmt.Errorf("agent config: decode: %w", err)
	}

	if err := r.cache.SetEx(ctx, key, string(body), cacheTTL).Err(); err != nil {
		r.log.Warn("config cache write failed", "phone_number", phoneNumber, "error", err)
	}
	return cfg, nil
}

// fetch performs the management API lookup under the fixed timeout.
func (r *Resolver) fetch(ctx context.Context, phoneNumber string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	u := r.baseURL + lookupPath + "?phone_number=" + url.QueryEscape(phoneNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("agent config: build request: %w", err)
	}
	req.Header.Set("X-Internal-Key", r.internalKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.Error("config lookup failed", "phone_number", phoneNumber, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	default:
		r.log.Error("config lookup error status", "phone_number", phoneNumber, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}

// decode unmarshals and validates a lookup payload.
func decode(raw []byte) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
