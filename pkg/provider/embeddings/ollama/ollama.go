// Package ollama implements embeddings.Provider against a local Ollama
// server's /api/embed endpoint.
//
// Self-hosted embeddings keep tenant knowledge and caller utterances off
// third-party APIs, at the cost of running models like nomic-embed-text or
// mxbai-embed-large locally.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/trunkline-ai/trunkline/pkg/provider/embeddings"
)

// DefaultBaseURL is where a stock Ollama install listens.
const DefaultBaseURL = "http://localhost:11434"

// modelDims holds vector widths for the common Ollama embedding models, so
// Dimensions needs no server round trip for them.
var modelDims = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider embeds text through an Ollama server.
//
// Vector width resolution: an explicit WithDimensions value wins, then the
// built-in model table, and as a last resort the first Dimensions call sends
// a one-word embed request and measures the returned vector. The measured
// width is cached for the Provider's lifetime.
type Provider struct {
	baseURL string
	model   string
	client  *http.Client

	dims        int
	measureOnce sync.Once
	measureErr  error
}

type config struct {
	timeout time.Duration
	dims    int
}

// Option configures optional Provider behaviour.
type Option func(*config)

// WithTimeout bounds each HTTP request to the Ollama server. Zero or
// negative means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions declares the vector width up front, skipping both the model
// table and the measurement request for models the table does not know.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dims = dims }
}

// New builds a Provider for model against the Ollama server at baseURL,
// defaulting to [DefaultBaseURL] when baseURL is empty.
func New(baseURL string, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("embeddings/ollama: model must not be empty")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	client := &http.Client{}
	if cfg.timeout > 0 {
		client.Timeout = cfg.timeout
	}

	dims := cfg.dims
	if dims == 0 {
		dims = tableDims(model)
	}

	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  client,
		dims:    dims,
	}, nil
}

// Embed returns the vector for one text, forwarded to Ollama verbatim. Any
// model-specific prefixing ("query: " for nomic-embed-text retrieval) is the
// caller's job.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embeddings/ollama: embed: %w", err)
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one /api/embed request, returning vectors in
// input order. No partial results on error.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embeddings/ollama: embed batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embeddings/ollama: got %d embeddings for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimensions reports the vector width, measuring it against the live server
// once when neither the options nor the model table supplied it. A failed
// measurement reports 0 and is not retried.
func (p *Provider) Dimensions() int {
	if p.dims != 0 {
		return p.dims
	}
	p.measureOnce.Do(func() {
		vecs, err := p.embed(context.Background(), []string{"dimension check"})
		if err != nil {
			p.measureErr = err
			return
		}
		p.dims = len(vecs[0])
	})
	return p.dims
}

// ModelID returns the configured Ollama model name.
func (p *Provider) ModelID() string { return p.model }

// embed posts texts to /api/embed and returns the raw vectors. A successful
// return is guaranteed non-empty.
func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload := struct {
		Model string   `json:"model"`
		Input []string `json:"input"`
	}{Model: p.model, Input: texts}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings in response")
	}
	return parsed.Embeddings, nil
}

// tableDims resolves the width for known model names. Tags like
// "nomic-embed-text:latest" match their base model. Unknown models return 0.
func tableDims(model string) int {
	name := strings.ToLower(model)
	if base, _, found := strings.Cut(name, ":"); found {
		name = base
	}
	for known, d := range modelDims {
		if strings.Contains(name, known) {
			return d
		}
	}
	return 0
}
