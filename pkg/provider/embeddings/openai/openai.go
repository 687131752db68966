// Package openai implements embeddings.Provider on the OpenAI embeddings API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/trunkline-ai/trunkline/pkg/provider/embeddings"
)

// DefaultModel balances retrieval quality against per-turn latency and cost;
// query embeddings happen once per caller utterance.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// modelDims maps the OpenAI embedding models to their native vector widths.
// The knowledge store's vector column must be created with the same width.
var modelDims = map[string]int{
	oai.EmbeddingModelTextEmbedding3Small: 1536,
	oai.EmbeddingModelTextEmbedding3Large: 3072,
	oai.EmbeddingModelTextEmbeddingAda002: 1536,
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider embeds text through the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	dims   int
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	dims         int
}

// Option configures optional Provider behaviour.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout bounds each embedding request. Query embeds block a live turn,
// so a short timeout here beats waiting out a slow backend.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions declares the vector width for models absent from the
// built-in table, such as models served from a compatible endpoint.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dims = dims }
}

// New builds a Provider for the given model, defaulting to [DefaultModel]
// when model is empty.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embeddings/openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	dims := cfg.dims
	if dims == 0 {
		dims = modelDims[model]
	}
	if dims == 0 {
		return nil, fmt.Errorf("embeddings/openai: unknown model %q; set WithDimensions explicitly", model)
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		dims:   dims,
	}, nil
}

// Embed returns the vector for one text, typically a caller utterance being
// matched against tenant knowledge.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfString: param.NewOpt(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings/openai: embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embeddings/openai: empty response")
	}
	return narrow(resp.Data[0].Embedding), nil
}

// EmbedBatch embeds texts in a single API call. The API may return items out
// of order, so results are placed by the reported index.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings/openai: embed batch: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings/openai: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	vecs := make([][]float32, len(texts))
	for _, e := range resp.Data {
		if int(e.Index) >= len(texts) {
			return nil, fmt.Errorf("embeddings/openai: embedding index %d out of range", e.Index)
		}
		vecs[e.Index] = narrow(e.Embedding)
	}
	return vecs, nil
}

// Dimensions reports the vector width resolved at construction time.
func (p *Provider) Dimensions() int { return p.dims }

// ModelID returns the configured OpenAI model name.
func (p *Provider) ModelID() string { return p.model }

// narrow converts the API's float64 vector to the float32 representation the
// knowledge store persists.
func narrow(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
