// Package embeddings defines the Provider interface for text-embedding
// backends.
//
// Embeddings ground live calls in tenant knowledge: each caller utterance is
// embedded once and matched against the knowledge store by vector similarity,
// and every document chunk is embedded at ingestion time. Single-text Embed
// sits on the per-turn hot path; EmbedBatch serves bulk ingestion.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// All vectors produced by one Provider share the dimensionality reported by
// Dimensions. Query vectors and stored chunk vectors are only comparable when
// they come from the same model, so ingestion and retrieval must be wired to
// the same Provider instance.
//
// Implementations must be safe for concurrent use; several calls embed
// utterances at once.
type Provider interface {
	// Embed returns the vector for a single text. The text is passed to the
	// backend verbatim; any model-specific prefixing (some retrieval models
	// want "query: ") is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one backend round trip, returning vectors
	// in input order. There are no partial results: any failure yields a nil
	// slice and an error.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the fixed vector length this provider produces. The
	// knowledge store's column width must match it.
	Dimensions() int

	// ModelID identifies the backend model, for logs and for verifying that
	// ingestion and retrieval agree on a model.
	ModelID() string
}
