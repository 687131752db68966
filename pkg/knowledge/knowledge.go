// Package knowledge defines the vector store interface used for tenant
// document retrieval.
//
// A knowledge store holds pre-embedded text documents partitioned by tenant
// and answers approximate nearest-neighbour queries against a query embedding.
// The RAG layer sits on top of this package; it owns query embedding,
// caching, and similarity thresholds, while the store only ranks.
//
// Implementations must be safe for concurrent use.
package knowledge

import "context"

// Document is a pre-embedded text fragment belonging to one tenant.
type Document struct {
	// ID uniquely identifies the document. Re-upserting the same ID replaces it.
	ID string
	// TenantID scopes the document to a single tenant's partition.
	TenantID string
	// Content is the raw text returned to callers on a search hit.
	Content string
	// Source names where the content came from (file name, URL, ...).
	Source string
	// Embedding is the dense vector for Content. Its length must match the
	// dimension the store was created with.
	Embedding []float32
}

// Hit is a single search result.
type Hit struct {
	// Content is the matched document's text.
	Content string
	// Source is the matched document's provenance label.
	Source string
	// Similarity is the cosine similarity between the query embedding and the
	// document embedding, in [-1, 1] (1 = identical direction).
	Similarity float64
}

// Store is the abstraction over a tenant-partitioned vector store.
type Store interface {
	// UpsertDocument inserts doc or replaces the existing document with the
	// same ID.
	UpsertDocument(ctx context.Context, doc Document) error

	// Search returns up to topK documents in tenantID's partition ordered by
	// descending cosine similarity to embedding. An empty partition yields an
	// empty slice, not an error.
	Search(ctx context.Context, tenantID string, embedding []float32, topK int) ([]Hit, error)
}
