// Package mock provides a test double for the knowledge.Store interface.
//
// Use Store to return pre-canned search hits without a live database and to
// verify which tenant and embedding were queried.
//
// Example:
//
//	s := &mock.Store{SearchResult: []knowledge.Hit{{Content: "ctx", Similarity: 0.9}}}
//	hits, _ := s.Search(ctx, "tenant-a", vec, 3)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/trunkline-ai/trunkline/pkg/knowledge"
)

// SearchCall records a single invocation of Search.
type SearchCall struct {
	// Ctx is the context passed to Search.
	Ctx context.Context
	// TenantID is the tenant passed to Search.
	TenantID string
	// Embedding is a copy of the query embedding passed to Search.
	Embedding []float32
	// TopK is the result limit passed to Search.
	TopK int
}

// UpsertCall records a single invocation of UpsertDocument.
type UpsertCall struct {
	// Ctx is the context passed to UpsertDocument.
	Ctx context.Context
	// Doc is the document passed to UpsertDocument.
	Doc knowledge.Document
}

// Store is a mock implementation of knowledge.Store.
type Store struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SearchResult is returned by Search. If nil, an empty slice is returned.
	SearchResult []knowledge.Hit

	// SearchErr, if non-nil, is returned as the error from Search.
	SearchErr error

	// SearchDelay, if non-zero, makes Search block until the delay elapses or
	// ctx is cancelled (whichever comes first). Use it to exercise timeouts.
	SearchDelay time.Duration

	// UpsertErr, if non-nil, is returned as the error from UpsertDocument.
	UpsertErr error

	// --- Call records ---

	// SearchCalls records every call to Search in order.
	SearchCalls []SearchCall

	// UpsertCalls records every call to UpsertDocument in order.
	UpsertCalls []UpsertCall
}

// Search records the call and returns SearchResult, SearchErr.
func (s *Store) Search(ctx context.Context, tenantID string, embedding []float32, topK int) ([]knowledge.Hit, error) {
	s.mu.Lock()
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	s.SearchCalls = append(s.SearchCalls, SearchCall{Ctx: ctx, TenantID: tenantID, Embedding: cp, TopK: topK})
	delay := s.SearchDelay
	result := s.SearchResult
	err := s.SearchErr
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return []knowledge.Hit{}, nil
	}
	return result, nil
}

// UpsertDocument records the call and returns UpsertErr.
func (s *Store) UpsertDocument(ctx context.Context, doc knowledge.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpsertCalls = append(s.UpsertCalls, UpsertCall{Ctx: ctx, Doc: doc})
	return s.UpsertErr
}

// Reset clears all recorded calls. Thread-safe.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SearchCalls = nil
	s.UpsertCalls = nil
}

// Ensure Store implements knowledge.Store at compile time.
var _ knowledge.Store = (*Store)(nil)
