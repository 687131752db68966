// Package rag retrieves tenant knowledge context for a user query.
//
// Retrieval is strictly best-effort: the agent must keep answering when the
// vector store is slow or down, so every failure path collapses to "no
// context found". Query embeddings are cached in Redis for a day keyed by an
// md5 of tenant and normalized query; the vector search itself runs under a
// short timeout behind a circuit breaker.
package rag

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trunkline-ai/trunkline/internal/resilience"
	"github.com/trunkline-ai/trunkline/pkg/knowledge"
	"github.com/trunkline-ai/trunkline/pkg/provider/embeddings"
)

const (
	cacheKeyPrefix      = "rag_embedding:"
	cacheTTL            = 86400 * time.Second
	searchTimeout       = 1 * time.Second
	topK                = 3
	similarityThreshold = 0.45
	contextSeparator    = "\n---\n"
)

// CacheClient is the narrow slice of the Redis client the retriever needs.
// *redis.Client satisfies it.
type CacheClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CacheObserver counts embedding-cache outcomes. Implementations must be
// safe for concurrent use.
type CacheObserver interface {
	RAGCacheHit(ctx context.Context)
	RAGCacheMiss(ctx context.Context)
}

// Retriever answers "what does this tenant's knowledge base say about the
// query". Safe for concurrent use.
type Retriever struct {
	cache    CacheClient
	embedder embeddings.Provider
	store    knowledge.Store
	breaker  *resilience.CircuitBreaker
	observer CacheObserver
	log      *slog.Logger
}

// Option is a functional option for Retriever.
type Option func(*Retriever)

// WithCacheObserver wires cache hit/miss counting into the retriever.
func WithCacheObserver(o CacheObserver) Option {
	return func(r *Retriever) { r.observer = o }
}

// NewRetriever returns a Retriever over the given cache, embedder, and
// vector store.
func NewRetriever(cache CacheClient, embedder embeddings.Provider, store knowledge.Store, log *slog.Logger, opts ...Option) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	r := &Retriever{
		cache:    cache,
		embedder: embedder,
		store:    store,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "knowledge-search",
		}),
		log: log.With("component", "rag"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns the joined context blocks relevant to query within the
// tenant's partition, and whether anything relevant was found. It never
// returns an error: embedding failures, search timeouts, an open breaker,
// and empty result sets all report not-found.
func (r *Retriever) Retrieve(ctx context.Context, query, tenantID string) (string, bool) {
	vec, ok := r.queryEmbedding(ctx, query, tenantID)
	if !ok {
		return "", false
	}

	var hits []knowledge.Hit
	err := r.breaker.Execute(func() error {
		searchCtx, cancel := context.WithTimeout(ctx, searchTimeout)
		defer cancel()
		var err error
		hits, err = r.store.Search(searchCtx, tenantID, vec, topK)
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			r.log.Warn("knowledge search skipped: circuit open", "tenant_id", tenantID)
		} else {
			r.log.Warn("knowledge search failed", "tenant_id", tenantID, "error", err)
		}
		return "", false
	}

	var blocks []string
	for _, h := range hits {
		if h.Similarity > similarityThreshold {
			blocks = append(blocks, h.Content)
		}
	}
	if len(blocks) == 0 {
		return "", false
	}
	return strings.Join(blocks, contextSeparator), true
}

// queryEmbedding resolves the embedding for query, cache-aside. The cache key
// hashes the normalized query; the embedding request sends the query verbatim.
func (r *Retriever) queryEmbedding(ctx context.Context, query, tenantID string) ([]float32, bool) {
	key := cacheKey(query, tenantID)

	if raw, err := r.cache.Get(ctx, key).Result(); err == nil {
		var vec []float32
		if err := json.Unmarshal([]byte(raw), &vec); err == nil {
			if r.observer != nil {
				r.observer.RAGCacheHit(ctx)
			}
			return vec, true
		}
		r.log.Warn("discarding bad cached embedding", "key", key)
	} else if !errors.Is(err, redis.Nil) {
		r.log.Warn("embedding cache read failed", "error", err)
	}

	if r.observer != nil {
		r.observer.RAGCacheMiss(ctx)
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.log.Warn("query embedding failed", "tenant_id", tenantID, "error", err)
		return nil, false
	}

	if encoded, err := json.Marshal(vec); err == nil {
		if err := r.cache.SetEx(ctx, key, string(encoded), cacheTTL).Err(); err != nil {
			r.log.Warn("embedding cache write failed", "error", err)
		}
	}
	return vec, true
}

// cacheKey derives the Redis key for a tenant-scoped query embedding.
func cacheKey(query, tenantID string) string {
	sum := md5.Sum([]byte(tenantID + ":" + strings.ToLower(strings.TrimSpace(query))))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
