// Package postgres provides a PostgreSQL-backed implementation of the
// knowledge store using the pgvector extension.
//
// Documents live in a single table with a keyword tenant_id column and an
// HNSW cosine index over the embedding column; [Migrate] installs the
// extension and schema idempotently on every start.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, "documents", 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	hits, err := store.Search(ctx, tenantID, queryVec, 3)
package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/trunkline-ai/trunkline/pkg/knowledge"
)

// Compile-time interface check.
var _ knowledge.Store = (*Store)(nil)

// DefaultTable is the table name used when none is configured.
const DefaultTable = "documents"

// identRe restricts table names to plain SQL identifiers; the table name is
// interpolated into query text and must never carry quoting or punctuation.
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Store is the PostgreSQL/pgvector-backed knowledge store. All methods are
// safe for concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the documents table and extension exist.
//
// table is the documents table name; empty means [DefaultTable].
// embeddingDimensions must match the output dimension of the embedding model
// (e.g., 1536 for OpenAI text-embedding-3-small). Changing it after the first
// migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, table string, embeddingDimensions int) (*Store, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("knowledge store: invalid table name %q", table)
	}
	if embeddingDimensions <= 0 {
		return nil, fmt.Errorf("knowledge store: embedding dimensions must be positive, got %d", embeddingDimensions)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, table, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("knowledge store: migrate: %w", err)
	}

	return &Store{pool: pool, table: table}, nil
}

// Pool exposes the underlying connection pool so shared-process collaborators
// (health checks) can ping the same database.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// UpsertDocument implements [knowledge.Store]. A document with the same ID is
// completely replaced.
func (s *Store) UpsertDocument(ctx context.Context, doc knowledge.Document) error {
	q := fmt.Sprintf(`
		INSERT INTO %s (id, tenant_id, content, source, embedding)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    tenant_id = EXCLUDED.tenant_id,
		    content   = EXCLUDED.content,
		    source    = EXCLUDED.source,
		    embedding = EXCLUDED.embedding`, s.table)

	_, err := s.pool.Exec(ctx, q,
		doc.ID,
		doc.TenantID,
		doc.Content,
		doc.Source,
		pgvector.NewVector(doc.Embedding),
	)
	if err != nil {
		return fmt.Errorf("knowledge store: upsert document: %w", err)
	}
	return nil
}

// Search implements [knowledge.Store]. It finds the topK documents in the
// tenant's partition whose embeddings are closest (cosine distance) to the
// query embedding and reports them as similarities (1 - distance), most
// similar first.
func (s *Store) Search(ctx context.Context, tenantID string, embedding []float32, topK int) ([]knowledge.Hit, error) {
	q := fmt.Sprintf(`
		SELECT content, source, 1 - (embedding <=> $1) AS similarity
		FROM   %s
		WHERE  tenant_id = $2
		ORDER  BY embedding <=> $1
		LIMIT  $3`, s.table)

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), tenantID, topK)
	if err != nil {
		return nil, fmt.Errorf("knowledge store: search: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (knowledge.Hit, error) {
		var h knowledge.Hit
		if err := row.Scan(&h.Content, &h.Source, &h.Similarity); err != nil {
			return knowledge.Hit{}, err
		}
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge store: scan rows: %w", err)
	}
	if hits == nil {
		hits = []knowledge.Hit{}
	}
	return hits, nil
}

// ddl returns the documents DDL with the table name and embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddl(table string, embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS %[1]s (
    id          TEXT         PRIMARY KEY,
    tenant_id   TEXT         NOT NULL,
    content     TEXT         NOT NULL,
    source      TEXT         NOT NULL DEFAULT '',
    embedding   vector(%[2]d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_tenant_id
    ON %[1]s (tenant_id);

CREATE INDEX IF NOT EXISTS idx_%[1]s_embedding
    ON %[1]s USING hnsw (embedding vector_cosine_ops);
`, table, embeddingDimensions)
}

// Migrate creates or ensures the documents table and pgvector extension exist.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, table string, embeddingDimensions int) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("knowledge migrate: invalid table name %q", table)
	}
	if _, err := pool.Exec(ctx, ddl(table, embeddingDimensions)); err != nil {
		return fmt.Errorf("knowledge migrate: %w", err)
	}
	return nil
}
