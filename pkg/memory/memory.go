// Package memory defines the storage ports a running agent uses to persist
// and recall state across turns and runs: vector similarity search over
// embedded episodic memories, a key-value substrate for run/checkpoint
// bookkeeping, and a relational store for durable task/workflow records.
// Concrete adapters live in the vectorstore, kvstore, and sqlstore
// subpackages.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned by a store lookup that finds no matching record.
var ErrNotFound = errors.New("memory: not found")

// Episode is one recorded interaction a vector store can recall by
// similarity to a query embedding.
type Episode struct {
	ID        string
	AgentType string
	Input     string
	Outcome   string
	Summary   string
	Importance float64
	CreatedAt time.Time
}

// ScoredEpisode pairs an Episode with its similarity score against the
// query vector (cosine similarity in [-1, 1], higher is closer).
type ScoredEpisode struct {
	Episode Episode
	Score   float64
}

// VectorSearchOptions narrows an episodic similarity search.
type VectorSearchOptions struct {
	Query        []float64
	AgentType    string
	CreatedAfter time.Time
	Limit        int
}

// VectorStore persists episodic memories alongside an embedding vector and
// answers similarity search queries over them.
type VectorStore interface {
	UpsertEpisode(ctx context.Context, ep Episode, embedding []float64) (Episode, error)
	Search(ctx context.Context, opts VectorSearchOptions) ([]ScoredEpisode, error)
	Delete(ctx context.Context, episodeID string) error
}

// KVStore is a small key-value substrate used for run bookkeeping and
// checkpoint markers (task state snapshots, idempotency keys).
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SQLStore is the relational substrate backing durable task/workflow
// records — the structured counterpart to KVStore's blob storage. It
// mirrors database/sql's own shape rather than wrapping it, since every
// pack repo that touches SQL (88lin-divinesense's store/db/postgres,
// this module's sqlstore adapter) issues queries with database/sql
// directly instead of through an ORM layer.
type SQLStore interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}
