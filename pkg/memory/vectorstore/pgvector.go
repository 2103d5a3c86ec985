// Package vectorstore adapts github.com/pgvector/pgvector-go over a
// database/sql Postgres connection (github.com/lib/pq) to the
// memory.VectorStore port. Schema and query shape are grounded on
// 88lin-divinesense's store/db/postgres/episodic_memory_embedding.go —
// the closest concrete vector-capable SQL driver in the reference pack —
// adapted from that repo's Milvus-flavored source semantics
// (original_source's tasking/database/milvus.py) since no pack repo
// vendors a Milvus Go SDK.
package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/Koko12137/tasking-community-sub000/pkg/memory"
)

// Store implements memory.VectorStore on top of a Postgres database with
// the pgvector extension enabled.
type Store struct {
	db    *sql.DB
	model string
}

// New wraps db (opened with a lib/pq or pgx database/sql driver) into a
// VectorStore. model tags every stored embedding so a table can hold
// vectors produced by more than one embedding model without collision.
func New(db *sql.DB, model string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("vectorstore: db handle is required")
	}
	if model == "" {
		return nil, fmt.Errorf("vectorstore: embedding model tag is required")
	}
	return &Store{db: db, model: model}, nil
}

var _ memory.VectorStore = (*Store)(nil)

// UpsertEpisode inserts or updates an episodic memory and its embedding in
// a single round trip, matching the teacher's
// UpsertEpisodicMemoryEmbedding ON CONFLICT DO UPDATE pattern.
func (s *Store) UpsertEpisode(ctx context.Context, ep memory.Episode, embedding []float64) (memory.Episode, error) {
	if ep.ID == "" {
		return memory.Episode{}, fmt.Errorf("vectorstore: episode id is required")
	}
	vector := pgvector.NewVector(toFloat32(embedding))
	stmt := `
		INSERT INTO episodic_memory (id, agent_type, user_input, outcome, summary, importance, embedding, model, created_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id, model)
		DO UPDATE SET
			outcome = EXCLUDED.outcome,
			summary = EXCLUDED.summary,
			importance = EXCLUDED.importance,
			embedding = EXCLUDED.embedding
		RETURNING created_ts
	`
	createdAt := ep.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := s.db.QueryRowContext(ctx, stmt,
		ep.ID, ep.AgentType, ep.Input, ep.Outcome, ep.Summary, ep.Importance, vector, s.model, createdAt,
	)
	if err := row.Scan(&ep.CreatedAt); err != nil {
		return memory.Episode{}, fmt.Errorf("vectorstore: upsert episode: %w", err)
	}
	return ep, nil
}

// Search performs cosine-similarity search via pgvector's <=> operator,
// mirroring the teacher's EpisodicVectorSearch query shape: distance
// ascending (closest first), translated to a similarity score of
// 1 - distance for callers that expect "higher is closer."
func (s *Store) Search(ctx context.Context, opts memory.VectorSearchOptions) ([]memory.ScoredEpisode, error) {
	if len(opts.Query) == 0 {
		return nil, fmt.Errorf("vectorstore: query vector is required")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	vector := pgvector.NewVector(toFloat32(opts.Query))

	where := "1 = 1"
	args := []any{}
	argIdx := 1
	if opts.AgentType != "" {
		argIdx++
		where += fmt.Sprintf(" AND agent_type = $%d", argIdx)
		args = append(args, opts.AgentType)
	}
	if !opts.CreatedAfter.IsZero() {
		argIdx++
		where += fmt.Sprintf(" AND created_ts >= $%d", argIdx)
		args = append(args, opts.CreatedAfter)
	}

	query := fmt.Sprintf(`
		SELECT id, agent_type, user_input, outcome, summary, importance, created_ts,
			1 - (embedding <=> $1) AS score
		FROM episodic_memory
		WHERE %s AND model = $%d
		ORDER BY embedding <=> $1
		LIMIT $%d
	`, where, argIdx+1, argIdx+2)
	args = append([]any{vector}, args...)
	args = append(args, s.model, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	defer rows.Close()

	var out []memory.ScoredEpisode
	for rows.Next() {
		var r memory.ScoredEpisode
		if err := rows.Scan(
			&r.Episode.ID, &r.Episode.AgentType, &r.Episode.Input, &r.Episode.Outcome,
			&r.Episode.Summary, &r.Episode.Importance, &r.Episode.CreatedAt, &r.Score,
		); err != nil {
			return nil, fmt.Errorf("vectorstore: scan search result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes an episode and its embedding by id.
func (s *Store) Delete(ctx context.Context, episodeID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM episodic_memory WHERE id = $1`, episodeID)
	if err != nil {
		return fmt.Errorf("vectorstore: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("vectorstore: delete: %w", err)
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
