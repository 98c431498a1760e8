package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/omnifin/finsight/pkg/models"
)

// SearchFilters narrows a vector search. Model is always applied by the
// searcher itself.
type SearchFilters struct {
	SourceName     string
	PublishedAfter *time.Time
}

// Searcher ranks indexed chunks by cosine similarity in Postgres
type Searcher struct {
	db    *sqlx.DB
	model string
}

// NewSearcher creates new vector searcher pinned to one model
// generation
func NewSearcher(db *sqlx.DB, model string) *Searcher {
	return &Searcher{db: db, model: model}
}

// Search returns up to topK chunks ordered by similarity descending,
// ties broken by created_at descending. Fewer matches than topK is a
// short result, not an error.
func (s *Searcher) Search(ctx context.Context, queryVector []float64, topK int, filters SearchFilters) ([]models.SearchHit, error) {
	if topK <= 0 {
		return []models.SearchHit{}, nil
	}
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("query vector must not be empty")
	}

	query := `
		SELECT
			cosine_similarity(c.embedding, $1) AS similarity,
			c.chunk_text, c.chunk_index, c.created_at,
			a.id AS article_id, a.title AS article_title, a.url AS article_url,
			a.published_at, s.name AS source_name
		FROM embedding_chunks c
		JOIN articles a ON a.id = c.article_id
		JOIN news_sources s ON s.id = a.source_id
		WHERE c.embedding_model = $2
	`
	args := []interface{}{pq.Array(queryVector), s.model}

	if filters.SourceName != "" {
		args = append(args, filters.SourceName)
		query += fmt.Sprintf(" AND s.name = $%d", len(args))
	}
	if filters.PublishedAfter != nil {
		args = append(args, *filters.PublishedAfter)
		query += fmt.Sprintf(" AND a.published_at >= $%d", len(args))
	}

	args = append(args, topK)
	query += fmt.Sprintf(" ORDER BY similarity DESC, c.created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()

	hits := []models.SearchHit{}
	for rows.Next() {
		var hit models.SearchHit
		if err := rows.Scan(
			&hit.Similarity, &hit.ChunkText, &hit.ChunkIndex, &hit.CreatedAt,
			&hit.ArticleID, &hit.ArticleTitle, &hit.ArticleURL,
			&hit.PublishedAt, &hit.SourceName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}

	return hits, rows.Err()
}
