package embeddings

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
)

// Repository persists generated embeddings keyed by (model, text hash).
// Vectors are deterministic per key, so rows never expire; a second
// model embedding the same text gets its own row.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new embedding dedup repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// Get retrieves a stored vector, false on miss
func (r *Repository) Get(ctx context.Context, model, textHash string) ([]float64, bool) {
	query := `SELECT embedding FROM embedding_cache WHERE model = $1 AND text_hash = $2`

	var embedding pq.Float64Array
	if err := r.db.GetContext(ctx, &embedding, query, model, textHash); err != nil {
		return nil, false
	}

	return []float64(embedding), true
}

// Set stores a generated vector. Re-storing the same key is a no-op.
func (r *Repository) Set(ctx context.Context, model, textHash string, embedding []float64) error {
	query := `
		INSERT INTO embedding_cache (model, text_hash, embedding, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (model, text_hash) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, model, textHash, pq.Array(embedding)); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	return nil
}

// Count returns how many vectors are stored
func (r *Repository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM embedding_cache`); err != nil {
		return 0, fmt.Errorf("failed to count stored embeddings: %w", err)
	}

	logger.Debug("embedding store size", zap.Int("count", count))

	return count, nil
}
