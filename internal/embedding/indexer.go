package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/content"
	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/metrics"
	"github.com/omnifin/finsight/pkg/models"
)

// Embedder produces vectors for chunk texts. pkg/embeddings.Client is
// the production implementation.
type Embedder interface {
	GenerateBatch(ctx context.Context, texts []string) ([][]float64, error)
	Model() string
}

// Indexer chunks article content, embeds it and maintains the chunk
// rows for one model generation
type Indexer struct {
	db            *sqlx.DB
	articles      *content.Repository
	chunker       *Chunker
	embedder      Embedder
	metricsBuffer metrics.Buffer
}

// NewIndexer creates new embedding indexer. metricsBuffer is optional.
func NewIndexer(
	db *sqlx.DB,
	articles *content.Repository,
	chunker *Chunker,
	embedder Embedder,
	metricsBuffer metrics.Buffer,
) *Indexer {
	return &Indexer{
		db:            db,
		articles:      articles,
		chunker:       chunker,
		embedder:      embedder,
		metricsBuffer: metricsBuffer,
	}
}

// ChunkAndEmbed splits an article, embeds every chunk and replaces the
// article's chunk set for the current model in one transaction. Chunks
// whose text is unchanged keep their rows; trailing indexes from a
// longer previous chunking are deleted so stale and fresh chunks never
// coexist. Other models' generations are untouched.
func (i *Indexer) ChunkAndEmbed(ctx context.Context, articleID int64) error {
	started := time.Now()

	article, err := i.articles.GetArticle(ctx, articleID)
	if err != nil {
		return err
	}
	if article == nil {
		return fmt.Errorf("article %d not found", articleID)
	}

	text := buildEmbeddingText(article)
	chunks := i.chunker.Split(text)
	if len(chunks) == 0 {
		logger.Debug("article has no embeddable text", zap.Int64("article_id", articleID))
		return i.deleteGeneration(ctx, articleID, i.embedder.Model())
	}

	vectors, err := i.embedder.GenerateBatch(ctx, chunks)
	if err != nil {
		i.recordJob(articleID, len(chunks), started, false)
		return err
	}
	if len(vectors) != len(chunks) {
		i.recordJob(articleID, len(chunks), started, false)
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	tx, err := i.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	model := i.embedder.Model()

	for idx, chunkText := range chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO embedding_chunks (
				article_id, chunk_index, chunk_text, embedding, embedding_model, token_count, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, NOW())
			ON CONFLICT (article_id, chunk_index, embedding_model) DO UPDATE SET
				chunk_text = EXCLUDED.chunk_text,
				embedding = EXCLUDED.embedding,
				token_count = EXCLUDED.token_count,
				created_at = NOW()
			WHERE embedding_chunks.chunk_text IS DISTINCT FROM EXCLUDED.chunk_text
		`, articleID, idx, chunkText, pq.Array(vectors[idx]), model, approxTokens(chunkText))
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %d: %w", idx, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM embedding_chunks
		WHERE article_id = $1 AND embedding_model = $2 AND chunk_index >= $3
	`, articleID, model, len(chunks))
	if err != nil {
		return fmt.Errorf("failed to drop stale chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk set: %w", err)
	}

	logger.Debug("article indexed",
		zap.Int64("article_id", articleID),
		zap.Int("chunks", len(chunks)),
		zap.String("model", model),
	)

	i.recordJob(articleID, len(chunks), started, true)

	return nil
}

// deleteGeneration removes every chunk of one model for an article
func (i *Indexer) deleteGeneration(ctx context.Context, articleID int64, model string) error {
	_, err := i.db.ExecContext(ctx, `
		DELETE FROM embedding_chunks WHERE article_id = $1 AND embedding_model = $2
	`, articleID, model)
	if err != nil {
		return fmt.Errorf("failed to delete chunk generation: %w", err)
	}

	return nil
}

// ChunksForArticle returns one model's chunk rows in index order
func (i *Indexer) ChunksForArticle(ctx context.Context, articleID int64, model string) ([]models.EmbeddingChunk, error) {
	query := `
		SELECT id, article_id, chunk_index, chunk_text, embedding, embedding_model, token_count, created_at
		FROM embedding_chunks
		WHERE article_id = $1 AND embedding_model = $2
		ORDER BY chunk_index ASC
	`

	rows, err := i.db.QueryxContext(ctx, query, articleID, model)
	if err != nil {
		return nil, fmt.Errorf("failed to query article chunks: %w", err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

func scanChunks(rows *sqlx.Rows) ([]models.EmbeddingChunk, error) {
	chunks := []models.EmbeddingChunk{}
	for rows.Next() {
		var chunk models.EmbeddingChunk
		var embedding pq.Float64Array
		if err := rows.Scan(
			&chunk.ID, &chunk.ArticleID, &chunk.ChunkIndex, &chunk.ChunkText,
			&embedding, &chunk.Model, &chunk.TokenCount, &chunk.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		chunk.Embedding = []float64(embedding)
		chunks = append(chunks, chunk)
	}

	return chunks, rows.Err()
}

// buildEmbeddingText joins the fields worth indexing. Title and summary
// lead so short articles still carry their headline signal.
func buildEmbeddingText(article *models.Article) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{article.Title, article.Summary, article.Content} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, strings.TrimSpace(part))
		}
	}
	return strings.Join(parts, "\n\n")
}

// approxTokens estimates token count at four characters per token
func approxTokens(text string) int {
	return (len(text) + 3) / 4
}

func (i *Indexer) recordJob(articleID int64, chunks int, started time.Time, success bool) {
	if i.metricsBuffer == nil {
		return
	}

	if err := i.metricsBuffer.Add(&metrics.EmbedJobMetric{
		Timestamp:  time.Now(),
		ArticleID:  articleID,
		Chunks:     chunks,
		Model:      i.embedder.Model(),
		DurationMs: float64(time.Since(started).Microseconds()) / 1000,
		Success:    success,
	}); err != nil {
		logger.Debug("failed to record embed job metric", zap.Error(err))
	}
}
