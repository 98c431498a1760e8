package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/content"
	"github.com/omnifin/finsight/internal/embedding"
	"github.com/omnifin/finsight/pkg/embeddings"
	"github.com/omnifin/finsight/pkg/logger"
)

// EmbedWorker drains the queue of unprocessed articles through the
// chunk-and-embed pipeline.
type EmbedWorker struct {
	articles *content.Repository
	indexer  *embedding.Indexer
	batch    int
}

// NewEmbedWorker creates new embedding worker
func NewEmbedWorker(articles *content.Repository, indexer *embedding.Indexer, batch int) *EmbedWorker {
	if batch < 1 {
		batch = 20
	}

	return &EmbedWorker{
		articles: articles,
		indexer:  indexer,
		batch:    batch,
	}
}

// Name returns worker name
func (ew *EmbedWorker) Name() string {
	return "embed_queue"
}

// Run processes one batch of pending articles. When the embedding
// provider is unavailable the batch is abandoned untouched; the articles
// stay unprocessed and the next tick retries them.
func (ew *EmbedWorker) Run(ctx context.Context) error {
	pending, err := ew.articles.PendingEmbedding(ctx, ew.batch)
	if err != nil {
		return fmt.Errorf("failed to load pending articles: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	started := time.Now()
	processed := make([]int64, 0, len(pending))

	for _, article := range pending {
		if ctx.Err() != nil {
			break
		}

		if err := ew.indexer.ChunkAndEmbed(ctx, article.ID); err != nil {
			if errors.Is(err, embeddings.ErrUnavailable) {
				logger.Warn("embedding provider unavailable, deferring batch",
					zap.Int("remaining", len(pending)-len(processed)),
				)
				break
			}
			logger.Warn("failed to embed article",
				zap.Int64("article_id", article.ID),
				zap.Error(err),
			)
			continue
		}

		processed = append(processed, article.ID)
	}

	if len(processed) > 0 {
		if err := ew.articles.MarkProcessed(ctx, processed); err != nil {
			return fmt.Errorf("failed to mark articles processed: %w", err)
		}
	}

	logger.Info("embed cycle complete",
		zap.Int("pending", len(pending)),
		zap.Int("processed", len(processed)),
		zap.Duration("took", time.Since(started)),
	)

	return ctx.Err()
}
