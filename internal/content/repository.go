package content

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
)

// Repository handles article, mention and category-link storage
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new content repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// HashContent returns the sha256 fingerprint used to detect content
// changes between scrapes of the same URL
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// SaveArticle upserts an article on its URL, the global dedup key: the
// same URL delivered by a second source still hits the existing row.
// created is false when the URL was already ingested; re-ingest keeps
// the first-written title and summary, and only a changed content
// fingerprint updates the body and re-queues the article for
// embedding.
func (r *Repository) SaveArticle(ctx context.Context, article *models.Article) (int64, bool, error) {
	if article.URL == "" {
		return 0, false, fmt.Errorf("article url must not be empty")
	}
	if article.ContentHash == "" {
		article.ContentHash = HashContent(article.Content)
	}

	query := `
		INSERT INTO articles (
			source_id, url, title, summary, content, published_at, scraped_at,
			sentiment_score, sentiment_label, relevance_score, is_processed, content_hash
		) VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7, $8, $9, FALSE, $10)
		ON CONFLICT (url) DO UPDATE SET
			content = CASE
				WHEN EXCLUDED.content <> '' AND EXCLUDED.content_hash <> articles.content_hash
				THEN EXCLUDED.content ELSE articles.content END,
			published_at = COALESCE(articles.published_at, EXCLUDED.published_at),
			is_processed = articles.is_processed
				AND (EXCLUDED.content = '' OR articles.content_hash = EXCLUDED.content_hash),
			content_hash = CASE
				WHEN EXCLUDED.content <> '' THEN EXCLUDED.content_hash
				ELSE articles.content_hash END
		RETURNING id, (xmax = 0) AS created
	`

	var result struct {
		ID      int64 `db:"id"`
		Created bool  `db:"created"`
	}
	err := r.db.GetContext(ctx, &result, query,
		article.SourceID, article.URL, article.Title, article.Summary, article.Content,
		article.PublishedAt, article.SentimentScore, article.SentimentLabel,
		article.RelevanceScore, article.ContentHash,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to save article: %w", err)
	}

	article.ID = result.ID

	if !result.Created {
		logger.Debug("duplicate article ingest",
			zap.Int64("article_id", result.ID),
			zap.String("url", article.URL),
		)
	}

	return result.ID, result.Created, nil
}

// SaveBatch stores many articles, returning how many were new
func (r *Repository) SaveBatch(ctx context.Context, articles []models.Article) (int, error) {
	created := 0
	for i := range articles {
		_, isNew, err := r.SaveArticle(ctx, &articles[i])
		if err != nil {
			logger.Warn("failed to save article in batch",
				zap.String("url", articles[i].URL),
				zap.Error(err),
			)
			continue
		}
		if isNew {
			created++
		}
	}

	return created, nil
}

const articleColumns = `
	a.id, a.source_id, a.url, a.title, a.summary, a.content,
	a.published_at, a.scraped_at, a.sentiment_score, a.sentiment_label,
	a.relevance_score, a.is_processed, a.content_hash, s.name AS source_name
`

// GetArticle returns one article with its source name, nil when unknown
func (r *Repository) GetArticle(ctx context.Context, id int64) (*models.Article, error) {
	query := `
		SELECT ` + articleColumns + `
		FROM articles a
		JOIN news_sources s ON s.id = a.source_id
		WHERE a.id = $1
	`

	var article models.Article
	err := r.db.GetContext(ctx, &article, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}

	return &article, nil
}

// GetArticleByURL returns the article for a URL, nil when unseen
func (r *Repository) GetArticleByURL(ctx context.Context, url string) (*models.Article, error) {
	query := `
		SELECT ` + articleColumns + `
		FROM articles a
		JOIN news_sources s ON s.id = a.source_id
		WHERE a.url = $1
	`

	var article models.Article
	err := r.db.GetContext(ctx, &article, query, url)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article by url: %w", err)
	}

	return &article, nil
}

// PendingEmbedding returns unprocessed articles with content, oldest
// first, for the embed worker
func (r *Repository) PendingEmbedding(ctx context.Context, limit int) ([]models.Article, error) {
	query := `
		SELECT ` + articleColumns + `
		FROM articles a
		JOIN news_sources s ON s.id = a.source_id
		WHERE a.is_processed = FALSE AND a.content <> ''
		ORDER BY a.scraped_at ASC
		LIMIT $1
	`

	articles := []models.Article{}
	if err := r.db.SelectContext(ctx, &articles, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query pending articles: %w", err)
	}

	return articles, nil
}

// MarkProcessed advances the workflow flag for a set of articles
func (r *Repository) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`UPDATE articles SET is_processed = TRUE WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build mark-processed query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to mark articles processed: %w", err)
	}

	return nil
}

// UpdateSentiment stores the sentiment verdict for an article
func (r *Repository) UpdateSentiment(ctx context.Context, id int64, score float64, label string) error {
	query := `
		UPDATE articles
		SET sentiment_score = $2, sentiment_label = $3
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id, score, label); err != nil {
		return fmt.Errorf("failed to update article sentiment: %w", err)
	}

	return nil
}

// LinkCategories attaches category tags, replacing the previous set
func (r *Repository) LinkCategories(ctx context.Context, articleID int64, categoryIDs []int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM article_categories WHERE article_id = $1`, articleID); err != nil {
		return fmt.Errorf("failed to clear article categories: %w", err)
	}

	for _, categoryID := range categoryIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO article_categories (article_id, category_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, articleID, categoryID)
		if err != nil {
			return fmt.Errorf("failed to link category: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

// UpsertMentions writes asset mentions for an article, one upsert per
// (article, asset type, symbol). Re-analysis refreshes the count, the
// primary flag and the context; mentions found in an earlier pass are
// never dropped here.
func (r *Repository) UpsertMentions(ctx context.Context, articleID int64, mentions []models.AssetMention) error {
	if len(mentions) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, m := range mentions {
		assetType := m.AssetType
		if assetType == "" {
			assetType = models.AssetTypeCrypto
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO asset_mentions (article_id, asset_type, asset_symbol, asset_id, mention_count, is_primary, context)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (article_id, asset_type, asset_symbol) DO UPDATE SET
				asset_id = COALESCE(EXCLUDED.asset_id, asset_mentions.asset_id),
				mention_count = EXCLUDED.mention_count,
				is_primary = EXCLUDED.is_primary,
				context = EXCLUDED.context
		`, articleID, assetType, m.AssetSymbol, m.AssetID, m.MentionCount, m.IsPrimary, m.Context)
		if err != nil {
			return fmt.Errorf("failed to upsert asset mention: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

// MentionsForArticle returns the assets an article talks about. The
// catalog join is left outer so symbol-only mentions still surface.
func (r *Repository) MentionsForArticle(ctx context.Context, articleID int64) ([]models.AssetMention, error) {
	query := `
		SELECT m.article_id, m.asset_type, m.asset_symbol, m.asset_id,
		       m.mention_count, m.is_primary, m.context,
		       COALESCE(a.name, '') AS asset_name
		FROM asset_mentions m
		LEFT JOIN assets a ON a.id = m.asset_id
		WHERE m.article_id = $1
		ORDER BY m.is_primary DESC, m.mention_count DESC, m.asset_symbol
	`

	mentions := []models.AssetMention{}
	if err := r.db.SelectContext(ctx, &mentions, query, articleID); err != nil {
		return nil, fmt.Errorf("failed to query article mentions: %w", err)
	}

	return mentions, nil
}

// ArticlesMentioning returns recent articles that mention an asset
func (r *Repository) ArticlesMentioning(ctx context.Context, assetID int64, limit int) ([]models.Article, error) {
	query := `
		SELECT ` + articleColumns + `
		FROM articles a
		JOIN news_sources s ON s.id = a.source_id
		JOIN asset_mentions m ON m.article_id = a.id
		WHERE m.asset_id = $1
		ORDER BY a.published_at DESC NULLS LAST
		LIMIT $2
	`

	articles := []models.Article{}
	if err := r.db.SelectContext(ctx, &articles, query, assetID, limit); err != nil {
		return nil, fmt.Errorf("failed to query articles mentioning asset: %w", err)
	}

	return articles, nil
}

// SentimentSummary aggregates sentiment over articles published inside
// the window
func (r *Repository) SentimentSummary(ctx context.Context, from, to time.Time) (*models.SentimentSummary, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE sentiment_label = 'bullish') AS bullish,
			COUNT(*) FILTER (WHERE sentiment_label = 'bearish') AS bearish,
			COUNT(*) FILTER (WHERE sentiment_label = 'neutral') AS neutral,
			COALESCE(AVG(sentiment_score), 0) AS avg_score
		FROM articles
		WHERE published_at >= $1 AND published_at <= $2
	`

	var agg struct {
		Total    int     `db:"total"`
		Bullish  int     `db:"bullish"`
		Bearish  int     `db:"bearish"`
		Neutral  int     `db:"neutral"`
		AvgScore float64 `db:"avg_score"`
	}
	if err := r.db.GetContext(ctx, &agg, query, from, to); err != nil {
		return nil, fmt.Errorf("failed to aggregate sentiment: %w", err)
	}

	return &models.SentimentSummary{
		WindowStart:      from,
		WindowEnd:        to,
		TotalArticles:    agg.Total,
		BullishCount:     agg.Bullish,
		BearishCount:     agg.Bearish,
		NeutralCount:     agg.Neutral,
		AverageSentiment: agg.AvgScore,
	}, nil
}

// DeleteArticle removes an article and everything owned by it
func (r *Repository) DeleteArticle(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM embedding_chunks WHERE article_id = $1`,
		`DELETE FROM asset_mentions WHERE article_id = $1`,
		`DELETE FROM article_categories WHERE article_id = $1`,
		`DELETE FROM articles WHERE id = $1`,
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete article data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

// DeleteOlderThan removes articles published before the cutoff,
// returning the count. Owned rows cascade inside the same transaction.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cleanup := []string{
		`DELETE FROM embedding_chunks WHERE article_id IN (SELECT id FROM articles WHERE published_at < $1)`,
		`DELETE FROM asset_mentions WHERE article_id IN (SELECT id FROM articles WHERE published_at < $1)`,
		`DELETE FROM article_categories WHERE article_id IN (SELECT id FROM articles WHERE published_at < $1)`,
	}
	for _, stmt := range cleanup {
		if _, err := tx.ExecContext(ctx, stmt, cutoff); err != nil {
			return 0, fmt.Errorf("failed to delete owned article data: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE published_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old articles: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// CountArticles returns the total article count
func (r *Repository) CountArticles(ctx context.Context) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM articles`); err != nil {
		return 0, fmt.Errorf("failed to count articles: %w", err)
	}

	return count, nil
}
