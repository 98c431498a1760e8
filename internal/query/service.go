package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/catalog"
	"github.com/omnifin/finsight/internal/content"
	"github.com/omnifin/finsight/internal/embedding"
	"github.com/omnifin/finsight/internal/signal"
	"github.com/omnifin/finsight/internal/timeseries"
	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
)

// QueryEmbedder turns query text into a vector for news search
type QueryEmbedder interface {
	Generate(ctx context.Context, text string) ([]float64, error)
}

// ArticleFilters narrows the recent-articles projection
type ArticleFilters struct {
	SourceName string
	Category   string
	After      *time.Time
	Limit      int
}

// Service composes the stores into the read-only query views
type Service struct {
	db           *sqlx.DB
	assets       *catalog.Repository
	observations *timeseries.Repository
	signals      *signal.Repository
	articles     *content.Repository
	searcher     *embedding.Searcher
	embedder     QueryEmbedder
	cache        *SignalCache
}

// NewService creates new query service. searcher, embedder and cache
// are optional; absent pieces disable the views that need them.
func NewService(
	db *sqlx.DB,
	assets *catalog.Repository,
	observations *timeseries.Repository,
	signals *signal.Repository,
	articles *content.Repository,
	searcher *embedding.Searcher,
	embedder QueryEmbedder,
	cache *SignalCache,
) *Service {
	return &Service{
		db:           db,
		assets:       assets,
		observations: observations,
		signals:      signals,
		articles:     articles,
		searcher:     searcher,
		embedder:     embedder,
		cache:        cache,
	}
}

// LatestSignal returns the newest signal row for a symbol joined with
// its observation price. Unknown symbol or empty history returns
// (nil, nil); a pending recompute checkpoint returns
// ErrInconsistentBackfill.
func (s *Service) LatestSignal(ctx context.Context, symbol string) (*models.LatestSignal, error) {
	asset, err := s.assets.GetAssetBySymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if asset == nil {
		return nil, nil
	}

	// The checkpoint gate runs before the cache: a pending recompute
	// must surface even when a stale cached view is still warm.
	checkpoint, err := s.signals.GetCheckpoint(ctx, asset.ID)
	if err != nil {
		return nil, err
	}
	if checkpoint != nil {
		return nil, fmt.Errorf("%w: asset %s", signal.ErrInconsistentBackfill, asset.Symbol)
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, asset.ID); ok {
			return cached, nil
		}
	}

	row, err := s.signals.LatestRow(ctx, asset.ID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	obs, err := s.observations.LatestObservation(ctx, asset.ID)
	if err != nil {
		return nil, err
	}

	latest := &models.LatestSignal{
		Symbol:      asset.Symbol,
		AssetID:     asset.ID,
		Timestamp:   row.Timestamp,
		DailyReturn: row.DailyReturn,
		MA7d:        row.MA7d,
		Std7d:       row.Std7d,
		RSI:         row.RSI,
		Signal:      row.Signal,
	}
	if obs != nil {
		latest.Price, _ = obs.Price.Float64()
	}

	if s.cache != nil {
		s.cache.Set(ctx, asset.ID, latest)
	}

	return latest, nil
}

// SearchNews embeds the query text and returns the top-k most similar
// chunks with provenance
func (s *Service) SearchNews(ctx context.Context, queryText string, topK int, filters embedding.SearchFilters) ([]models.SearchHit, error) {
	if s.searcher == nil || s.embedder == nil {
		return nil, fmt.Errorf("semantic search is not configured")
	}
	if queryText == "" {
		return nil, fmt.Errorf("query text must not be empty")
	}
	if topK <= 0 {
		return []models.SearchHit{}, nil
	}

	queryVector, err := s.embedder.Generate(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return s.searcher.Search(ctx, queryVector, topK, filters)
}

// AssetsMentionedIn returns the assets an article mentions
func (s *Service) AssetsMentionedIn(ctx context.Context, articleID int64) ([]models.AssetMention, error) {
	return s.articles.MentionsForArticle(ctx, articleID)
}

// RecentArticles returns recent articles with optional source,
// category and published-after filters
func (s *Service) RecentArticles(ctx context.Context, filters ArticleFilters) ([]models.Article, error) {
	limit := filters.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	builder := sq.Select(
		"a.id", "a.source_id", "a.url", "a.title", "a.summary",
		"a.published_at", "a.scraped_at", "a.sentiment_score", "a.sentiment_label",
		"a.relevance_score", "a.is_processed", "s.name AS source_name",
	).
		From("articles a").
		Join("news_sources s ON s.id = a.source_id").
		OrderBy("a.published_at DESC NULLS LAST").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar)

	if filters.SourceName != "" {
		builder = builder.Where(sq.Eq{"s.name": filters.SourceName})
	}
	if filters.Category != "" {
		builder = builder.
			Join("article_categories ac ON ac.article_id = a.id").
			Join("news_categories c ON c.id = ac.category_id").
			Where(sq.Eq{"c.name": filters.Category})
	}
	if filters.After != nil {
		builder = builder.Where(sq.GtOrEq{"a.published_at": *filters.After})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build article query: %w", err)
	}

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent articles: %w", err)
	}
	defer rows.Close()

	articles := []models.Article{}
	for rows.Next() {
		var a models.Article
		if err := rows.Scan(
			&a.ID, &a.SourceID, &a.URL, &a.Title, &a.Summary,
			&a.PublishedAt, &a.ScrapedAt, &a.SentimentScore, &a.SentimentLabel,
			&a.RelevanceScore, &a.IsProcessed, &a.SourceName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, a)
	}

	return articles, rows.Err()
}

// SentimentSummary aggregates article sentiment over the trailing
// window
func (s *Service) SentimentSummary(ctx context.Context, window time.Duration) (*models.SentimentSummary, error) {
	now := time.Now().UTC()
	return s.articles.SentimentSummary(ctx, now.Add(-window), now)
}

// ListAssets returns the active asset catalog
func (s *Service) ListAssets(ctx context.Context) ([]models.Asset, error) {
	return s.assets.ListActiveAssets(ctx)
}

// InvalidateSignal drops the cached latest-signal view after an engine
// write. Implements signal.Invalidator.
func (s *Service) InvalidateSignal(ctx context.Context, assetID int64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, assetID)
	}
}

// SignalCache stores latest-signal views in redis with a short TTL
type SignalCache struct {
	redis RedisStore
	ttl   time.Duration
}

// RedisStore is the redis surface the cache needs
type RedisStore interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// NewSignalCache creates new signal view cache
func NewSignalCache(store RedisStore, ttl time.Duration) *SignalCache {
	return &SignalCache{redis: store, ttl: ttl}
}

func signalCacheKey(assetID int64) string {
	return fmt.Sprintf("finsight:signal:latest:%d", assetID)
}

// Get returns a cached view, false on miss or decode failure
func (c *SignalCache) Get(ctx context.Context, assetID int64) (*models.LatestSignal, bool) {
	raw, err := c.redis.GetString(ctx, signalCacheKey(assetID))
	if err != nil || raw == "" {
		return nil, false
	}

	var latest models.LatestSignal
	if err := json.Unmarshal([]byte(raw), &latest); err != nil {
		logger.Debug("failed to decode cached signal view", zap.Error(err))
		return nil, false
	}

	return &latest, true
}

// Set stores a view; failures only cost the cache hit
func (c *SignalCache) Set(ctx context.Context, assetID int64, latest *models.LatestSignal) {
	raw, err := json.Marshal(latest)
	if err != nil {
		return
	}

	if err := c.redis.SetString(ctx, signalCacheKey(assetID), string(raw), c.ttl); err != nil {
		logger.Debug("failed to cache signal view", zap.Error(err))
	}
}

// Invalidate drops the cached view for an asset
func (c *SignalCache) Invalidate(ctx context.Context, assetID int64) {
	if err := c.redis.Delete(ctx, signalCacheKey(assetID)); err != nil {
		logger.Debug("failed to invalidate signal view", zap.Error(err))
	}
}
