package workers

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/adapters/newsfeed"
	"github.com/omnifin/finsight/internal/catalog"
	"github.com/omnifin/finsight/internal/content"
	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
)

const itemsPerProvider = 30

// NewsWorker pulls feed items from all providers, stores deduplicated
// articles and annotates them with sentiment and asset mentions.
type NewsWorker struct {
	aggregator *newsfeed.Aggregator
	providers  []newsfeed.Provider
	catalog    *catalog.Repository
	articles   *content.Repository
	sentiment  *content.SentimentAnalyzer
}

// NewNewsWorker creates new news worker
func NewNewsWorker(
	aggregator *newsfeed.Aggregator,
	providers []newsfeed.Provider,
	catalogRepo *catalog.Repository,
	articles *content.Repository,
) *NewsWorker {
	return &NewsWorker{
		aggregator: aggregator,
		providers:  providers,
		catalog:    catalogRepo,
		articles:   articles,
		sentiment:  content.NewSentimentAnalyzer(),
	}
}

// Name returns worker name
func (nw *NewsWorker) Name() string {
	return "news_poller"
}

// Run executes one fetch-store-annotate cycle
func (nw *NewsWorker) Run(ctx context.Context) error {
	started := time.Now()

	items, err := nw.aggregator.FetchAll(ctx, itemsPerProvider)
	if err != nil {
		return fmt.Errorf("failed to fetch feeds: %w", err)
	}
	if len(items) == 0 {
		logger.Debug("no new feed items")
		return nil
	}

	sourceIDs, err := nw.resolveSources(ctx)
	if err != nil {
		return err
	}

	extractor, err := nw.buildExtractor(ctx)
	if err != nil {
		return err
	}

	created := 0
	duplicates := 0
	stored := make([]models.FeedItem, 0, len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		sourceID, ok := sourceIDs[item.SourceName]
		if !ok {
			logger.Warn("feed item from unknown source",
				zap.String("source", item.SourceName),
			)
			continue
		}

		articleID, isNew, err := nw.storeItem(ctx, sourceID, item, extractor)
		if err != nil {
			logger.Warn("failed to store article",
				zap.String("url", item.URL),
				zap.Error(err),
			)
			continue
		}

		stored = append(stored, item)
		if isNew {
			created++
		} else {
			duplicates++
			logger.Debug("duplicate article skipped",
				zap.Int64("article_id", articleID),
				zap.String("url", item.URL),
			)
		}
	}

	nw.aggregator.MarkSeen(ctx, stored)

	logger.Info("news cycle complete",
		zap.Int("items", len(items)),
		zap.Int("created", created),
		zap.Int("duplicates", duplicates),
		zap.Duration("took", time.Since(started)),
	)

	return nil
}

// storeItem saves one feed item and, when it is new, annotates it with
// sentiment and asset mentions
func (nw *NewsWorker) storeItem(ctx context.Context, sourceID int64, item models.FeedItem, extractor *content.MentionExtractor) (int64, bool, error) {
	article := &models.Article{
		SourceID:    sourceID,
		URL:         item.URL,
		Title:       item.Title,
		Summary:     item.Summary,
		Content:     item.Content,
		PublishedAt: item.PublishedAt,
		ScrapedAt:   item.FetchedAt,
		ContentHash: content.HashContent(item.Title + "\n" + item.Content),
	}

	articleID, created, err := nw.articles.SaveArticle(ctx, article)
	if err != nil {
		return 0, false, err
	}
	if !created {
		return articleID, false, nil
	}

	score, label := nw.sentiment.Analyze(item.Title, item.Summary, item.Content)
	if err := nw.articles.UpdateSentiment(ctx, articleID, score, label); err != nil {
		logger.Warn("failed to store sentiment",
			zap.Int64("article_id", articleID),
			zap.Error(err),
		)
	}

	mentions := extractor.Extract(item.Title, item.Summary)
	if len(mentions) > 0 {
		if err := nw.articles.UpsertMentions(ctx, articleID, mentions); err != nil {
			logger.Warn("failed to store asset mentions",
				zap.Int64("article_id", articleID),
				zap.Error(err),
			)
		}
	}

	return articleID, true, nil
}

// resolveSources makes sure every enabled provider has a catalog row and
// returns the name-to-id map for this cycle
func (nw *NewsWorker) resolveSources(ctx context.Context) (map[string]int64, error) {
	ids := make(map[string]int64, len(nw.providers))

	for _, provider := range nw.providers {
		if !provider.IsEnabled() {
			continue
		}

		source, err := nw.catalog.UpsertSource(ctx, provider.GetName(), provider.SourceURL(), provider.SourceType())
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source %s: %w", provider.GetName(), err)
		}
		ids[provider.GetName()] = source.ID
	}

	return ids, nil
}

func (nw *NewsWorker) buildExtractor(ctx context.Context) (*content.MentionExtractor, error) {
	assets, err := nw.catalog.ListActiveAssets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset catalog: %w", err)
	}

	return content.NewMentionExtractor(assets), nil
}
