package newsfeed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/omnifin/finsight/pkg/models"
)

const (
	yahooFeedURL = "https://finance.yahoo.com/news/rssindex"
	yahooBaseURL = "https://finance.yahoo.com"
)

// YahooProvider fetches items from the Yahoo Finance RSS index
type YahooProvider struct {
	enabled bool
	parser  *gofeed.Parser
}

// NewYahooProvider creates new Yahoo Finance RSS provider
func NewYahooProvider(enabled bool, userAgent string) *YahooProvider {
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent

	return &YahooProvider{
		enabled: enabled,
		parser:  parser,
	}
}

func (y *YahooProvider) GetName() string {
	return "yahoo_finance"
}

func (y *YahooProvider) SourceURL() string {
	return yahooBaseURL
}

func (y *YahooProvider) SourceType() models.SourceType {
	return models.SourceRSS
}

func (y *YahooProvider) IsEnabled() bool {
	return y.enabled
}

func (y *YahooProvider) FetchLatest(ctx context.Context, limit int) ([]models.FeedItem, error) {
	if !y.enabled {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	feed, err := y.parser.ParseURLWithContext(yahooFeedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	now := time.Now().UTC()
	items := make([]models.FeedItem, 0, limit)
	for _, entry := range feed.Items {
		if len(items) >= limit {
			break
		}
		if entry.Link == "" || entry.Title == "" {
			continue
		}

		var published *time.Time
		if entry.PublishedParsed != nil {
			ts := entry.PublishedParsed.UTC()
			published = &ts
		}

		items = append(items, models.FeedItem{
			SourceName:  y.GetName(),
			URL:         entry.Link,
			Title:       strings.TrimSpace(entry.Title),
			Summary:     strings.TrimSpace(entry.Description),
			PublishedAt: published,
			FetchedAt:   now,
		})
	}

	return items, nil
}
