package newsfeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/omnifin/finsight/pkg/models"
)

const (
	reutersMarketsURL = "https://www.reuters.com/markets/cryptocurrency/"
	reutersBaseURL    = "https://www.reuters.com"
)

// ReutersProvider scrapes headlines from the Reuters crypto markets page.
// Reuters has no public feed, so this walks the story cards in the
// rendered HTML.
type ReutersProvider struct {
	enabled   bool
	client    *http.Client
	userAgent string
}

// NewReutersProvider creates new Reuters scraping provider
func NewReutersProvider(enabled bool, userAgent string) *ReutersProvider {
	return &ReutersProvider{
		enabled:   enabled,
		client:    &http.Client{Timeout: 15 * time.Second},
		userAgent: userAgent,
	}
}

func (r *ReutersProvider) GetName() string {
	return "reuters"
}

func (r *ReutersProvider) SourceURL() string {
	return reutersBaseURL
}

func (r *ReutersProvider) SourceType() models.SourceType {
	return models.SourceScrape
}

func (r *ReutersProvider) IsEnabled() bool {
	return r.enabled
}

func (r *ReutersProvider) FetchLatest(ctx context.Context, limit int) ([]models.FeedItem, error) {
	if !r.enabled {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reutersMarketsURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}

	now := time.Now().UTC()
	seen := make(map[string]bool)
	items := make([]models.FeedItem, 0, limit)

	doc.Find("a[data-testid='Heading'], a[data-testid='Link']").Each(func(_ int, sel *goquery.Selection) {
		if len(items) >= limit {
			return
		}

		href, ok := sel.Attr("href")
		if !ok || !strings.Contains(href, "/markets/") {
			return
		}

		title := strings.TrimSpace(sel.Text())
		if title == "" {
			return
		}

		url := href
		if strings.HasPrefix(url, "/") {
			url = reutersBaseURL + url
		}
		if seen[url] {
			return
		}
		seen[url] = true

		var published *time.Time
		if dt, ok := sel.Closest("li, div[data-testid='MediaStoryCard']").
			Find("time").Attr("datetime"); ok {
			if ts, err := time.Parse(time.RFC3339, dt); err == nil {
				utc := ts.UTC()
				published = &utc
			}
		}

		items = append(items, models.FeedItem{
			SourceName:  r.GetName(),
			URL:         url,
			Title:       title,
			PublishedAt: published,
			FetchedAt:   now,
		})
	})

	return items, nil
}
