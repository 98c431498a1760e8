package newsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/omnifin/finsight/pkg/models"
)

const (
	coindeskAPIURL  = "https://www.coindesk.com/arc/outboundfeeds/news/?outputType=json&size=%d"
	coindeskBaseURL = "https://www.coindesk.com"
)

// CoinDeskProvider fetches news from the CoinDesk outbound feed
type CoinDeskProvider struct {
	enabled   bool
	client    *http.Client
	userAgent string
}

// NewCoinDeskProvider creates new CoinDesk provider
func NewCoinDeskProvider(enabled bool, userAgent string) *CoinDeskProvider {
	return &CoinDeskProvider{
		enabled:   enabled,
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
	}
}

func (c *CoinDeskProvider) GetName() string {
	return "coindesk"
}

func (c *CoinDeskProvider) SourceURL() string {
	return coindeskBaseURL
}

func (c *CoinDeskProvider) SourceType() models.SourceType {
	return models.SourceAPI
}

func (c *CoinDeskProvider) IsEnabled() bool {
	return c.enabled
}

func (c *CoinDeskProvider) FetchLatest(ctx context.Context, limit int) ([]models.FeedItem, error) {
	if !c.enabled {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	url := fmt.Sprintf(coindeskAPIURL, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	var result []struct {
		Type      string `json:"type"`
		Canonical string `json:"canonical_url"`
		Headlines struct {
			Basic string `json:"basic"`
		} `json:"headlines"`
		Description struct {
			Basic string `json:"basic"`
		} `json:"description"`
		DisplayDate time.Time `json:"display_date"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	now := time.Now().UTC()
	items := make([]models.FeedItem, 0, len(result))
	for _, article := range result {
		if article.Type != "story" || article.Canonical == "" || article.Headlines.Basic == "" {
			continue
		}

		url := article.Canonical
		if strings.HasPrefix(url, "/") {
			url = coindeskBaseURL + url
		}

		published := article.DisplayDate.UTC()
		items = append(items, models.FeedItem{
			SourceName:  c.GetName(),
			URL:         url,
			Title:       strings.TrimSpace(article.Headlines.Basic),
			Summary:     strings.TrimSpace(article.Description.Basic),
			PublishedAt: &published,
			FetchedAt:   now,
		})
	}

	return items, nil
}
