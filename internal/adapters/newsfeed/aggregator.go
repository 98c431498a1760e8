package newsfeed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/metrics"
	"github.com/omnifin/finsight/pkg/models"
)

const seenTTL = 72 * time.Hour

// SeenCache remembers article URLs already handed downstream so repeat
// fetch cycles skip them before touching the database.
type SeenCache interface {
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, value string, ttl time.Duration) error
}

// Aggregator fans out to all enabled providers concurrently and merges
// their items, newest first, deduplicated by URL.
type Aggregator struct {
	providers     []Provider
	seen          SeenCache
	metricsBuffer metrics.Buffer
}

// NewAggregator creates new feed aggregator. seen and metricsBuffer are
// optional.
func NewAggregator(providers []Provider, seen SeenCache, metricsBuffer metrics.Buffer) *Aggregator {
	return &Aggregator{
		providers:     providers,
		seen:          seen,
		metricsBuffer: metricsBuffer,
	}
}

// FetchAll queries every enabled provider in parallel. A failing
// provider is logged and skipped so one outage does not starve the rest.
func (a *Aggregator) FetchAll(ctx context.Context, perProvider int) ([]models.FeedItem, error) {
	type result struct {
		provider string
		items    []models.FeedItem
		err      error
		took     time.Duration
	}

	results := make(chan result, len(a.providers))
	enabled := 0

	for _, provider := range a.providers {
		if !provider.IsEnabled() {
			continue
		}
		enabled++

		go func(p Provider) {
			started := time.Now()
			items, err := p.FetchLatest(ctx, perProvider)
			results <- result{
				provider: p.GetName(),
				items:    items,
				err:      err,
				took:     time.Since(started),
			}
		}(provider)
	}

	merged := make([]models.FeedItem, 0, enabled*perProvider)
	byURL := make(map[string]bool)

	for i := 0; i < enabled; i++ {
		res := <-results
		a.recordFetch(res.provider, len(res.items), res.took, res.err == nil)

		if res.err != nil {
			logger.Warn("feed provider failed",
				zap.String("provider", res.provider),
				zap.Error(res.err),
			)
			continue
		}

		for _, item := range res.items {
			if item.URL == "" || byURL[item.URL] {
				continue
			}
			byURL[item.URL] = true
			merged = append(merged, item)
		}
	}

	merged = a.filterSeen(ctx, merged)

	sort.SliceStable(merged, func(i, j int) bool {
		ti := merged[i].PublishedAt
		tj := merged[j].PublishedAt
		if ti == nil {
			return false
		}
		if tj == nil {
			return true
		}
		return ti.After(*tj)
	})

	return merged, nil
}

// MarkSeen remembers item URLs after downstream processing succeeded
func (a *Aggregator) MarkSeen(ctx context.Context, items []models.FeedItem) {
	if a.seen == nil {
		return
	}
	for _, item := range items {
		if err := a.seen.SetString(ctx, seenKey(item.URL), "1", seenTTL); err != nil {
			logger.Warn("failed to mark feed item seen", zap.Error(err))
			return
		}
	}
}

func (a *Aggregator) filterSeen(ctx context.Context, items []models.FeedItem) []models.FeedItem {
	if a.seen == nil {
		return items
	}

	fresh := items[:0]
	for _, item := range items {
		val, err := a.seen.GetString(ctx, seenKey(item.URL))
		if err != nil {
			logger.Warn("seen cache lookup failed", zap.Error(err))
			return append(fresh, items[len(fresh):]...)
		}
		if val == "" {
			fresh = append(fresh, item)
		}
	}
	return fresh
}

func (a *Aggregator) recordFetch(provider string, items int, took time.Duration, success bool) {
	if a.metricsBuffer == nil {
		return
	}
	metric := &metrics.FeedFetchMetric{
		Timestamp:  time.Now().UTC(),
		Provider:   provider,
		Items:      items,
		DurationMs: float64(took.Milliseconds()),
		Success:    success,
	}
	if err := a.metricsBuffer.Add(metric); err != nil {
		logger.Warn("failed to record feed metric", zap.Error(err))
	}
}

func seenKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return "finsight:feed:seen:" + hex.EncodeToString(sum[:16])
}
