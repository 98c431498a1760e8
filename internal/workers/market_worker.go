package workers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/adapters/marketdata"
	"github.com/omnifin/finsight/internal/catalog"
	"github.com/omnifin/finsight/internal/signal"
	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
)

// SignalNotifier is the optional alert sink for signal flips
type SignalNotifier interface {
	SendSignalFlip(ctx context.Context, latest *models.LatestSignal, previous models.Signal) error
}

// MarketWorker pulls current listings, keeps the catalog in sync and
// feeds one observation per asset into the signal engine.
type MarketWorker struct {
	provider    marketdata.ListingsProvider
	assets      *catalog.Repository
	engine      *signal.Engine
	notifier    SignalNotifier
	limit       int
	concurrency int
}

// NewMarketWorker creates new market worker. notifier is optional.
func NewMarketWorker(
	provider marketdata.ListingsProvider,
	assets *catalog.Repository,
	engine *signal.Engine,
	notifier SignalNotifier,
	limit int,
	concurrency int,
) *MarketWorker {
	if concurrency < 1 {
		concurrency = 1
	}

	return &MarketWorker{
		provider:    provider,
		assets:      assets,
		engine:      engine,
		notifier:    notifier,
		limit:       limit,
		concurrency: concurrency,
	}
}

// Name returns worker name
func (mw *MarketWorker) Name() string {
	return "market_poller"
}

// Run executes one fetch-and-ingest cycle
func (mw *MarketWorker) Run(ctx context.Context) error {
	started := time.Now()

	listings, err := mw.provider.FetchListings(ctx, mw.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch listings: %w", err)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ingested int
		flips    int
		failed   int
	)
	sem := make(chan struct{}, mw.concurrency)

	for _, listing := range listings {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(l models.Listing) {
			defer wg.Done()
			defer func() { <-sem }()

			flipped, err := mw.ingestListing(ctx, l)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				logger.Warn("failed to ingest listing",
					zap.String("symbol", l.Symbol),
					zap.Error(err),
				)
				return
			}
			ingested++
			if flipped {
				flips++
			}
		}(listing)
	}
	wg.Wait()

	logger.Info("market cycle complete",
		zap.String("provider", mw.provider.GetName()),
		zap.Int("listings", len(listings)),
		zap.Int("ingested", ingested),
		zap.Int("signal_flips", flips),
		zap.Int("failed", failed),
		zap.Duration("took", time.Since(started)),
	)

	return ctx.Err()
}

// ingestListing resolves the asset, ingests the observation and reports
// whether the asset's signal flipped stance
func (mw *MarketWorker) ingestListing(ctx context.Context, listing models.Listing) (bool, error) {
	slug := listing.Slug
	if slug == "" {
		slug = slugify(listing.Name)
	}

	asset, err := mw.assets.UpsertAsset(ctx, listing.Symbol, listing.Name, slug)
	if err != nil {
		return false, err
	}

	previous, err := mw.engine.LatestRow(ctx, asset.ID)
	if err != nil && !errors.Is(err, signal.ErrInconsistentBackfill) {
		return false, err
	}

	obs := observationFromListing(asset.ID, listing)
	row, err := mw.engine.Ingest(ctx, asset.ID, obs)
	if err != nil {
		if errors.Is(err, signal.ErrStaleWindowConflict) {
			// Another writer holds the asset; the next cycle catches up
			return false, nil
		}
		return false, err
	}

	if previous == nil || row == nil || previous.Signal == row.Signal {
		return false, nil
	}

	mw.notifyFlip(ctx, asset, previous.Signal, row, obs)

	return true, nil
}

func (mw *MarketWorker) notifyFlip(ctx context.Context, asset *models.Asset, previous models.Signal, row *models.SignalRow, obs *models.Observation) {
	if mw.notifier == nil {
		return
	}

	latest := &models.LatestSignal{
		Symbol:      asset.Symbol,
		AssetID:     asset.ID,
		Timestamp:   row.Timestamp,
		Price:       models.ToFloat64(obs.Price),
		DailyReturn: row.DailyReturn,
		MA7d:        row.MA7d,
		Std7d:       row.Std7d,
		RSI:         row.RSI,
		Signal:      row.Signal,
	}

	if err := mw.notifier.SendSignalFlip(ctx, latest, previous); err != nil {
		logger.Warn("failed to send signal flip alert",
			zap.String("symbol", asset.Symbol),
			zap.Error(err),
		)
	}
}

func observationFromListing(assetID int64, listing models.Listing) *models.Observation {
	ts := listing.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC().Truncate(time.Minute)
	}

	return &models.Observation{
		AssetID:           assetID,
		Timestamp:         ts,
		Price:             listing.Price,
		MarketCap:         listing.MarketCap,
		Volume24h:         listing.Volume24h,
		PctChange1h:       listing.PctChange1h,
		PctChange24h:      listing.PctChange24h,
		PctChange7d:       listing.PctChange7d,
		CirculatingSupply: listing.CirculatingSupply,
		TotalSupply:       listing.TotalSupply,
		MaxSupply:         listing.MaxSupply,
		IngestedAt:        time.Now().UTC(),
	}
}

// slugify builds a catalog slug when the provider does not supply one
func slugify(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "-"))
}
