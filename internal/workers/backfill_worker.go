package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/adapters/marketdata"
	"github.com/omnifin/finsight/internal/catalog"
	"github.com/omnifin/finsight/internal/signal"
	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
)

// Backfiller loads historical candles for configured pairs and ingests
// them as close-price observations in one batch per asset. The engine's
// checkpoint keeps readers off each asset until its recompute finishes.
type Backfiller struct {
	provider  marketdata.OHLCVProvider
	assets    *catalog.Repository
	engine    *signal.Engine
	symbols   []string
	timeframe string
	depth     int
}

// NewBackfiller creates new historical backfiller
func NewBackfiller(
	provider marketdata.OHLCVProvider,
	assets *catalog.Repository,
	engine *signal.Engine,
	symbols []string,
	timeframe string,
	depth int,
) *Backfiller {
	if depth < 1 {
		depth = 365
	}

	return &Backfiller{
		provider:  provider,
		assets:    assets,
		engine:    engine,
		symbols:   symbols,
		timeframe: timeframe,
		depth:     depth,
	}
}

// Run backfills every configured pair sequentially
func (b *Backfiller) Run(ctx context.Context) error {
	for _, pair := range b.symbols {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := b.backfillPair(ctx, pair); err != nil {
			return fmt.Errorf("backfill %s: %w", pair, err)
		}
	}

	return nil
}

func (b *Backfiller) backfillPair(ctx context.Context, pair string) error {
	started := time.Now()

	candles, err := b.provider.FetchOHLCV(ctx, pair, b.timeframe, b.depth)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		logger.Warn("no candles for pair", zap.String("pair", pair))
		return nil
	}

	base := pair
	if idx := strings.Index(pair, "/"); idx > 0 {
		base = pair[:idx]
	}

	asset, err := b.assets.UpsertAsset(ctx, base, base, strings.ToLower(base))
	if err != nil {
		return err
	}

	observations := make([]models.Observation, 0, len(candles))
	for _, candle := range candles {
		observations = append(observations, models.Observation{
			AssetID:   asset.ID,
			Timestamp: candle.Timestamp,
			Price:     candle.Close,
			Volume24h: candle.Volume,
		})
	}

	saved, err := b.engine.IngestBatch(ctx, asset.ID, observations)
	if err != nil {
		return err
	}

	logger.Info("pair backfilled",
		zap.String("pair", pair),
		zap.String("timeframe", b.timeframe),
		zap.Int("candles", len(candles)),
		zap.Int("saved", saved),
		zap.Duration("took", time.Since(started)),
	)

	return nil
}
