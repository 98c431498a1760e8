package workers

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/adapters/marketdata"
	"github.com/omnifin/finsight/internal/catalog"
	"github.com/omnifin/finsight/internal/signal"
	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
)

// StreamConsumer feeds live confirmed candles into the signal engine.
// Unlike the periodic workers it runs continuously off the stream's
// channel until the context ends.
type StreamConsumer struct {
	stream  marketdata.Stream
	assets  *catalog.Repository
	engine  *signal.Engine
	assetID map[string]int64
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewStreamConsumer creates new live stream consumer
func NewStreamConsumer(stream marketdata.Stream, assets *catalog.Repository, engine *signal.Engine) *StreamConsumer {
	return &StreamConsumer{
		stream:  stream,
		assets:  assets,
		engine:  engine,
		assetID: make(map[string]int64),
	}
}

// Start connects the stream and consumes candles until ctx is done
func (sc *StreamConsumer) Start(ctx context.Context) error {
	if err := sc.stream.Connect(); err != nil {
		return err
	}

	sc.wg.Add(1)
	go sc.consume(ctx)

	return nil
}

// Stop closes the stream and waits for the consumer loop
func (sc *StreamConsumer) Stop() {
	if err := sc.stream.Close(); err != nil {
		logger.Warn("failed to close stream", zap.Error(err))
	}
	sc.wg.Wait()
}

func (sc *StreamConsumer) consume(ctx context.Context) {
	defer sc.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-sc.stream.Errors():
			if !ok {
				return
			}
			logger.Warn("stream error", zap.Error(err))

		case candle, ok := <-sc.stream.Candles():
			if !ok {
				return
			}
			sc.ingestCandle(ctx, candle)
		}
	}
}

func (sc *StreamConsumer) ingestCandle(ctx context.Context, candle models.Candle) {
	assetID, err := sc.resolveAsset(ctx, candle.Symbol)
	if err != nil {
		logger.Warn("failed to resolve streamed asset",
			zap.String("symbol", candle.Symbol),
			zap.Error(err),
		)
		return
	}

	obs := &models.Observation{
		AssetID:   assetID,
		Timestamp: candle.Timestamp,
		Price:     candle.Close,
		Volume24h: candle.Volume,
	}

	if _, err := sc.engine.Ingest(ctx, assetID, obs); err != nil {
		if errors.Is(err, signal.ErrStaleWindowConflict) {
			// Lost the asset lock to a batch writer; the candle is
			// re-deliverable from the next poll cycle
			return
		}
		logger.Warn("failed to ingest streamed candle",
			zap.String("symbol", candle.Symbol),
			zap.Error(err),
		)
	}
}

// resolveAsset maps a pair like BTC/USDT to the base asset's catalog id
func (sc *StreamConsumer) resolveAsset(ctx context.Context, pair string) (int64, error) {
	sc.mu.Lock()
	id, ok := sc.assetID[pair]
	sc.mu.Unlock()
	if ok {
		return id, nil
	}

	base := pair
	if idx := strings.Index(pair, "/"); idx > 0 {
		base = pair[:idx]
	}

	asset, err := sc.assets.GetAssetBySymbol(ctx, base)
	if err != nil {
		return 0, err
	}
	if asset == nil {
		asset, err = sc.assets.UpsertAsset(ctx, base, base, strings.ToLower(base))
		if err != nil {
			return 0, err
		}
	}

	sc.mu.Lock()
	sc.assetID[pair] = asset.ID
	sc.mu.Unlock()

	return asset.ID, nil
}
