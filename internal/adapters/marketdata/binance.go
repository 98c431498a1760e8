package marketdata

import (
	"context"
	"fmt"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
)

// BinanceAdapter wraps the CCXT Binance spot exchange for read-only
// historical candles. No API key is required for public endpoints.
type BinanceAdapter struct {
	exchange *ccxt.Binance
}

// NewBinanceAdapter creates new Binance backfill adapter
func NewBinanceAdapter() (*BinanceAdapter, error) {
	exchange := ccxt.NewBinance(map[string]interface{}{})

	exchange.SetOption("defaultType", "spot")
	exchange.SetOption("adjustForTimeDifference", true)

	if err := exchange.LoadMarkets(); err != nil {
		return nil, fmt.Errorf("failed to load Binance markets: %w", err)
	}

	logger.Info("Binance adapter initialized",
		zap.Int("markets_count", len(exchange.Markets)),
	)

	return &BinanceAdapter{exchange: exchange}, nil
}

func (b *BinanceAdapter) GetName() string {
	return "binance"
}

// FetchOHLCV fetches up to limit candles for symbol at the given timeframe
func (b *BinanceAdapter) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	ohlcv, err := b.exchange.FetchOHLCV(
		symbol,
		ccxt.WithFetchOHLCVTimeframe(timeframe),
		ccxt.WithFetchOHLCVLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OHLCV: %w", err)
	}

	candles := make([]models.Candle, len(ohlcv))
	for i, bar := range ohlcv {
		candles[i] = models.Candle{
			Symbol:    symbol,
			Timeframe: timeframe,
			Timestamp: time.UnixMilli(int64(bar[0])).UTC(),
			Open:      models.NewDecimal(bar[1]),
			High:      models.NewDecimal(bar[2]),
			Low:       models.NewDecimal(bar[3]),
			Close:     models.NewDecimal(bar[4]),
			Volume:    models.NewDecimal(bar[5]),
		}
	}

	return candles, nil
}

func (b *BinanceAdapter) Close() error {
	// CCXT does not hold a persistent connection
	return nil
}
