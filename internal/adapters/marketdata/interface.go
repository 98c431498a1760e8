package marketdata

import (
	"context"

	"github.com/omnifin/finsight/pkg/models"
)

// ListingsProvider fetches current market listings for the tracked universe
type ListingsProvider interface {
	GetName() string
	FetchListings(ctx context.Context, limit int) ([]models.Listing, error)
}

// OHLCVProvider fetches historical candles for backfill
type OHLCVProvider interface {
	GetName() string
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)
}

// Stream delivers live candles until closed
type Stream interface {
	Connect() error
	Candles() <-chan models.Candle
	Errors() <-chan error
	Close() error
}
