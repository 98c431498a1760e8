package analyst

import (
	"context"
	"fmt"
	"time"

	"github.com/cinar/indicator"

	"github.com/omnifin/finsight/internal/adapters/config"
	"github.com/omnifin/finsight/internal/catalog"
	"github.com/omnifin/finsight/internal/timeseries"
	"github.com/omnifin/finsight/pkg/models"
)

const (
	// macd warmup plus slow ema seed
	minHistory = 60

	historyDepth = 250
)

// Analyst builds extended-indicator recommendations on top of the stored
// observation history. It is advisory: the per-observation signal rows
// stay the system of record.
type Analyst struct {
	assets       *catalog.Repository
	observations *timeseries.Repository
	cfg          config.SignalsConfig
}

// NewAnalyst creates new analyst service
func NewAnalyst(assets *catalog.Repository, observations *timeseries.Repository, cfg config.SignalsConfig) *Analyst {
	return &Analyst{
		assets:       assets,
		observations: observations,
		cfg:          cfg,
	}
}

// Recommend produces a recommendation for symbol from its recent price
// history. Returns nil when the asset is unknown or the history is too
// short for the slower indicators.
func (a *Analyst) Recommend(ctx context.Context, symbol string) (*models.Recommendation, error) {
	asset, err := a.assets.GetAssetBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset: %w", err)
	}
	if asset == nil {
		return nil, nil
	}

	closes, err := a.observations.GetRecentPrices(ctx, asset.ID, historyDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}
	if len(closes) < minHistory {
		return nil, nil
	}

	return a.evaluate(symbol, closes), nil
}

func (a *Analyst) evaluate(symbol string, closes []float64) *models.Recommendation {
	price := closes[len(closes)-1]

	bullish := 0
	bearish := 0
	var reasons []string

	// RSI (period 14)
	_, rsiSeries := indicator.Rsi(closes)
	rsi := rsiSeries[len(rsiSeries)-1]
	switch {
	case rsi >= a.cfg.RSIOverbought:
		bearish++
		reasons = append(reasons, fmt.Sprintf("RSI %.1f overbought", rsi))
	case rsi <= a.cfg.RSIOversold:
		bullish++
		reasons = append(reasons, fmt.Sprintf("RSI %.1f oversold", rsi))
	}

	// MACD (12/26/9)
	macdLine, signalLine := indicator.Macd(closes)
	macd := macdLine[len(macdLine)-1]
	macdSignal := signalLine[len(signalLine)-1]
	if macd > macdSignal {
		bullish++
		reasons = append(reasons, "MACD above signal line")
	} else if macd < macdSignal {
		bearish++
		reasons = append(reasons, "MACD below signal line")
	}

	// Bollinger Bands (20, 2)
	middle, upper, lower := indicator.BollingerBands(closes)
	bbUpper := upper[len(upper)-1]
	bbLower := lower[len(lower)-1]
	bbMiddle := middle[len(middle)-1]
	if price >= bbUpper {
		bearish++
		reasons = append(reasons, "price at upper Bollinger band")
	} else if price <= bbLower {
		bullish++
		reasons = append(reasons, "price at lower Bollinger band")
	}

	// EMA trend alignment
	ema50 := indicator.Ema(50, closes)
	fast := ema50[len(ema50)-1]
	if price > fast {
		bullish++
		reasons = append(reasons, "price above EMA50")
	} else if price < fast {
		bearish++
		reasons = append(reasons, "price below EMA50")
	}
	if len(closes) >= 200 {
		ema200 := indicator.Ema(200, closes)
		slow := ema200[len(ema200)-1]
		if fast > slow {
			bullish++
			reasons = append(reasons, "EMA50 above EMA200")
		} else if fast < slow {
			bearish++
			reasons = append(reasons, "EMA50 below EMA200")
		}
	}

	action := models.SignalHold
	if bullish-bearish >= 2 {
		action = models.SignalBuy
	} else if bearish-bullish >= 2 {
		action = models.SignalSell
	}

	risk, hint := riskProfile(price, bbUpper, bbLower, bbMiddle)

	return &models.Recommendation{
		Symbol:       symbol,
		Action:       action,
		BullishScore: bullish,
		BearishScore: bearish,
		Reasons:      reasons,
		RiskProfile:  risk,
		PositionHint: hint,
		GeneratedAt:  time.Now().UTC(),
	}
}

// riskProfile classifies current volatility from the relative Bollinger
// band width and derives a conservative position-size hint from it.
func riskProfile(price, upper, lower, middle float64) (string, float64) {
	if middle <= 0 || price <= 0 {
		return "unknown", 0
	}

	width := (upper - lower) / middle

	switch {
	case width > 0.15:
		return "high", 0.25
	case width > 0.07:
		return "medium", 0.5
	default:
		return "low", 1.0
	}
}
