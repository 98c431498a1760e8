package signal

import "github.com/omnifin/finsight/pkg/models"

// Thresholds configures the classifier cut-offs. The defaults mirror the
// classic RSI bands; TrendConfirmation adds a price-versus-mean rule
// inside the neutral band.
type Thresholds struct {
	Overbought        float64
	Oversold          float64
	TrendConfirmation bool
}

// DefaultThresholds returns the standard 70/30 RSI bands
func DefaultThresholds() Thresholds {
	return Thresholds{Overbought: 70, Oversold: 30}
}

// Classify maps analytics to a discrete signal. RSI drives the decision;
// an absent RSI always yields hold so short histories never alert.
func Classify(a Analytics, price float64, th Thresholds) models.Signal {
	if a.RSI == nil {
		return models.SignalHold
	}

	switch {
	case *a.RSI > th.Overbought:
		return models.SignalSell
	case *a.RSI < th.Oversold:
		return models.SignalBuy
	}

	if th.TrendConfirmation && a.MA != nil && a.DailyReturn != nil {
		if price > *a.MA && *a.DailyReturn > 0 {
			return models.SignalBuy
		}
		if price < *a.MA && *a.DailyReturn < 0 {
			return models.SignalSell
		}
	}

	return models.SignalHold
}
