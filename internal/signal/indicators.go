package signal

import "math"

// Analytics holds the rolling measures computed for one observation.
// Fields are nil while the trailing history is too short to produce them.
type Analytics struct {
	DailyReturn *float64
	MA          *float64
	Std         *float64
	RSI         *float64
}

// Compute derives analytics for the newest price of an ascending series.
// Windows are trailing observation counts: maWindow bounds the mean and
// deviation slice, rsiWindow bounds the number of deltas feeding RSI.
func Compute(prices []float64, maWindow, rsiWindow int) Analytics {
	var a Analytics
	n := len(prices)
	if n == 0 {
		return a
	}

	if n >= 2 && prices[n-2] != 0 {
		ret := (prices[n-1] - prices[n-2]) / prices[n-2]
		a.DailyReturn = &ret
	}

	window := tail(prices, maWindow)
	ma := mean(window)
	a.MA = &ma

	if len(window) >= 2 {
		std := sampleStd(window, ma)
		a.Std = &std
	}

	if rsi, ok := computeRSI(prices, rsiWindow); ok {
		a.RSI = &rsi
	}

	return a
}

// computeRSI computes the simple-mean RSI over the trailing deltas.
// Gains and losses are averaged over the same delta count; a zero average
// loss saturates the oscillator at 100. Returns false with fewer than two
// prices.
func computeRSI(prices []float64, window int) (float64, bool) {
	series := tail(prices, window+1)
	if len(series) < 2 {
		return 0, false
	}

	var gainSum, lossSum float64
	deltas := len(series) - 1
	for i := 1; i < len(series); i++ {
		delta := series[i] - series[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}

	avgGain := gainSum / float64(deltas)
	avgLoss := lossSum / float64(deltas)

	if avgLoss == 0 {
		return 100, true
	}

	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// tail returns the last n elements (all of them when the slice is shorter)
func tail(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStd is the n-1 divisor standard deviation around a precomputed mean
func sampleStd(values []float64, mean float64) float64 {
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
