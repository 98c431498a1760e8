package signal

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCompute_SevenDayWindow(t *testing.T) {
	prices := []float64{100, 102, 101, 105, 103, 107, 110}

	a := Compute(prices, 7, 14)

	if a.MA == nil {
		t.Fatal("MA should be computed with a full window")
	}
	if !almostEqual(*a.MA, 104.0) {
		t.Errorf("MA = %v, want 104.0", *a.MA)
	}

	if a.DailyReturn == nil {
		t.Fatal("daily return should be computed with two prices")
	}
	wantRet := (110.0 - 107.0) / 107.0
	if !almostEqual(*a.DailyReturn, wantRet) {
		t.Errorf("daily return = %v, want %v", *a.DailyReturn, wantRet)
	}

	if a.Std == nil {
		t.Fatal("std should be computed with a full window")
	}
	if *a.Std <= 0 {
		t.Errorf("std should be positive for non-constant prices, got %v", *a.Std)
	}

	if a.RSI == nil {
		t.Fatal("RSI should be computed with six deltas")
	}
	if *a.RSI < 0 || *a.RSI > 100 {
		t.Errorf("RSI out of range: %v", *a.RSI)
	}
}

func TestCompute_DailyReturnIsFraction(t *testing.T) {
	a := Compute([]float64{100, 103}, 7, 14)

	if a.DailyReturn == nil {
		t.Fatal("daily return should be computed")
	}
	// fraction, not percent
	if !almostEqual(*a.DailyReturn, 0.03) {
		t.Errorf("daily return = %v, want 0.03", *a.DailyReturn)
	}
}

func TestCompute_ShortHistory(t *testing.T) {
	a := Compute(nil, 7, 14)
	if a.MA != nil || a.Std != nil || a.RSI != nil || a.DailyReturn != nil {
		t.Error("empty series should produce no analytics")
	}

	a = Compute([]float64{100}, 7, 14)
	if a.DailyReturn != nil {
		t.Error("single price should produce no daily return")
	}
	if a.MA == nil || !almostEqual(*a.MA, 100) {
		t.Error("single price MA should equal the price")
	}
	if a.Std != nil {
		t.Error("single price should produce no std")
	}
	if a.RSI != nil {
		t.Error("single price should produce no RSI")
	}
}

func TestCompute_SampleStd(t *testing.T) {
	// variance with n-1 divisor: values 2,4,4,4,5,5,7 around mean 4.43...
	prices := []float64{2, 4, 4, 4, 5, 5, 7}
	a := Compute(prices, 7, 14)

	if a.Std == nil {
		t.Fatal("std should be computed")
	}
	m := mean(prices)
	var sum float64
	for _, p := range prices {
		d := p - m
		sum += d * d
	}
	want := math.Sqrt(sum / 6)
	if !almostEqual(*a.Std, want) {
		t.Errorf("std = %v, want %v", *a.Std, want)
	}
}

func TestCompute_TrailingWindowOnly(t *testing.T) {
	// older prices beyond the window must not influence the mean
	prices := []float64{1000, 1000, 1000, 100, 100, 100, 100, 100, 100, 100}
	a := Compute(prices, 7, 14)

	if a.MA == nil || !almostEqual(*a.MA, 100) {
		t.Errorf("MA should only use the trailing window, got %v", a.MA)
	}
}

func TestComputeRSI_AllGains(t *testing.T) {
	prices := []float64{100, 101, 102, 103, 104, 105}

	rsi, ok := computeRSI(prices, 14)
	if !ok {
		t.Fatal("RSI should be computable with two or more prices")
	}
	if rsi != 100 {
		t.Errorf("monotonic gains should saturate RSI at 100, got %v", rsi)
	}
}

func TestComputeRSI_AllLosses(t *testing.T) {
	prices := []float64{105, 104, 103, 102, 101, 100}

	rsi, ok := computeRSI(prices, 14)
	if !ok {
		t.Fatal("RSI should be computable")
	}
	if rsi != 0 {
		t.Errorf("monotonic losses should pin RSI at 0, got %v", rsi)
	}
}

func TestComputeRSI_Balanced(t *testing.T) {
	// equal gains and losses give RS=1, RSI=50
	prices := []float64{100, 102, 100, 102, 100, 102, 100}

	rsi, ok := computeRSI(prices, 14)
	if !ok {
		t.Fatal("RSI should be computable")
	}
	if !almostEqual(rsi, 50) {
		t.Errorf("balanced series should land on 50, got %v", rsi)
	}
}

func TestComputeRSI_InsufficientData(t *testing.T) {
	if _, ok := computeRSI([]float64{100}, 14); ok {
		t.Error("single price should not produce RSI")
	}
	if _, ok := computeRSI(nil, 14); ok {
		t.Error("empty series should not produce RSI")
	}
}

func TestCompute_Deterministic(t *testing.T) {
	prices := []float64{100, 98, 103, 101, 99, 104, 102, 106, 105, 108}

	first := Compute(prices, 7, 14)
	second := Compute(prices, 7, 14)

	if *first.MA != *second.MA || *first.Std != *second.Std ||
		*first.RSI != *second.RSI || *first.DailyReturn != *second.DailyReturn {
		t.Error("analytics over the same series must be identical")
	}
}
