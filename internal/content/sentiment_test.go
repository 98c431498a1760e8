package content

import "testing"

func TestSentimentAnalyzer_Score(t *testing.T) {
	a := NewSentimentAnalyzer()

	if s := a.Score("bitcoin rally continues as etf inflows surge"); s <= 0 {
		t.Errorf("bullish headline should score positive, got %v", s)
	}
	if s := a.Score("exchange hacked, panic selloff triggers crash"); s >= 0 {
		t.Errorf("bearish headline should score negative, got %v", s)
	}
	if s := a.Score("the committee meets on thursday"); s != 0 {
		t.Errorf("neutral text should score zero, got %v", s)
	}
	if s := a.Score(""); s != 0 {
		t.Errorf("empty text should score zero, got %v", s)
	}
}

func TestSentimentAnalyzer_ScoreBounds(t *testing.T) {
	a := NewSentimentAnalyzer()

	if s := a.Score("crash crash crash"); s < -1 || s > 1 {
		t.Errorf("score out of [-1,1]: %v", s)
	}
	if s := a.Score("rally rally bullish"); s < -1 || s > 1 {
		t.Errorf("score out of [-1,1]: %v", s)
	}
}

func TestSentimentAnalyzer_Punctuation(t *testing.T) {
	a := NewSentimentAnalyzer()

	if s := a.Score("Crash! Panic, selloff..."); s >= 0 {
		t.Errorf("punctuation should not mask keywords, got %v", s)
	}
}

func TestSentimentAnalyzer_Label(t *testing.T) {
	a := NewSentimentAnalyzer()

	tests := []struct {
		score float64
		want  string
	}{
		{0.5, "bullish"},
		{0.021, "bullish"},
		{-0.5, "bearish"},
		{-0.021, "bearish"},
		{0, "neutral"},
		{0.01, "neutral"},
		{-0.01, "neutral"},
	}

	for _, tt := range tests {
		if got := a.Label(tt.score); got != tt.want {
			t.Errorf("Label(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestSentimentAnalyzer_Analyze(t *testing.T) {
	a := NewSentimentAnalyzer()

	score, label := a.Analyze("Bitcoin surges to record", "Institutional adoption grows", "")
	if score <= 0 || label != "bullish" {
		t.Errorf("Analyze = (%v, %q), want positive bullish", score, label)
	}

	score, label = a.Analyze("Market update", "", "")
	if score != 0 || label != "neutral" {
		t.Errorf("Analyze = (%v, %q), want zero neutral", score, label)
	}
}
