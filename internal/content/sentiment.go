package content

import (
	"strings"
)

// SentimentAnalyzer scores article text with weighted keyword lexicons.
// Used at ingest when no external scorer is configured.
type SentimentAnalyzer struct {
	positiveWords map[string]float64
	negativeWords map[string]float64
}

// NewSentimentAnalyzer creates new keyword sentiment analyzer
func NewSentimentAnalyzer() *SentimentAnalyzer {
	return &SentimentAnalyzer{
		positiveWords: buildPositiveWords(),
		negativeWords: buildNegativeWords(),
	}
}

// Score returns a sentiment score in [-1, 1] for the text
func (a *SentimentAnalyzer) Score(text string) float64 {
	if text == "" {
		return 0.0
	}

	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0.0
	}

	var score float64
	matched := 0

	for _, word := range words {
		word = strings.Trim(word, ".,!?;:\"'()")

		if weight, ok := a.positiveWords[word]; ok {
			score += weight
			matched++
		}
		if weight, ok := a.negativeWords[word]; ok {
			score -= weight
			matched++
		}
	}

	if matched == 0 {
		return 0.0
	}

	normalized := score / float64(len(words))
	if normalized > 1.0 {
		normalized = 1.0
	} else if normalized < -1.0 {
		normalized = -1.0
	}

	return normalized
}

// Label maps a score to the coarse article label
func (a *SentimentAnalyzer) Label(score float64) string {
	switch {
	case score > 0.02:
		return "bullish"
	case score < -0.02:
		return "bearish"
	default:
		return "neutral"
	}
}

// Analyze scores title plus summary plus content and returns both the
// score and its label
func (a *SentimentAnalyzer) Analyze(title, summary, content string) (float64, string) {
	score := a.Score(title + " " + summary + " " + content)
	return score, a.Label(score)
}

func buildPositiveWords() map[string]float64 {
	return map[string]float64{
		"bullish":       1.0,
		"bull":          0.9,
		"rally":         0.9,
		"surge":         0.8,
		"soar":          0.8,
		"ath":           0.8,
		"breakout":      0.7,
		"moon":          0.7,
		"rebound":       0.7,
		"gain":          0.6,
		"gains":         0.6,
		"profit":        0.6,
		"green":         0.6,
		"halving":       0.6,
		"adoption":      0.6,
		"breakthrough":  0.6,
		"record":        0.6,
		"approval":      0.6,
		"approved":      0.6,
		"etf":           0.5,
		"rise":          0.5,
		"rises":         0.5,
		"up":            0.5,
		"grow":          0.5,
		"growth":        0.5,
		"increase":      0.5,
		"positive":      0.5,
		"optimistic":    0.5,
		"partnership":   0.5,
		"upgrade":       0.5,
		"innovation":    0.5,
		"institutional": 0.5,
		"accumulation":  0.5,
		"recovery":      0.5,
		"support":       0.4,
		"strong":        0.4,
		"high":          0.3,
	}
}

func buildNegativeWords() map[string]float64 {
	return map[string]float64{
		"bearish":     1.0,
		"bear":        0.9,
		"crash":       1.0,
		"collapse":    0.9,
		"plunge":      0.9,
		"dump":        0.8,
		"plummet":     0.8,
		"hack":        0.9,
		"hacked":      0.9,
		"exploit":     0.8,
		"scam":        0.9,
		"fraud":       0.9,
		"bankruptcy":  0.9,
		"bankrupt":    0.9,
		"lawsuit":     0.7,
		"sec":         0.4,
		"ban":         0.8,
		"banned":      0.8,
		"crackdown":   0.7,
		"regulation":  0.4,
		"fear":        0.6,
		"panic":       0.8,
		"selloff":     0.8,
		"sell-off":    0.8,
		"liquidation": 0.7,
		"loss":        0.6,
		"losses":      0.6,
		"drop":        0.6,
		"drops":       0.6,
		"fall":        0.5,
		"falls":       0.5,
		"decline":     0.5,
		"down":        0.5,
		"red":         0.5,
		"weak":        0.4,
		"negative":    0.5,
		"risk":        0.3,
		"warning":     0.5,
		"concern":     0.4,
		"low":         0.3,
	}
}
