package content

import (
	"strings"
	"unicode"

	"github.com/omnifin/finsight/pkg/models"
)

// MentionExtractor scans article text for catalog assets by symbol and
// name. The catalog snapshot is taken at construction; the news worker
// rebuilds the extractor each cycle.
type MentionExtractor struct {
	bySymbol map[string]models.Asset
	byName   map[string]models.Asset
}

// NewMentionExtractor builds an extractor over the active asset catalog
func NewMentionExtractor(assets []models.Asset) *MentionExtractor {
	ex := &MentionExtractor{
		bySymbol: make(map[string]models.Asset, len(assets)),
		byName:   make(map[string]models.Asset, len(assets)),
	}

	for _, asset := range assets {
		ex.bySymbol[strings.ToUpper(asset.Symbol)] = asset
		if name := strings.ToLower(strings.TrimSpace(asset.Name)); name != "" {
			ex.byName[name] = asset
		}
	}

	return ex
}

// Extract returns one mention per asset found in the text, counting
// symbol and name hits. Symbols match case-sensitively upper-case to
// avoid tokens like "one" or "sec" colliding with tickers. The most
// mentioned asset is flagged primary.
func (ex *MentionExtractor) Extract(title, summary string) []models.AssetMention {
	text := title + " " + summary
	counts := make(map[string]int)
	assets := make(map[string]models.Asset)

	for _, token := range tokenize(text) {
		if asset, ok := ex.bySymbol[token]; ok && token == strings.ToUpper(token) {
			sym := strings.ToUpper(asset.Symbol)
			counts[sym]++
			assets[sym] = asset
			continue
		}
		if asset, ok := ex.byName[strings.ToLower(token)]; ok {
			sym := strings.ToUpper(asset.Symbol)
			counts[sym]++
			assets[sym] = asset
		}
	}

	// Multi-word names ("bitcoin cash") need a substring pass
	lower := strings.ToLower(text)
	for name, asset := range ex.byName {
		if strings.Contains(name, " ") && strings.Contains(lower, name) {
			sym := strings.ToUpper(asset.Symbol)
			counts[sym] += strings.Count(lower, name)
			assets[sym] = asset
		}
	}

	top := ""
	for sym, count := range counts {
		if top == "" || count > counts[top] || (count == counts[top] && sym < top) {
			top = sym
		}
	}

	mentions := make([]models.AssetMention, 0, len(counts))
	for sym, count := range counts {
		asset := assets[sym]
		id := asset.ID
		mentions = append(mentions, models.AssetMention{
			AssetType:    models.AssetTypeCrypto,
			AssetSymbol:  sym,
			AssetID:      &id,
			MentionCount: count,
			IsPrimary:    sym == top,
			Context:      snippet(text, asset),
		})
	}

	return mentions
}

// snippet returns a short context window around the first occurrence of
// the asset's symbol or name
func snippet(text string, asset models.Asset) string {
	idx := strings.Index(strings.ToUpper(text), strings.ToUpper(asset.Symbol))
	if idx < 0 && asset.Name != "" {
		idx = strings.Index(strings.ToLower(text), strings.ToLower(asset.Name))
	}
	if idx < 0 {
		return ""
	}

	start := idx - 40
	if start < 0 {
		start = 0
	}
	end := idx + 60
	if end > len(text) {
		end = len(text)
	}

	return strings.TrimSpace(text[start:end])
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
