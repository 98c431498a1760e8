package content

import (
	"testing"

	"github.com/omnifin/finsight/pkg/models"
)

func testCatalog() []models.Asset {
	return []models.Asset{
		{ID: 1, Symbol: "BTC", Name: "Bitcoin"},
		{ID: 2, Symbol: "ETH", Name: "Ethereum"},
		{ID: 3, Symbol: "BCH", Name: "Bitcoin Cash"},
		{ID: 4, Symbol: "ONE", Name: "Harmony"},
	}
}

func findMention(mentions []models.AssetMention, symbol string) *models.AssetMention {
	for i := range mentions {
		if mentions[i].AssetSymbol == symbol {
			return &mentions[i]
		}
	}
	return nil
}

func TestMentionExtractor_SymbolAndName(t *testing.T) {
	ex := NewMentionExtractor(testCatalog())

	mentions := ex.Extract("BTC breaks out", "Bitcoin traded above resistance while ETH lagged")

	btc := findMention(mentions, "BTC")
	if btc == nil {
		t.Fatal("expected a BTC mention")
	}
	if btc.MentionCount < 2 {
		t.Errorf("symbol and name hits should both count, got %d", btc.MentionCount)
	}

	if findMention(mentions, "ETH") == nil {
		t.Error("expected an ETH mention")
	}
}

func TestMentionExtractor_SymbolsAreCaseSensitive(t *testing.T) {
	ex := NewMentionExtractor(testCatalog())

	// "one" as a plain word must not match the ONE ticker
	mentions := ex.Extract("markets", "one analyst expects a quiet week")
	if findMention(mentions, "ONE") != nil {
		t.Error("lower-case common word must not match a ticker")
	}

	mentions = ex.Extract("ONE listed on a new venue", "")
	if findMention(mentions, "ONE") == nil {
		t.Error("upper-case ticker should match")
	}
}

func TestMentionExtractor_MultiWordNames(t *testing.T) {
	ex := NewMentionExtractor(testCatalog())

	mentions := ex.Extract("Bitcoin Cash upgrade scheduled", "")
	if findMention(mentions, "BCH") == nil {
		t.Error("multi-word asset name should match via substring pass")
	}
}

func TestMentionExtractor_NoMatches(t *testing.T) {
	ex := NewMentionExtractor(testCatalog())

	mentions := ex.Extract("Fed leaves rates unchanged", "Treasury yields dipped")
	if len(mentions) != 0 {
		t.Errorf("expected no mentions, got %d", len(mentions))
	}
}

func TestMentionExtractor_ContextSnippet(t *testing.T) {
	ex := NewMentionExtractor(testCatalog())

	mentions := ex.Extract("BTC jumps five percent after the announcement", "")
	btc := findMention(mentions, "BTC")
	if btc == nil {
		t.Fatal("expected a BTC mention")
	}
	if btc.Context == "" {
		t.Error("mention should carry a context snippet")
	}
}

func TestMentionExtractor_PrimaryIsMostMentioned(t *testing.T) {
	ex := NewMentionExtractor(testCatalog())

	mentions := ex.Extract("BTC and Bitcoin again", "ETH once")
	btc := findMention(mentions, "BTC")
	eth := findMention(mentions, "ETH")
	if btc == nil || eth == nil {
		t.Fatal("expected BTC and ETH mentions")
	}
	if !btc.IsPrimary {
		t.Error("most mentioned asset should be primary")
	}
	if eth.IsPrimary {
		t.Error("only one mention may be primary")
	}
	if btc.AssetType != models.AssetTypeCrypto {
		t.Errorf("asset type = %q, want crypto", btc.AssetType)
	}
	if btc.AssetID == nil || *btc.AssetID != 1 {
		t.Error("catalog asset should resolve to its id")
	}
}

func TestMentionExtractor_EmptyCatalog(t *testing.T) {
	ex := NewMentionExtractor(nil)

	if mentions := ex.Extract("Bitcoin surges", ""); len(mentions) != 0 {
		t.Errorf("empty catalog should yield no mentions, got %d", len(mentions))
	}
}
