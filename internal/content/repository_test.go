package content

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
	"github.com/omnifin/finsight/test/testdb"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", ""); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func TestRepository_SaveArticleDedup(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	sourceID := tdb.CreateSource(t, "coindesk")

	article := &models.Article{
		SourceID: sourceID,
		URL:      "https://example.com/btc-rally",
		Title:    "BTC rallies",
		Content:  "bitcoin gained five percent",
	}

	id, created, err := repo.SaveArticle(ctx, article)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !created {
		t.Error("first save should report created")
	}

	// Same url again
	again := &models.Article{
		SourceID: sourceID,
		URL:      "https://example.com/btc-rally",
		Title:    "BTC rallies",
		Content:  "bitcoin gained five percent",
	}
	id2, created2, err := repo.SaveArticle(ctx, again)
	if err != nil {
		t.Fatalf("duplicate save: %v", err)
	}
	if created2 {
		t.Error("duplicate save must not report created")
	}
	if id2 != id {
		t.Errorf("duplicate save returned id %d, want %d", id2, id)
	}

	if n := tdb.CountRows(t, "articles"); n != 1 {
		t.Errorf("articles = %d, want 1", n)
	}
}

func TestRepository_SameURLDifferentSource(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	s1 := tdb.CreateSource(t, "coindesk")
	s2 := tdb.CreateSource(t, "yahoo")

	url := "https://example.com/shared-story"
	id1, created, err := repo.SaveArticle(ctx, &models.Article{SourceID: s1, URL: url, Title: "a"})
	if err != nil || !created {
		t.Fatalf("first save: created=%v err=%v", created, err)
	}

	// The URL is the global dedup key: a second source delivering the
	// same story must not create another row
	id2, created2, err := repo.SaveArticle(ctx, &models.Article{SourceID: s2, URL: url, Title: "b"})
	if err != nil {
		t.Fatalf("second source save: %v", err)
	}
	if created2 {
		t.Error("same URL from another source must report duplicate")
	}
	if id2 != id1 {
		t.Errorf("second source save returned id %d, want %d", id2, id1)
	}

	if n := tdb.CountRows(t, "articles"); n != 1 {
		t.Errorf("url dedup is global, want 1 row, got %d", n)
	}
}

func TestRepository_ChangedContentResetsProcessed(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	sourceID := tdb.CreateSource(t, "coindesk")
	url := "https://example.com/evolving-story"

	id, _, err := repo.SaveArticle(ctx, &models.Article{
		SourceID: sourceID, URL: url, Title: "story", Content: "initial wire copy",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := repo.MarkProcessed(ctx, []int64{id}); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	// Re-ingest with updated content: processed flag must drop so the
	// article is re-embedded
	if _, _, err := repo.SaveArticle(ctx, &models.Article{
		SourceID: sourceID, URL: url, Title: "story", Content: "expanded copy with new paragraphs",
	}); err != nil {
		t.Fatalf("update save: %v", err)
	}

	pending, err := repo.PendingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	found := false
	for _, a := range pending {
		if a.ID == id {
			found = true
		}
	}
	if !found {
		t.Error("changed content should return the article to the embed queue")
	}
}

func TestRepository_UnchangedContentStaysProcessed(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	sourceID := tdb.CreateSource(t, "coindesk")
	url := "https://example.com/stable-story"

	id, _, err := repo.SaveArticle(ctx, &models.Article{
		SourceID: sourceID, URL: url, Title: "story", Content: "the same copy",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := repo.MarkProcessed(ctx, []int64{id}); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	if _, _, err := repo.SaveArticle(ctx, &models.Article{
		SourceID: sourceID, URL: url, Title: "story", Content: "the same copy",
	}); err != nil {
		t.Fatalf("re-save: %v", err)
	}

	pending, err := repo.PendingEmbedding(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	for _, a := range pending {
		if a.ID == id {
			t.Error("unchanged content must not re-enter the embed queue")
		}
	}
}

func TestRepository_SentimentSummary(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	sourceID := tdb.CreateSource(t, "coindesk")

	published := time.Now().Add(-10 * time.Minute)
	save := func(url string, score float64, label string) {
		id, _, err := repo.SaveArticle(ctx, &models.Article{
			SourceID: sourceID, URL: url, Title: "t", PublishedAt: &published,
		})
		if err != nil {
			t.Fatalf("save %s: %v", url, err)
		}
		if err := repo.UpdateSentiment(ctx, id, score, label); err != nil {
			t.Fatalf("sentiment %s: %v", url, err)
		}
	}

	save("https://e.com/1", 0.5, "bullish")
	save("https://e.com/2", 0.3, "bullish")
	save("https://e.com/3", -0.4, "bearish")
	save("https://e.com/4", 0.0, "neutral")

	summary, err := repo.SentimentSummary(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.BullishCount != 2 || summary.BearishCount != 1 || summary.NeutralCount != 1 {
		t.Errorf("summary counts = %d/%d/%d, want 2/1/1",
			summary.BullishCount, summary.BearishCount, summary.NeutralCount)
	}
}

func TestRepository_UpsertMentions(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	sourceID := tdb.CreateSource(t, "coindesk")
	assetID := tdb.CreateAsset(t, "BTC", "Bitcoin")

	id, _, err := repo.SaveArticle(ctx, &models.Article{
		SourceID: sourceID, URL: "https://e.com/m", Title: "BTC news",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	mentions := []models.AssetMention{{
		AssetType:    models.AssetTypeCrypto,
		AssetSymbol:  "BTC",
		AssetID:      &assetID,
		MentionCount: 2,
		IsPrimary:    true,
		Context:      "BTC gained",
	}}
	if err := repo.UpsertMentions(ctx, id, mentions); err != nil {
		t.Fatalf("upsert mentions: %v", err)
	}
	// Re-running with a new count replaces, not duplicates
	mentions[0].MentionCount = 3
	if err := repo.UpsertMentions(ctx, id, mentions); err != nil {
		t.Fatalf("re-upsert mentions: %v", err)
	}

	got, err := repo.MentionsForArticle(ctx, id)
	if err != nil {
		t.Fatalf("mentions for article: %v", err)
	}
	if len(got) != 1 || got[0].MentionCount != 3 {
		t.Errorf("mentions = %+v, want single row with count 3", got)
	}
	if got[0].AssetName != "Bitcoin" {
		t.Errorf("asset name = %q, want Bitcoin", got[0].AssetName)
	}
}

func TestRepository_MentionWithoutCatalogAsset(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	sourceID := tdb.CreateSource(t, "coindesk")
	id, _, err := repo.SaveArticle(ctx, &models.Article{
		SourceID: sourceID, URL: "https://e.com/stocks", Title: "Coinbase earnings",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	// A ticker the catalog does not know is still a valid mention
	err = repo.UpsertMentions(ctx, id, []models.AssetMention{{
		AssetType:    models.AssetTypeStock,
		AssetSymbol:  "COIN",
		MentionCount: 1,
		IsPrimary:    true,
	}})
	if err != nil {
		t.Fatalf("upsert mention: %v", err)
	}

	got, err := repo.MentionsForArticle(ctx, id)
	if err != nil {
		t.Fatalf("mentions for article: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("mentions = %d, want 1", len(got))
	}
	if got[0].AssetID != nil {
		t.Error("uncatalogued mention should carry no asset id")
	}
	if got[0].AssetType != models.AssetTypeStock || got[0].AssetSymbol != "COIN" {
		t.Errorf("mention identity = %s/%s, want stock/COIN", got[0].AssetType, got[0].AssetSymbol)
	}
}
