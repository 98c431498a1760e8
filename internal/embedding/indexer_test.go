package embedding

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/omnifin/finsight/internal/content"
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

// fakeEmbedder maps chunk texts to deterministic three-dimensional
// vectors so similarity ordering is predictable
type fakeEmbedder struct {
	model string
}

func (f *fakeEmbedder) Model() string { return f.model }

func (f *fakeEmbedder) GenerateBatch(_ context.Context, texts []string) ([][]float64, error) {
	vectors := make([][]float64, len(texts))
	for i, text := range texts {
		switch {
		case strings.Contains(text, "bitcoin"):
			vectors[i] = []float64{1, 0, 0}
		case strings.Contains(text, "ethereum"):
			vectors[i] = []float64{0, 1, 0}
		default:
			vectors[i] = []float64{0, 0, 1}
		}
	}
	return vectors, nil
}

func setupIndexer(t *testing.T, model string) (*Indexer, *content.Repository, *testdb.TestDB) {
	t.Helper()

	tdb := testdb.Setup(t)
	articles := content.NewRepository(tdb.DB)
	indexer := NewIndexer(tdb.DB, articles, NewChunker(80, 10), &fakeEmbedder{model: model}, nil)

	return indexer, articles, tdb
}

func saveArticle(t *testing.T, repo *content.Repository, tdb *testdb.TestDB, url, content string) int64 {
	t.Helper()

	sourceID := tdb.CreateSource(t, "test-source-"+url[len(url)-1:])
	id, _, err := repo.SaveArticle(context.Background(), &models.Article{
		SourceID: sourceID,
		URL:      url,
		Title:    "headline",
		Content:  content,
	})
	if err != nil {
		t.Fatalf("save article: %v", err)
	}

	return id
}

func TestIndexer_ChunkAndEmbed(t *testing.T) {
	indexer, articles, tdb := setupIndexer(t, "model-a")
	ctx := context.Background()

	id := saveArticle(t, articles, tdb, "https://e.com/1",
		strings.Repeat("bitcoin moved higher on steady inflows ", 10))

	if err := indexer.ChunkAndEmbed(ctx, id); err != nil {
		t.Fatalf("chunk and embed: %v", err)
	}

	chunks, err := indexer.ChunksForArticle(ctx, id, "model-a")
	if err != nil {
		t.Fatalf("chunks for article: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if chunk.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, chunk.ChunkIndex)
		}
		if len(chunk.Embedding) != 3 {
			t.Errorf("chunk %d has %d-dim embedding", i, len(chunk.Embedding))
		}
	}
}

func TestIndexer_ReembedIsIdempotent(t *testing.T) {
	indexer, articles, tdb := setupIndexer(t, "model-a")
	ctx := context.Background()

	id := saveArticle(t, articles, tdb, "https://e.com/1",
		strings.Repeat("ethereum staking yields held flat ", 10))

	if err := indexer.ChunkAndEmbed(ctx, id); err != nil {
		t.Fatalf("first embed: %v", err)
	}
	firstCount := tdb.CountRows(t, "embedding_chunks")

	if err := indexer.ChunkAndEmbed(ctx, id); err != nil {
		t.Fatalf("second embed: %v", err)
	}
	if n := tdb.CountRows(t, "embedding_chunks"); n != firstCount {
		t.Errorf("re-embed changed chunk count: %d -> %d", firstCount, n)
	}
}

func TestIndexer_ShorterContentDropsTrailingChunks(t *testing.T) {
	indexer, articles, tdb := setupIndexer(t, "model-a")
	ctx := context.Background()

	id := saveArticle(t, articles, tdb, "https://e.com/1",
		strings.Repeat("bitcoin miners expanded capacity again ", 20))

	if err := indexer.ChunkAndEmbed(ctx, id); err != nil {
		t.Fatalf("first embed: %v", err)
	}
	longCount := tdb.CountRows(t, "embedding_chunks")

	// Shrink the article and re-embed: stale trailing indexes must go
	tdb.Exec(t, `UPDATE articles SET content = 'bitcoin brief' WHERE id = $1`, id)
	if err := indexer.ChunkAndEmbed(ctx, id); err != nil {
		t.Fatalf("re-embed: %v", err)
	}

	shortCount := tdb.CountRows(t, "embedding_chunks")
	if shortCount >= longCount {
		t.Errorf("shorter content should shrink the chunk set: %d -> %d", longCount, shortCount)
	}
}

func TestIndexer_ModelGenerationsCoexist(t *testing.T) {
	indexerA, articles, tdb := setupIndexer(t, "model-a")
	ctx := context.Background()

	id := saveArticle(t, articles, tdb, "https://e.com/1", "bitcoin steadied after the open")

	indexerB := NewIndexer(tdb.DB, articles, NewChunker(80, 10), &fakeEmbedder{model: "model-b"}, nil)

	if err := indexerA.ChunkAndEmbed(ctx, id); err != nil {
		t.Fatalf("embed model-a: %v", err)
	}
	if err := indexerB.ChunkAndEmbed(ctx, id); err != nil {
		t.Fatalf("embed model-b: %v", err)
	}

	chunksA, err := indexerA.ChunksForArticle(ctx, id, "model-a")
	if err != nil || len(chunksA) == 0 {
		t.Fatalf("model-a chunks: %d, err %v", len(chunksA), err)
	}
	chunksB, err := indexerB.ChunksForArticle(ctx, id, "model-b")
	if err != nil || len(chunksB) == 0 {
		t.Fatalf("model-b chunks: %d, err %v", len(chunksB), err)
	}
}

func TestSearcher_RanksAndFiltersByModel(t *testing.T) {
	indexer, articles, tdb := setupIndexer(t, "model-a")
	ctx := context.Background()

	btcID := saveArticle(t, articles, tdb, "https://e.com/1", "bitcoin broke resistance overnight")
	ethID := saveArticle(t, articles, tdb, "https://e.com/2", "ethereum fees dropped after the upgrade")

	if err := indexer.ChunkAndEmbed(ctx, btcID); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if err := indexer.ChunkAndEmbed(ctx, ethID); err != nil {
		t.Fatalf("embed: %v", err)
	}

	searcher := NewSearcher(tdb.DB, "model-a")

	hits, err := searcher.Search(ctx, []float64{1, 0, 0}, 10, SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ArticleID != btcID {
		t.Errorf("bitcoin article should rank first, got article %d", hits[0].ArticleID)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Error("similarity must be non-increasing")
	}
	if hits[0].ArticleURL == "" || hits[0].SourceName == "" {
		t.Error("hits must carry article provenance")
	}

	// A different model generation sees nothing
	stale := NewSearcher(tdb.DB, "model-b")
	hits, err = stale.Search(ctx, []float64{1, 0, 0}, 10, SearchFilters{})
	if err != nil {
		t.Fatalf("stale search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("other model generation should be empty, got %d hits", len(hits))
	}
}

func TestSearcher_TopKShortResult(t *testing.T) {
	indexer, articles, tdb := setupIndexer(t, "model-a")
	ctx := context.Background()

	id := saveArticle(t, articles, tdb, "https://e.com/1", "bitcoin brief")
	if err := indexer.ChunkAndEmbed(ctx, id); err != nil {
		t.Fatalf("embed: %v", err)
	}

	searcher := NewSearcher(tdb.DB, "model-a")
	hits, err := searcher.Search(ctx, []float64{1, 0, 0}, 50, SearchFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 || len(hits) > 50 {
		t.Errorf("short corpus should return fewer hits than topK, got %d", len(hits))
	}

	if hits, err := searcher.Search(ctx, []float64{1, 0, 0}, 0, SearchFilters{}); err != nil || len(hits) != 0 {
		t.Errorf("topK=0 should return empty, got %d hits err %v", len(hits), err)
	}
}
