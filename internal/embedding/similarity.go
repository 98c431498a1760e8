package embedding

import (
	"math"
	"sort"

	"github.com/omnifin/finsight/pkg/models"
)

// CosineSimilarity returns the cosine of the angle between two vectors.
// Mismatched dimensions or zero vectors score 0, mirroring the SQL
// function the indexed search path uses.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// MemoryIndex ranks chunks in-process with the same semantics as the
// SQL search path: similarity descending, ties broken by created_at
// descending. Used by tests and DB-less callers.
type MemoryIndex struct {
	chunks []models.EmbeddingChunk
}

// NewMemoryIndex creates an index over a chunk snapshot
func NewMemoryIndex(chunks []models.EmbeddingChunk) *MemoryIndex {
	return &MemoryIndex{chunks: chunks}
}

// Add appends a chunk to the index
func (idx *MemoryIndex) Add(chunk models.EmbeddingChunk) {
	idx.chunks = append(idx.chunks, chunk)
}

// Search returns up to topK chunks most similar to the query vector
func (idx *MemoryIndex) Search(queryVector []float64, topK int, model string) []models.SearchHit {
	if topK <= 0 {
		return nil
	}

	hits := make([]models.SearchHit, 0, len(idx.chunks))
	for _, chunk := range idx.chunks {
		if model != "" && chunk.Model != model {
			continue
		}

		hits = append(hits, models.SearchHit{
			Similarity: CosineSimilarity(queryVector, chunk.Embedding),
			ChunkText:  chunk.ChunkText,
			ChunkIndex: chunk.ChunkIndex,
			ArticleID:  chunk.ArticleID,
			CreatedAt:  chunk.CreatedAt,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}

	return hits
}
