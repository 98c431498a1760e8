package embedding

import (
	"strings"
	"unicode"
)

// Chunker deterministically splits article text into overlapping
// slices. The same input always yields the same chunk sequence, which
// is what makes (article_id, chunk_index) a stable identity.
type Chunker struct {
	maxSize int // rune budget per chunk
	overlap int // runes carried into the next chunk
}

// NewChunker creates new chunker. overlap must be smaller than maxSize;
// config validation enforces it.
func NewChunker(maxSize, overlap int) *Chunker {
	return &Chunker{maxSize: maxSize, overlap: overlap}
}

// Split returns the ordered chunk sequence for a text. Boundaries
// prefer the last whitespace inside the budget so words stay intact;
// a single unbroken token longer than the budget is cut hard.
func (c *Chunker) Split(text string) []string {
	text = normalizeWhitespace(text)
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) <= c.maxSize {
		return []string{text}
	}

	var chunks []string
	start := 0

	for start < len(runes) {
		end := start + c.maxSize
		if end >= len(runes) {
			chunks = append(chunks, strings.TrimSpace(string(runes[start:])))
			break
		}

		cut := lastBreak(runes, start, end)
		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := cut - c.overlap
		if next <= start {
			next = cut
		}
		start = next
	}

	return chunks
}

// lastBreak finds the rightmost whitespace in (start, end]; falls back
// to a hard cut at end when the window has none
func lastBreak(runes []rune, start, end int) int {
	for i := end; i > start; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}

func normalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
