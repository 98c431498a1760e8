package metrics

import "time"

// IngestMetric records one signal engine write: how long the
// observation-to-signal path took and whether it was the in-order fast
// path or a recompute-forward correction.
type IngestMetric struct {
	Timestamp  time.Time
	AssetID    int64
	DurationMs float64
	InOrder    bool
}

func (m *IngestMetric) TableName() string {
	return "signal_ingest"
}

func (m *IngestMetric) Values() []interface{} {
	inOrder := uint8(0)
	if m.InOrder {
		inOrder = 1
	}
	return []interface{}{
		m.Timestamp,
		m.AssetID,
		m.DurationMs,
		inOrder,
	}
}

// EmbeddingDeduplicationMetric records embedding cache hits and misses
type EmbeddingDeduplicationMetric struct {
	Timestamp  time.Time
	TextHash   string
	TextLength int
	Model      string
	CacheHit   bool
}

func (m *EmbeddingDeduplicationMetric) TableName() string {
	return "embedding_dedup"
}

func (m *EmbeddingDeduplicationMetric) Values() []interface{} {
	hit := uint8(0)
	if m.CacheHit {
		hit = 1
	}
	return []interface{}{
		m.Timestamp,
		m.TextHash,
		uint32(m.TextLength),
		m.Model,
		hit,
	}
}

// EmbedJobMetric records one article's chunk-and-embed run
type EmbedJobMetric struct {
	Timestamp  time.Time
	ArticleID  int64
	Chunks     int
	Model      string
	DurationMs float64
	Success    bool
}

func (m *EmbedJobMetric) TableName() string {
	return "embed_jobs"
}

func (m *EmbedJobMetric) Values() []interface{} {
	success := uint8(0)
	if m.Success {
		success = 1
	}
	return []interface{}{
		m.Timestamp,
		m.ArticleID,
		uint32(m.Chunks),
		m.Model,
		m.DurationMs,
		success,
	}
}

// FeedFetchMetric records one provider fetch cycle
type FeedFetchMetric struct {
	Timestamp  time.Time
	Provider   string
	Items      int
	DurationMs float64
	Success    bool
}

func (m *FeedFetchMetric) TableName() string {
	return "feed_fetches"
}

func (m *FeedFetchMetric) Values() []interface{} {
	success := uint8(0)
	if m.Success {
		success = 1
	}
	return []interface{}{
		m.Timestamp,
		m.Provider,
		uint32(m.Items),
		m.DurationMs,
		success,
	}
}
