package clickhouse

import (
	"context"

	"github.com/omnifin/finsight/pkg/metrics"
)

// Writer adapts the repository to the pkg/metrics Writer interface so
// the buffered metrics manager can flush into ClickHouse
type Writer struct {
	repo *Repository
}

// NewWriter creates new metrics writer over a ClickHouse repository
func NewWriter(repo *Repository) *Writer {
	return &Writer{repo: repo}
}

// Write flushes one table's batch
func (w *Writer) Write(ctx context.Context, tableName string, batch []metrics.Metric) error {
	if len(batch) == 0 {
		return nil
	}

	values := make([][]interface{}, len(batch))
	for i, m := range batch {
		values[i] = m.Values()
	}

	return w.repo.InsertBatch(ctx, tableName, values)
}

// Close closes the writer
func (w *Writer) Close() error {
	return w.repo.Close()
}
