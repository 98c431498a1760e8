package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
)

// Repository writes buffered operational metrics into ClickHouse
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new ClickHouse metrics repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// metricTables maps every metric table to its schema. Tables are small
// append-only logs partitioned by month.
var metricTables = map[string]string{
	"signal_ingest": `
		CREATE TABLE IF NOT EXISTS signal_ingest (
			timestamp DateTime64(3),
			asset_id Int64,
			duration_ms Float64,
			in_order UInt8
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (asset_id, timestamp)`,
	"embedding_dedup": `
		CREATE TABLE IF NOT EXISTS embedding_dedup (
			timestamp DateTime64(3),
			text_hash String,
			text_length UInt32,
			model String,
			cache_hit UInt8
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY timestamp`,
	"embed_jobs": `
		CREATE TABLE IF NOT EXISTS embed_jobs (
			timestamp DateTime64(3),
			article_id Int64,
			chunks UInt32,
			model String,
			duration_ms Float64,
			success UInt8
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (article_id, timestamp)`,
	"feed_fetches": `
		CREATE TABLE IF NOT EXISTS feed_fetches (
			timestamp DateTime64(3),
			provider String,
			items UInt32,
			duration_ms Float64,
			success UInt8
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (provider, timestamp)`,
}

// EnsureTables creates the metric tables when missing
func (r *Repository) EnsureTables(ctx context.Context) error {
	for name, ddl := range metricTables {
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create metrics table %s: %w", name, err)
		}
	}

	logger.Info("clickhouse metric tables ready",
		zap.Int("tables", len(metricTables)),
	)

	return nil
}

// InsertBatch inserts a batch of rows into one metrics table
func (r *Repository) InsertBatch(ctx context.Context, tableName string, values [][]interface{}) error {
	if len(values) == 0 {
		return nil
	}
	if _, ok := metricTables[tableName]; !ok {
		return fmt.Errorf("unknown metrics table %q", tableName)
	}

	columnCount := len(values[0])
	if columnCount == 0 {
		return fmt.Errorf("values have no columns")
	}

	placeholders := make([]string, len(values))
	args := make([]interface{}, 0, len(values)*columnCount)

	for i, row := range values {
		if len(row) != columnCount {
			return fmt.Errorf("row %d has wrong column count: expected %d, got %d", i, columnCount, len(row))
		}

		rowPlaceholders := make([]string, columnCount)
		for j := range row {
			rowPlaceholders[j] = "?"
		}
		placeholders[i] = "(" + strings.Join(rowPlaceholders, ", ") + ")"

		args = append(args, row...)
	}

	query := fmt.Sprintf("INSERT INTO %s VALUES %s", tableName, strings.Join(placeholders, ", "))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("clickhouse insert failed: %w", err)
	}

	logger.Debug("clickhouse batch insert",
		zap.String("table", tableName),
		zap.Int("rows", len(values)),
	)

	return nil
}

// Close is a no-op; the connection is owned by the caller
func (r *Repository) Close() error {
	return nil
}
