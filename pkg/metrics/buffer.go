package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
)

const flushTimeout = 5 * time.Second

// TableBuffer batches metric records per ClickHouse table and flushes
// them on a timer or when a table's batch fills up. Ingest and embed
// paths call Add on their hot path, so Add never blocks on the sink: a
// full batch only wakes the flusher goroutine.
type TableBuffer struct {
	writer    Writer
	interval  time.Duration
	batchSize int

	mu      sync.Mutex
	pending map[string][]Metric
	closed  bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// BufferConfig configures the table buffer
type BufferConfig struct {
	Writer        Writer
	BatchSize     int           // per-table flush threshold
	FlushInterval time.Duration // periodic flush cadence
}

// NewBuffer creates the table buffer and starts its flusher
func NewBuffer(cfg BufferConfig) *TableBuffer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	tb := &TableBuffer{
		writer:    cfg.Writer,
		interval:  cfg.FlushInterval,
		batchSize: cfg.BatchSize,
		pending:   make(map[string][]Metric),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	go tb.run()

	logger.Info("metrics buffer started",
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("flush_interval", cfg.FlushInterval),
	)

	return tb
}

// Add queues one metric record. Thread-safe, never blocks on the sink.
func (tb *TableBuffer) Add(metric Metric) error {
	if metric == nil {
		return fmt.Errorf("metric is nil")
	}
	table := metric.TableName()
	if table == "" {
		return fmt.Errorf("metric table name is empty")
	}

	tb.mu.Lock()
	if tb.closed {
		tb.mu.Unlock()
		return fmt.Errorf("metrics buffer is closed")
	}
	tb.pending[table] = append(tb.pending[table], metric)
	full := len(tb.pending[table]) >= tb.batchSize
	tb.mu.Unlock()

	if full {
		select {
		case tb.kick <- struct{}{}:
		default: // a flush is already scheduled
		}
	}

	return nil
}

// Flush writes every pending batch to the sink. Failed tables keep
// their records out of the buffer; the next cycle writes fresh data.
func (tb *TableBuffer) Flush(ctx context.Context) error {
	tb.mu.Lock()
	batches := tb.pending
	tb.pending = make(map[string][]Metric)
	tb.mu.Unlock()

	failed := 0
	for table, records := range batches {
		if len(records) == 0 {
			continue
		}
		if err := tb.writer.Write(ctx, table, records); err != nil {
			failed++
			logger.Error("metric batch write failed",
				zap.String("table", table),
				zap.Int("count", len(records)),
				zap.Error(err),
			)
			continue
		}
		logger.Debug("metric batch flushed",
			zap.String("table", table),
			zap.Int("count", len(records)),
		)
	}

	if failed > 0 {
		return fmt.Errorf("flush failed for %d tables", failed)
	}
	return nil
}

// Size returns the number of buffered records across all tables
func (tb *TableBuffer) Size() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	total := 0
	for _, records := range tb.pending {
		total += len(records)
	}
	return total
}

// Close stops the flusher, drains the buffer and closes the writer
func (tb *TableBuffer) Close(ctx context.Context) error {
	tb.mu.Lock()
	if tb.closed {
		tb.mu.Unlock()
		return nil
	}
	tb.closed = true
	tb.mu.Unlock()

	close(tb.stop)
	<-tb.done

	if err := tb.Flush(ctx); err != nil {
		return err
	}
	if err := tb.writer.Close(); err != nil {
		return fmt.Errorf("failed to close metrics writer: %w", err)
	}

	logger.Info("metrics buffer closed")
	return nil
}

func (tb *TableBuffer) run() {
	defer close(tb.done)

	ticker := time.NewTicker(tb.interval)
	defer ticker.Stop()

	flush := func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		if err := tb.Flush(ctx); err != nil {
			logger.Warn("background metric flush failed", zap.Error(err))
		}
		cancel()
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case <-tb.kick:
			flush()
		case <-tb.stop:
			return
		}
	}
}
