package metrics

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/omnifin/finsight/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", ""); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type captureWriter struct {
	mu     sync.Mutex
	writes map[string]int
	closed bool
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{writes: make(map[string]int)}
}

func (w *captureWriter) Write(_ context.Context, table string, records []Metric) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes[table] += len(records)
	return nil
}

func (w *captureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *captureWriter) written(table string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes[table]
}

func TestTableBuffer_FlushGroupsByTable(t *testing.T) {
	writer := newCaptureWriter()
	buf := NewBuffer(BufferConfig{Writer: writer, BatchSize: 100, FlushInterval: time.Hour})
	defer buf.Close(context.Background())

	for i := 0; i < 3; i++ {
		if err := buf.Add(&IngestMetric{AssetID: int64(i), Timestamp: time.Now()}); err != nil {
			t.Fatalf("add ingest metric: %v", err)
		}
	}
	if err := buf.Add(&EmbeddingDeduplicationMetric{Timestamp: time.Now(), Model: "m"}); err != nil {
		t.Fatalf("add dedup metric: %v", err)
	}

	if got := buf.Size(); got != 4 {
		t.Errorf("size before flush = %d, want 4", got)
	}

	if err := buf.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := writer.written("signal_ingest"); got != 3 {
		t.Errorf("signal_ingest rows = %d, want 3", got)
	}
	if got := writer.written("embedding_dedup"); got != 1 {
		t.Errorf("embedding_dedup rows = %d, want 1", got)
	}
	if got := buf.Size(); got != 0 {
		t.Errorf("size after flush = %d, want 0", got)
	}
}

func TestTableBuffer_FullBatchTriggersFlush(t *testing.T) {
	writer := newCaptureWriter()
	buf := NewBuffer(BufferConfig{Writer: writer, BatchSize: 2, FlushInterval: time.Hour})
	defer buf.Close(context.Background())

	for i := 0; i < 2; i++ {
		if err := buf.Add(&IngestMetric{AssetID: int64(i), Timestamp: time.Now()}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for writer.written("signal_ingest") < 2 {
		select {
		case <-deadline:
			t.Fatalf("background flush did not run, wrote %d", writer.written("signal_ingest"))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTableBuffer_CloseDrainsAndRejects(t *testing.T) {
	writer := newCaptureWriter()
	buf := NewBuffer(BufferConfig{Writer: writer, BatchSize: 100, FlushInterval: time.Hour})

	if err := buf.Add(&IngestMetric{AssetID: 1, Timestamp: time.Now()}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := buf.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.written("signal_ingest"); got != 1 {
		t.Errorf("close must drain the buffer, wrote %d", got)
	}
	if !writer.closed {
		t.Error("close must close the writer")
	}
	if err := buf.Add(&IngestMetric{AssetID: 2, Timestamp: time.Now()}); err == nil {
		t.Error("add after close must fail")
	}
}
