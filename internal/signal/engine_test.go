package signal

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnifin/finsight/internal/adapters/config"
	"github.com/omnifin/finsight/internal/adapters/redis"
	"github.com/omnifin/finsight/internal/timeseries"
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

func testConfig() config.SignalsConfig {
	return config.SignalsConfig{
		MAWindow:       7,
		RSIWindow:      14,
		RSIOverbought:  70,
		RSIOversold:    30,
		LockTTL:        30 * time.Second,
		LockRetries:    3,
		RecomputeBatch: 500,
	}
}

func newTestEngine(t *testing.T) (*Engine, *testdb.TestDB, int64) {
	t.Helper()

	tdb := testdb.Setup(t)
	assetID := tdb.CreateAsset(t, "BTC", "Bitcoin")

	engine := NewEngine(
		tdb.DB,
		timeseries.NewRepository(tdb.DB),
		NewRepository(tdb.DB),
		redis.NewLocalLockFactory(),
		testConfig(),
		nil,
	)

	return engine, tdb, assetID
}

func day(n int) time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func obs(assetID int64, ts time.Time, price float64) *models.Observation {
	return testdb.Observation(assetID, ts, price)
}

func TestEngine_ValidateRejectsBadInput(t *testing.T) {
	engine := NewEngine(nil, nil, nil, redis.NewLocalLockFactory(), testConfig(), nil)
	ctx := context.Background()

	if _, err := engine.Ingest(ctx, 1, nil); !errors.Is(err, ErrInvalidObservation) {
		t.Errorf("nil observation: got %v", err)
	}

	bad := &models.Observation{Price: decimal.NewFromFloat(100)}
	if _, err := engine.Ingest(ctx, 1, bad); !errors.Is(err, ErrInvalidObservation) {
		t.Errorf("zero timestamp: got %v", err)
	}

	bad = &models.Observation{Timestamp: day(0), Price: decimal.Zero}
	if _, err := engine.Ingest(ctx, 1, bad); !errors.Is(err, ErrInvalidObservation) {
		t.Errorf("zero price: got %v", err)
	}

	bad = &models.Observation{Timestamp: day(0), Price: decimal.NewFromFloat(-5)}
	if _, err := engine.Ingest(ctx, 1, bad); !errors.Is(err, ErrInvalidObservation) {
		t.Errorf("negative price: got %v", err)
	}
}

func TestEngine_InOrderIngest(t *testing.T) {
	engine, tdb, assetID := newTestEngine(t)
	ctx := context.Background()

	prices := []float64{100, 102, 101, 105, 103, 107, 110}
	for i, p := range prices {
		row, err := engine.Ingest(ctx, assetID, obs(assetID, day(i), p))
		if err != nil {
			t.Fatalf("ingest day %d: %v", i, err)
		}
		if row == nil {
			t.Fatalf("ingest day %d returned no row", i)
		}
	}

	row, err := engine.LatestRow(ctx, assetID)
	if err != nil {
		t.Fatalf("latest row: %v", err)
	}
	if !row.Timestamp.Equal(day(6)) {
		t.Errorf("latest ts = %v, want %v", row.Timestamp, day(6))
	}
	if row.MA7d == nil || math.Abs(*row.MA7d-104.0) > 1e-9 {
		t.Errorf("ma_7d = %v, want 104.0", row.MA7d)
	}
	if row.DailyReturn == nil || math.Abs(*row.DailyReturn-3.0/107.0) > 1e-9 {
		t.Errorf("daily_return = %v, want %v", row.DailyReturn, 3.0/107.0)
	}

	if n := tdb.CountRows(t, "signals"); n != len(prices) {
		t.Errorf("signal rows = %d, want %d", n, len(prices))
	}
	if n := tdb.CountRows(t, "signal_checkpoints"); n != 0 {
		t.Errorf("no checkpoint should remain, found %d", n)
	}
}

func TestEngine_FirstObservationHasNoAnalytics(t *testing.T) {
	engine, _, assetID := newTestEngine(t)
	ctx := context.Background()

	row, err := engine.Ingest(ctx, assetID, obs(assetID, day(0), 100))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if row.DailyReturn != nil {
		t.Error("first observation should have no daily return")
	}
	if row.RSI != nil {
		t.Error("first observation should have no RSI")
	}
	if row.Signal != models.SignalHold {
		t.Errorf("warmup rows must hold, got %v", row.Signal)
	}
}

func TestEngine_DuplicateTimestampIsIdempotent(t *testing.T) {
	engine, tdb, assetID := newTestEngine(t)
	ctx := context.Background()

	for i, p := range []float64{100, 102, 101} {
		if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(i), p)); err != nil {
			t.Fatalf("ingest day %d: %v", i, err)
		}
	}

	// Same timestamp again: nothing is rewritten, the stored row comes back
	row, err := engine.Ingest(ctx, assetID, obs(assetID, day(2), 101))
	if err != nil {
		t.Fatalf("duplicate ingest: %v", err)
	}
	if row == nil || !row.Timestamp.Equal(day(2)) {
		t.Fatal("duplicate ingest should return the stored row")
	}

	if n := tdb.CountRows(t, "observations"); n != 3 {
		t.Errorf("observations = %d, want 3", n)
	}
	if n := tdb.CountRows(t, "signals"); n != 3 {
		t.Errorf("signals = %d, want 3", n)
	}
	if n := tdb.CountRows(t, "signal_checkpoints"); n != 0 {
		t.Errorf("duplicate ingest must not mark the asset dirty, found %d checkpoints", n)
	}
}

func TestEngine_DuplicateTimestampKeepsFirstWrite(t *testing.T) {
	engine, tdb, assetID := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(0), 100)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(1), 110)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// Re-deliver day 1 with a different close: the first write wins
	row, err := engine.Ingest(ctx, assetID, obs(assetID, day(1), 999))
	if err != nil {
		t.Fatalf("duplicate ingest: %v", err)
	}

	var stored float64
	if err := tdb.DB.Get(&stored, `SELECT price FROM observations WHERE asset_id = $1 AND ts = $2`, assetID, day(1)); err != nil {
		t.Fatalf("read stored price: %v", err)
	}
	if math.Abs(stored-110) > 1e-9 {
		t.Errorf("stored price = %v, want the original 110", stored)
	}

	if row.DailyReturn == nil || math.Abs(*row.DailyReturn-0.10) > 1e-9 {
		t.Errorf("daily_return = %v, want the original 0.10", row.DailyReturn)
	}
}

func TestEngine_LateDataRecomputesForward(t *testing.T) {
	engine, tdb, assetID := newTestEngine(t)
	ctx := context.Background()

	prices := []float64{100, 102, 101, 105, 103, 107, 110}

	// Ingest everything except day 3
	for i, p := range prices {
		if i == 3 {
			continue
		}
		if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(i), p)); err != nil {
			t.Fatalf("ingest day %d: %v", i, err)
		}
	}

	// The gap arrives late
	if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(3), prices[3])); err != nil {
		t.Fatalf("late ingest: %v", err)
	}

	// Every row now matches the full in-order series
	repo := NewRepository(tdb.DB)
	for i := range prices {
		got, err := repo.GetRow(ctx, assetID, day(i))
		if err != nil {
			t.Fatalf("get row day %d: %v", i, err)
		}
		if got == nil {
			t.Fatalf("missing row for day %d", i)
		}

		want := Compute(prices[:i+1], 7, 14)
		if (got.MA7d == nil) != (want.MA == nil) {
			t.Errorf("day %d MA presence mismatch", i)
			continue
		}
		if got.MA7d != nil && math.Abs(*got.MA7d-*want.MA) > 1e-9 {
			t.Errorf("day %d MA = %v, want %v", i, *got.MA7d, *want.MA)
		}
		if got.DailyReturn != nil && want.DailyReturn != nil &&
			math.Abs(*got.DailyReturn-*want.DailyReturn) > 1e-9 {
			t.Errorf("day %d daily_return = %v, want %v", i, *got.DailyReturn, *want.DailyReturn)
		}
	}

	if n := tdb.CountRows(t, "signal_checkpoints"); n != 0 {
		t.Errorf("checkpoint should be cleared after recompute, found %d", n)
	}
}

func TestEngine_LateDataDoesNotTouchEarlierRows(t *testing.T) {
	engine, tdb, assetID := newTestEngine(t)
	ctx := context.Background()

	for i, p := range []float64{100, 102, 101, 105, 103} {
		if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(i), p)); err != nil {
			t.Fatalf("ingest day %d: %v", i, err)
		}
	}

	repo := NewRepository(tdb.DB)
	before, err := repo.GetRow(ctx, assetID, day(1))
	if err != nil {
		t.Fatalf("get row: %v", err)
	}

	// Correct day 3; day 1 must be byte-for-byte unchanged
	if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(3), 104)); err != nil {
		t.Fatalf("correction: %v", err)
	}

	after, err := repo.GetRow(ctx, assetID, day(1))
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if *before.MA7d != *after.MA7d || before.Signal != after.Signal {
		t.Error("rows before the correction point must not change")
	}
}

func TestEngine_CheckpointBlocksReads(t *testing.T) {
	engine, tdb, assetID := newTestEngine(t)
	ctx := context.Background()

	if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(0), 100)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	repo := NewRepository(tdb.DB)
	if err := repo.MarkCheckpoint(ctx, assetID, day(0)); err != nil {
		t.Fatalf("mark checkpoint: %v", err)
	}

	if _, err := engine.LatestRow(ctx, assetID); !errors.Is(err, ErrInconsistentBackfill) {
		t.Errorf("pending checkpoint should block reads, got %v", err)
	}

	if err := repo.ClearCheckpoint(ctx, assetID); err != nil {
		t.Fatalf("clear checkpoint: %v", err)
	}

	row, err := engine.LatestRow(ctx, assetID)
	if err != nil || row == nil {
		t.Errorf("reads should resume after clear, got row=%v err=%v", row, err)
	}
}

func TestEngine_IngestBatchMatchesSequential(t *testing.T) {
	engine, tdb, assetID := newTestEngine(t)
	ctx := context.Background()

	prices := []float64{100, 102, 101, 105, 103, 107, 110, 108, 111, 109}

	batch := make([]models.Observation, len(prices))
	for i, p := range prices {
		batch[i] = *obs(assetID, day(i), p)
	}

	saved, err := engine.IngestBatch(ctx, assetID, batch)
	if err != nil {
		t.Fatalf("batch ingest: %v", err)
	}
	if saved != len(prices) {
		t.Errorf("saved = %d, want %d", saved, len(prices))
	}

	repo := NewRepository(tdb.DB)
	for i := range prices {
		got, err := repo.GetRow(ctx, assetID, day(i))
		if err != nil || got == nil {
			t.Fatalf("row day %d: %v", i, err)
		}

		want := Compute(prices[:i+1], 7, 14)
		if got.MA7d != nil && math.Abs(*got.MA7d-*want.MA) > 1e-9 {
			t.Errorf("day %d MA = %v, want %v", i, *got.MA7d, *want.MA)
		}
	}
}

func TestEngine_ResumeDirtyFinishesRecompute(t *testing.T) {
	engine, tdb, assetID := newTestEngine(t)
	ctx := context.Background()

	for i, p := range []float64{100, 102, 101, 105} {
		if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(i), p)); err != nil {
			t.Fatalf("ingest day %d: %v", i, err)
		}
	}

	// Simulate a crash mid-recompute: checkpoint left behind
	repo := NewRepository(tdb.DB)
	if err := repo.MarkCheckpoint(ctx, assetID, day(1)); err != nil {
		t.Fatalf("mark checkpoint: %v", err)
	}

	if err := engine.ResumeDirty(ctx); err != nil {
		t.Fatalf("resume dirty: %v", err)
	}

	if n := tdb.CountRows(t, "signal_checkpoints"); n != 0 {
		t.Errorf("resume should clear checkpoints, found %d", n)
	}
	if _, err := engine.LatestRow(ctx, assetID); err != nil {
		t.Errorf("reads should work after resume: %v", err)
	}
}

type fakeAssetTracker struct {
	recorded []time.Time
	swept    int64
	cutoffs  []time.Time
}

func (f *fakeAssetTracker) RecordObservedAt(ctx context.Context, assetID int64, ts time.Time) error {
	f.recorded = append(f.recorded, ts)
	return nil
}

func (f *fakeAssetTracker) DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.swept, nil
}

func TestEngine_IngestWidensSeenBounds(t *testing.T) {
	engine, _, assetID := newTestEngine(t)
	ctx := context.Background()

	tracker := &fakeAssetTracker{}
	engine.SetAssetTracker(tracker)

	if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(0), 100)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(1), 102)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	// A duplicate timestamp changes nothing and must not touch the bounds
	if _, err := engine.Ingest(ctx, assetID, obs(assetID, day(1), 900)); err != nil {
		t.Fatalf("duplicate ingest: %v", err)
	}

	if len(tracker.recorded) != 2 {
		t.Fatalf("recorded %d timestamps, want 2", len(tracker.recorded))
	}
	if !tracker.recorded[0].Equal(day(0)) || !tracker.recorded[1].Equal(day(1)) {
		t.Errorf("recorded %v, want observation timestamps", tracker.recorded)
	}
}

func TestEngine_SweepStale(t *testing.T) {
	cfg := testConfig()
	cfg.StalenessDays = 14
	engine := NewEngine(nil, nil, nil, redis.NewLocalLockFactory(), cfg, nil)

	tracker := &fakeAssetTracker{swept: 3}
	engine.SetAssetTracker(tracker)

	swept, err := engine.SweepStale(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 3 {
		t.Errorf("swept = %d, want 3", swept)
	}
	if len(tracker.cutoffs) != 1 {
		t.Fatalf("sweep calls = %d, want 1", len(tracker.cutoffs))
	}
	wantCutoff := time.Now().AddDate(0, 0, -14)
	if diff := tracker.cutoffs[0].Sub(wantCutoff); diff < -time.Minute || diff > time.Minute {
		t.Errorf("cutoff = %v, want about %v", tracker.cutoffs[0], wantCutoff)
	}
}

func TestEngine_SweepStaleDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.StalenessDays = 0
	engine := NewEngine(nil, nil, nil, redis.NewLocalLockFactory(), cfg, nil)

	tracker := &fakeAssetTracker{swept: 3}
	engine.SetAssetTracker(tracker)

	swept, err := engine.SweepStale(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 0 {
		t.Errorf("swept = %d, want 0 when disabled", swept)
	}
	if len(tracker.cutoffs) != 0 {
		t.Errorf("disabled sweep must not reach the store, calls = %d", len(tracker.cutoffs))
	}
}
