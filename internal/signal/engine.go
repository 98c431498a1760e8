package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/adapters/config"
	"github.com/omnifin/finsight/internal/adapters/redis"
	"github.com/omnifin/finsight/internal/timeseries"
	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/metrics"
	"github.com/omnifin/finsight/pkg/models"
)

// Invalidator drops cached query views after the engine rewrites an
// asset's signal state
type Invalidator interface {
	InvalidateSignal(ctx context.Context, assetID int64)
}

// AssetTracker maintains catalog lifecycle state the engine owns the
// policy for: observation-derived seen bounds and the staleness sweep.
type AssetTracker interface {
	RecordObservedAt(ctx context.Context, assetID int64, ts time.Time) error
	DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Engine derives one signal row per observation. All writes for one
// asset run under that asset's lock; different assets proceed in
// parallel.
type Engine struct {
	db            *sqlx.DB
	observations  *timeseries.Repository
	signals       *Repository
	locks         redis.LockFactory
	cfg           config.SignalsConfig
	metricsBuffer metrics.Buffer
	invalidator   Invalidator
	assets        AssetTracker
}

// NewEngine creates new signal engine. metricsBuffer and invalidator
// are optional.
func NewEngine(
	db *sqlx.DB,
	observations *timeseries.Repository,
	signals *Repository,
	locks redis.LockFactory,
	cfg config.SignalsConfig,
	metricsBuffer metrics.Buffer,
) *Engine {
	return &Engine{
		db:            db,
		observations:  observations,
		signals:       signals,
		locks:         locks,
		cfg:           cfg,
		metricsBuffer: metricsBuffer,
	}
}

// SetInvalidator wires a cache invalidator after construction
func (e *Engine) SetInvalidator(inv Invalidator) {
	e.invalidator = inv
}

// SetAssetTracker wires the catalog lifecycle collaborator after
// construction
func (e *Engine) SetAssetTracker(tracker AssetTracker) {
	e.assets = tracker
}

// warmup is the observation count needed to seed every analytic: the MA
// window and one extra point beyond the RSI delta window.
func (e *Engine) warmup() int {
	w := e.cfg.MAWindow
	if e.cfg.RSIWindow+1 > w {
		w = e.cfg.RSIWindow + 1
	}
	return w
}

// Ingest stores one observation and emits its signal row. In-order
// arrivals compute a single row; late timestamps trigger
// recompute-forward from the correction point so every downstream row
// stays consistent. Re-ingesting a timestamp that already holds an
// observation is a no-op: the stored row wins and no recompute runs.
func (e *Engine) Ingest(ctx context.Context, assetID int64, obs *models.Observation) (*models.SignalRow, error) {
	if err := validate(obs); err != nil {
		return nil, err
	}
	obs.AssetID = assetID

	lock, err := e.acquireLock(ctx, assetID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	started := time.Now()

	maxTs, err := e.observations.MaxTimestamp(ctx, assetID)
	if err != nil {
		return nil, err
	}

	checkpoint, err := e.signals.GetCheckpoint(ctx, assetID)
	if err != nil {
		return nil, err
	}

	inOrder := checkpoint == nil && (maxTs == nil || obs.Timestamp.After(*maxTs))

	var row *models.SignalRow
	changed := true
	if inOrder {
		row, err = e.ingestInOrder(ctx, obs)
	} else {
		row, changed, err = e.ingestCorrection(ctx, obs, checkpoint)
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return row, nil
	}

	e.recordSeen(ctx, assetID, obs.Timestamp)
	e.afterWrite(ctx, assetID, started, inOrder)

	return row, nil
}

// IngestBatch stores many observations for one asset under a single
// lock, then recomputes forward from the earliest of them once
func (e *Engine) IngestBatch(ctx context.Context, assetID int64, observations []models.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	minTs := observations[0].Timestamp
	maxTs := observations[0].Timestamp
	for i := range observations {
		if err := validate(&observations[i]); err != nil {
			return 0, err
		}
		observations[i].AssetID = assetID
		if observations[i].Timestamp.Before(minTs) {
			minTs = observations[i].Timestamp
		}
		if observations[i].Timestamp.After(maxTs) {
			maxTs = observations[i].Timestamp
		}
	}

	lock, err := e.acquireLock(ctx, assetID)
	if err != nil {
		return 0, err
	}
	defer lock.Release(ctx)

	started := time.Now()

	saved, err := e.observations.InsertBatch(ctx, observations)
	if err != nil {
		return 0, err
	}
	if saved == 0 {
		// Every timestamp was already stored; nothing changed.
		return 0, nil
	}

	if err := e.signals.MarkCheckpoint(ctx, assetID, minTs); err != nil {
		return saved, err
	}
	if err := e.recomputeForward(ctx, assetID, minTs); err != nil {
		return saved, err
	}
	if err := e.signals.ClearCheckpoint(ctx, assetID); err != nil {
		return saved, err
	}

	e.recordSeen(ctx, assetID, minTs)
	e.recordSeen(ctx, assetID, maxTs)
	e.afterWrite(ctx, assetID, started, false)

	return saved, nil
}

// Recompute rebuilds every signal row from a timestamp forward. The
// checkpoint row guards readers for the duration; a cancelled run leaves
// it in place so the next call resumes at the last committed batch.
func (e *Engine) Recompute(ctx context.Context, assetID int64, from time.Time) error {
	lock, err := e.acquireLock(ctx, assetID)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	if err := e.signals.MarkCheckpoint(ctx, assetID, from); err != nil {
		return err
	}
	if err := e.recomputeForward(ctx, assetID, from); err != nil {
		return err
	}
	if err := e.signals.ClearCheckpoint(ctx, assetID); err != nil {
		return err
	}

	if e.invalidator != nil {
		e.invalidator.InvalidateSignal(ctx, assetID)
	}

	return nil
}

// RecomputeAll rebuilds an asset's full signal history
func (e *Engine) RecomputeAll(ctx context.Context, assetID int64) error {
	return e.Recompute(ctx, assetID, time.Time{})
}

// ResumeDirty finishes recomputes an earlier run left behind. Called on
// startup before the asset's signals can be served again.
func (e *Engine) ResumeDirty(ctx context.Context) error {
	checkpoints, err := e.signals.ListCheckpoints(ctx)
	if err != nil {
		return err
	}

	for _, cp := range checkpoints {
		resumeFrom := cp.DirtySince
		if cp.ResumeFrom != nil {
			resumeFrom = *cp.ResumeFrom
		}

		logger.Info("resuming interrupted signal recompute",
			zap.Int64("asset_id", cp.AssetID),
			zap.Time("resume_from", resumeFrom),
		)

		if err := e.Recompute(ctx, cp.AssetID, resumeFrom); err != nil {
			return fmt.Errorf("failed to resume recompute for asset %d: %w", cp.AssetID, err)
		}
	}

	return nil
}

// SweepStale deactivates assets with no observation inside the
// configured staleness window. The engine owns the policy; the cleanup
// worker schedules the sweep.
func (e *Engine) SweepStale(ctx context.Context) (int64, error) {
	if e.assets == nil || e.cfg.StalenessDays <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -e.cfg.StalenessDays)
	swept, err := e.assets.DeactivateStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if swept > 0 {
		logger.Info("stale assets deactivated",
			zap.Int64("count", swept),
			zap.Time("cutoff", cutoff),
		)
	}

	return swept, nil
}

// LatestRow returns the newest signal row for an asset, refusing to
// serve while a recompute checkpoint is pending
func (e *Engine) LatestRow(ctx context.Context, assetID int64) (*models.SignalRow, error) {
	checkpoint, err := e.signals.GetCheckpoint(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if checkpoint != nil {
		return nil, ErrInconsistentBackfill
	}

	return e.signals.LatestRow(ctx, assetID)
}

// ingestInOrder appends the newest observation: one window read, then
// observation and signal row commit together.
func (e *Engine) ingestInOrder(ctx context.Context, obs *models.Observation) (*models.SignalRow, error) {
	history, err := e.observations.GetWindowStrictlyBefore(ctx, obs.AssetID, obs.Timestamp, e.warmup()-1)
	if err != nil {
		return nil, err
	}

	prices := make([]float64, 0, len(history)+1)
	for _, h := range history {
		p, _ := h.Price.Float64()
		prices = append(prices, p)
	}
	p, _ := obs.Price.Float64()
	prices = append(prices, p)

	row := e.deriveRow(obs.AssetID, obs.Timestamp, prices)

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := timeseries.InsertObservationTx(ctx, tx, obs); err != nil {
		return nil, err
	}
	if err := UpsertRowTx(ctx, tx, row); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	return row, nil
}

// ingestCorrection handles late timestamps: the checkpoint marks the
// asset dirty before any signal row changes, then the whole affected
// suffix is recomputed. Rows before the correction point are untouched.
// A timestamp that already holds an observation inserts nothing and
// recomputes nothing; the existing signal row is returned as-is.
func (e *Engine) ingestCorrection(ctx context.Context, obs *models.Observation, checkpoint *models.SignalCheckpoint) (*models.SignalRow, bool, error) {
	inserted, err := e.observations.InsertObservation(ctx, obs)
	if err != nil {
		return nil, false, err
	}
	if !inserted && checkpoint == nil {
		row, err := e.signals.GetRow(ctx, obs.AssetID, obs.Timestamp)
		return row, false, err
	}

	from := obs.Timestamp
	if checkpoint != nil && checkpoint.DirtySince.Before(from) {
		from = checkpoint.DirtySince
	}

	if err := e.signals.MarkCheckpoint(ctx, obs.AssetID, from); err != nil {
		return nil, false, err
	}
	if err := e.recomputeForward(ctx, obs.AssetID, from); err != nil {
		return nil, false, err
	}
	if err := e.signals.ClearCheckpoint(ctx, obs.AssetID); err != nil {
		return nil, false, err
	}

	logger.Debug("late observation corrected forward",
		zap.Int64("asset_id", obs.AssetID),
		zap.Time("from", from),
	)

	row, err := e.signals.GetRow(ctx, obs.AssetID, obs.Timestamp)
	return row, true, err
}

// recomputeForward rederives signal rows from a timestamp onward in
// batches. Each batch commits its rows together with the checkpoint
// advance, so cancellation never splits a window.
func (e *Engine) recomputeForward(ctx context.Context, assetID int64, from time.Time) error {
	history, err := e.observations.GetWindowStrictlyBefore(ctx, assetID, from, e.warmup()-1)
	if err != nil {
		return err
	}

	prices := make([]float64, 0, e.warmup())
	for _, h := range history {
		p, _ := h.Price.Float64()
		prices = append(prices, p)
	}

	cursor := from
	first := true

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("recompute cancelled: %w", err)
		}

		var batch []models.Observation
		if first {
			batch, err = e.observations.GetFrom(ctx, assetID, cursor, e.cfg.RecomputeBatch)
			first = false
		} else {
			batch, err = e.observations.GetAfter(ctx, assetID, cursor, e.cfg.RecomputeBatch)
		}
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		tx, err := e.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		for i := range batch {
			p, _ := batch[i].Price.Float64()
			prices = append(prices, p)
			if len(prices) > e.warmup() {
				prices = prices[1:]
			}

			row := e.deriveRow(assetID, batch[i].Timestamp, prices)
			if err := UpsertRowTx(ctx, tx, row); err != nil {
				tx.Rollback()
				return err
			}
		}

		cursor = batch[len(batch)-1].Timestamp
		if err := AdvanceCheckpointTx(ctx, tx, assetID, cursor); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit recompute batch: %w", err)
		}

		if len(batch) < e.cfg.RecomputeBatch {
			return nil
		}
	}
}

// deriveRow computes analytics over an ascending price series ending at
// ts and classifies the result
func (e *Engine) deriveRow(assetID int64, ts time.Time, prices []float64) *models.SignalRow {
	analytics := Compute(prices, e.cfg.MAWindow, e.cfg.RSIWindow)
	verdict := Classify(analytics, prices[len(prices)-1], Thresholds{
		Overbought:        e.cfg.RSIOverbought,
		Oversold:          e.cfg.RSIOversold,
		TrendConfirmation: e.cfg.TrendConfirmation,
	})

	return &models.SignalRow{
		AssetID:     assetID,
		Timestamp:   ts,
		DailyReturn: analytics.DailyReturn,
		MA7d:        analytics.MA,
		Std7d:       analytics.Std,
		RSI:         analytics.RSI,
		Signal:      verdict,
	}
}

// acquireLock takes the per-asset lock, retrying with linear backoff
// before giving up with ErrStaleWindowConflict
func (e *Engine) acquireLock(ctx context.Context, assetID int64) (redis.AssetLock, error) {
	lock := e.locks.CreateAssetLock(assetID)

	attempts := e.cfg.LockRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			case <-ctx.Done():
				return nil, fmt.Errorf("context cancelled acquiring asset lock: %w", ctx.Err())
			}
		}

		acquired, err := lock.TryAcquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire asset lock: %w", err)
		}
		if acquired {
			return lock, nil
		}
	}

	return nil, fmt.Errorf("%w: asset %d", ErrStaleWindowConflict, assetID)
}

// recordSeen widens the asset's catalog bounds to cover an ingested
// timestamp. Failures are logged, not fatal: the observation is already
// committed.
func (e *Engine) recordSeen(ctx context.Context, assetID int64, ts time.Time) {
	if e.assets == nil {
		return
	}
	if err := e.assets.RecordObservedAt(ctx, assetID, ts); err != nil {
		logger.Warn("failed to record asset seen bounds",
			zap.Int64("asset_id", assetID),
			zap.Error(err),
		)
	}
}

func (e *Engine) afterWrite(ctx context.Context, assetID int64, started time.Time, inOrder bool) {
	if e.invalidator != nil {
		e.invalidator.InvalidateSignal(ctx, assetID)
	}

	if e.metricsBuffer != nil {
		if err := e.metricsBuffer.Add(&metrics.IngestMetric{
			Timestamp:  time.Now(),
			AssetID:    assetID,
			DurationMs: float64(time.Since(started).Microseconds()) / 1000,
			InOrder:    inOrder,
		}); err != nil {
			logger.Debug("failed to record ingest metric", zap.Error(err))
		}
	}
}

func validate(obs *models.Observation) error {
	if obs == nil {
		return fmt.Errorf("%w: nil observation", ErrInvalidObservation)
	}
	if obs.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrInvalidObservation)
	}
	if !obs.Price.IsPositive() {
		return fmt.Errorf("%w: non-positive price %s", ErrInvalidObservation, obs.Price)
	}
	return nil
}
