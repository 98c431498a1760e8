package signal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/omnifin/finsight/pkg/models"
)

// Repository handles signal row and checkpoint storage
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new signal repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const upsertSignalSQL = `
	INSERT INTO signals (asset_id, ts, daily_return, ma_7d, std_7d, rsi, signal)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (asset_id, ts) DO UPDATE SET
		daily_return = EXCLUDED.daily_return,
		ma_7d = EXCLUDED.ma_7d,
		std_7d = EXCLUDED.std_7d,
		rsi = EXCLUDED.rsi,
		signal = EXCLUDED.signal
`

// UpsertRowTx stores one signal row inside a caller-owned transaction
func UpsertRowTx(ctx context.Context, tx *sqlx.Tx, row *models.SignalRow) error {
	_, err := tx.ExecContext(ctx, upsertSignalSQL,
		row.AssetID, row.Timestamp, row.DailyReturn, row.MA7d, row.Std7d, row.RSI, row.Signal,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert signal row: %w", err)
	}

	return nil
}

// GetRow returns the signal row at an exact timestamp, nil when absent
func (r *Repository) GetRow(ctx context.Context, assetID int64, ts time.Time) (*models.SignalRow, error) {
	query := `
		SELECT asset_id, ts, daily_return, ma_7d, std_7d, rsi, signal
		FROM signals
		WHERE asset_id = $1 AND ts = $2
	`

	var row models.SignalRow
	err := r.db.GetContext(ctx, &row, query, assetID, ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal row: %w", err)
	}

	return &row, nil
}

// LatestRow returns the newest signal row for an asset, nil when the
// asset has no signal history
func (r *Repository) LatestRow(ctx context.Context, assetID int64) (*models.SignalRow, error) {
	query := `
		SELECT asset_id, ts, daily_return, ma_7d, std_7d, rsi, signal
		FROM signals
		WHERE asset_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`

	var row models.SignalRow
	err := r.db.GetContext(ctx, &row, query, assetID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest signal row: %w", err)
	}

	return &row, nil
}

// GetRows returns signal rows for an asset in a time range, ascending
func (r *Repository) GetRows(ctx context.Context, assetID int64, from, to time.Time) ([]models.SignalRow, error) {
	query := `
		SELECT asset_id, ts, daily_return, ma_7d, std_7d, rsi, signal
		FROM signals
		WHERE asset_id = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC
	`

	rows := []models.SignalRow{}
	if err := r.db.SelectContext(ctx, &rows, query, assetID, from, to); err != nil {
		return nil, fmt.Errorf("failed to query signal rows: %w", err)
	}

	return rows, nil
}

// MarkCheckpoint creates or refreshes the dirty marker for an asset.
// dirty_since only moves backwards so overlapping corrections widen the
// recompute range instead of shrinking it.
func (r *Repository) MarkCheckpoint(ctx context.Context, assetID int64, dirtySince time.Time) error {
	query := `
		INSERT INTO signal_checkpoints (asset_id, dirty_since, resume_from, updated_at)
		VALUES ($1, $2, $2, NOW())
		ON CONFLICT (asset_id) DO UPDATE SET
			dirty_since = LEAST(signal_checkpoints.dirty_since, EXCLUDED.dirty_since),
			resume_from = LEAST(signal_checkpoints.resume_from, EXCLUDED.resume_from),
			updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query, assetID, dirtySince); err != nil {
		return fmt.Errorf("failed to mark signal checkpoint: %w", err)
	}

	return nil
}

// AdvanceCheckpointTx moves resume_from forward inside a recompute batch
// transaction so a cancelled run restarts at the batch boundary
func AdvanceCheckpointTx(ctx context.Context, tx *sqlx.Tx, assetID int64, resumeFrom time.Time) error {
	query := `
		UPDATE signal_checkpoints
		SET resume_from = $2, updated_at = NOW()
		WHERE asset_id = $1
	`

	if _, err := tx.ExecContext(ctx, query, assetID, resumeFrom); err != nil {
		return fmt.Errorf("failed to advance signal checkpoint: %w", err)
	}

	return nil
}

// ClearCheckpoint removes the dirty marker once recompute completes
func (r *Repository) ClearCheckpoint(ctx context.Context, assetID int64) error {
	query := `DELETE FROM signal_checkpoints WHERE asset_id = $1`

	if _, err := r.db.ExecContext(ctx, query, assetID); err != nil {
		return fmt.Errorf("failed to clear signal checkpoint: %w", err)
	}

	return nil
}

// DeleteOlderThan prunes signal rows past the retention horizon
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM signals WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old signal rows: %w", err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// GetCheckpoint returns the checkpoint row for an asset, nil when the
// asset's signal history is clean
func (r *Repository) GetCheckpoint(ctx context.Context, assetID int64) (*models.SignalCheckpoint, error) {
	query := `
		SELECT asset_id, dirty_since, resume_from, updated_at
		FROM signal_checkpoints
		WHERE asset_id = $1
	`

	var cp models.SignalCheckpoint
	err := r.db.GetContext(ctx, &cp, query, assetID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get signal checkpoint: %w", err)
	}

	return &cp, nil
}

// ListCheckpoints returns every dirty asset, oldest first. Used on
// startup to finish recomputes a previous run left behind.
func (r *Repository) ListCheckpoints(ctx context.Context) ([]models.SignalCheckpoint, error) {
	query := `
		SELECT asset_id, dirty_since, resume_from, updated_at
		FROM signal_checkpoints
		ORDER BY dirty_since ASC
	`

	checkpoints := []models.SignalCheckpoint{}
	if err := r.db.SelectContext(ctx, &checkpoints, query); err != nil {
		return nil, fmt.Errorf("failed to list signal checkpoints: %w", err)
	}

	return checkpoints, nil
}
