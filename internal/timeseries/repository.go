package timeseries

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/omnifin/finsight/pkg/models"
)

const observationColumns = `
	asset_id, ts, price, market_cap, volume_24h,
	pct_change_1h, pct_change_24h, pct_change_7d,
	circulating_supply, total_supply, max_supply, ingested_at
`

// Repository handles observation storage. Validation happens in the signal
// engine; the store keeps the first row written per (asset_id, ts) and
// treats re-ingestion at an existing timestamp as a no-op.
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new timeseries repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

const insertObservationSQL = `
	INSERT INTO observations (
		asset_id, ts, price, market_cap, volume_24h,
		pct_change_1h, pct_change_24h, pct_change_7d,
		circulating_supply, total_supply, max_supply, ingested_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	ON CONFLICT (asset_id, ts) DO NOTHING
`

// InsertObservation stores a single observation. Returns false when a row
// already exists at (asset_id, ts); the stored row is left untouched.
func (r *Repository) InsertObservation(ctx context.Context, obs *models.Observation) (bool, error) {
	result, err := r.db.ExecContext(ctx, insertObservationSQL,
		obs.AssetID, obs.Timestamp, obs.Price, obs.MarketCap, obs.Volume24h,
		obs.PctChange1h, obs.PctChange24h, obs.PctChange7d,
		obs.CirculatingSupply, obs.TotalSupply, obs.MaxSupply,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert observation: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// InsertObservationTx stores an observation inside a caller-owned
// transaction, so a signal row can commit atomically with it. Returns
// false on a duplicate (asset_id, ts).
func InsertObservationTx(ctx context.Context, tx *sqlx.Tx, obs *models.Observation) (bool, error) {
	result, err := tx.ExecContext(ctx, insertObservationSQL,
		obs.AssetID, obs.Timestamp, obs.Price, obs.MarketCap, obs.Volume24h,
		obs.PctChange1h, obs.PctChange24h, obs.PctChange7d,
		obs.CirculatingSupply, obs.TotalSupply, obs.MaxSupply,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert observation: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// InsertBatch stores many observations in one transaction, skipping
// timestamps that already hold a row. Returns the number actually
// inserted.
func (r *Repository) InsertBatch(ctx context.Context, observations []models.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertObservationSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	saved := 0
	for _, obs := range observations {
		result, err := stmt.ExecContext(ctx,
			obs.AssetID, obs.Timestamp, obs.Price, obs.MarketCap, obs.Volume24h,
			obs.PctChange1h, obs.PctChange24h, obs.PctChange7d,
			obs.CirculatingSupply, obs.TotalSupply, obs.MaxSupply,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert observation in batch: %w", err)
		}
		if affected, _ := result.RowsAffected(); affected > 0 {
			saved++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	return saved, nil
}

// GetWindowBefore returns the trailing n observations at or before ts in
// ascending order
func (r *Repository) GetWindowBefore(ctx context.Context, assetID int64, ts time.Time, n int) ([]models.Observation, error) {
	query := `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE asset_id = $1 AND ts <= $2
		ORDER BY ts DESC
		LIMIT $3
	`

	observations := []models.Observation{}
	if err := r.db.SelectContext(ctx, &observations, query, assetID, ts, n); err != nil {
		return nil, fmt.Errorf("failed to query trailing window: %w", err)
	}

	// Reverse to chronological order (oldest first)
	for i, j := 0, len(observations)-1; i < j; i, j = i+1, j-1 {
		observations[i], observations[j] = observations[j], observations[i]
	}

	return observations, nil
}

// GetWindowStrictlyBefore returns the trailing n observations strictly
// before ts in ascending order. Used to seed a recompute window without
// the row being recomputed.
func (r *Repository) GetWindowStrictlyBefore(ctx context.Context, assetID int64, ts time.Time, n int) ([]models.Observation, error) {
	if n <= 0 {
		return []models.Observation{}, nil
	}

	query := `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE asset_id = $1 AND ts < $2
		ORDER BY ts DESC
		LIMIT $3
	`

	observations := []models.Observation{}
	if err := r.db.SelectContext(ctx, &observations, query, assetID, ts, n); err != nil {
		return nil, fmt.Errorf("failed to query leading window: %w", err)
	}

	for i, j := 0, len(observations)-1; i < j; i, j = i+1, j-1 {
		observations[i], observations[j] = observations[j], observations[i]
	}

	return observations, nil
}

// GetAfter returns up to limit observations strictly after ts, ascending
func (r *Repository) GetAfter(ctx context.Context, assetID int64, after time.Time, limit int) ([]models.Observation, error) {
	query := `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE asset_id = $1 AND ts > $2
		ORDER BY ts ASC
		LIMIT $3
	`

	observations := []models.Observation{}
	if err := r.db.SelectContext(ctx, &observations, query, assetID, after, limit); err != nil {
		return nil, fmt.Errorf("failed to query observations after timestamp: %w", err)
	}

	return observations, nil
}

// GetFrom returns up to limit observations from ts forward in ascending
// order. limit <= 0 means no cap.
func (r *Repository) GetFrom(ctx context.Context, assetID int64, from time.Time, limit int) ([]models.Observation, error) {
	query := `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE asset_id = $1 AND ts >= $2
		ORDER BY ts ASC
	`

	args := []interface{}{assetID, from}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	observations := []models.Observation{}
	if err := r.db.SelectContext(ctx, &observations, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query observations from timestamp: %w", err)
	}

	return observations, nil
}

// LatestObservation returns the newest observation for an asset, nil when
// the asset has no history
func (r *Repository) LatestObservation(ctx context.Context, assetID int64) (*models.Observation, error) {
	query := `
		SELECT ` + observationColumns + `
		FROM observations
		WHERE asset_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`

	var obs models.Observation
	err := r.db.GetContext(ctx, &obs, query, assetID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest observation: %w", err)
	}

	return &obs, nil
}

// MaxTimestamp returns the newest observation timestamp, nil for an empty
// history
func (r *Repository) MaxTimestamp(ctx context.Context, assetID int64) (*time.Time, error) {
	query := `SELECT MAX(ts) FROM observations WHERE asset_id = $1`

	var ts sql.NullTime
	if err := r.db.GetContext(ctx, &ts, query, assetID); err != nil {
		return nil, fmt.Errorf("failed to get max observation timestamp: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}

	return &ts.Time, nil
}

// GetRecentPrices returns the last limit close prices ascending, as floats
// for indicator math
func (r *Repository) GetRecentPrices(ctx context.Context, assetID int64, limit int) ([]float64, error) {
	query := `
		SELECT price FROM (
			SELECT price, ts
			FROM observations
			WHERE asset_id = $1
			ORDER BY ts DESC
			LIMIT $2
		) w
		ORDER BY ts ASC
	`

	prices := []float64{}
	if err := r.db.SelectContext(ctx, &prices, query, assetID, limit); err != nil {
		return nil, fmt.Errorf("failed to query recent prices: %w", err)
	}

	return prices, nil
}

// DeleteOlderThan removes observations before the cutoff, returning the
// number of rows dropped
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM observations WHERE ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old observations: %w", err)
	}

	deleted, _ := result.RowsAffected()
	return deleted, nil
}

// CountForAsset returns the observation count for an asset
func (r *Repository) CountForAsset(ctx context.Context, assetID int64) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM observations WHERE asset_id = $1`, assetID)
	if err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}

	return count, nil
}
