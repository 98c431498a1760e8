package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
)

// Repository handles asset, source and category catalog storage
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates new catalog repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// NormalizeSymbol returns the canonical form used as the asset identity
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// UpsertAsset registers an asset or refreshes its catalog row. Name and
// slug only overwrite when the new value is non-empty. The seen bounds
// are not touched here: RecordObservedAt maintains them from observation
// timestamps.
func (r *Repository) UpsertAsset(ctx context.Context, symbol, name, slug string) (*models.Asset, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("asset symbol must not be empty")
	}

	query := `
		INSERT INTO assets (symbol, name, slug, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'active', NOW(), NOW())
		ON CONFLICT (symbol) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), assets.name),
			slug = COALESCE(NULLIF(EXCLUDED.slug, ''), assets.slug),
			updated_at = NOW()
		RETURNING id, symbol, name, slug, status, first_seen_at, last_seen_at, created_at, updated_at
	`

	var asset models.Asset
	if err := r.db.GetContext(ctx, &asset, query, symbol, name, slug); err != nil {
		return nil, fmt.Errorf("failed to upsert asset: %w", err)
	}

	return &asset, nil
}

// RecordObservedAt widens an asset's seen bounds to cover an observation
// timestamp. The bounds track data coverage, not wall clock, so a
// backfilled history pushes first_seen_at into the past. Fresh data also
// reactivates a swept asset.
func (r *Repository) RecordObservedAt(ctx context.Context, assetID int64, ts time.Time) error {
	query := `
		UPDATE assets
		SET first_seen_at = LEAST(first_seen_at, $2),
			last_seen_at = GREATEST(last_seen_at, $2),
			status = 'active',
			updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, assetID, ts); err != nil {
		return fmt.Errorf("failed to record asset observation bounds: %w", err)
	}

	return nil
}

// GetAssetBySymbol returns the asset for a symbol, nil when unknown
func (r *Repository) GetAssetBySymbol(ctx context.Context, symbol string) (*models.Asset, error) {
	query := `
		SELECT id, symbol, name, slug, status, first_seen_at, last_seen_at, created_at, updated_at
		FROM assets
		WHERE symbol = $1
	`

	var asset models.Asset
	err := r.db.GetContext(ctx, &asset, query, NormalizeSymbol(symbol))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}

	return &asset, nil
}

// GetAssetByID returns the asset row for an id, nil when unknown
func (r *Repository) GetAssetByID(ctx context.Context, id int64) (*models.Asset, error) {
	query := `
		SELECT id, symbol, name, slug, status, first_seen_at, last_seen_at, created_at, updated_at
		FROM assets
		WHERE id = $1
	`

	var asset models.Asset
	err := r.db.GetContext(ctx, &asset, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset by id: %w", err)
	}

	return &asset, nil
}

// ListActiveAssets returns all active assets ordered by symbol
func (r *Repository) ListActiveAssets(ctx context.Context) ([]models.Asset, error) {
	query := `
		SELECT id, symbol, name, slug, status, first_seen_at, last_seen_at, created_at, updated_at
		FROM assets
		WHERE status = 'active'
		ORDER BY symbol
	`

	assets := []models.Asset{}
	if err := r.db.SelectContext(ctx, &assets, query); err != nil {
		return nil, fmt.Errorf("failed to list active assets: %w", err)
	}

	return assets, nil
}

// DeactivateAsset marks an asset inactive without touching its history
func (r *Repository) DeactivateAsset(ctx context.Context, id int64) error {
	query := `UPDATE assets SET status = 'inactive', updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to deactivate asset: %w", err)
	}

	return nil
}

// DeactivateStale marks active assets with no observation since the
// cutoff inactive, returning how many were swept. Assets that never
// produced an observation age out by registration time.
func (r *Repository) DeactivateStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE assets
		SET status = 'inactive', updated_at = NOW()
		WHERE status = 'active' AND COALESCE(last_seen_at, created_at) < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate stale assets: %w", err)
	}

	swept, _ := result.RowsAffected()
	return swept, nil
}

// DeleteAsset removes an asset and everything owned by it in one
// transaction: observations, signals, checkpoint, mentions, metadata.
func (r *Repository) DeleteAsset(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	statements := []string{
		`DELETE FROM asset_mentions WHERE asset_id = $1`,
		`DELETE FROM signal_checkpoints WHERE asset_id = $1`,
		`DELETE FROM signals WHERE asset_id = $1`,
		`DELETE FROM observations WHERE asset_id = $1`,
		`DELETE FROM asset_metadata WHERE asset_id = $1`,
		`DELETE FROM assets WHERE id = $1`,
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete asset data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	logger.Info("asset deleted with history", zap.Int64("asset_id", id))

	return nil
}

// UpsertMetadata stores descriptive fields, preserving existing values
// when the incoming ones are empty
func (r *Repository) UpsertMetadata(ctx context.Context, md *models.AssetMetadata) error {
	query := `
		INSERT INTO asset_metadata (asset_id, logo_url, website_url, technical_doc, description, category, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (asset_id) DO UPDATE SET
			logo_url = COALESCE(NULLIF(EXCLUDED.logo_url, ''), asset_metadata.logo_url),
			website_url = COALESCE(NULLIF(EXCLUDED.website_url, ''), asset_metadata.website_url),
			technical_doc = COALESCE(NULLIF(EXCLUDED.technical_doc, ''), asset_metadata.technical_doc),
			description = COALESCE(NULLIF(EXCLUDED.description, ''), asset_metadata.description),
			category = COALESCE(NULLIF(EXCLUDED.category, ''), asset_metadata.category),
			updated_at = NOW()
	`

	_, err := r.db.ExecContext(ctx, query,
		md.AssetID, md.LogoURL, md.WebsiteURL, md.TechnicalDoc, md.Description, md.Category,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert asset metadata: %w", err)
	}

	return nil
}

// GetMetadata returns the metadata row for an asset, nil when absent
func (r *Repository) GetMetadata(ctx context.Context, assetID int64) (*models.AssetMetadata, error) {
	query := `
		SELECT asset_id, logo_url, website_url, technical_doc, description, category, updated_at
		FROM asset_metadata
		WHERE asset_id = $1
	`

	var md models.AssetMetadata
	err := r.db.GetContext(ctx, &md, query, assetID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset metadata: %w", err)
	}

	return &md, nil
}

// UpsertSource registers a news source by unique name
func (r *Repository) UpsertSource(ctx context.Context, name, url string, sourceType models.SourceType) (*models.NewsSource, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("source name must not be empty")
	}

	query := `
		INSERT INTO news_sources (name, url, source_type, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (name) DO UPDATE SET
			url = COALESCE(NULLIF(EXCLUDED.url, ''), news_sources.url),
			source_type = EXCLUDED.source_type
		RETURNING id, name, url, source_type, reliability_score, created_at
	`

	var source models.NewsSource
	if err := r.db.GetContext(ctx, &source, query, name, url, sourceType); err != nil {
		return nil, fmt.Errorf("failed to upsert news source: %w", err)
	}

	return &source, nil
}

// GetSourceByName returns a source, nil when unknown
func (r *Repository) GetSourceByName(ctx context.Context, name string) (*models.NewsSource, error) {
	query := `
		SELECT id, name, url, source_type, reliability_score, created_at
		FROM news_sources
		WHERE name = $1
	`

	var source models.NewsSource
	err := r.db.GetContext(ctx, &source, query, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get news source: %w", err)
	}

	return &source, nil
}

// ListSources returns all registered sources
func (r *Repository) ListSources(ctx context.Context) ([]models.NewsSource, error) {
	query := `
		SELECT id, name, url, source_type, reliability_score, created_at
		FROM news_sources
		ORDER BY name
	`

	sources := []models.NewsSource{}
	if err := r.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("failed to list news sources: %w", err)
	}

	return sources, nil
}

// UpsertCategory registers a topic bucket by unique name
func (r *Repository) UpsertCategory(ctx context.Context, name, description string) (*models.NewsCategory, error) {
	query := `
		INSERT INTO news_categories (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET
			description = COALESCE(NULLIF(EXCLUDED.description, ''), news_categories.description)
		RETURNING id, name, description
	`

	var category models.NewsCategory
	if err := r.db.GetContext(ctx, &category, query, name, description); err != nil {
		return nil, fmt.Errorf("failed to upsert category: %w", err)
	}

	return &category, nil
}

// ListCategories returns all categories
func (r *Repository) ListCategories(ctx context.Context) ([]models.NewsCategory, error) {
	query := `SELECT id, name, description FROM news_categories ORDER BY name`

	categories := []models.NewsCategory{}
	if err := r.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	return categories, nil
}
