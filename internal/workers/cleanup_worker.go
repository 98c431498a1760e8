package workers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/content"
	"github.com/omnifin/finsight/internal/signal"
	"github.com/omnifin/finsight/internal/timeseries"
	"github.com/omnifin/finsight/pkg/logger"
)

// CleanupWorker prunes observations, signal rows and articles past the
// retention horizon, and runs the engine's asset staleness sweep.
// Retention of zero days disables pruning.
type CleanupWorker struct {
	observations  *timeseries.Repository
	signals       *signal.Repository
	articles      *content.Repository
	engine        *signal.Engine
	retentionDays int
}

// NewCleanupWorker creates new cleanup worker
func NewCleanupWorker(
	observations *timeseries.Repository,
	signals *signal.Repository,
	articles *content.Repository,
	engine *signal.Engine,
	retentionDays int,
) *CleanupWorker {
	return &CleanupWorker{
		observations:  observations,
		signals:       signals,
		articles:      articles,
		engine:        engine,
		retentionDays: retentionDays,
	}
}

// Name returns worker name
func (cw *CleanupWorker) Name() string {
	return "retention_cleanup"
}

// Run sweeps stale assets, then deletes everything older than the
// retention cutoff
func (cw *CleanupWorker) Run(ctx context.Context) error {
	if cw.engine != nil {
		if _, err := cw.engine.SweepStale(ctx); err != nil {
			logger.Warn("asset staleness sweep failed", zap.Error(err))
		}
	}

	if cw.retentionDays <= 0 {
		return nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -cw.retentionDays)

	signalsDeleted, err := cw.signals.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	observationsDeleted, err := cw.observations.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	articlesDeleted, err := cw.articles.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}

	if signalsDeleted+observationsDeleted+articlesDeleted > 0 {
		logger.Info("retention cleanup complete",
			zap.Time("cutoff", cutoff),
			zap.Int64("signals", signalsDeleted),
			zap.Int64("observations", observationsDeleted),
			zap.Int64("articles", articlesDeleted),
		)
	}

	return nil
}
