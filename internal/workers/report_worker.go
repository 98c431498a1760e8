package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/query"
	"github.com/omnifin/finsight/internal/signal"
	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/templates"
)

const reportHeadlines = 5

// ReportNotifier delivers the rendered report text
type ReportNotifier interface {
	SendDailyReport(ctx context.Context, text string) error
}

// ReportWorker renders and delivers the daily summary once per UTC day
// at the configured hour. Run is invoked on a short interval; the date
// guard makes delivery idempotent.
type ReportWorker struct {
	service  *query.Service
	renderer templates.Renderer
	notifier ReportNotifier
	hourUTC  int
	lastSent string
}

// NewReportWorker creates new daily report worker
func NewReportWorker(service *query.Service, renderer templates.Renderer, notifier ReportNotifier, hourUTC int) *ReportWorker {
	return &ReportWorker{
		service:  service,
		renderer: renderer,
		notifier: notifier,
		hourUTC:  hourUTC,
	}
}

// Name returns worker name
func (rw *ReportWorker) Name() string {
	return "daily_report"
}

// Run sends the report when the configured hour has arrived
func (rw *ReportWorker) Run(ctx context.Context) error {
	now := time.Now().UTC()
	today := now.Format("2006-01-02")

	if now.Hour() < rw.hourUTC || rw.lastSent == today {
		return nil
	}

	text, err := rw.buildReport(ctx, now)
	if err != nil {
		return err
	}

	if err := rw.notifier.SendDailyReport(ctx, text); err != nil {
		return fmt.Errorf("failed to deliver daily report: %w", err)
	}

	rw.lastSent = today
	logger.Info("daily report sent", zap.String("date", today))

	return nil
}

func (rw *ReportWorker) buildReport(ctx context.Context, now time.Time) (string, error) {
	assets, err := rw.service.ListAssets(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list assets: %w", err)
	}

	signals := make([]map[string]interface{}, 0, len(assets))
	for _, asset := range assets {
		latest, err := rw.service.LatestSignal(ctx, asset.Symbol)
		if err != nil {
			if errors.Is(err, signal.ErrInconsistentBackfill) {
				continue
			}
			return "", fmt.Errorf("failed to load signal for %s: %w", asset.Symbol, err)
		}
		if latest == nil {
			continue
		}

		entry := map[string]interface{}{
			"Symbol": latest.Symbol,
			"Signal": string(latest.Signal),
			"Price":  latest.Price,
		}
		if latest.RSI != nil {
			entry["RSI"] = *latest.RSI
		}
		signals = append(signals, entry)
	}

	sentiment, err := rw.service.SentimentSummary(ctx, 24*time.Hour)
	if err != nil {
		return "", fmt.Errorf("failed to load sentiment summary: %w", err)
	}

	since := now.Add(-24 * time.Hour)
	articles, err := rw.service.RecentArticles(ctx, query.ArticleFilters{
		After: &since,
		Limit: reportHeadlines,
	})
	if err != nil {
		return "", fmt.Errorf("failed to load recent articles: %w", err)
	}

	headlines := make([]string, 0, len(articles))
	for _, article := range articles {
		headlines = append(headlines, article.Title)
	}

	data := map[string]interface{}{
		"Date":         now.Format("2006-01-02"),
		"Signals":      signals,
		"ArticleCount": sentiment.TotalArticles,
		"Sentiment":    sentiment,
		"TopHeadlines": headlines,
	}

	text, err := rw.renderer.ExecuteTemplate("daily_report.tmpl", data)
	if err != nil {
		return "", fmt.Errorf("failed to render daily report: %w", err)
	}

	return text, nil
}
