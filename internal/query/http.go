package query

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/omnifin/finsight/internal/embedding"
	"github.com/omnifin/finsight/internal/signal"
	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
)

// Analyst produces extended-indicator recommendations for the analysis
// endpoint
type Analyst interface {
	Recommend(ctx context.Context, symbol string) (*models.Recommendation, error)
}

// Server exposes the query views over HTTP
type Server struct {
	echo    *echo.Echo
	service *Service
	analyst Analyst
	port    int
}

// NewServer creates new query API server. analyst is optional.
func NewServer(service *Service, analyst Analyst, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	RegisterMetrics()

	s := &Server{
		echo:    e,
		service: service,
		analyst: analyst,
		port:    port,
	}
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	g := s.echo.Group("/api/v1")
	g.GET("/assets", s.listAssets)
	g.GET("/signals/:symbol/latest", s.latestSignal)
	g.GET("/search/news", s.searchNews)
	g.GET("/articles", s.recentArticles)
	g.GET("/articles/:id/assets", s.articleAssets)
	g.GET("/sentiment/summary", s.sentimentSummary)
	if s.analyst != nil {
		g.GET("/analysis/:symbol", s.analysis)
	}

	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Start serves until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			logger.Warn("api server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("query api listening", zap.Int("port", s.port))

	err := s.echo.Start(fmt.Sprintf(":%d", s.port))
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}

	return nil
}

func (s *Server) latestSignal(c echo.Context) error {
	defer observe("latest_signal", time.Now())

	latest, err := s.service.LatestSignal(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		if errors.Is(err, signal.ErrInconsistentBackfill) {
			return c.JSON(http.StatusConflict, errorBody("signal history is being recomputed"))
		}
		return s.internalError(c, "latest_signal", err)
	}
	if latest == nil {
		return c.JSON(http.StatusNotFound, errorBody("no signal for symbol"))
	}

	return c.JSON(http.StatusOK, latest)
}

func (s *Server) listAssets(c echo.Context) error {
	defer observe("assets", time.Now())

	assets, err := s.service.ListAssets(c.Request().Context())
	if err != nil {
		return s.internalError(c, "assets", err)
	}

	return c.JSON(http.StatusOK, assets)
}

func (s *Server) searchNews(c echo.Context) error {
	defer observe("search_news", time.Now())

	queryText := c.QueryParam("q")
	if queryText == "" {
		return c.JSON(http.StatusBadRequest, errorBody("q parameter is required"))
	}

	topK := 10
	if k := c.QueryParam("k"); k != "" {
		parsed, err := strconv.Atoi(k)
		if err != nil || parsed < 1 || parsed > 100 {
			return c.JSON(http.StatusBadRequest, errorBody("k must be an integer between 1 and 100"))
		}
		topK = parsed
	}

	filters := embedding.SearchFilters{SourceName: c.QueryParam("source")}
	if after := c.QueryParam("after"); after != "" {
		ts, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("after must be RFC3339"))
		}
		filters.PublishedAfter = &ts
	}

	hits, err := s.service.SearchNews(c.Request().Context(), queryText, topK, filters)
	if err != nil {
		return s.internalError(c, "search_news", err)
	}

	searchResults.Observe(float64(len(hits)))

	return c.JSON(http.StatusOK, hits)
}

func (s *Server) recentArticles(c echo.Context) error {
	defer observe("articles", time.Now())

	filters := ArticleFilters{
		SourceName: c.QueryParam("source"),
		Category:   c.QueryParam("category"),
	}
	if limit := c.QueryParam("limit"); limit != "" {
		parsed, err := strconv.Atoi(limit)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("limit must be an integer"))
		}
		filters.Limit = parsed
	}
	if after := c.QueryParam("after"); after != "" {
		ts, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return c.JSON(http.StatusBadRequest, errorBody("after must be RFC3339"))
		}
		filters.After = &ts
	}

	articles, err := s.service.RecentArticles(c.Request().Context(), filters)
	if err != nil {
		return s.internalError(c, "articles", err)
	}

	return c.JSON(http.StatusOK, articles)
}

func (s *Server) articleAssets(c echo.Context) error {
	defer observe("article_assets", time.Now())

	articleID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("article id must be an integer"))
	}

	mentions, err := s.service.AssetsMentionedIn(c.Request().Context(), articleID)
	if err != nil {
		return s.internalError(c, "article_assets", err)
	}

	return c.JSON(http.StatusOK, mentions)
}

func (s *Server) sentimentSummary(c echo.Context) error {
	defer observe("sentiment_summary", time.Now())

	window := 24 * time.Hour
	if w := c.QueryParam("window"); w != "" {
		parsed, err := time.ParseDuration(w)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, errorBody("window must be a positive duration"))
		}
		window = parsed
	}

	summary, err := s.service.SentimentSummary(c.Request().Context(), window)
	if err != nil {
		return s.internalError(c, "sentiment_summary", err)
	}

	return c.JSON(http.StatusOK, summary)
}

func (s *Server) analysis(c echo.Context) error {
	defer observe("analysis", time.Now())

	recommendation, err := s.analyst.Recommend(c.Request().Context(), c.Param("symbol"))
	if err != nil {
		return s.internalError(c, "analysis", err)
	}
	if recommendation == nil {
		return c.JSON(http.StatusNotFound, errorBody("not enough history for analysis"))
	}

	return c.JSON(http.StatusOK, recommendation)
}

func (s *Server) internalError(c echo.Context, endpoint string, err error) error {
	requestErrors.WithLabelValues(endpoint).Inc()
	logger.Error("query api error",
		zap.String("endpoint", endpoint),
		zap.Error(err),
	)
	return c.JSON(http.StatusInternalServerError, errorBody("internal error"))
}

func observe(endpoint string, started time.Time) {
	requestLatency.WithLabelValues(endpoint).Observe(time.Since(started).Seconds())
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}
