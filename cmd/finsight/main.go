package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/lib/pq"
	"github.com/sashabaranov/go-openai"

	"github.com/omnifin/finsight/internal/adapters/clickhouse"
	"github.com/omnifin/finsight/internal/adapters/config"
	"github.com/omnifin/finsight/internal/adapters/database"
	embeddingsRepo "github.com/omnifin/finsight/internal/adapters/embeddings"
	"github.com/omnifin/finsight/internal/adapters/marketdata"
	"github.com/omnifin/finsight/internal/adapters/newsfeed"
	redisAdapter "github.com/omnifin/finsight/internal/adapters/redis"
	"github.com/omnifin/finsight/internal/adapters/telegram"
	"github.com/omnifin/finsight/internal/analyst"
	"github.com/omnifin/finsight/internal/catalog"
	"github.com/omnifin/finsight/internal/content"
	"github.com/omnifin/finsight/internal/embedding"
	"github.com/omnifin/finsight/internal/health"
	"github.com/omnifin/finsight/internal/query"
	"github.com/omnifin/finsight/internal/signal"
	"github.com/omnifin/finsight/internal/timeseries"
	"github.com/omnifin/finsight/internal/workers"
	"github.com/omnifin/finsight/pkg/embeddings"
	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/metrics"
	"github.com/omnifin/finsight/pkg/templates"
	"github.com/omnifin/finsight/pkg/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := initConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("finsight starting")

	db, err := initDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, lockFactory := initRedis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsBuffer, chDB := initMetrics(ctx, cfg)
	if chDB != nil {
		defer chDB.Close()
	}

	// Repositories
	catalogRepo := catalog.NewRepository(db.DB())
	observationsRepo := timeseries.NewRepository(db.DB())
	signalsRepo := signal.NewRepository(db.DB())
	articlesRepo := content.NewRepository(db.DB())

	// Signal engine
	engine := signal.NewEngine(db.DB(), observationsRepo, signalsRepo, lockFactory, cfg.Signals, metricsBuffer)

	// Embedding pipeline
	embedClient, indexer, searcher := initEmbeddings(cfg, db, articlesRepo, metricsBuffer)

	// Query views
	var cache *query.SignalCache
	if redisClient != nil {
		cache = query.NewSignalCache(redisClient, cfg.Redis.CacheTTL)
	}

	var queryEmbedder query.QueryEmbedder
	if embedClient != nil {
		queryEmbedder = embedClient
	}
	queryService := query.NewService(db.DB(), catalogRepo, observationsRepo, signalsRepo, articlesRepo, searcher, queryEmbedder, cache)
	engine.SetInvalidator(queryService)
	engine.SetAssetTracker(catalogRepo)

	// Finish recomputes a previous run left behind
	if err := engine.ResumeDirty(ctx); err != nil {
		logger.Warn("failed to resume dirty signal histories", zap.Error(err))
	}

	// Telegram notifier
	notifier, renderer := initTelegram(cfg)

	// HTTP surfaces
	if cfg.API.Enabled {
		analystService := analyst.NewAnalyst(catalogRepo, observationsRepo, cfg.Signals)
		apiServer := query.NewServer(queryService, analystService, cfg.API.Port)
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				logger.Error("api server exited", zap.Error(err))
			}
		}()
	}

	healthServer := health.NewServer(cfg.API.HealthPort, db, redisClient)
	go func() {
		if err := healthServer.Start(); err != nil {
			logger.Error("health server exited", zap.Error(err))
		}
	}()

	// Background workers
	group := worker.NewGroup(ctx)
	registerWorkers(group, cfg, catalogRepo, articlesRepo, signalsRepo, observationsRepo, engine, indexer, queryService, notifier, renderer, metricsBuffer, redisClient)
	group.Start()

	// Live stream
	stream := initStream(ctx, cfg, catalogRepo, engine)
	if stream != nil {
		defer stream.Stop()
	}

	healthServer.SetReady(true)
	logger.Info("finsight started")

	<-ctx.Done()

	healthServer.SetReady(false)
	group.Stop(shutdownTimeout)

	if metricsBuffer != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsBuffer.Close(flushCtx); err != nil {
			logger.Warn("failed to flush metrics buffer", zap.Error(err))
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthServer.Stop(stopCtx); err != nil {
		logger.Warn("failed to stop health server", zap.Error(err))
	}

	logger.Info("finsight stopped")

	return nil
}

// initConfig loads configuration and initializes logger
func initConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, nil
}

// initDatabase connects to PostgreSQL and applies pending migrations
func initDatabase(cfg *config.Config) (*database.DB, error) {
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(db.Conn(), "./migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// initRedis returns the redis client and a lock factory. Without redis
// the engine falls back to in-process locks, which is correct for a
// single instance.
func initRedis(cfg *config.Config) (*redisAdapter.Client, redisAdapter.LockFactory) {
	if !cfg.Redis.Enabled {
		logger.Info("redis disabled, using in-process asset locks")
		return nil, redisAdapter.NewLocalLockFactory()
	}

	client, err := redisAdapter.New(&cfg.Redis)
	if err != nil {
		logger.Warn("redis unavailable, using in-process asset locks", zap.Error(err))
		return nil, redisAdapter.NewLocalLockFactory()
	}

	return client, client.NewLockFactory(cfg.Signals.LockTTL)
}

// initMetrics wires the buffered ClickHouse metrics pipeline when enabled
func initMetrics(ctx context.Context, cfg *config.Config) (metrics.Buffer, *database.DB) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}

	chDB, err := database.NewClickHouse(cfg.ClickHouse.GetDSN())
	if err != nil {
		logger.Warn("clickhouse unavailable, operational metrics disabled", zap.Error(err))
		return nil, nil
	}

	repo := clickhouse.NewRepository(chDB.DB())
	if err := repo.EnsureTables(ctx); err != nil {
		logger.Warn("failed to create metric tables, operational metrics disabled", zap.Error(err))
		chDB.Close()
		return nil, nil
	}

	buffer := metrics.NewBuffer(metrics.BufferConfig{
		Writer: clickhouse.NewWriter(repo),
	})

	logger.Info("clickhouse metrics pipeline initialized")

	return buffer, chDB
}

// initEmbeddings builds the embedding client, indexer and searcher when
// an API key is configured
func initEmbeddings(cfg *config.Config, db *database.DB, articles *content.Repository, metricsBuffer metrics.Buffer) (*embeddings.Client, *embedding.Indexer, *embedding.Searcher) {
	if !cfg.Embeddings.Enabled {
		logger.Info("embeddings disabled, semantic search unavailable")
		return nil, nil, nil
	}

	embedClient := embeddings.NewClient(embeddings.Config{
		OpenAIClient:  openai.NewClient(cfg.Embeddings.APIKey),
		Store:         embeddingsRepo.NewRepository(db.DB()),
		MetricsBuffer: metricsBuffer,
		Model:         openai.EmbeddingModel(cfg.Embeddings.Model),
		Dimension:     cfg.Embeddings.Dimension,
	})

	chunker := embedding.NewChunker(cfg.Chunking.MaxChunkSize, cfg.Chunking.Overlap)
	indexer := embedding.NewIndexer(db.DB(), articles, chunker, embedClient, metricsBuffer)
	searcher := embedding.NewSearcher(db.DB(), embedClient.Model())

	return embedClient, indexer, searcher
}

// initTelegram builds the notifier when a bot token and chat are set
func initTelegram(cfg *config.Config) (*telegram.Notifier, templates.Renderer) {
	if !cfg.Telegram.NotifierEnabled() {
		logger.Info("telegram notifier disabled")
		return nil, nil
	}

	renderer, err := templates.NewManager(cfg.Telegram.TemplatesDir,
		"signal_flip.tmpl", "daily_report.tmpl")
	if err != nil {
		logger.Warn("failed to load telegram templates, notifier disabled", zap.Error(err))
		return nil, nil
	}

	notifier, err := telegram.NewNotifier(&cfg.Telegram, renderer)
	if err != nil {
		logger.Warn("failed to initialize telegram notifier", zap.Error(err))
		return nil, nil
	}

	return notifier, renderer
}

// registerWorkers adds every enabled periodic worker to the group
func registerWorkers(
	group *worker.Group,
	cfg *config.Config,
	catalogRepo *catalog.Repository,
	articlesRepo *content.Repository,
	signalsRepo *signal.Repository,
	observationsRepo *timeseries.Repository,
	engine *signal.Engine,
	indexer *embedding.Indexer,
	queryService *query.Service,
	notifier *telegram.Notifier,
	renderer templates.Renderer,
	metricsBuffer metrics.Buffer,
	redisClient *redisAdapter.Client,
) {
	var flipNotifier workers.SignalNotifier
	if notifier != nil {
		flipNotifier = notifier
	}

	if cfg.Providers.CoinMarketCapAPIKey != "" {
		cmc := marketdata.NewCoinMarketCapProvider(cfg.Providers)
		marketWorker := workers.NewMarketWorker(cmc, catalogRepo, engine, flipNotifier,
			cfg.Providers.CoinMarketCapLimit, cfg.Workers.IngestConcurrency)
		group.Add(marketWorker, cfg.Workers.MarketInterval)
	} else {
		logger.Info("CMC API key not set, market poller disabled")
	}

	providers := []newsfeed.Provider{
		newsfeed.NewReutersProvider(cfg.Providers.ReutersEnabled, cfg.Providers.UserAgent),
		newsfeed.NewYahooProvider(cfg.Providers.YahooEnabled, cfg.Providers.UserAgent),
		newsfeed.NewCoinDeskProvider(cfg.Providers.CoinDeskEnabled, cfg.Providers.UserAgent),
	}

	var seen newsfeed.SeenCache
	if redisClient != nil {
		seen = redisClient
	}
	aggregator := newsfeed.NewAggregator(providers, seen, metricsBuffer)
	group.Add(workers.NewNewsWorker(aggregator, providers, catalogRepo, articlesRepo), cfg.Workers.NewsInterval)

	if indexer != nil {
		group.Add(workers.NewEmbedWorker(articlesRepo, indexer, cfg.Workers.EmbedBatch), cfg.Workers.EmbedInterval)
	}

	if notifier != nil {
		group.Add(workers.NewReportWorker(queryService, renderer, notifier, cfg.Workers.ReportHourUTC), 10*time.Minute)
	}

	if cfg.Workers.RetentionDays > 0 {
		group.Add(workers.NewCleanupWorker(observationsRepo, signalsRepo, articlesRepo, engine, cfg.Workers.RetentionDays), cfg.Workers.CleanupInterval)
	}
}

// initStream connects the live candle stream when enabled
func initStream(ctx context.Context, cfg *config.Config, catalogRepo *catalog.Repository, engine *signal.Engine) *workers.StreamConsumer {
	if !cfg.Providers.StreamEnabled {
		return nil
	}

	stream := marketdata.NewBinanceWebSocket(cfg.Providers.BackfillSymbols, cfg.Providers.BackfillTimeframe)
	consumer := workers.NewStreamConsumer(stream, catalogRepo, engine)

	if err := consumer.Start(ctx); err != nil {
		logger.Warn("failed to start live stream", zap.Error(err))
		return nil
	}

	logger.Info("live candle stream started",
		zap.Strings("symbols", cfg.Providers.BackfillSymbols),
	)

	return consumer
}
