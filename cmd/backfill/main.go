package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"github.com/omnifin/finsight/internal/adapters/config"
	"github.com/omnifin/finsight/internal/adapters/database"
	"github.com/omnifin/finsight/internal/adapters/marketdata"
	redisAdapter "github.com/omnifin/finsight/internal/adapters/redis"
	"github.com/omnifin/finsight/internal/catalog"
	"github.com/omnifin/finsight/internal/signal"
	"github.com/omnifin/finsight/internal/timeseries"
	"github.com/omnifin/finsight/internal/workers"
	"github.com/omnifin/finsight/pkg/logger"
)

func main() {
	depth := flag.Int("depth", 365, "number of candles to backfill per pair")
	pairs := flag.String("pairs", "", "comma-separated pairs (default: BACKFILL_SYMBOLS)")
	timeframe := flag.String("timeframe", "", "candle timeframe (default: BACKFILL_TIMEFRAME)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := run(ctx, *depth, *pairs, *timeframe); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, depth int, pairsFlag, timeframeFlag string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	symbols := cfg.Providers.BackfillSymbols
	if pairsFlag != "" {
		symbols = strings.Split(pairsFlag, ",")
	}
	timeframe := cfg.Providers.BackfillTimeframe
	if timeframeFlag != "" {
		timeframe = timeframeFlag
	}

	logger.Info("backfill starting",
		zap.Strings("pairs", symbols),
		zap.String("timeframe", timeframe),
		zap.Int("depth", depth),
	)

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(db.Conn(), "./migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// A one-shot process does not contend with itself; still honor
	// redis locks when available so a running service stays consistent.
	var lockFactory redisAdapter.LockFactory = redisAdapter.NewLocalLockFactory()
	if cfg.Redis.Enabled {
		if redisClient, err := redisAdapter.New(&cfg.Redis); err == nil {
			defer redisClient.Close()
			lockFactory = redisClient.NewLockFactory(cfg.Signals.LockTTL)
		} else {
			logger.Warn("redis unavailable, using in-process locks", zap.Error(err))
		}
	}

	catalogRepo := catalog.NewRepository(db.DB())
	observationsRepo := timeseries.NewRepository(db.DB())
	signalsRepo := signal.NewRepository(db.DB())
	engine := signal.NewEngine(db.DB(), observationsRepo, signalsRepo, lockFactory, cfg.Signals, nil)
	engine.SetAssetTracker(catalogRepo)

	binance, err := marketdata.NewBinanceAdapter()
	if err != nil {
		return fmt.Errorf("failed to initialize exchange: %w", err)
	}
	defer binance.Close()

	backfiller := workers.NewBackfiller(binance, catalogRepo, engine, symbols, timeframe, depth)
	if err := backfiller.Run(ctx); err != nil {
		return err
	}

	logger.Info("backfill complete")

	return nil
}
