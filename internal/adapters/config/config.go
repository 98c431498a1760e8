package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents application configuration
type Config struct {
	Database   DatabaseConfig   `envconfig:"DATABASE"`
	Redis      RedisConfig      `envconfig:"REDIS"`
	ClickHouse ClickHouseConfig `envconfig:"CLICKHOUSE"`
	Signals    SignalsConfig    `envconfig:"SIGNALS"`
	Embeddings EmbeddingsConfig `envconfig:"EMBEDDINGS"`
	Chunking   ChunkingConfig   `envconfig:"CHUNKING"`
	Providers  ProvidersConfig  `envconfig:"PROVIDERS"`
	Workers    WorkersConfig    `envconfig:"WORKERS"`
	API        APIConfig        `envconfig:"API"`
	Telegram   TelegramConfig   `envconfig:"TELEGRAM"`
	Logging    LoggingConfig    `envconfig:"LOGGING"`
}

// DatabaseConfig represents PostgreSQL connection parameters
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"finsight"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	MaxOpen  int    `envconfig:"DB_MAX_OPEN" default:"25"`
	MaxIdle  int    `envconfig:"DB_MAX_IDLE" default:"5"`
}

// RedisConfig represents the cache / distributed lock backend. When
// disabled, query caching is skipped and asset locks stay in-process.
type RedisConfig struct {
	Enabled  bool          `envconfig:"REDIS_ENABLED" default:"false"`
	Host     string        `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int           `envconfig:"REDIS_PORT" default:"6379"`
	Password string        `envconfig:"REDIS_PASSWORD" required:"false"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	CacheTTL time.Duration `envconfig:"REDIS_CACHE_TTL" default:"30s"`
}

// ClickHouseConfig represents the operational metrics sink
type ClickHouseConfig struct {
	Enabled  bool   `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host     string `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	Name     string `envconfig:"CLICKHOUSE_DB" default:"finsight_metrics"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD" required:"false"`
}

// SignalsConfig represents signal engine parameters. Thresholds are the
// classifier cut-offs; windows are trailing observation counts.
type SignalsConfig struct {
	MAWindow          int           `envconfig:"SIGNALS_MA_WINDOW" default:"7"`
	RSIWindow         int           `envconfig:"SIGNALS_RSI_WINDOW" default:"14"`
	RSIOverbought     float64       `envconfig:"SIGNALS_RSI_OVERBOUGHT" default:"70"`
	RSIOversold       float64       `envconfig:"SIGNALS_RSI_OVERSOLD" default:"30"`
	TrendConfirmation bool          `envconfig:"SIGNALS_TREND_CONFIRMATION" default:"false"`
	LockTTL           time.Duration `envconfig:"SIGNALS_LOCK_TTL" default:"30s"`
	LockRetries       int           `envconfig:"SIGNALS_LOCK_RETRIES" default:"3"`
	RecomputeBatch    int           `envconfig:"SIGNALS_RECOMPUTE_BATCH" default:"500"`
	StalenessDays     int           `envconfig:"SIGNALS_STALENESS_DAYS" default:"14"`
}

// EmbeddingsConfig represents the embedding provider client
type EmbeddingsConfig struct {
	Enabled   bool   `envconfig:"EMBEDDINGS_ENABLED" default:"true"`
	APIKey    string `envconfig:"EMBEDDINGS_API_KEY" required:"false"`
	Model     string `envconfig:"EMBEDDINGS_MODEL" default:"text-embedding-3-small"`
	Dimension int    `envconfig:"EMBEDDINGS_DIMENSION" default:"1536"`
	BatchSize int    `envconfig:"EMBEDDINGS_BATCH_SIZE" default:"64"`
}

// ChunkingConfig represents deterministic article chunking parameters
// (sizes in runes)
type ChunkingConfig struct {
	MaxChunkSize int `envconfig:"CHUNKING_MAX_SIZE" default:"900"`
	Overlap      int `envconfig:"CHUNKING_OVERLAP" default:"150"`
}

// ProvidersConfig represents external data boundaries
type ProvidersConfig struct {
	CoinMarketCapAPIKey string   `envconfig:"CMC_API_KEY" required:"false"`
	CoinMarketCapLimit  int      `envconfig:"CMC_LIMIT" default:"100"`
	BackfillSymbols     []string `envconfig:"BACKFILL_SYMBOLS" default:"BTC/USDT,ETH/USDT"`
	BackfillTimeframe   string   `envconfig:"BACKFILL_TIMEFRAME" default:"1d"`
	StreamEnabled       bool     `envconfig:"STREAM_ENABLED" default:"false"`
	ReutersEnabled      bool     `envconfig:"REUTERS_ENABLED" default:"true"`
	YahooEnabled        bool     `envconfig:"YAHOO_ENABLED" default:"true"`
	CoinDeskEnabled     bool     `envconfig:"COINDESK_ENABLED" default:"true"`
	UserAgent           string   `envconfig:"PROVIDERS_USER_AGENT" default:"Mozilla/5.0 (compatible; finsight/1.0)"`
}

// WorkersConfig represents scheduler intervals and retention
type WorkersConfig struct {
	MarketInterval    time.Duration `envconfig:"WORKERS_MARKET_INTERVAL" default:"6h"`
	NewsInterval      time.Duration `envconfig:"WORKERS_NEWS_INTERVAL" default:"4h"`
	EmbedInterval     time.Duration `envconfig:"WORKERS_EMBED_INTERVAL" default:"2m"`
	EmbedBatch        int           `envconfig:"WORKERS_EMBED_BATCH" default:"20"`
	CleanupInterval   time.Duration `envconfig:"WORKERS_CLEANUP_INTERVAL" default:"24h"`
	ReportHourUTC     int           `envconfig:"WORKERS_REPORT_HOUR_UTC" default:"17"`
	RetentionDays     int           `envconfig:"WORKERS_RETENTION_DAYS" default:"0"`
	IngestConcurrency int           `envconfig:"WORKERS_INGEST_CONCURRENCY" default:"8"`
}

// APIConfig represents the HTTP query surface
type APIConfig struct {
	Enabled    bool `envconfig:"API_ENABLED" default:"true"`
	Port       int  `envconfig:"API_PORT" default:"8080"`
	HealthPort int  `envconfig:"API_HEALTH_PORT" default:"8081"`
}

// TelegramConfig represents the alert channel. Empty token disables
// notifications without failing startup.
type TelegramConfig struct {
	BotToken          string `envconfig:"TELEGRAM_BOT_TOKEN" required:"false"`
	ChatID            int64  `envconfig:"TELEGRAM_CHAT_ID" required:"false"`
	AlertOnSignalFlip bool   `envconfig:"TELEGRAM_ALERT_ON_SIGNAL_FLIP" default:"true"`
	TemplatesDir      string `envconfig:"TELEGRAM_TEMPLATES_DIR" default:"./templates"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	File  string `envconfig:"LOG_FILE" default:"logs/finsight.log"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Signals.MAWindow < 1 {
		return fmt.Errorf("signals ma_window must be at least 1")
	}
	if c.Signals.RSIWindow < 1 {
		return fmt.Errorf("signals rsi_window must be at least 1")
	}
	if c.Signals.RSIOversold <= 0 || c.Signals.RSIOverbought >= 100 ||
		c.Signals.RSIOversold >= c.Signals.RSIOverbought {
		return fmt.Errorf("rsi thresholds must satisfy 0 < oversold < overbought < 100")
	}
	if c.Signals.RecomputeBatch < 1 {
		return fmt.Errorf("signals recompute_batch must be at least 1")
	}

	if c.Chunking.MaxChunkSize <= 0 {
		return fmt.Errorf("chunking max_size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.MaxChunkSize {
		return fmt.Errorf("chunking overlap must be non-negative and smaller than max_size")
	}

	if c.Embeddings.Enabled && c.Embeddings.APIKey == "" {
		return fmt.Errorf("embeddings api key is required when embeddings are enabled")
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embeddings dimension must be positive")
	}

	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram chat_id is required when bot token is set")
	}

	if c.Workers.ReportHourUTC < 0 || c.Workers.ReportHourUTC > 23 {
		return fmt.Errorf("report hour must be between 0 and 23")
	}
	if c.Workers.IngestConcurrency < 1 {
		return fmt.Errorf("ingest concurrency must be at least 1")
	}

	return nil
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddr returns the redis host:port address
func (c *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetDSN returns ClickHouse connection string
func (c *ClickHouseConfig) GetDSN() string {
	return fmt.Sprintf(
		"clickhouse://%s:%s@%s:%d/%s",
		c.User, c.Password, c.Host, c.Port, c.Name,
	)
}

// NotifierEnabled reports whether telegram alerts can be sent
func (c *TelegramConfig) NotifierEnabled() bool {
	return c.BotToken != "" && c.ChatID != 0
}
