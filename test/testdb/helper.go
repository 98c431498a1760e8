package testdb

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/omnifin/finsight/internal/adapters/database"
	"github.com/omnifin/finsight/pkg/models"
)

// TestDB wraps a real PostgreSQL connection for integration tests.
// Tests using it are skipped when TEST_DATABASE_URL is not set, so the
// unit suite stays runnable without infrastructure.
type TestDB struct {
	DB *sqlx.DB
}

// Setup connects to the test database, applies migrations and registers
// cleanup that truncates every domain table.
func Setup(t *testing.T) *TestDB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping database test")
	}

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to connect to test database: %v", err)
	}

	migrations := os.Getenv("TEST_MIGRATIONS_PATH")
	if migrations == "" {
		migrations = "../../migrations"
	}
	if err := database.RunMigrations(db.DB, migrations); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	tdb := &TestDB{DB: db}

	tdb.Truncate(t)
	t.Cleanup(func() {
		tdb.Truncate(t)
		db.Close()
	})

	return tdb
}

// Truncate empties every domain table
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	_, err := tdb.DB.Exec(`
		TRUNCATE embedding_cache, embedding_chunks, asset_mentions,
			article_categories, articles, news_categories, news_sources,
			signal_checkpoints, signals, observations, asset_metadata, assets
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// Exec executes SQL against the test database
func (tdb *TestDB) Exec(t *testing.T, query string, args ...interface{}) {
	t.Helper()

	if _, err := tdb.DB.Exec(query, args...); err != nil {
		t.Fatalf("failed to execute query: %v\nQuery: %s", err, query)
	}
}

// CreateAsset inserts a catalog asset and returns its id
func (tdb *TestDB) CreateAsset(t *testing.T, symbol, name string) int64 {
	t.Helper()

	var id int64
	err := tdb.DB.QueryRow(`
		INSERT INTO assets (symbol, name, slug, status)
		VALUES ($1, $2, LOWER($2), 'active')
		RETURNING id
	`, symbol, name).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create test asset: %v", err)
	}

	return id
}

// CreateSource inserts a news source and returns its id
func (tdb *TestDB) CreateSource(t *testing.T, name string) int64 {
	t.Helper()

	var id int64
	err := tdb.DB.QueryRow(`
		INSERT INTO news_sources (name, url, source_type)
		VALUES ($1, $2, 'api')
		RETURNING id
	`, name, "https://"+name+".example.com").Scan(&id)
	if err != nil {
		t.Fatalf("failed to create test source: %v", err)
	}

	return id
}

// SeedObservations inserts one daily close per price, starting at base
func (tdb *TestDB) SeedObservations(t *testing.T, assetID int64, base time.Time, prices []float64) {
	t.Helper()

	for i, price := range prices {
		tdb.Exec(t, `
			INSERT INTO observations (asset_id, ts, price)
			VALUES ($1, $2, $3)
		`, assetID, base.AddDate(0, 0, i), price)
	}
}

// Observation builds an in-memory observation for engine tests
func Observation(assetID int64, ts time.Time, price float64) *models.Observation {
	return &models.Observation{
		AssetID:    assetID,
		Timestamp:  ts,
		Price:      decimal.NewFromFloat(price),
		IngestedAt: time.Now().UTC(),
	}
}

// CountRows returns the row count of a table
func (tdb *TestDB) CountRows(t *testing.T, table string) int {
	t.Helper()

	var count int
	if err := tdb.DB.Get(&count, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)); err != nil {
		t.Fatalf("failed to count rows in %s: %v", table, err)
	}

	return count
}
