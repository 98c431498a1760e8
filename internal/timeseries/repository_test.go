package timeseries

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/omnifin/finsight/pkg/logger"
	"github.com/omnifin/finsight/pkg/models"
	"github.com/omnifin/finsight/test/testdb"
)

func TestMain(m *testing.M) {
	if err := logger.Init("error", ""); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRepository_InsertObservationFirstWriteWins(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	assetID := tdb.CreateAsset(t, "BTC", "Bitcoin")
	tdb.SeedObservations(t, assetID, base, []float64{100})

	inserted, err := repo.InsertObservation(ctx, testdb.Observation(assetID, base, 999))
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if inserted {
		t.Error("duplicate timestamp reported as inserted")
	}

	var price float64
	if err := tdb.DB.Get(&price, `SELECT price FROM observations WHERE asset_id = $1 AND ts = $2`, assetID, base); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if price != 100 {
		t.Errorf("stored price overwritten: got %v, want 100", price)
	}

	inserted, err = repo.InsertObservation(ctx, testdb.Observation(assetID, base.AddDate(0, 0, 1), 110))
	if err != nil {
		t.Fatalf("insert new: %v", err)
	}
	if !inserted {
		t.Error("fresh timestamp reported as duplicate")
	}
}

func TestRepository_InsertBatchCountsOnlyNewRows(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	assetID := tdb.CreateAsset(t, "ETH", "Ethereum")
	tdb.SeedObservations(t, assetID, base, []float64{10, 11, 12})

	batch := []models.Observation{
		*testdb.Observation(assetID, base.AddDate(0, 0, 1), 999), // already stored
		*testdb.Observation(assetID, base.AddDate(0, 0, 3), 13),
		*testdb.Observation(assetID, base.AddDate(0, 0, 4), 14),
	}

	saved, err := repo.InsertBatch(ctx, batch)
	if err != nil {
		t.Fatalf("insert batch: %v", err)
	}
	if saved != 2 {
		t.Errorf("want 2 new rows saved, got %d", saved)
	}
	if got := tdb.CountRows(t, "observations"); got != 5 {
		t.Errorf("want 5 observations total, got %d", got)
	}
}

func TestRepository_GetWindowBefore(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	assetID := tdb.CreateAsset(t, "SOL", "Solana")
	tdb.SeedObservations(t, assetID, base, []float64{10, 11, 12, 13, 14})

	window, err := repo.GetWindowBefore(ctx, assetID, base.AddDate(0, 0, 3), 3)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("want 3 observations, got %d", len(window))
	}
	// Ascending, ending at the anchor timestamp.
	for i, want := range []float64{11, 12, 13} {
		got, _ := window[i].Price.Float64()
		if got != want {
			t.Errorf("window[%d] price = %v, want %v", i, got, want)
		}
	}
}
