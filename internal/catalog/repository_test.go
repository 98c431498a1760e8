package catalog

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

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"btc", "BTC"},
		{" ETH ", "ETH"},
		{"Sol", "SOL"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeSymbol(tt.in); got != tt.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRepository_UpsertAssetIdempotent(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	first, err := repo.UpsertAsset(ctx, "btc", "Bitcoin", "bitcoin")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if first.Symbol != "BTC" {
		t.Errorf("symbol not normalized: %q", first.Symbol)
	}

	second, err := repo.UpsertAsset(ctx, "BTC", "", "")
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("re-upsert created a new row: %d vs %d", second.ID, first.ID)
	}
	if second.Name != "Bitcoin" {
		t.Errorf("empty name must not overwrite, got %q", second.Name)
	}
	if second.LastSeenAt != nil {
		t.Error("registration must not set seen bounds, they track observations")
	}

	if n := tdb.CountRows(t, "assets"); n != 1 {
		t.Errorf("assets = %d, want 1", n)
	}
}

func TestRepository_RecordObservedAtWidensBounds(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	asset, err := repo.UpsertAsset(ctx, "BTC", "Bitcoin", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	t1 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)
	t0 := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	for _, ts := range []time.Time{t1, t2, t0} {
		if err := repo.RecordObservedAt(ctx, asset.ID, ts); err != nil {
			t.Fatalf("record %v: %v", ts, err)
		}
	}

	got, err := repo.GetAssetByID(ctx, asset.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FirstSeenAt == nil || !got.FirstSeenAt.Equal(t0) {
		t.Errorf("first_seen_at = %v, want the oldest observation %v", got.FirstSeenAt, t0)
	}
	if got.LastSeenAt == nil || !got.LastSeenAt.Equal(t2) {
		t.Errorf("last_seen_at = %v, want the newest observation %v", got.LastSeenAt, t2)
	}
}

func TestRepository_DeactivateStale(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	stale, _ := repo.UpsertAsset(ctx, "OLD", "Oldcoin", "")
	fresh, _ := repo.UpsertAsset(ctx, "NEW", "Newcoin", "")

	now := time.Now().UTC()
	if err := repo.RecordObservedAt(ctx, stale.ID, now.AddDate(0, 0, -30)); err != nil {
		t.Fatalf("record stale: %v", err)
	}
	if err := repo.RecordObservedAt(ctx, fresh.ID, now); err != nil {
		t.Fatalf("record fresh: %v", err)
	}

	swept, err := repo.DeactivateStale(ctx, now.AddDate(0, 0, -14))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept = %d, want 1", swept)
	}

	assets, err := repo.ListActiveAssets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(assets) != 1 || assets[0].Symbol != "NEW" {
		t.Errorf("active assets = %+v, want only NEW", assets)
	}

	// Fresh data reactivates a swept asset
	if err := repo.RecordObservedAt(ctx, stale.ID, now); err != nil {
		t.Fatalf("record after sweep: %v", err)
	}
	got, err := repo.GetAssetBySymbol(ctx, "OLD")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.AssetActive {
		t.Errorf("status = %q, want active after new data", got.Status)
	}
}

func TestRepository_GetAssetBySymbol(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	if _, err := repo.UpsertAsset(ctx, "ETH", "Ethereum", "ethereum"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	asset, err := repo.GetAssetBySymbol(ctx, "eth")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if asset == nil || asset.Symbol != "ETH" {
		t.Errorf("lookup should normalize the symbol, got %+v", asset)
	}

	missing, err := repo.GetAssetBySymbol(ctx, "DOGE")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Error("unknown symbol should return nil, not an error")
	}
}

func TestRepository_ListActiveAssets(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	btc, _ := repo.UpsertAsset(ctx, "BTC", "Bitcoin", "")
	if _, err := repo.UpsertAsset(ctx, "ETH", "Ethereum", ""); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := repo.DeactivateAsset(ctx, btc.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	assets, err := repo.ListActiveAssets(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(assets) != 1 || assets[0].Symbol != "ETH" {
		t.Errorf("deactivated assets must be excluded, got %+v", assets)
	}
}

func TestRepository_DeleteAssetCascades(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	asset, err := repo.UpsertAsset(ctx, "BTC", "Bitcoin", "")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	tdb.Exec(t, `INSERT INTO observations (asset_id, ts, price) VALUES ($1, NOW(), 100)`, asset.ID)
	tdb.Exec(t, `INSERT INTO signals (asset_id, ts, signal) VALUES ($1, NOW(), 'hold')`, asset.ID)

	if err := repo.DeleteAsset(ctx, asset.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if n := tdb.CountRows(t, "assets"); n != 0 {
		t.Errorf("assets = %d, want 0", n)
	}
	if n := tdb.CountRows(t, "observations"); n != 0 {
		t.Errorf("observations = %d, want 0", n)
	}
	if n := tdb.CountRows(t, "signals"); n != 0 {
		t.Errorf("signals = %d, want 0", n)
	}
}

func TestRepository_UpsertSource(t *testing.T) {
	tdb := testdb.Setup(t)
	repo := NewRepository(tdb.DB)
	ctx := context.Background()

	first, err := repo.UpsertSource(ctx, "coindesk", "https://coindesk.com", models.SourceAPI)
	if err != nil {
		t.Fatalf("upsert source: %v", err)
	}

	second, err := repo.UpsertSource(ctx, "coindesk", "", models.SourceRSS)
	if err != nil {
		t.Fatalf("re-upsert source: %v", err)
	}
	if second.ID != first.ID {
		t.Error("source identity is the name")
	}
	if second.URL != "https://coindesk.com" {
		t.Errorf("empty url must not overwrite, got %q", second.URL)
	}
	if second.SourceType != models.SourceRSS {
		t.Errorf("source type should update, got %q", second.SourceType)
	}
}
