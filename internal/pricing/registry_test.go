package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/router-for-me/CreditLedger/internal/db"
	"github.com/router-for-me/CreditLedger/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func steppingClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestGetActiveRateMissing(t *testing.T) {
	registry := NewRegistry(openTestDB(t))
	if _, err := registry.GetActiveRate(context.Background(), "gpt-x"); !errors.Is(err, ErrRateMissing) {
		t.Fatalf("expected ErrRateMissing, got %v", err)
	}
}

func TestRefreshKeepsHistoryAndPrefersNewest(t *testing.T) {
	conn := openTestDB(t)
	registry := NewRegistry(conn, WithClock(steppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))))
	ctx := context.Background()

	v1, err := registry.Refresh(ctx, []Entry{{ModelID: "gpt-x", Provider: "openai", InputPerMillion: 1_000_000, OutputPerMillion: 2_000_000}})
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	v2, err := registry.Refresh(ctx, []Entry{{ModelID: "gpt-x", Provider: "openai", InputPerMillion: 3_000_000, OutputPerMillion: 4_000_000}})
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if v2 <= v1 {
		t.Fatalf("expected increasing versions, got %d then %d", v1, v2)
	}

	rate, err := registry.GetActiveRate(ctx, "gpt-x")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if rate.InputPerMillion != 3_000_000 || rate.Version != v2 {
		t.Fatalf("expected newest rate, got %+v", rate)
	}

	var activeCount int64
	if errCount := conn.Model(&models.ModelRate{}).Where("model_id = ? AND is_active = ?", "gpt-x", true).Count(&activeCount).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if activeCount != 2 {
		t.Fatalf("expected both versions to stay active, got %d", activeCount)
	}
}

func TestRefreshDeactivatePrevious(t *testing.T) {
	conn := openTestDB(t)
	registry := NewRegistry(conn, WithDeactivatePrevious(true), WithClock(steppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))))
	ctx := context.Background()

	for _, price := range []int64{1, 2, 3} {
		if _, err := registry.Refresh(ctx, []Entry{{ModelID: "gpt-x", InputPerMillion: price}}); err != nil {
			t.Fatalf("refresh: %v", err)
		}
	}
	var activeCount int64
	if errCount := conn.Model(&models.ModelRate{}).Where("is_active = ?", true).Count(&activeCount).Error; errCount != nil {
		t.Fatalf("count: %v", errCount)
	}
	if activeCount != 1 {
		t.Fatalf("expected a single active row, got %d", activeCount)
	}
	rate, err := registry.GetActiveRate(ctx, "gpt-x")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if rate.InputPerMillion != 3 {
		t.Fatalf("expected newest rate, got %+v", rate)
	}
}

func TestGetActiveRateFallsBackToNewestInactive(t *testing.T) {
	conn := openTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.ModelRate{
		{ModelID: "m", InputPerMillion: 10, Version: 1, EffectiveFrom: base, IsActive: false, CreatedAt: base},
		{ModelID: "m", InputPerMillion: 20, Version: 2, EffectiveFrom: base.Add(time.Hour), IsActive: false, CreatedAt: base.Add(time.Hour)},
	}
	for i := range rows {
		if errCreate := conn.Create(&rows[i]).Error; errCreate != nil {
			t.Fatalf("create rate: %v", errCreate)
		}
		// is_active defaults to true on insert, so clear it explicitly.
		if errUpdate := conn.Model(&rows[i]).Update("is_active", false).Error; errUpdate != nil {
			t.Fatalf("deactivate rate: %v", errUpdate)
		}
	}

	rate, err := NewRegistry(conn).GetActiveRate(context.Background(), "m")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if rate.InputPerMillion != 20 {
		t.Fatalf("expected newest inactive rate, got %+v", rate)
	}
}

func TestRefreshSkipsInvalidEntries(t *testing.T) {
	registry := NewRegistry(openTestDB(t))
	version, err := registry.Refresh(context.Background(), []Entry{{ModelID: " "}, {ModelID: "neg", InputPerMillion: -1}})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if version != 0 {
		t.Fatalf("expected no version for empty batch, got %d", version)
	}
}

func TestRefresherStoresFeed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"model_id":"gpt-x","provider":"openai","input_per_million":2000000,"output_per_million":4000000}]}`))
	}))
	defer server.Close()

	conn := openTestDB(t)
	registry := NewRegistry(conn)
	var results []string
	refresher := NewRefresher(registry, NewFeedClient(server.URL, time.Second), time.Minute, func(result string) {
		results = append(results, result)
	})

	version, err := refresher.RefreshOnce(context.Background())
	if err != nil {
		t.Fatalf("refresh once: %v", err)
	}
	if version == 0 {
		t.Fatalf("expected a version")
	}
	rate, err := registry.GetActiveRate(context.Background(), "gpt-x")
	if err != nil {
		t.Fatalf("get rate: %v", err)
	}
	if rate.OutputPerMillion != 4_000_000 || rate.Provider != "openai" {
		t.Fatalf("unexpected rate %+v", rate)
	}
	if len(results) != 1 || results[0] != "ok" {
		t.Fatalf("unexpected results %v", results)
	}
}

func TestRefresherFeedFailureKeepsRates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	conn := openTestDB(t)
	registry := NewRegistry(conn)
	if _, err := registry.Refresh(context.Background(), []Entry{{ModelID: "gpt-x", InputPerMillion: 7}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	refresher := NewRefresher(registry, NewFeedClient(server.URL, time.Second), time.Minute, nil)
	if _, err := refresher.RefreshOnce(context.Background()); !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("expected ErrFeedUnavailable, got %v", err)
	}
	rate, err := registry.GetActiveRate(context.Background(), "gpt-x")
	if err != nil || rate.InputPerMillion != 7 {
		t.Fatalf("expected seeded rate to remain, got %+v err=%v", rate, err)
	}
}

func TestFeedClientUnconfiguredIsNoop(t *testing.T) {
	entries, err := NewFeedClient("", 0).Fetch(context.Background())
	if err != nil || entries != nil {
		t.Fatalf("expected silent no-op, got %v %v", entries, err)
	}
}

func TestDecodeFeedAcceptsBareArray(t *testing.T) {
	entries, err := decodeFeed([]byte(` [{"model_id":"a","input_per_million":1}] `))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].ModelID != "a" {
		t.Fatalf("unexpected entries %+v", entries)
	}
}
