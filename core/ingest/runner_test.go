package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"edu-cti/config"
	"edu-cti/core/consolidate"
	"edu-cti/core/store"
)

type scriptedAdapter struct {
	name    string
	drafts  []consolidate.Draft
	err     error
	lastArg string
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) FetchSince(ctx context.Context, since string, limit int) ([]consolidate.Draft, error) {
	a.lastArg = since
	if a.err != nil {
		return nil, a.err
	}
	return a.drafts, nil
}

func setupIngestEnv(t *testing.T) (store.IncidentsStore, store.SourcesStore, *consolidate.Engine) {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBURL: filepath.Join(t.TempDir(), "ingest.db")}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	incidents := store.NewIncidentsStore(db)
	sources := store.NewSourcesStore(db)
	engine, err := consolidate.NewEngine(incidents, sources, 16, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return incidents, sources, engine
}

func testIngestConfig() config.IngestionConfig {
	return config.IngestionConfig{FetchLimit: 100, MaxParallelSource: 2, EventCacheSize: 16}
}

func TestRunAllAdvancesWatermarkOnCleanRun(t *testing.T) {
	_, sources, engine := setupIngestEnv(t)
	adapter := &scriptedAdapter{name: "newsA", drafts: []consolidate.Draft{
		{Source: "newsA", SourceEventID: "e1", UniversityName: "U1", URLs: []string{"https://a.example/1"}, SourcePublishedDate: "2024-03-01"},
		{Source: "newsA", SourceEventID: "e2", UniversityName: "U2", URLs: []string{"https://a.example/2"}, SourcePublishedDate: "2024-03-07"},
	}}
	registry, err := NewRegistry(adapter)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	runner := NewRunner(testIngestConfig(), registry, engine, sources, nil, nil)
	report, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Sources) != 1 || !report.Sources[0].Completed {
		t.Fatalf("report = %+v", report)
	}
	if report.Sources[0].InsertedNew != 2 {
		t.Fatalf("inserted = %d", report.Sources[0].InsertedNew)
	}
	wm, ok, err := sources.Watermark(context.Background(), "newsA")
	if err != nil || !ok {
		t.Fatalf("watermark missing: %v ok=%v", err, ok)
	}
	if wm != "2024-03-07" {
		t.Fatalf("watermark = %q", wm)
	}
}

func TestRunAllKeepsWatermarkOnFetchError(t *testing.T) {
	_, sources, engine := setupIngestEnv(t)
	good := &scriptedAdapter{name: "newsA", drafts: []consolidate.Draft{
		{Source: "newsA", SourceEventID: "e1", UniversityName: "U1", URLs: []string{"https://a.example/1"}, SourcePublishedDate: "2024-03-01"},
	}}
	bad := &scriptedAdapter{name: "newsB", err: errors.New("upstream down")}
	registry, err := NewRegistry(good, bad)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	runner := NewRunner(testIngestConfig(), registry, engine, sources, nil, nil)
	report, err := runner.RunAll(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var badReport SourceReport
	for _, sr := range report.Sources {
		if sr.Source == "newsB" {
			badReport = sr
		}
	}
	if badReport.Completed || badReport.Error == "" {
		t.Fatalf("failed source misreported: %+v", badReport)
	}
	if _, ok, _ := sources.Watermark(context.Background(), "newsB"); ok {
		t.Fatalf("watermark advanced on aborted run")
	}
	// The healthy source is unaffected.
	if wm, ok, _ := sources.Watermark(context.Background(), "newsA"); !ok || wm != "2024-03-01" {
		t.Fatalf("newsA watermark = %q ok=%v", wm, ok)
	}
}

func TestRunAllPassesWatermarkToAdapter(t *testing.T) {
	_, sources, engine := setupIngestEnv(t)
	if err := sources.AdvanceWatermark(context.Background(), "newsA", []string{"2024-02-15"}); err != nil {
		t.Fatalf("seed watermark: %v", err)
	}
	adapter := &scriptedAdapter{name: "newsA"}
	registry, _ := NewRegistry(adapter)
	runner := NewRunner(testIngestConfig(), registry, engine, sources, nil, nil)
	if _, err := runner.RunAll(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if adapter.lastArg != "2024-02-15" {
		t.Fatalf("adapter got since=%q", adapter.lastArg)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	a := &scriptedAdapter{name: "newsA"}
	b := &scriptedAdapter{name: "newsA"}
	if _, err := NewRegistry(a, b); err == nil {
		t.Fatalf("duplicate adapter accepted")
	}
}
