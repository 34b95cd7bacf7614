package enrich

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"edu-cti/config"
	"edu-cti/core/store"
)

func setupEnrichEnv(t *testing.T) (*sql.DB, store.IncidentsStore, store.EnrichmentStore) {
	t.Helper()
	cfg := &config.AppConfig{DBDriver: "sqlite", DBURL: filepath.Join(t.TempDir(), "enrich.db")}
	db, err := store.NewDB(cfg, nil)
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, nil); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db, store.NewIncidentsStore(db), store.NewEnrichmentStore(db)
}

func seedIncident(t *testing.T, incidents store.IncidentsStore, id string, urls []string) {
	t.Helper()
	now := time.Now().UTC()
	inc := &store.Incident{
		ID:             id,
		Source:         "newsA",
		UniversityName: "Example State University",
		AllURLs:        urls,
		Status:         store.StatusSuspected,
		DatePrecision:  store.PrecisionUnknown,
		IngestedAt:     now,
		CreatedAt:      now,
	}
	attr := store.SourceAttribution{IncidentID: id, SourceName: "newsA", SourceConfidence: store.ConfidenceLow, FirstSeenAt: now}
	ev := store.SourceEvent{SourceName: "newsA", SourceEventID: id, IncidentID: id, FirstSeenAt: now}
	if err := incidents.RegisterIncident(context.Background(), inc, attr, ev); err != nil {
		t.Fatalf("seed incident %s: %v", id, err)
	}
}

type fakeFetcher struct {
	mu      sync.Mutex
	content map[string]string
	calls   int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	c, ok := f.content[url]
	if !ok {
		return "", errors.New("fetch failed")
	}
	return c, nil
}

type fakeExtractor struct {
	mu    sync.Mutex
	fn    func(text string) (*Extraction, error)
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, text string) (*Extraction, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(text)
}

func testEnrichConfig() config.EnrichmentConfig {
	return config.EnrichmentConfig{
		BatchLimit:     50,
		FetchWorkers:   2,
		QueueDepth:     2,
		MaxURLs:        5,
		RetryAttempts:  3,
		RetryBaseDelay: time.Millisecond,
		Model:          "test",
	}
}

func TestRunEnrichesAndPicksRichestDocument(t *testing.T) {
	_, incidents, enrichs := setupEnrichEnv(t)
	seedIncident(t, incidents, "newsA_0001", []string{"https://a.example/rich", "https://a.example/poor"})

	fetcher := &fakeFetcher{content: map[string]string{
		"https://a.example/rich": "rich text",
		"https://a.example/poor": "poor text",
	}}
	extractor := &fakeExtractor{fn: func(text string) (*Extraction, error) {
		if text == "rich text" {
			return &Extraction{IsRelevant: true, Payload: map[string]any{
				"summary":     "Ransomware at Example State",
				"attack_type": "ransomware",
				"severity":    "high",
			}}, nil
		}
		return &Extraction{IsRelevant: true, Payload: map[string]any{"summary": "short"}}, nil
	}}

	o := NewOrchestrator(testEnrichConfig(), enrichs, fetcher, extractor, nil, nil)
	report, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Processed != 1 || report.Enriched != 1 {
		t.Fatalf("report = %+v", report)
	}
	inc, err := incidents.GetIncident(context.Background(), "newsA_0001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !inc.Enriched || inc.EnrichedAt == nil {
		t.Fatalf("incident not marked enriched: %+v", inc)
	}
	if inc.PrimaryURL != "https://a.example/rich" {
		t.Fatalf("primary url = %q", inc.PrimaryURL)
	}
	if inc.LLMSummary != "Ransomware at Example State" || inc.LLMAttackType != "ransomware" {
		t.Fatalf("projection missing: %+v", inc)
	}
	rec, err := enrichs.GetEnrichment(context.Background(), inc.ID)
	if err != nil {
		t.Fatalf("payload missing: %v", err)
	}
	if len(rec.Payload) == 0 {
		t.Fatalf("empty payload row")
	}
}

func TestRunNotRelevantIsPermanentSkip(t *testing.T) {
	_, incidents, enrichs := setupEnrichEnv(t)
	seedIncident(t, incidents, "newsA_0002", []string{"https://a.example/x"})

	fetcher := &fakeFetcher{content: map[string]string{"https://a.example/x": "text"}}
	extractor := &fakeExtractor{fn: func(string) (*Extraction, error) {
		return &Extraction{IsRelevant: false}, nil
	}}
	o := NewOrchestrator(testEnrichConfig(), enrichs, fetcher, extractor, nil, nil)
	report, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.SkippedNotRelevant != 1 {
		t.Fatalf("report = %+v", report)
	}
	// A second run must not pick the incident up again.
	report2, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if report2.Processed != 0 {
		t.Fatalf("skipped incident selected again: %+v", report2)
	}
}

func TestRunAllFetchesFailedStaysPending(t *testing.T) {
	_, incidents, enrichs := setupEnrichEnv(t)
	seedIncident(t, incidents, "newsA_0003", []string{"https://a.example/broken"})

	fetcher := &fakeFetcher{content: map[string]string{}}
	extractor := &fakeExtractor{fn: func(string) (*Extraction, error) {
		t.Fatal("extractor must not be called without documents")
		return nil, nil
	}}
	o := NewOrchestrator(testEnrichConfig(), enrichs, fetcher, extractor, nil, nil)
	report, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FailedRetryable != 1 {
		t.Fatalf("report = %+v", report)
	}
	pending, err := enrichs.ListUnenriched(context.Background(), 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "newsA_0003" {
		t.Fatalf("incident not pending anymore: %v", pending)
	}
}

func TestRunRateLimitedRetriesWithBackoff(t *testing.T) {
	_, incidents, enrichs := setupEnrichEnv(t)
	seedIncident(t, incidents, "newsA_0004", []string{"https://a.example/x"})

	fetcher := &fakeFetcher{content: map[string]string{"https://a.example/x": "text"}}
	attempts := 0
	extractor := &fakeExtractor{fn: func(string) (*Extraction, error) {
		attempts++
		if attempts <= 2 {
			return &Extraction{RateLimited: true}, nil
		}
		return &Extraction{IsRelevant: true, Payload: map[string]any{"summary": "ok"}}, nil
	}}
	o := NewOrchestrator(testEnrichConfig(), enrichs, fetcher, extractor, nil, nil)
	report, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Enriched != 1 {
		t.Fatalf("report = %+v", report)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d", attempts)
	}
}

func TestRunExhaustedBackoffIsRetryableNotSkip(t *testing.T) {
	_, incidents, enrichs := setupEnrichEnv(t)
	seedIncident(t, incidents, "newsA_0005", []string{"https://a.example/x"})

	fetcher := &fakeFetcher{content: map[string]string{"https://a.example/x": "text"}}
	extractor := &fakeExtractor{fn: func(string) (*Extraction, error) {
		return &Extraction{RateLimited: true}, nil
	}}
	o := NewOrchestrator(testEnrichConfig(), enrichs, fetcher, extractor, nil, nil)
	report, err := o.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.FailedRetryable != 1 || report.SkippedNotRelevant != 0 {
		t.Fatalf("rate-limit exhaustion misclassified: %+v", report)
	}
	pending, _ := enrichs.ListUnenriched(context.Background(), 10, "")
	if len(pending) != 1 {
		t.Fatalf("incident not pending: %v", pending)
	}
}

func TestFieldCoverage(t *testing.T) {
	payload := map[string]any{
		"summary":     "text",
		"empty":       "",
		"null":        nil,
		"count":       float64(3),
		"list":        []any{"a"},
		"empty_list":  []any{},
		"nested":      map[string]any{"k": "v"},
		"empty_inner": map[string]any{},
	}
	if got := fieldCoverage(payload); got != 4 {
		t.Fatalf("fieldCoverage = %d, want 4", got)
	}
}
