package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/sync/errgroup"

	"edu-cti/config"
	"edu-cti/core/consolidate"
	"edu-cti/core/metrics"
	"edu-cti/core/store"
	"edu-cti/core/utils"
)

type SourceReport struct {
	Source           string `json:"source"`
	Fetched          int    `json:"fetched"`
	InsertedNew      int    `json:"inserted_new"`
	Merged           int    `json:"merged"`
	SkippedDuplicate int    `json:"skipped_duplicate"`
	Failed           int    `json:"failed"`
	Completed        bool   `json:"completed"`
	Error            string `json:"error,omitempty"`
}

type RunReport struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceReport `json:"sources"`
}

func (r *RunReport) Totals() SourceReport {
	var t SourceReport
	for _, s := range r.Sources {
		t.Fetched += s.Fetched
		t.InsertedNew += s.InsertedNew
		t.Merged += s.Merged
		t.SkippedDuplicate += s.SkippedDuplicate
		t.Failed += s.Failed
	}
	return t
}

// Runner drives all registered source adapters through one incremental
// ingestion pass. Sources run in parallel; per-source failures are
// isolated and only hold back that source's watermark.
type Runner struct {
	cfg      config.IngestionConfig
	registry *Registry
	engine   *consolidate.Engine
	sources  store.SourcesStore
	metrics  *metrics.Metrics
	logger   *utils.Logger
}

func NewRunner(cfg config.IngestionConfig, registry *Registry, engine *consolidate.Engine, sources store.SourcesStore, m *metrics.Metrics, logger *utils.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		sources:  sources,
		metrics:  m,
		logger:   logger,
	}
}

func (r *Runner) RunAll(ctx context.Context) (*RunReport, error) {
	runID, _ := uuid.NewV4()
	report := &RunReport{RunID: runID.String(), StartedAt: time.Now().UTC()}
	adapters := r.registry.Adapters()
	reports := make([]SourceReport, len(adapters))

	g, runCtx := errgroup.WithContext(ctx)
	limit := r.cfg.MaxParallelSource
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	var mu sync.Mutex
	for i, adapter := range adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			sr := r.runSource(runCtx, adapter)
			mu.Lock()
			reports[i] = sr
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	report.Sources = reports
	report.FinishedAt = time.Now().UTC()
	if r.logger != nil {
		t := report.Totals()
		r.logger.Printf("INGEST run=%s fetched=%d new=%d merged=%d dup=%d failed=%d dur=%s",
			report.RunID, t.Fetched, t.InsertedNew, t.Merged, t.SkippedDuplicate, t.Failed, report.FinishedAt.Sub(report.StartedAt))
	}
	return report, nil
}

func (r *Runner) runSource(ctx context.Context, adapter SourceAdapter) SourceReport {
	sr := SourceReport{Source: adapter.Name()}
	since := ""
	if !r.cfg.FullRefresh {
		wm, ok, err := r.sources.Watermark(ctx, adapter.Name())
		if err != nil {
			sr.Error = err.Error()
			r.metrics.ObserveIngestError(adapter.Name())
			return sr
		}
		if ok {
			since = wm
		}
	}
	drafts, err := adapter.FetchSince(ctx, since, r.cfg.FetchLimit)
	if err != nil {
		// Aborted run: the watermark stays put so the next run
		// re-observes the same window. Idempotency makes the
		// re-observation a cheap no-op for consolidated items.
		sr.Error = err.Error()
		r.metrics.ObserveIngestError(adapter.Name())
		if r.logger != nil {
			r.logger.Errorf("INGEST source=%s fetch failed: %v", adapter.Name(), err)
		}
		return sr
	}
	sr.Fetched = len(drafts)
	var observed []string
	for _, d := range drafts {
		outcome, err := r.engine.Consolidate(ctx, d)
		if err != nil {
			sr.Failed++
			if r.logger != nil {
				r.logger.Errorf("INGEST source=%s draft failed: %v", adapter.Name(), err)
			}
			continue
		}
		switch outcome.Kind {
		case consolidate.InsertedNew:
			sr.InsertedNew++
		case consolidate.MergedInto:
			sr.Merged++
		case consolidate.SkippedDuplicate:
			sr.SkippedDuplicate++
		}
		r.metrics.ObserveConsolidation(adapter.Name(), string(outcome.Kind))
		if date := observedDate(d); date != "" {
			observed = append(observed, date)
		}
	}
	if sr.Failed > 0 {
		// A draft the engine could not commit must be re-observable.
		return sr
	}
	if err := r.sources.AdvanceWatermark(ctx, adapter.Name(), observed); err != nil {
		sr.Error = err.Error()
		r.metrics.ObserveIngestError(adapter.Name())
		return sr
	}
	sr.Completed = true
	return sr
}

func observedDate(d consolidate.Draft) string {
	if v := strings.TrimSpace(d.SourcePublishedDate); v != "" {
		return v
	}
	return strings.TrimSpace(d.IncidentDate)
}
