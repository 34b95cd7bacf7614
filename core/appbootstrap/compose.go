package appbootstrap

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"edu-cti/api"
	"edu-cti/config"
	"edu-cti/core/consolidate"
	"edu-cti/core/enrich"
	"edu-cti/core/ingest"
	"edu-cti/core/metrics"
	"edu-cti/core/scheduler"
	"edu-cti/core/store"
	"edu-cti/core/utils"
)

type runtimeComposition struct {
	serverDeps api.ServerDeps
	runner     *ingest.Runner
	workers    []api.BackgroundWorker
}

// Collaborators are the external pieces the core consumes: source
// adapters, the document fetcher, and the extraction service. Nil
// fetcher/extractor fall back to the built-in HTTP implementations.
type Collaborators struct {
	Adapters  []ingest.SourceAdapter
	Fetcher   enrich.Fetcher
	Extractor enrich.Extractor
}

func composeRuntime(cfg *config.AppConfig, db *sql.DB, collab Collaborators, logger *utils.Logger) (*runtimeComposition, error) {
	incidents := store.NewIncidentsStore(db)
	sources := store.NewSourcesStore(db)
	enrichments := store.NewEnrichmentStore(db)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promRegistry)

	engine, err := consolidate.NewEngine(incidents, sources, cfg.Ingestion.EventCacheSize, logger.With("consolidate"))
	if err != nil {
		return nil, err
	}
	registry, err := ingest.NewRegistry(collab.Adapters...)
	if err != nil {
		return nil, err
	}
	runner := ingest.NewRunner(cfg.Ingestion, registry, engine, sources, m, logger.With("ingest"))

	fetcher := collab.Fetcher
	if fetcher == nil {
		fetcher = enrich.NewHTTPFetcher(cfg.Enrichment.FetchTimeout, cfg.Enrichment.UserAgent)
	}
	extractor := collab.Extractor
	if extractor == nil {
		extractor = enrich.NewLLMClient(cfg.Enrichment.APIURL, cfg.Enrichment.APIKey, cfg.Enrichment.Model, cfg.Enrichment.FetchTimeout)
	}
	orchestrator := enrich.NewOrchestrator(cfg.Enrichment, enrichments, fetcher, extractor, m, logger.With("enrich"))
	deduper := enrich.NewDeduper(incidents, enrichments, cfg.Enrichment.DedupWindowDays, logger.With("dedup"))

	sched := scheduler.New(cfg.Scheduler, runner, orchestrator, deduper, logger.With("scheduler"))

	return &runtimeComposition{
		serverDeps: api.ServerDeps{
			Incidents:    incidents,
			Sources:      sources,
			Enrichments:  enrichments,
			Runner:       runner,
			Orchestrator: orchestrator,
			Deduper:      deduper,
			PromRegistry: promRegistry,
		},
		runner:  runner,
		workers: []api.BackgroundWorker{sched},
	}, nil
}
