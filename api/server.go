package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edu-cti/config"
	"edu-cti/core/enrich"
	"edu-cti/core/ingest"
	"edu-cti/core/store"
	"edu-cti/core/utils"
)

// BackgroundWorker is anything started alongside the HTTP server and
// stopped during shutdown.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context)
	StopWithContext(ctx context.Context) error
}

type ServerDeps struct {
	Incidents    store.IncidentsStore
	Sources      store.SourcesStore
	Enrichments  store.EnrichmentStore
	Runner       *ingest.Runner
	Orchestrator *enrich.Orchestrator
	Deduper      *enrich.Deduper
	PromRegistry *prometheus.Registry
}

type Server struct {
	cfg          *config.AppConfig
	logger       *utils.Logger
	incidents    store.IncidentsStore
	sources      store.SourcesStore
	enrichs      store.EnrichmentStore
	runner       *ingest.Runner
	orchestrator *enrich.Orchestrator
	deduper      *enrich.Deduper
	promRegistry *prometheus.Registry
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	return &Server{
		cfg:          cfg,
		logger:       logger,
		incidents:    deps.Incidents,
		sources:      deps.Sources,
		enrichs:      deps.Enrichments,
		runner:       deps.Runner,
		orchestrator: deps.Orchestrator,
		deduper:      deps.Deduper,
		promRegistry: deps.PromRegistry,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", s.handleHealth)
	if s.promRegistry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(jsonMiddleware)
		r.Get("/incidents", s.handleListIncidents)
		r.Get("/incidents/export", s.handleExportCSV)
		r.Get("/incidents/{id}", s.handleGetIncident)
		r.Get("/incidents/{id}/sources", s.handleIncidentSources)
		r.Get("/incidents/{id}/events", s.handleIncidentEvents)
		r.Get("/incidents/{id}/enrichment", s.handleIncidentEnrichment)
		r.Get("/sources/state", s.handleSourceStates)
		r.Get("/stats", s.handleStats)

		r.Route("/admin", func(r chi.Router) {
			r.Delete("/incidents/{id}", s.handleDeleteIncident)
			r.Post("/incidents/{id}/enrichment/revert", s.handleRevertEnrichment)
			r.Post("/runs/ingest", s.handleRunIngest)
			r.Post("/runs/enrichment", s.handleRunEnrichment)
		})
	})
	return r
}
