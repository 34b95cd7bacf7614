// Package metrics exposes prometheus collectors for the ingestion and
// enrichment pipelines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ConsolidationOutcomes *prometheus.CounterVec
	IngestRunErrors       *prometheus.CounterVec
	EnrichmentOutcomes    *prometheus.CounterVec
	EnrichmentQueueDepth  prometheus.Gauge
	IncidentsTotal        prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConsolidationOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "educti",
			Name:      "consolidation_outcomes_total",
			Help:      "Consolidation outcomes by source and kind.",
		}, []string{"source", "outcome"}),
		IngestRunErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "educti",
			Name:      "ingest_run_errors_total",
			Help:      "Ingestion run errors by source.",
		}, []string{"source"}),
		EnrichmentOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "educti",
			Name:      "enrichment_outcomes_total",
			Help:      "Enrichment outcomes by terminal state.",
		}, []string{"outcome"}),
		EnrichmentQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "educti",
			Name:      "enrichment_queue_depth",
			Help:      "Incidents currently queued between fetch and extraction.",
		}),
		IncidentsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "educti",
			Name:      "incidents_total",
			Help:      "Total incidents in the entity store.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.ConsolidationOutcomes,
			m.IngestRunErrors,
			m.EnrichmentOutcomes,
			m.EnrichmentQueueDepth,
			m.IncidentsTotal,
		)
	}
	return m
}

func (m *Metrics) ObserveConsolidation(source, outcome string) {
	if m == nil {
		return
	}
	m.ConsolidationOutcomes.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObserveIngestError(source string) {
	if m == nil {
		return
	}
	m.IngestRunErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveEnrichment(outcome string) {
	if m == nil {
		return
	}
	m.EnrichmentOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.EnrichmentQueueDepth.Set(float64(n))
}

func (m *Metrics) SetIncidentsTotal(n int) {
	if m == nil {
		return
	}
	m.IncidentsTotal.Set(float64(n))
}
