package api

import (
	"encoding/csv"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"edu-cti/core/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	filter := incidentFilterFromQuery(r)
	incidents, err := s.incidents.ListIncidents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list incidents failed")
		return
	}
	if incidents == nil {
		incidents = []store.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": incidents})
}

func incidentFilterFromQuery(r *http.Request) store.IncidentFilter {
	q := r.URL.Query()
	filter := store.IncidentFilter{
		Source:   strings.TrimSpace(q.Get("source")),
		Country:  strings.TrimSpace(q.Get("country")),
		Status:   strings.TrimSpace(q.Get("status")),
		Search:   strings.TrimSpace(q.Get("q")),
		DateFrom: strings.TrimSpace(q.Get("date_from")),
		DateTo:   strings.TrimSpace(q.Get("date_to")),
	}
	if raw := strings.TrimSpace(q.Get("enriched")); raw != "" {
		v := raw == "1" || strings.EqualFold(raw, "true")
		filter.Enriched = &v
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	} else {
		filter.Limit = 100
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		filter.Offset = offset
	}
	return filter
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inc, err := s.incidents.GetIncident(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get incident failed")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

func (s *Server) handleIncidentSources(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	attrs, err := s.incidents.ListIncidentSources(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list sources failed")
		return
	}
	if attrs == nil {
		attrs = []store.SourceAttribution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": attrs})
}

func (s *Server) handleIncidentEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, err := s.sources.ListSourceEvents(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list events failed")
		return
	}
	if events == nil {
		events = []store.SourceEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleIncidentEnrichment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.enrichs.GetEnrichment(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "enrichment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get enrichment failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSourceStates(w http.ResponseWriter, r *http.Request) {
	states, err := s.sources.ListSourceStates(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list source state failed")
		return
	}
	if states == nil {
		states = []store.SourceState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": states})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.enrichs.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

var csvHeader = []string{
	"incident_id", "university_name", "institution_type", "country", "region", "city",
	"incident_date", "date_precision", "title", "status", "source_confidence",
	"primary_url", "all_urls", "enriched", "llm_summary", "llm_attack_type", "llm_severity",
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	filter := incidentFilterFromQuery(r)
	filter.Limit = 0
	incidents, err := s.incidents.ListIncidents(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="incidents.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write(csvHeader)
	for _, inc := range incidents {
		_ = cw.Write([]string{
			inc.ID, inc.UniversityName, inc.InstitutionType, inc.Country, inc.Region, inc.City,
			inc.IncidentDate, inc.DatePrecision, inc.Title, inc.Status, inc.SourceConfidence,
			inc.PrimaryURL, strings.Join(inc.AllURLs, " "), strconv.FormatBool(inc.Enriched),
			inc.LLMSummary, inc.LLMAttackType, inc.LLMSeverity,
		})
	}
	cw.Flush()
}

func (s *Server) handleDeleteIncident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.incidents.DeleteIncident(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	if s.logger != nil {
		s.logger.Printf("ADMIN delete incident=%s", id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleRevertEnrichment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.enrichs.RevertEnrichment(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "incident not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "revert failed")
		return
	}
	if s.logger != nil {
		s.logger.Printf("ADMIN revert enrichment incident=%s", id)
	}
	writeJSON(w, http.StatusOK, map[string]string{"reverted": id})
}

func (s *Server) handleRunIngest(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "no ingest runner configured")
		return
	}
	report, err := s.runner.RunAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ingest run failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRunEnrichment(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "no enrichment orchestrator configured")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	report, err := s.orchestrator.Run(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enrichment run failed")
		return
	}
	if s.deduper != nil {
		if removed, err := s.deduper.Run(r.Context()); err == nil && removed > 0 && s.logger != nil {
			s.logger.Printf("ADMIN post-enrichment dedup removed=%d", removed)
		}
	}
	writeJSON(w, http.StatusOK, report)
}
