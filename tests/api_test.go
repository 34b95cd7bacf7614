package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"edu-cti/api"
	"edu-cti/config"
	"edu-cti/core/consolidate"
	"edu-cti/core/store"
)

func setupAPIEnv(t *testing.T) (context.Context, *consolidate.Engine, store.IncidentsStore, store.EnrichmentStore, http.Handler) {
	t.Helper()
	ctx, _, incidents, sources, enrichs := setupCoreEnv(t)
	engine := newEngine(t, incidents, sources)
	cfg := &config.AppConfig{AppEnv: "test"}
	srv := api.NewServer(cfg, api.ServerDeps{
		Incidents:   incidents,
		Sources:     sources,
		Enrichments: enrichs,
	}, nil)
	return ctx, engine, incidents, enrichs, srv.Router()
}

func seedViaEngine(t *testing.T, ctx context.Context, engine *consolidate.Engine, d consolidate.Draft) string {
	t.Helper()
	out, err := engine.Consolidate(ctx, d)
	if err != nil {
		t.Fatalf("consolidate seed: %v", err)
	}
	return out.IncidentID
}

func TestListAndGetIncidentEndpoints(t *testing.T) {
	ctx, engine, _, _, router := setupAPIEnv(t)
	id := seedViaEngine(t, ctx, engine, consolidate.Draft{
		Source: "newsA", SourceEventID: "e1",
		UniversityName: "Harbor City College",
		Country:        "US",
		URLs:           []string{"https://news.example/harbor"},
		IncidentDate:   "2024-05-02",
	})
	seedViaEngine(t, ctx, engine, consolidate.Draft{
		Source: "newsB", SourceEventID: "b2",
		UniversityName: "Overseas Academy",
		Country:        "DE",
		URLs:           []string{"https://news.example/overseas"},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/incidents?country=US", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	var listResp struct {
		Incidents []store.Incident `json:"incidents"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listResp.Incidents) != 1 || listResp.Incidents[0].ID != id {
		t.Fatalf("country filter returned %+v", listResp.Incidents)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/incidents/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	var inc store.Incident
	if err := json.Unmarshal(rr.Body.Bytes(), &inc); err != nil {
		t.Fatalf("decode incident: %v", err)
	}
	if inc.UniversityName != "Harbor City College" {
		t.Fatalf("unexpected incident %+v", inc)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/incidents/missing_0000", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing incident: expected 404, got %d", rr.Code)
	}
}

func TestIncidentSourcesAndEventsEndpoints(t *testing.T) {
	ctx, engine, _, _, router := setupAPIEnv(t)
	id := seedViaEngine(t, ctx, engine, consolidate.Draft{
		Source: "newsA", SourceEventID: "e1",
		UniversityName: "Pinecrest University",
		URLs:           []string{"https://news.example/pinecrest"},
	})
	seedViaEngine(t, ctx, engine, consolidate.Draft{
		Source: "newsB", SourceEventID: "x4",
		UniversityName: "Pinecrest University",
		URLs:           []string{"https://news.example/pinecrest"},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/incidents/"+id+"/sources", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("sources: expected 200, got %d", rr.Code)
	}
	var srcResp struct {
		Sources []store.SourceAttribution `json:"sources"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &srcResp); err != nil {
		t.Fatalf("decode sources: %v", err)
	}
	if len(srcResp.Sources) != 2 {
		t.Fatalf("expected 2 attributions, got %d", len(srcResp.Sources))
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/incidents/"+id+"/events", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("events: expected 200, got %d", rr.Code)
	}
	var evResp struct {
		Events []store.SourceEvent `json:"events"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &evResp); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(evResp.Events) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(evResp.Events))
	}
}

func TestAdminRevertAndDeleteEndpoints(t *testing.T) {
	ctx, engine, incidents, enrichs, router := setupAPIEnv(t)
	id := seedViaEngine(t, ctx, engine, consolidate.Draft{
		Source: "newsA", SourceEventID: "e1",
		UniversityName: "Gulfport Technical",
		URLs:           []string{"https://news.example/gulfport"},
	})
	if err := enrichs.SaveEnrichment(ctx, id, []byte(`{"severity":"high"}`), "m", store.EnrichmentProjection{Severity: "high"}); err != nil {
		t.Fatalf("save enrichment: %v", err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/admin/incidents/"+id+"/enrichment/revert", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("revert: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	inc, _ := incidents.GetIncident(ctx, id)
	if inc.Enriched || inc.LLMSeverity != "" {
		t.Fatalf("revert left projection: enriched=%v severity=%q", inc.Enriched, inc.LLMSeverity)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/admin/incidents/"+id, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rr.Code)
	}
	if _, err := incidents.GetIncident(ctx, id); err != store.ErrNotFound {
		t.Fatalf("incident still present after delete: %v", err)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/admin/incidents/"+id, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("double delete: expected 404, got %d", rr.Code)
	}
}

func TestExportCSVEndpoint(t *testing.T) {
	ctx, engine, _, _, router := setupAPIEnv(t)
	seedViaEngine(t, ctx, engine, consolidate.Draft{
		Source: "newsA", SourceEventID: "e1",
		UniversityName: "Summit Ridge College",
		Country:        "US",
		URLs:           []string{"https://news.example/summit"},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/incidents/export", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected header plus one row, got %d lines", len(lines))
	}
	if !strings.Contains(lines[1], "Summit Ridge College") {
		t.Fatalf("row missing institution: %q", lines[1])
	}
}
