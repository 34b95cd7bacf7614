package enrich

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"edu-cti/core/store"
)

func seedEnriched(t *testing.T, incidents store.IncidentsStore, enrichs store.EnrichmentStore, id, name, date string, payload map[string]any) {
	t.Helper()
	now := time.Now().UTC()
	inc := &store.Incident{
		ID:             id,
		Source:         "newsA",
		UniversityName: name,
		NormalizedName: store.NormalizeInstitutionName(name),
		IncidentDate:   date,
		DatePrecision:  store.PrecisionDay,
		AllURLs:        []string{"https://example.com/" + id},
		IngestedAt:     now,
		CreatedAt:      now,
	}
	attr := store.SourceAttribution{IncidentID: id, SourceName: "newsA", SourceConfidence: store.ConfidenceLow, FirstSeenAt: now}
	ev := store.SourceEvent{SourceName: "newsA", SourceEventID: id, IncidentID: id, FirstSeenAt: now}
	if err := incidents.RegisterIncident(context.Background(), inc, attr, ev); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	raw, _ := json.Marshal(payload)
	if err := enrichs.SaveEnrichment(context.Background(), id, raw, "test", store.EnrichmentProjection{Summary: "s"}); err != nil {
		t.Fatalf("enrich %s: %v", id, err)
	}
}

func TestDeduperCollapsesSameInstitutionWithinWindow(t *testing.T) {
	_, incidents, enrichs := setupEnrichEnv(t)
	seedEnriched(t, incidents, enrichs, "newsA_aaaa", "Example State University", "2024-03-01",
		map[string]any{"summary": "x"})
	seedEnriched(t, incidents, enrichs, "newsB_bbbb", "The Example State University", "2024-03-05",
		map[string]any{"summary": "x", "attack_type": "ransomware", "severity": "high"})

	d := NewDeduper(incidents, enrichs, 14, nil)
	removed, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("dedup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d", removed)
	}
	// Richer payload survives.
	if _, err := incidents.GetIncident(context.Background(), "newsB_bbbb"); err != nil {
		t.Fatalf("survivor missing: %v", err)
	}
	if _, err := incidents.GetIncident(context.Background(), "newsA_aaaa"); err == nil {
		t.Fatalf("duplicate not removed")
	}
}

func TestDeduperIgnoresDistantDates(t *testing.T) {
	_, incidents, enrichs := setupEnrichEnv(t)
	seedEnriched(t, incidents, enrichs, "newsA_cccc", "Springfield College", "2024-01-01",
		map[string]any{"summary": "x"})
	seedEnriched(t, incidents, enrichs, "newsB_dddd", "Springfield College", "2024-06-01",
		map[string]any{"summary": "y"})

	d := NewDeduper(incidents, enrichs, 14, nil)
	removed, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("dedup: %v", err)
	}
	if removed != 0 {
		t.Fatalf("distinct events collapsed: removed=%d", removed)
	}
}
