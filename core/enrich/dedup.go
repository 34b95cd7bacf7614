package enrich

import (
	"context"
	"encoding/json"
	"time"

	"edu-cti/core/store"
	"edu-cti/core/utils"
)

// Deduper collapses enriched incidents that resolve to the same
// institution within a date window. URL-based consolidation cannot
// catch these: two sources reporting the same breach with disjoint
// reference sets only become comparable once extraction has produced a
// normalized institution name.
type Deduper struct {
	incidents  store.IncidentsStore
	enrichs    store.EnrichmentStore
	windowDays int
	logger     *utils.Logger
}

func NewDeduper(incidents store.IncidentsStore, enrichs store.EnrichmentStore, windowDays int, logger *utils.Logger) *Deduper {
	if windowDays <= 0 {
		windowDays = 14
	}
	return &Deduper{incidents: incidents, enrichs: enrichs, windowDays: windowDays, logger: logger}
}

// Run removes enriched duplicates, keeping the record with the richest
// extraction payload (ties go to the earliest created). Returns the
// number of incidents removed.
func (d *Deduper) Run(ctx context.Context) (int, error) {
	enriched := true
	incidents, err := d.incidents.ListIncidents(ctx, store.IncidentFilter{Enriched: &enriched})
	if err != nil {
		return 0, err
	}
	groups := map[string][]store.Incident{}
	for _, inc := range incidents {
		name := store.NormalizeInstitutionName(inc.UniversityName)
		if name == "" {
			continue
		}
		groups[name] = append(groups[name], inc)
	}
	removed := 0
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		removed += d.collapseGroup(ctx, group)
	}
	return removed, nil
}

func (d *Deduper) collapseGroup(ctx context.Context, group []store.Incident) int {
	removed := 0
	dropped := map[string]bool{}
	for i := 0; i < len(group); i++ {
		if dropped[group[i].ID] {
			continue
		}
		for j := i + 1; j < len(group); j++ {
			if dropped[group[j].ID] {
				continue
			}
			if !d.withinWindow(group[i].IncidentDate, group[j].IncidentDate) {
				continue
			}
			keep, drop := d.pickSurvivor(ctx, group[i], group[j])
			if err := d.incidents.DeleteIncident(ctx, drop.ID); err != nil {
				if d.logger != nil {
					d.logger.Errorf("DEDUP delete incident=%s: %v", drop.ID, err)
				}
				continue
			}
			dropped[drop.ID] = true
			removed++
			if d.logger != nil {
				d.logger.Printf("DEDUP kept=%s dropped=%s institution=%q", keep.ID, drop.ID, keep.UniversityName)
			}
			if dropped[group[i].ID] {
				break
			}
		}
	}
	return removed
}

func (d *Deduper) withinWindow(a, b string) bool {
	ta, errA := time.Parse("2006-01-02", a)
	tb, errB := time.Parse("2006-01-02", b)
	if errA != nil || errB != nil {
		return false
	}
	diff := ta.Sub(tb)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(d.windowDays)*24*time.Hour
}

func (d *Deduper) pickSurvivor(ctx context.Context, a, b store.Incident) (keep, drop store.Incident) {
	ca := d.coverage(ctx, a.ID)
	cb := d.coverage(ctx, b.ID)
	if cb > ca {
		return b, a
	}
	if ca > cb {
		return a, b
	}
	if b.CreatedAt.Before(a.CreatedAt) {
		return b, a
	}
	return a, b
}

func (d *Deduper) coverage(ctx context.Context, incidentID string) int {
	rec, err := d.enrichs.GetEnrichment(ctx, incidentID)
	if err != nil || rec == nil {
		return 0
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return 0
	}
	return fieldCoverage(payload)
}
