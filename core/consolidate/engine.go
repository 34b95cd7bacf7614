package consolidate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"edu-cti/core/canonical"
	"edu-cti/core/store"
	"edu-cti/core/utils"
)

type OutcomeKind string

const (
	SkippedDuplicate OutcomeKind = "skipped_duplicate"
	InsertedNew      OutcomeKind = "inserted_new"
	MergedInto       OutcomeKind = "merged_into"
)

type Outcome struct {
	Kind       OutcomeKind `json:"kind"`
	IncidentID string      `json:"incident_id,omitempty"`
}

// Engine resolves drafts against the entity store: per-source
// idempotency first, then shared-canonical-URL entity resolution.
// Consolidation writes are serialized so that merge outcomes depend
// only on arrival order.
type Engine struct {
	incidents store.IncidentsStore
	sources   store.SourcesStore
	recent    *lru.Cache[string, string]
	logger    *utils.Logger
	mu        sync.Mutex
}

func NewEngine(incidents store.IncidentsStore, sources store.SourcesStore, cacheSize int, logger *utils.Logger) (*Engine, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{
		incidents: incidents,
		sources:   sources,
		recent:    cache,
		logger:    logger,
	}, nil
}

func (e *Engine) Consolidate(ctx context.Context, d Draft) (Outcome, error) {
	if err := d.Validate(); err != nil {
		return Outcome{}, err
	}
	eventKey := d.EventKey()
	cacheKey := d.Source + "|" + eventKey
	if id, ok := e.recent.Get(cacheKey); ok {
		return Outcome{Kind: SkippedDuplicate, IncidentID: id}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ev, err := e.sources.GetSourceEvent(ctx, d.Source, eventKey)
	if err != nil {
		return Outcome{}, fmt.Errorf("source event lookup: %w", err)
	}
	if ev != nil {
		e.recent.Add(cacheKey, ev.IncidentID)
		return Outcome{Kind: SkippedDuplicate, IncidentID: ev.IncidentID}, nil
	}

	urls := canonical.Keys(d.URLs)
	candidates, err := e.incidents.FindIncidentsByURLs(ctx, urls)
	if err != nil {
		return Outcome{}, fmt.Errorf("candidate lookup: %w", err)
	}

	now := time.Now().UTC()
	attr := store.SourceAttribution{
		SourceName:       d.Source,
		SourceConfidence: d.SourceConfidence,
		FirstSeenAt:      now,
	}
	if id := strings.TrimSpace(d.SourceEventID); id != "" {
		attr.SourceEventID = &id
	}
	event := store.SourceEvent{
		SourceName:    d.Source,
		SourceEventID: eventKey,
		FirstSeenAt:   now,
	}

	if len(candidates) == 0 {
		inc := e.incidentFromDraft(d, urls, now)
		attr.IncidentID = inc.ID
		event.IncidentID = inc.ID
		if err := e.incidents.RegisterIncident(ctx, inc, attr, event); err != nil {
			return Outcome{}, fmt.Errorf("register incident: %w", err)
		}
		e.recent.Add(cacheKey, inc.ID)
		if e.logger != nil {
			e.logger.Printf("CONSOLIDATE new incident=%s source=%s", inc.ID, d.Source)
		}
		return Outcome{Kind: InsertedNew, IncidentID: inc.ID}, nil
	}

	// Candidates arrive ordered by (created_at, incident_id); the first
	// is the deterministic survivor for bridging merges.
	survivor := candidates[0]
	var absorbedIDs []string
	for i := 1; i < len(candidates); i++ {
		mergeIncident(&survivor, &candidates[i])
		absorbedIDs = append(absorbedIDs, candidates[i].ID)
	}
	draftInc := e.incidentFromDraft(d, urls, now)
	mergeIncident(&survivor, draftInc)

	attr.IncidentID = survivor.ID
	event.IncidentID = survivor.ID
	if err := e.incidents.ApplyMerge(ctx, &survivor, absorbedIDs, attr, event); err != nil {
		return Outcome{}, fmt.Errorf("apply merge: %w", err)
	}
	if len(absorbedIDs) > 0 {
		// Cached duplicate outcomes may still point at the absorbed
		// incidents; drop them so repeats resolve via the ledger, which
		// was repointed at the survivor.
		e.recent.Purge()
	}
	e.recent.Add(cacheKey, survivor.ID)
	if e.logger != nil {
		if len(absorbedIDs) > 0 {
			e.logger.Printf("CONSOLIDATE bridge merge incident=%s absorbed=%v source=%s", survivor.ID, absorbedIDs, d.Source)
		} else {
			e.logger.Printf("CONSOLIDATE merge incident=%s source=%s", survivor.ID, d.Source)
		}
	}
	return Outcome{Kind: MergedInto, IncidentID: survivor.ID}, nil
}

func (e *Engine) incidentFromDraft(d Draft, urls []string, now time.Time) *store.Incident {
	return &store.Incident{
		ID:                  IncidentID(d.Source, d.EventKey()),
		Source:              d.Source,
		SourceEventID:       d.SourceEventID,
		UniversityName:      d.UniversityName,
		NormalizedName:      store.NormalizeInstitutionName(d.UniversityName),
		InstitutionType:     d.InstitutionType,
		Country:             d.Country,
		Region:              d.Region,
		City:                d.City,
		IncidentDate:        d.IncidentDate,
		DatePrecision:       d.DatePrecision,
		SourcePublishedDate: d.SourcePublishedDate,
		IngestedAt:          now,
		Title:               d.Title,
		Subtitle:            d.Subtitle,
		AllURLs:             urls,
		LeakSiteURL:         d.LeakSiteURL,
		SourceDetailURL:     d.SourceDetailURL,
		ScreenshotURL:       d.ScreenshotURL,
		AttackTypeHint:      d.AttackTypeHint,
		Status:              d.Status,
		SourceConfidence:    d.SourceConfidence,
		Notes:               d.Notes,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}
