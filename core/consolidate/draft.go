package consolidate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"edu-cti/core/canonical"
	"edu-cti/core/store"
)

// Draft is a raw, pre-consolidation observation from one source.
// Optional fields stay empty; validation happens here at the ingestion
// boundary, not at consumption time.
type Draft struct {
	Source              string   `json:"source"`
	SourceEventID       string   `json:"source_event_id,omitempty"`
	UniversityName      string   `json:"university_name"`
	InstitutionType     string   `json:"institution_type,omitempty"`
	Country             string   `json:"country,omitempty"`
	Region              string   `json:"region,omitempty"`
	City                string   `json:"city,omitempty"`
	IncidentDate        string   `json:"incident_date,omitempty"`
	DatePrecision       string   `json:"date_precision,omitempty"`
	SourcePublishedDate string   `json:"source_published_date,omitempty"`
	Title               string   `json:"title,omitempty"`
	Subtitle            string   `json:"subtitle,omitempty"`
	URLs                []string `json:"urls,omitempty"`
	LeakSiteURL         string   `json:"leak_site_url,omitempty"`
	SourceDetailURL     string   `json:"source_detail_url,omitempty"`
	ScreenshotURL       string   `json:"screenshot_url,omitempty"`
	AttackTypeHint      string   `json:"attack_type_hint,omitempty"`
	Status              string   `json:"status,omitempty"`
	SourceConfidence    string   `json:"source_confidence,omitempty"`
	Notes               string   `json:"notes,omitempty"`
}

var (
	errDraftNoSource   = errors.New("draft has no source")
	errDraftNoIdentity = errors.New("draft has no event id, urls, or title")
)

func (d *Draft) Validate() error {
	if strings.TrimSpace(d.Source) == "" {
		return errDraftNoSource
	}
	if strings.TrimSpace(d.SourceEventID) == "" && len(canonical.Keys(d.URLs)) == 0 && strings.TrimSpace(d.Title) == "" {
		return errDraftNoIdentity
	}
	if store.ConfidenceRank(d.SourceConfidence) == 0 {
		d.SourceConfidence = store.ConfidenceLow
	}
	if d.Status != store.StatusConfirmed {
		d.Status = store.StatusSuspected
	}
	if strings.TrimSpace(d.IncidentDate) == "" {
		d.DatePrecision = store.PrecisionUnknown
	} else if store.PrecisionRank(d.DatePrecision) <= 1 {
		d.DatePrecision = store.PrecisionDay
	}
	return nil
}

// EventKey is the idempotency key for sources without stable native
// IDs: the native id when present, else the first canonical URL, else
// title plus date.
func (d *Draft) EventKey() string {
	if id := strings.TrimSpace(d.SourceEventID); id != "" {
		return id
	}
	if keys := canonical.Keys(d.URLs); len(keys) > 0 {
		return keys[0]
	}
	return strings.ToLower(strings.TrimSpace(d.Title)) + "|" + strings.TrimSpace(d.IncidentDate)
}

// IncidentID derives the deterministic, content-derived identifier: the
// source name plus the first 16 hex chars of the event key's sha256.
// It is stable across merges into the incident.
func IncidentID(source, eventKey string) string {
	sum := sha256.Sum256([]byte(eventKey))
	return strings.TrimSpace(source) + "_" + hex.EncodeToString(sum[:])[:16]
}
