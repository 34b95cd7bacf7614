package store

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	StatusSuspected = "suspected"
	StatusConfirmed = "confirmed"

	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"

	PrecisionDay     = "day"
	PrecisionMonth   = "month"
	PrecisionYear    = "year"
	PrecisionUnknown = "unknown"
)

// Incident is the canonical, deduplicated entity. Dates are stored as
// ISO YYYY-MM-DD strings with a separate precision tag because sources
// report anything from exact days to bare years.
type Incident struct {
	ID                  string     `json:"incident_id"`
	Source              string     `json:"source"`
	SourceEventID       string     `json:"source_event_id,omitempty"`
	UniversityName      string     `json:"university_name"`
	NormalizedName      string     `json:"normalized_name,omitempty"`
	InstitutionType     string     `json:"institution_type,omitempty"`
	Country             string     `json:"country,omitempty"`
	Region              string     `json:"region,omitempty"`
	City                string     `json:"city,omitempty"`
	IncidentDate        string     `json:"incident_date,omitempty"`
	DatePrecision       string     `json:"date_precision"`
	SourcePublishedDate string     `json:"source_published_date,omitempty"`
	IngestedAt          time.Time  `json:"ingested_at"`
	Title               string     `json:"title,omitempty"`
	Subtitle            string     `json:"subtitle,omitempty"`
	PrimaryURL          string     `json:"primary_url,omitempty"`
	AllURLs             []string   `json:"all_urls"`
	LeakSiteURL         string     `json:"leak_site_url,omitempty"`
	SourceDetailURL     string     `json:"source_detail_url,omitempty"`
	ScreenshotURL       string     `json:"screenshot_url,omitempty"`
	AttackTypeHint      string     `json:"attack_type_hint,omitempty"`
	Status              string     `json:"status"`
	SourceConfidence    string     `json:"source_confidence"`
	Notes               string     `json:"notes,omitempty"`
	Enriched            bool       `json:"enriched"`
	EnrichedAt          *time.Time `json:"enriched_at,omitempty"`
	EnrichmentSkipped   bool       `json:"enrichment_skipped"`
	LLMSummary          string     `json:"llm_summary,omitempty"`
	LLMAttackType       string     `json:"llm_attack_type,omitempty"`
	LLMSeverity         string     `json:"llm_severity,omitempty"`
	LLMDataCompromised  string     `json:"llm_data_compromised,omitempty"`
	LLMStudentsAffected *int64     `json:"llm_students_affected,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// SourceAttribution records that a source contributed to an incident.
// Rows are written once and never mutated; they go away only when the
// incident is deleted.
type SourceAttribution struct {
	ID               int64     `json:"id"`
	IncidentID       string    `json:"incident_id"`
	SourceName       string    `json:"source_name"`
	SourceEventID    *string   `json:"source_event_id,omitempty"`
	SourceConfidence string    `json:"source_confidence"`
	FirstSeenAt      time.Time `json:"first_seen_at"`
}

// SourceEvent is the per-source idempotency ledger row. The incident it
// points at may change when incidents merge; nothing else does.
type SourceEvent struct {
	SourceName    string    `json:"source_name"`
	SourceEventID string    `json:"source_event_id"`
	IncidentID    string    `json:"incident_id"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
}

// EnrichmentRecord is the full structured extraction payload for one
// incident, stored alongside the denormalized projection on the
// incidents row.
type EnrichmentRecord struct {
	IncidentID string          `json:"incident_id"`
	Payload    json.RawMessage `json:"payload"`
	Model      string          `json:"model,omitempty"`
	EnrichedAt time.Time       `json:"enriched_at"`
}

// EnrichmentProjection carries the denormalized columns written onto
// the incidents row together with the payload.
type EnrichmentProjection struct {
	Summary          string
	AttackType       string
	Severity         string
	DataCompromised  string
	StudentsAffected *int64
	PrimaryURL       string
}

type IncidentFilter struct {
	Source   string
	Country  string
	Status   string
	Enriched *bool
	Search   string
	DateFrom string
	DateTo   string
	Limit    int
	Offset   int
}

type EnrichmentStats struct {
	Total    int `json:"total"`
	Enriched int `json:"enriched"`
	Pending  int `json:"pending"`
	Skipped  int `json:"skipped"`
}

func ConfidenceRank(c string) int {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

func PrecisionRank(p string) int {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case PrecisionDay:
		return 4
	case PrecisionMonth:
		return 3
	case PrecisionYear:
		return 2
	}
	return 1
}

func urlsToJSON(urls []string) string {
	if len(urls) == 0 {
		return "[]"
	}
	b, err := json.Marshal(urls)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseURLList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "[]" {
		return nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(raw), &urls); err != nil {
		return nil
	}
	return urls
}

func nullableString(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	return *v
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
