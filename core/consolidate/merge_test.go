package consolidate

import (
	"testing"

	"edu-cti/core/store"
)

func TestMergeScalarsFirstNonNullWins(t *testing.T) {
	dst := &store.Incident{UniversityName: "Example State University", Country: ""}
	src := &store.Incident{UniversityName: "Example State Univ.", Country: "US", City: "Springfield"}
	mergeIncident(dst, src)
	if dst.UniversityName != "Example State University" {
		t.Fatalf("present value overwritten: %q", dst.UniversityName)
	}
	if dst.Country != "US" || dst.City != "Springfield" {
		t.Fatalf("missing values not filled: country=%q city=%q", dst.Country, dst.City)
	}
}

func TestMergeConfidenceTakesMax(t *testing.T) {
	dst := &store.Incident{SourceConfidence: store.ConfidenceHigh}
	src := &store.Incident{SourceConfidence: store.ConfidenceLow}
	mergeIncident(dst, src)
	if dst.SourceConfidence != store.ConfidenceHigh {
		t.Fatalf("confidence regressed to %q", dst.SourceConfidence)
	}
	dst = &store.Incident{SourceConfidence: store.ConfidenceLow}
	src = &store.Incident{SourceConfidence: store.ConfidenceMedium}
	mergeIncident(dst, src)
	if dst.SourceConfidence != store.ConfidenceMedium {
		t.Fatalf("confidence not raised: %q", dst.SourceConfidence)
	}
}

func TestMergePrefersFinerDatePrecision(t *testing.T) {
	dst := &store.Incident{IncidentDate: "2024-03-01", DatePrecision: store.PrecisionMonth}
	src := &store.Incident{IncidentDate: "2024-03-15", DatePrecision: store.PrecisionDay}
	mergeIncident(dst, src)
	if dst.IncidentDate != "2024-03-15" || dst.DatePrecision != store.PrecisionDay {
		t.Fatalf("finer precision lost: %s/%s", dst.IncidentDate, dst.DatePrecision)
	}

	dst = &store.Incident{IncidentDate: "2024-03-15", DatePrecision: store.PrecisionDay}
	src = &store.Incident{IncidentDate: "2024-01-01", DatePrecision: store.PrecisionYear}
	mergeIncident(dst, src)
	if dst.IncidentDate != "2024-03-15" {
		t.Fatalf("coarser date replaced finer: %s", dst.IncidentDate)
	}
}

func TestMergeUnionsURLs(t *testing.T) {
	dst := &store.Incident{AllURLs: []string{"https://a.example/x"}}
	src := &store.Incident{AllURLs: []string{"https://a.example/x", "https://b.example/y"}}
	mergeIncident(dst, src)
	if len(dst.AllURLs) != 2 {
		t.Fatalf("url union wrong: %v", dst.AllURLs)
	}
}

func TestMergeKeepsEnrichmentState(t *testing.T) {
	dst := &store.Incident{Enriched: true, LLMSummary: "summary"}
	src := &store.Incident{}
	mergeIncident(dst, src)
	if !dst.Enriched || dst.LLMSummary != "summary" {
		t.Fatalf("enrichment state disturbed by merge")
	}
}

func TestMergeStatusUpgradesToConfirmed(t *testing.T) {
	dst := &store.Incident{Status: store.StatusSuspected}
	src := &store.Incident{Status: store.StatusConfirmed}
	mergeIncident(dst, src)
	if dst.Status != store.StatusConfirmed {
		t.Fatalf("status = %q", dst.Status)
	}
}

func TestDraftEventKeyFallbackChain(t *testing.T) {
	d := Draft{Source: "newsA", SourceEventID: "e1", URLs: []string{"https://a.example/x"}}
	if d.EventKey() != "e1" {
		t.Fatalf("native id ignored: %q", d.EventKey())
	}
	d = Draft{Source: "newsA", URLs: []string{"https://WWW.a.example/x/"}}
	if d.EventKey() != "https://a.example/x" {
		t.Fatalf("canonical url fallback wrong: %q", d.EventKey())
	}
	d = Draft{Source: "newsA", Title: "Breach at Example U", IncidentDate: "2024-03-01"}
	if d.EventKey() != "breach at example u|2024-03-01" {
		t.Fatalf("title fallback wrong: %q", d.EventKey())
	}
}

func TestIncidentIDDeterministic(t *testing.T) {
	a := IncidentID("newsA", "e1")
	b := IncidentID("newsA", "e1")
	if a != b {
		t.Fatalf("id not deterministic: %s vs %s", a, b)
	}
	if IncidentID("newsB", "e1") == a {
		t.Fatalf("id should depend on source")
	}
	if len(a) != len("newsA_")+16 {
		t.Fatalf("unexpected id shape: %s", a)
	}
}

func TestDraftValidate(t *testing.T) {
	d := Draft{}
	if err := d.Validate(); err == nil {
		t.Fatalf("empty draft accepted")
	}
	d = Draft{Source: "newsA"}
	if err := d.Validate(); err == nil {
		t.Fatalf("draft without identity accepted")
	}
	d = Draft{Source: "newsA", Title: "x", SourceConfidence: "bogus", Status: "whatever"}
	if err := d.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if d.SourceConfidence != "low" || d.Status != "suspected" {
		t.Fatalf("defaults not applied: %s/%s", d.SourceConfidence, d.Status)
	}
}
