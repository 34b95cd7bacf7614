package consolidate

import (
	"strings"

	"edu-cti/core/store"
)

// mergeIncident folds src into dst. Scalars are first-non-null-wins in
// arrival order: dst keeps its value unless it is empty. Confidence
// takes the max, the URL set the union, and the date pairing with the
// finer precision wins regardless of order. Enrichment state on dst is
// untouched.
func mergeIncident(dst *store.Incident, src *store.Incident) {
	dst.UniversityName = firstNonEmpty(dst.UniversityName, src.UniversityName)
	dst.NormalizedName = firstNonEmpty(dst.NormalizedName, src.NormalizedName)
	dst.InstitutionType = firstNonEmpty(dst.InstitutionType, src.InstitutionType)
	dst.Country = firstNonEmpty(dst.Country, src.Country)
	dst.Region = firstNonEmpty(dst.Region, src.Region)
	dst.City = firstNonEmpty(dst.City, src.City)
	dst.SourcePublishedDate = firstNonEmpty(dst.SourcePublishedDate, src.SourcePublishedDate)
	dst.Title = firstNonEmpty(dst.Title, src.Title)
	dst.Subtitle = firstNonEmpty(dst.Subtitle, src.Subtitle)
	dst.LeakSiteURL = firstNonEmpty(dst.LeakSiteURL, src.LeakSiteURL)
	dst.SourceDetailURL = firstNonEmpty(dst.SourceDetailURL, src.SourceDetailURL)
	dst.ScreenshotURL = firstNonEmpty(dst.ScreenshotURL, src.ScreenshotURL)
	dst.AttackTypeHint = firstNonEmpty(dst.AttackTypeHint, src.AttackTypeHint)
	dst.Notes = mergeNotes(dst.Notes, src.Notes)

	if store.ConfidenceRank(src.SourceConfidence) > store.ConfidenceRank(dst.SourceConfidence) {
		dst.SourceConfidence = src.SourceConfidence
	}
	if src.Status == store.StatusConfirmed {
		dst.Status = store.StatusConfirmed
	}
	if betterDate(src.IncidentDate, src.DatePrecision, dst.IncidentDate, dst.DatePrecision) {
		dst.IncidentDate = src.IncidentDate
		dst.DatePrecision = src.DatePrecision
	}
	dst.AllURLs = unionURLs(dst.AllURLs, src.AllURLs)
}

// betterDate reports whether the (date, precision) pairing of the
// challenger beats the incumbent.
func betterDate(date, precision, curDate, curPrecision string) bool {
	if strings.TrimSpace(date) == "" {
		return false
	}
	if strings.TrimSpace(curDate) == "" {
		return true
	}
	return store.PrecisionRank(precision) > store.PrecisionRank(curPrecision)
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return a
	}
	return b
}

func mergeNotes(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" {
		return b
	}
	if b == "" || b == a || strings.Contains(a, b) {
		return a
	}
	return a + " | " + b
}

func unionURLs(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := map[string]bool{}
	for _, u := range a {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	for _, u := range b {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
