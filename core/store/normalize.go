package store

import "strings"

var institutionNoise = []string{
	"the ", "university of ", " university", " college", " institute",
	" school district", " school", " academy", ",", ".", "'",
}

// NormalizeInstitutionName reduces an institution name to a loose
// comparison form used for post-enrichment dedup. Intentionally crude:
// it only needs to catch the same school spelled slightly differently
// by two sources.
func NormalizeInstitutionName(name string) string {
	v := strings.ToLower(strings.TrimSpace(name))
	if v == "" {
		return ""
	}
	for _, noise := range institutionNoise {
		v = strings.ReplaceAll(v, noise, " ")
	}
	return strings.Join(strings.Fields(v), " ")
}
