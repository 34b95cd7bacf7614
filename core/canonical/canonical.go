// Package canonical maps raw reference URLs to normalized comparison
// keys. Two incidents cite the same real-world report iff at least one
// of their references canonicalizes to the same key.
package canonical

import (
	"net/url"
	"strings"
)

var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"msclkid":  true,
	"ref":      true,
	"referrer": true,
}

// URL normalizes a raw reference string: lowercase host, default
// ports, trailing slash, www. prefix, fragment, and tracking query
// parameters are all stripped, and http folds onto https so scheme
// variants of the same article share a key. Returns ok=false for
// strings that do not parse as an absolute http(s) URL.
func URL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	host = strings.TrimPrefix(host, "www.")
	port := u.Port()
	if port != "" && port != defaultPort(scheme) {
		host += ":" + port
	}
	path := strings.TrimRight(u.EscapedPath(), "/")
	query := cleanQuery(u.Query())
	key := "https://" + host + path
	if query != "" {
		key += "?" + query
	}
	return key, true
}

// Keys canonicalizes a reference list, dropping unparseable entries and
// duplicates while preserving first-seen order.
func Keys(raw []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, r := range raw {
		key, ok := URL(r)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

func cleanQuery(values url.Values) string {
	for name := range values {
		lower := strings.ToLower(name)
		if trackingParams[lower] || strings.HasPrefix(lower, "utm_") {
			delete(values, name)
		}
	}
	return values.Encode()
}
