package enrich

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Fetcher obtains document content for one URL. Multi-strategy
// fallback (plain HTTP, browser automation, caches) is entirely the
// fetcher's concern.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extraction is the structured-extraction service response. Payload is
// an opaque bag of typed fields; the orchestrator only scores field
// coverage and projects a few well-known keys.
type Extraction struct {
	IsRelevant  bool
	RateLimited bool
	Payload     map[string]any
}

type Extractor interface {
	Extract(ctx context.Context, documentText string) (*Extraction, error)
}

type RunReport struct {
	RunID              string    `json:"run_id"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	Processed          int       `json:"processed"`
	Enriched           int       `json:"enriched"`
	SkippedNotRelevant int       `json:"skipped_not_relevant"`
	FailedRetryable    int       `json:"failed_retryable"`
}

// fieldCoverage counts non-null, non-empty extracted fields. Used to
// pick the primary document among competing payloads.
func fieldCoverage(payload map[string]any) int {
	n := 0
	for _, v := range payload {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(val) != "" {
				n++
			}
		case []any:
			if len(val) > 0 {
				n++
			}
		case map[string]any:
			if len(val) > 0 {
				n++
			}
		default:
			n++
		}
	}
	return n
}

func payloadString(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := payload[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func payloadInt64(payload map[string]any, keys ...string) *int64 {
	for _, k := range keys {
		v, ok := payload[k]
		if !ok || v == nil {
			continue
		}
		switch val := v.(type) {
		case float64:
			n := int64(val)
			return &n
		case int:
			n := int64(val)
			return &n
		case int64:
			return &val
		case json.Number:
			if n, err := val.Int64(); err == nil {
				return &n
			}
		}
	}
	return nil
}
