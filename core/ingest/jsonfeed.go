package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"edu-cti/config"
	"edu-cti/core/consolidate"
	"edu-cti/core/utils"
)

const maxFeedBytes = 8 << 20

// JSONFeedAdapter pulls pre-parsed drafts from an HTTP endpoint that
// serves a JSON array. It covers sources that already publish
// structured data; scraping sources implement SourceAdapter directly.
type JSONFeedAdapter struct {
	name    string
	feedURL string
	client  *http.Client
	logger  *utils.Logger
}

func NewJSONFeedAdapter(name, feedURL string, timeout time.Duration, logger *utils.Logger) *JSONFeedAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &JSONFeedAdapter{
		name:    name,
		feedURL: feedURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (a *JSONFeedAdapter) Name() string { return a.name }

func (a *JSONFeedAdapter) FetchSince(ctx context.Context, since string, limit int) ([]consolidate.Draft, error) {
	u, err := url.Parse(a.feedURL)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", a.name, err)
	}
	q := u.Query()
	if since != "" {
		q.Set("since", since)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", a.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("feed %s: unexpected status %d", a.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", a.name, err)
	}
	var drafts []consolidate.Draft
	if err := json.Unmarshal(body, &drafts); err != nil {
		return nil, fmt.Errorf("feed %s: decode: %w", a.name, err)
	}
	for i := range drafts {
		if drafts[i].Source == "" {
			drafts[i].Source = a.name
		}
	}
	return drafts, nil
}

// FeedAdaptersFromConfig builds adapters from the configured name=url
// pairs. Malformed entries fail loudly instead of being dropped.
func FeedAdaptersFromConfig(cfg config.IngestionConfig, timeout time.Duration, logger *utils.Logger) ([]SourceAdapter, error) {
	out := make([]SourceAdapter, 0, len(cfg.Feeds))
	for _, entry := range cfg.Feeds {
		name, feedURL, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || strings.TrimSpace(name) == "" || strings.TrimSpace(feedURL) == "" {
			return nil, fmt.Errorf("malformed feed entry %q, want name=url", entry)
		}
		out = append(out, NewJSONFeedAdapter(strings.TrimSpace(name), strings.TrimSpace(feedURL), timeout, logger))
	}
	return out, nil
}
