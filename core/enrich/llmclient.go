package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LLMClient calls an HTTP structured-extraction endpoint. The endpoint
// receives the document text and answers with a relevance flag plus an
// opaque field bag; 429 responses surface as RateLimited so the
// orchestrator can back off.
type LLMClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewLLMClient(baseURL, apiKey, model string, timeout time.Duration) *LLMClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

type extractRequest struct {
	Model    string `json:"model,omitempty"`
	Document string `json:"document"`
}

type extractResponse struct {
	IsRelevant bool           `json:"is_relevant"`
	Payload    map[string]any `json:"payload"`
}

func (c *LLMClient) Extract(ctx context.Context, documentText string) (*Extraction, error) {
	body, err := json.Marshal(extractRequest{Model: c.model, Document: documentText})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return &Extraction{RateLimited: true}, nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("extract: status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}
	var out extractResponse
	if err := json.Unmarshal(stripCodeFences(raw), &out); err != nil {
		// Keep the offending response in the error for diagnosis.
		return nil, fmt.Errorf("extract: bad response %q: %w", truncate(string(raw), 200), err)
	}
	return &Extraction{IsRelevant: out.IsRelevant, Payload: out.Payload}, nil
}

// stripCodeFences unwraps responses some models wrap in a markdown
// ```json fence.
func stripCodeFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return raw
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(strings.TrimSpace(s))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
