package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"edu-cti/config"
	"edu-cti/core/metrics"
	"edu-cti/core/store"
	"edu-cti/core/utils"
)

var errRateLimited = errors.New("extraction rate limited")

// Orchestrator drives the enrichment pipeline: a producer pool fetches
// documents per incident, a bounded queue provides backpressure, and a
// single consumer calls the rate-limited extraction service and
// commits results.
type Orchestrator struct {
	cfg       config.EnrichmentConfig
	enrichs   store.EnrichmentStore
	fetcher   Fetcher
	extractor Extractor
	metrics   *metrics.Metrics
	logger    *utils.Logger
}

func NewOrchestrator(cfg config.EnrichmentConfig, enrichs store.EnrichmentStore, fetcher Fetcher, extractor Extractor, m *metrics.Metrics, logger *utils.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		enrichs:   enrichs,
		fetcher:   fetcher,
		extractor: extractor,
		metrics:   m,
		logger:    logger,
	}
}

// fetchedIncident is one queue item: an incident together with the
// documents that could be fetched for it.
type fetchedIncident struct {
	incident  store.Incident
	documents []fetchedDoc
}

type fetchedDoc struct {
	url     string
	content string
}

// Run processes up to limit pending incidents. limit<=0 falls back to
// the configured batch limit.
func (o *Orchestrator) Run(ctx context.Context, limit int) (*RunReport, error) {
	runID, _ := uuid.NewV4()
	report := &RunReport{RunID: runID.String(), StartedAt: time.Now().UTC()}
	if limit <= 0 {
		limit = o.cfg.BatchLimit
	}
	pending, err := o.enrichs.ListUnenriched(ctx, limit, o.cfg.SelectionOrder)
	if err != nil {
		return nil, fmt.Errorf("list unenriched: %w", err)
	}
	if len(pending) == 0 {
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}
	if o.logger != nil {
		o.logger.Printf("ENRICH run=%s pending=%d", report.RunID, len(pending))
	}

	queue := make(chan fetchedIncident, o.cfg.EffectiveQueueDepth())

	producers, prodCtx := errgroup.WithContext(ctx)
	producers.SetLimit(o.cfg.EffectiveFetchWorkers())
	go func() {
		for _, inc := range pending {
			inc := inc
			producers.Go(func() error {
				item := o.fetchDocuments(prodCtx, inc)
				select {
				case queue <- item:
					o.metrics.SetQueueDepth(len(queue))
				case <-prodCtx.Done():
				}
				return nil
			})
		}
		_ = producers.Wait()
		close(queue)
	}()

	for item := range queue {
		o.metrics.SetQueueDepth(len(queue))
		if err := ctx.Err(); err != nil {
			break
		}
		report.Processed++
		switch o.processIncident(ctx, item) {
		case outcomeEnriched:
			report.Enriched++
			o.metrics.ObserveEnrichment("enriched")
		case outcomeSkipped:
			report.SkippedNotRelevant++
			o.metrics.ObserveEnrichment("skipped_not_relevant")
		default:
			report.FailedRetryable++
			o.metrics.ObserveEnrichment("failed_retryable")
		}
	}
	o.metrics.SetQueueDepth(0)
	report.FinishedAt = time.Now().UTC()
	if o.logger != nil {
		o.logger.Printf("ENRICH run=%s processed=%d enriched=%d skipped=%d retryable=%d dur=%s",
			report.RunID, report.Processed, report.Enriched, report.SkippedNotRelevant, report.FailedRetryable, report.FinishedAt.Sub(report.StartedAt))
	}
	return report, ctx.Err()
}

func (o *Orchestrator) fetchDocuments(ctx context.Context, inc store.Incident) fetchedIncident {
	item := fetchedIncident{incident: inc}
	urls := inc.AllURLs
	if o.cfg.MaxURLs > 0 && len(urls) > o.cfg.MaxURLs {
		urls = urls[:o.cfg.MaxURLs]
	}
	for _, u := range urls {
		if ctx.Err() != nil {
			return item
		}
		content, err := o.fetcher.Fetch(ctx, u)
		if err != nil || content == "" {
			// Broken URLs don't abort the incident; the incident only
			// fails when nothing at all could be fetched.
			if o.logger != nil {
				o.logger.Debugf("ENRICH fetch failed incident=%s url=%s: %v", inc.ID, u, err)
			}
			continue
		}
		item.documents = append(item.documents, fetchedDoc{url: u, content: content})
	}
	return item
}

type incidentOutcome int

const (
	outcomeRetryable incidentOutcome = iota
	outcomeEnriched
	outcomeSkipped
)

func (o *Orchestrator) processIncident(ctx context.Context, item fetchedIncident) incidentOutcome {
	inc := item.incident
	if len(item.documents) == 0 {
		if o.logger != nil {
			o.logger.Printf("ENRICH incident=%s all fetches failed, staying pending", inc.ID)
		}
		return outcomeRetryable
	}

	var best *Extraction
	bestURL := ""
	sawNotRelevant := false
	for _, doc := range item.documents {
		if ctx.Err() != nil {
			return outcomeRetryable
		}
		res, err := o.extractWithBackoff(ctx, doc.content)
		if err != nil {
			// Transient failure for this document only; others still
			// proceed.
			if o.logger != nil {
				o.logger.Errorf("ENRICH extract failed incident=%s url=%s: %v", inc.ID, doc.url, err)
			}
			continue
		}
		if !res.IsRelevant {
			sawNotRelevant = true
			continue
		}
		if res.Payload == nil {
			continue
		}
		if best == nil || fieldCoverage(res.Payload) > fieldCoverage(best.Payload) {
			best = res
			bestURL = doc.url
		}
	}

	if best != nil {
		if err := o.commit(ctx, inc.ID, best.Payload, bestURL); err != nil {
			if o.logger != nil {
				o.logger.Errorf("ENRICH commit failed incident=%s: %v", inc.ID, err)
			}
			return outcomeRetryable
		}
		return outcomeEnriched
	}
	if sawNotRelevant {
		// Explicit not-relevant classification is permanent; transient
		// failures never are.
		if err := o.enrichs.MarkSkipped(ctx, inc.ID); err != nil {
			if o.logger != nil {
				o.logger.Errorf("ENRICH skip failed incident=%s: %v", inc.ID, err)
			}
			return outcomeRetryable
		}
		return outcomeSkipped
	}
	return outcomeRetryable
}

func (o *Orchestrator) extractWithBackoff(ctx context.Context, text string) (*Extraction, error) {
	base := o.cfg.RetryBaseDelay
	if base <= 0 {
		base = time.Second
	}
	attempts := o.cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := retry.WithMaxRetries(uint64(attempts), retry.NewExponential(base))
	var res *Extraction
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := o.extractor.Extract(ctx, text)
		if err != nil {
			return retry.RetryableError(err)
		}
		if out.RateLimited {
			return retry.RetryableError(errRateLimited)
		}
		res = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) commit(ctx context.Context, incidentID string, payload map[string]any, primaryURL string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	proj := store.EnrichmentProjection{
		Summary:          payloadString(payload, "summary", "description"),
		AttackType:       payloadString(payload, "attack_type", "attackType"),
		Severity:         payloadString(payload, "severity"),
		DataCompromised:  payloadString(payload, "data_compromised", "dataCompromised"),
		StudentsAffected: payloadInt64(payload, "students_affected", "studentsAffected"),
		PrimaryURL:       primaryURL,
	}
	return o.enrichs.SaveEnrichment(ctx, incidentID, raw, o.cfg.Model, proj)
}
