// Package scheduler runs periodic ingestion and enrichment passes.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"edu-cti/config"
	"edu-cti/core/enrich"
	"edu-cti/core/ingest"
	"edu-cti/core/utils"
)

type Scheduler struct {
	cfg     config.SchedulerConfig
	runner  *ingest.Runner
	enrich  *enrich.Orchestrator
	deduper *enrich.Deduper
	logger  *utils.Logger

	cron      *cron.Cron
	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	ingestBsy atomic.Bool
	enrichBsy atomic.Bool
}

func New(cfg config.SchedulerConfig, runner *ingest.Runner, orchestrator *enrich.Orchestrator, deduper *enrich.Deduper, logger *utils.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, runner: runner, enrich: orchestrator, deduper: deduper, logger: logger}
}

func (s *Scheduler) StartWithContext(ctx context.Context) {
	if s == nil || !s.cfg.Enabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.cron = cron.New()
	if s.cfg.IngestCron != "" && s.runner != nil {
		if _, err := s.cron.AddFunc(s.cfg.IngestCron, func() { s.runIngest(runCtx) }); err != nil && s.logger != nil {
			s.logger.Errorf("SCHED invalid ingest cron %q: %v", s.cfg.IngestCron, err)
		}
	}
	if s.cfg.EnrichmentCron != "" && s.enrich != nil {
		if _, err := s.cron.AddFunc(s.cfg.EnrichmentCron, func() { s.runEnrichment(runCtx) }); err != nil && s.logger != nil {
			s.logger.Errorf("SCHED invalid enrichment cron %q: %v", s.cfg.EnrichmentCron, err)
		}
	}
	s.cron.Start()
	s.running = true
}

func (s *Scheduler) StopWithContext(ctx context.Context) error {
	if s == nil || !s.cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	wasRunning := s.running
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()
	if !wasRunning || c == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runIngest(ctx context.Context) {
	// Skip the tick while the previous run is still in flight.
	if !s.ingestBsy.CompareAndSwap(false, true) {
		if s.logger != nil {
			s.logger.Printf("SCHED ingest tick skipped, previous run in flight")
		}
		return
	}
	defer s.ingestBsy.Store(false)
	if _, err := s.runner.RunAll(ctx); err != nil && s.logger != nil {
		s.logger.Errorf("SCHED ingest run: %v", err)
	}
}

func (s *Scheduler) runEnrichment(ctx context.Context) {
	if !s.enrichBsy.CompareAndSwap(false, true) {
		if s.logger != nil {
			s.logger.Printf("SCHED enrichment tick skipped, previous run in flight")
		}
		return
	}
	defer s.enrichBsy.Store(false)
	if _, err := s.enrich.Run(ctx, 0); err != nil {
		if s.logger != nil {
			s.logger.Errorf("SCHED enrichment run: %v", err)
		}
		return
	}
	if s.deduper != nil {
		if _, err := s.deduper.Run(ctx); err != nil && s.logger != nil {
			s.logger.Errorf("SCHED post-enrichment dedup: %v", err)
		}
	}
}
