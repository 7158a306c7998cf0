/*
scheduler.go - Periodic ledger audit

PURPOSE:
  Re-derives every balance and pending counter from the document history on
  a fixed interval and logs any drift, so a divergence surfaces without
  someone calling /api/audit/run.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Publishes each report to the handler, where GET /api/audit reads it

USAGE:
  scheduler := NewAuditScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunAudit endpoint (manual audit)
  - ledger/audit.go: Auditor
*/
package api

import (
	"context"
	"sync"
	"time"
)

// AuditScheduler runs the ledger audit periodically.
type AuditScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	// Timeout bounds a single audit run.
	Timeout time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAuditScheduler creates a new scheduler.
func NewAuditScheduler(handler *Handler) *AuditScheduler {
	return &AuditScheduler{
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Timeout:       5 * time.Minute,
	}
}

// Start begins the scheduler.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.Handler.log
	if !s.Enabled {
		log.Info().Msg("audit scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	log.Info().Dur("interval", s.CheckInterval).Msg("audit scheduler started")
}

// Stop stops the scheduler and waits for an in-flight audit.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Handler.log.Info().Msg("audit scheduler stopped")
	}
}

func (s *AuditScheduler) run() {
	defer s.wg.Done()

	s.check()

	for {
		select {
		case <-s.ticker.C:
			s.check()
		case <-s.stop:
			return
		}
	}
}

func (s *AuditScheduler) check() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	log := s.Handler.log
	report, err := s.Handler.auditNow(ctx)
	if err != nil {
		log.Error().Err(err).Msg("audit failed")
		return
	}
	if report.OK() {
		log.Debug().Int("documents", report.Documents).Int("balances", report.Balances).Msg("audit clean")
		return
	}
	for _, d := range report.Drifts {
		log.Warn().
			Str("item", string(d.Key.Item)).
			Str("warehouse", string(d.Key.Warehouse)).
			Str("stored", d.Stored.String()).
			Str("expected", d.Expected.String()).
			Msg("balance drift")
	}
	for _, d := range report.PendingDrifts {
		log.Warn().
			Str("line", string(d.Line)).
			Str("document", string(d.Document)).
			Str("returned", d.Returned.String()).
			Str("expected", d.Expected.String()).
			Msg("pending drift")
	}
}
