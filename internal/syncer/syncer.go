// Package syncer runs periodic reconciliation passes over the report stores.
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/couchcryptid/outage-report-sync/internal/domain"
	"github.com/couchcryptid/outage-report-sync/internal/observability"
	"github.com/couchcryptid/outage-report-sync/internal/store"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second

	// maxAttempts bounds retries of one store within a single tick.
	maxAttempts = 4
)

// Refresher is a store that can re-run its reconciliation pass.
type Refresher interface {
	Kind() domain.KindSpec
	Refresh(ctx context.Context) error
}

// Syncer refreshes every store on a fixed interval.
type Syncer struct {
	stores   []Refresher
	interval time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// New creates a Syncer. A non-positive interval disables periodic sync.
func New(stores []Refresher, interval time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Syncer {
	return &Syncer{
		stores:   stores,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// Run ticks on the domain clock until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("periodic sync disabled")
		return nil
	}

	s.logger.Info("sync loop started", "interval", s.interval, "stores", len(s.stores))
	s.metrics.SyncRunning.Set(1)
	defer s.metrics.SyncRunning.Set(0)

	ticker := domain.Clock().NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync loop stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce refreshes every store once, retrying local persistence failures with
// exponential backoff. Remote failures are absorbed by the stores themselves.
func (s *Syncer) SyncOnce(ctx context.Context) {
	for _, st := range s.stores {
		if ctx.Err() != nil {
			return
		}
		s.refresh(ctx, st)
	}
}

func (s *Syncer) refresh(ctx context.Context, st Refresher) {
	kind := string(st.Kind().Kind)
	backoff := initialBackoff

	for attempt := 1; ; attempt++ {
		err := st.Refresh(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, store.ErrNotReady) {
			s.logger.Debug("store not ready, skipping sync", "kind", kind)
			return
		}
		if ctx.Err() != nil {
			return
		}
		if attempt >= maxAttempts {
			s.logger.Error("sync failed, giving up until next tick", "kind", kind, "attempts", attempt, "error", err)
			return
		}
		s.logger.Warn("sync failed, retrying", "kind", kind, "attempt", attempt, "backoff", backoff, "error", err)
		if !sleepWithContext(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, maxBackoff)
	}
}

func nextBackoff(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

// sleepWithContext waits d on the domain clock. It returns false if ctx ends first.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := domain.Clock().NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
