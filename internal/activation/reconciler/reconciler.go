// Package reconciler keeps the locally cached subscription snapshot in step
// with the backend. The cache is only ever replaced wholesale.
package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"activation-orchestrator/internal/activation/guard"
	apperrors "activation-orchestrator/internal/common/errors"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/common/metrics"
	"activation-orchestrator/internal/models"
)

// Channel is the guard channel used for snapshot fetches.
const Channel = "snapshot"

// ErrSuperseded is returned when a newer reconcile started before this one
// finished; its response was discarded.
var ErrSuperseded = errors.New("reconcile superseded by a newer request")

// Fetcher is the snapshot source, normally the gateway.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (*models.SubscriptionSnapshot, error)
}

type Options struct {
	// MaxConsistencyRefetches bounds the immediate re-fetches made when the
	// backend reports ACTIVE without a billing key.
	MaxConsistencyRefetches int
	StaleAfter              time.Duration
}

type Reconciler struct {
	fetcher Fetcher
	guard   *guard.Guard
	opts    Options
	logger  logger.Logger
	now     func() time.Time

	mu      sync.RWMutex
	current *models.SubscriptionSnapshot
}

// New creates a reconciler. g may be shared with the owning orchestrator so
// that closing it also stops snapshot updates.
func New(fetcher Fetcher, g *guard.Guard, opts Options, log logger.Logger) *Reconciler {
	if g == nil {
		g = guard.New()
	}
	if opts.MaxConsistencyRefetches < 0 {
		opts.MaxConsistencyRefetches = 0
	}
	return &Reconciler{
		fetcher: fetcher,
		guard:   g,
		opts:    opts,
		logger:  log.WithFields(map[string]interface{}{"component": "reconciler"}),
		now:     time.Now,
	}
}

// Reconcile fetches the authoritative snapshot and replaces the cache. On any
// failure the previous snapshot is kept and returned alongside the error.
func (r *Reconciler) Reconcile(ctx context.Context) (models.SubscriptionSnapshot, error) {
	ticket := r.guard.Next(Channel)

	fetched, err := r.fetchConsistent(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.guard.Current(ticket) {
		metrics.ReconcileResults.WithLabelValues(metrics.ReconcileDiscarded).Inc()
		if !r.guard.Alive() {
			return r.previous(), guard.ErrClosed
		}
		return r.previous(), ErrSuperseded
	}
	if err != nil {
		return r.previous(), err
	}

	snap := fetched.Clone()
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = r.now().UTC()
	}
	r.current = &snap
	metrics.ReconcileResults.WithLabelValues(metrics.ReconcileOK).Inc()
	return snap.Clone(), nil
}

func (r *Reconciler) fetchConsistent(ctx context.Context) (*models.SubscriptionSnapshot, error) {
	attempts := r.opts.MaxConsistencyRefetches + 1
	for i := 1; i <= attempts; i++ {
		snap, err := r.fetcher.FetchSnapshot(ctx)
		if err != nil {
			metrics.ReconcileResults.WithLabelValues(metrics.ReconcileFailed).Inc()
			r.logger.Warn("Snapshot fetch failed", map[string]interface{}{
				"attempt":   i,
				"errorCode": string(apperrors.CodeOf(err)),
				"error":     err.Error(),
			})
			return nil, err
		}
		if snap.Consistent() {
			return snap, nil
		}

		metrics.ReconcileResults.WithLabelValues(metrics.ReconcileInconsistent).Inc()
		r.logger.Warn("Snapshot is ACTIVE without billing key, re-fetching", map[string]interface{}{
			"attempt":     i,
			"maxAttempts": attempts,
		})
	}
	return nil, apperrors.NewInconsistentSnapshotError(attempts)
}

func (r *Reconciler) previous() models.SubscriptionSnapshot {
	if r.current == nil {
		return models.SubscriptionSnapshot{}
	}
	return r.current.Clone()
}

// Snapshot returns a copy of the cached snapshot and whether one exists.
func (r *Reconciler) Snapshot() (models.SubscriptionSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return models.SubscriptionSnapshot{}, false
	}
	return r.current.Clone(), true
}

// Stale reports whether the cache is missing or older than StaleAfter.
func (r *Reconciler) Stale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return true
	}
	return r.current.Stale(r.now(), r.opts.StaleAfter)
}

// Invalidate drops the cache and supersedes any outstanding fetch.
func (r *Reconciler) Invalidate() {
	r.guard.Next(Channel)
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

// Close stops any later response from being applied.
func (r *Reconciler) Close() {
	r.guard.Close()
}
