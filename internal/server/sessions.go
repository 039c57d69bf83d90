package server

import (
	"context"
	"sync"
	"time"

	"activation-orchestrator/internal/activation/gateway"
	"activation-orchestrator/internal/activation/landing"
	"activation-orchestrator/internal/activation/orchestrator"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/common/metrics"
	"activation-orchestrator/internal/common/session"
)

// GatewayFactory binds a gateway to one session's credentials.
type GatewayFactory interface {
	ForSession(credentials session.CredentialProvider) gateway.Gateway
}

// Registry owns one orchestrator per browser session.
type Registry struct {
	factory GatewayFactory
	store   session.CredentialStore
	opts    orchestrator.Options
	deps    orchestrator.Deps
	logger  logger.Logger

	idleTTL     time.Duration
	maxSessions int
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

type entry struct {
	o        *orchestrator.Orchestrator
	lastSeen time.Time
}

// NewRegistry creates a registry; opts is the template every session's
// orchestrator is built from, with SessionID filled in per session.
func NewRegistry(factory GatewayFactory, store session.CredentialStore, opts orchestrator.Options, deps orchestrator.Deps) *Registry {
	log := deps.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Registry{
		factory:  factory,
		store:    store,
		opts:     opts,
		deps:     deps,
		logger:   log.WithFields(map[string]interface{}{"component": "session-registry"}),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// WithLimits bounds the registry. Sessions idle longer than idleTTL are
// evicted by Sweep; when maxSessions is reached the least recently used
// idle session makes room for a new one. Zero disables either bound.
func (r *Registry) WithLimits(idleTTL time.Duration, maxSessions int) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.idleTTL = idleTTL
	r.maxSessions = maxSessions
	return r
}

func (r *Registry) newOrchestrator(id string, gw gateway.Gateway) *orchestrator.Orchestrator {
	opts := r.opts
	opts.SessionID = id
	return orchestrator.New(gw, opts, r.deps)
}

// Get returns the session's orchestrator, creating one if needed. created
// reports whether the caller must mount it.
func (r *Registry) Get(id string) (o *orchestrator.Orchestrator, created bool) {
	r.mu.Lock()
	now := r.now()
	if e, ok := r.sessions[id]; ok {
		e.lastSeen = now
		r.mu.Unlock()
		return e.o, false
	}

	var evicted *orchestrator.Orchestrator
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		evicted = r.evictOldestLocked()
	}
	o = r.newOrchestrator(id, r.factory.ForSession(r.store.ForSession(id)))
	r.sessions[id] = &entry{o: o, lastSeen: now}
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	if evicted != nil {
		evicted.Close()
	}
	return o, true
}

// evictOldestLocked removes the least recently used session that has no
// action in flight. The caller closes the returned orchestrator.
func (r *Registry) evictOldestLocked() *orchestrator.Orchestrator {
	var (
		oldestID string
		oldest   *entry
	)
	for id, e := range r.sessions {
		if e.o.Busy() {
			continue
		}
		if oldest == nil || e.lastSeen.Before(oldest.lastSeen) {
			oldestID, oldest = id, e
		}
	}
	if oldest == nil {
		return nil
	}
	delete(r.sessions, oldestID)
	metrics.SessionsEvicted.Inc()
	r.logger.Info("Session evicted, registry full", map[string]interface{}{
		"sessionId":   oldestID,
		"maxSessions": r.maxSessions,
	})
	return oldest.o
}

// Sweep closes and forgets sessions idle longer than the idle TTL. The
// credential is kept; a returning session is mounted afresh.
func (r *Registry) Sweep() int {
	if r.idleTTL <= 0 {
		return 0
	}

	r.mu.Lock()
	cutoff := r.now().Add(-r.idleTTL)
	var idle []*orchestrator.Orchestrator
	for id, e := range r.sessions {
		if e.lastSeen.After(cutoff) || e.o.Busy() {
			continue
		}
		idle = append(idle, e.o)
		delete(r.sessions, id)
	}
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, o := range idle {
		o.Close()
	}
	if len(idle) > 0 {
		metrics.SessionsEvicted.Add(float64(len(idle)))
		r.logger.Debug("Idle sessions evicted", map[string]interface{}{"count": len(idle)})
	}
	return len(idle)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 || r.idleTTL <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Landing binds a landing handler invocation to the session.
func (r *Registry) Landing(id string) landing.Session {
	gw := r.factory.ForSession(r.store.ForSession(id))
	return landing.Session{
		ID:      id,
		Gateway: gw,
		NewOrchestrator: func() *orchestrator.Orchestrator {
			return r.newOrchestrator(id, gw)
		},
	}
}

// Adopt replaces the session's orchestrator, closing the previous one so
// its outstanding responses are discarded.
func (r *Registry) Adopt(id string, o *orchestrator.Orchestrator) {
	r.mu.Lock()
	var prev *orchestrator.Orchestrator
	if e, ok := r.sessions[id]; ok {
		prev = e.o
	}
	r.sessions[id] = &entry{o: o, lastSeen: r.now()}
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	if prev != nil && prev != o {
		prev.Close()
	}
}

// Drop closes the session's orchestrator and revokes its credential.
func (r *Registry) Drop(ctx context.Context, id string) {
	r.mu.Lock()
	e := r.sessions[id]
	delete(r.sessions, id)
	metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	if e != nil {
		e.o.Close()
	}
	if err := r.store.Revoke(ctx, id); err != nil {
		r.logger.Warn("Failed to revoke session credential", map[string]interface{}{
			"sessionId": id,
			"error":     err.Error(),
		})
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every orchestrator; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.sessions {
		e.o.Close()
		delete(r.sessions, id)
	}
	metrics.SessionsActive.Set(0)
}
