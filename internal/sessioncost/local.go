package sessioncost

import (
	"context"
	"sync"
	"time"

	"costtrace/internal/cost"
)

// Local keeps totals in process memory. A session not added to for longer
// than the TTL is dropped, matching the Redis key expiry.
type Local struct {
	mu        sync.RWMutex
	sessions  map[string]*localEntry
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type localEntry struct {
	summary Summary
	seen    time.Time
}

// NewLocal creates empty in-memory totals that expire after DefaultTTL.
func NewLocal() *Local {
	return NewLocalWithTTL(DefaultTTL)
}

// NewLocalWithTTL creates empty in-memory totals; ttl <= 0 means DefaultTTL.
func NewLocalWithTTL(ttl time.Duration) *Local {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Local{
		sessions:  make(map[string]*localEntry),
		ttl:       ttl,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Add implements Totals.
func (l *Local) Add(_ context.Context, sessionID string, rec *cost.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	e, ok := l.sessions[sessionID]
	if !ok || l.expired(e, now) {
		e = &localEntry{summary: Summary{SessionID: sessionID}}
		l.sessions[sessionID] = e
	}
	e.seen = now
	apply(&e.summary, rec)
	return nil
}

// Get implements Totals.
func (l *Local) Get(_ context.Context, sessionID string) (Summary, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if e, ok := l.sessions[sessionID]; ok && !l.expired(e, l.now()) {
		return e.summary, nil
	}
	return Summary{SessionID: sessionID}, nil
}

// Len returns the number of sessions held, expired ones included until the
// next sweep.
func (l *Local) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions)
}

// Close is a no-op.
func (l *Local) Close() error {
	return nil
}

func (l *Local) expired(e *localEntry, now time.Time) bool {
	return now.Sub(e.seen) > l.ttl
}

// sweepLocked drops expired sessions at most once per TTL.
func (l *Local) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.ttl {
		return
	}
	l.lastSweep = now
	for id, e := range l.sessions {
		if l.expired(e, now) {
			delete(l.sessions, id)
		}
	}
}
