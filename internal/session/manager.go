// Package session owns every per-exam-session violation monitor. The registry
// map has its own lock; each session carries a dedicated mutex so frame and
// audio uploads for the same session serialize against each other without
// blocking unrelated sessions.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/invigilo/invigilo/internal/violation"
)

var ErrNotFound = errors.New("session not found")

// Session is one monitored exam-taking interval. The embedded Monitor must
// only be touched through Registry.WithSession.
type Session struct {
	ID         string
	CreatedAt  time.Time
	LastSeenAt time.Time
	Monitor    *violation.Monitor
}

// Info is a point-in-time snapshot of session metadata, safe to hand out.
type Info struct {
	ID         string    `json:"sessionId"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

type entry struct {
	mu sync.Mutex
	s  *Session
}

// Registry creates, resolves and destroys sessions by id. The registry mutex
// protects only map structure; per-session state is guarded by the entry lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	monitorCfg  violation.Config
	idleTimeout time.Duration
	onEvict     func(Info)
}

func NewRegistry(monitorCfg violation.Config, idleTimeout time.Duration) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = 4 * time.Hour
	}
	return &Registry{
		sessions:    make(map[string]*entry),
		monitorCfg:  monitorCfg,
		idleTimeout: idleTimeout,
	}
}

// SetEvictHook registers a callback invoked after the reaper removes an idle
// session.
func (r *Registry) SetEvictHook(hook func(Info)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = hook
}

// Create allocates a new session with a fresh monitor and returns its id.
func (r *Registry) Create() string {
	now := time.Now().UTC()
	s := &Session{
		ID:         uuid.NewString(),
		CreatedAt:  now,
		LastSeenAt: now,
		Monitor:    violation.NewMonitor(r.monitorCfg),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = &entry{s: s}
	return s.ID
}

// Get returns a metadata snapshot or ErrNotFound.
func (r *Registry) Get(sessionID string) (Info, error) {
	e, err := r.lookup(sessionID)
	if err != nil {
		return Info{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s == nil {
		return Info{}, ErrNotFound
	}
	return Info{ID: e.s.ID, CreatedAt: e.s.CreatedAt, LastSeenAt: e.s.LastSeenAt}, nil
}

// WithSession resolves the session and applies fn under that session's
// exclusive lock. This is the only sanctioned way to mutate session state.
// The session's last-seen time is advanced as part of the call.
func (r *Registry) WithSession(sessionID string, fn func(*Session) error) error {
	e, err := r.lookup(sessionID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s == nil {
		// Destroyed while we waited on the lock.
		return ErrNotFound
	}
	e.s.LastSeenAt = time.Now().UTC()
	return fn(e.s)
}

// Destroy removes the session. Destroying an unknown or already-destroyed id
// returns ErrNotFound and has no other effect.
func (r *Registry) Destroy(sessionID string) error {
	e, err := r.lookup(sessionID)
	if err != nil {
		return err
	}

	// Take the session lock first so an in-flight mutation finishes before
	// the session disappears.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s == nil {
		return ErrNotFound
	}
	e.s = nil

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
	return nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartReaper launches a periodic sweep that evicts sessions untouched for
// the idle timeout. Eviction goes through the same per-session lock as
// Destroy, so a session is never removed mid-mutation.
func (r *Registry) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.reapIdle()
			}
		}
	}()
}

func (r *Registry) reapIdle() {
	cutoff := time.Now().UTC().Add(-r.idleTimeout)

	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	hook := r.onEvict
	r.mu.RUnlock()

	for _, id := range ids {
		info, err := r.Get(id)
		if err != nil {
			continue
		}
		if !info.LastSeenAt.Before(cutoff) {
			continue
		}
		if r.Destroy(id) == nil && hook != nil {
			hook(info)
		}
	}
}

func (r *Registry) lookup(sessionID string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}
