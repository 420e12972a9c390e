// Package session exposes one torrent as a bounded, cancelable, blocking
// read/seek facade over the asynchronous swarm backend.
package session

import (
	"log/slog"
	"sync"
	"time"

	"swarmstream/internal/bus"
	"swarmstream/internal/domain"
	"swarmstream/internal/domain/ports"
)

// Config tunes the registry's sessions. Zero values take the defaults below.
type Config struct {
	// PieceWait bounds each blocking piece wait.
	PieceWait time.Duration
	// MetadataWait bounds the metadata fetch for magnet adds.
	MetadataWait time.Duration
	// KeepFiles leaves downloaded data on disk when a session is destroyed.
	KeepFiles bool
}

const (
	defaultPieceWait    = 60 * time.Second
	defaultMetadataWait = 5 * time.Minute
	removeWait          = 5 * time.Second
)

// Registry guarantees exactly one live Session per ContentKey. Sessions are
// refcounted: Acquire increments, Session.Release decrements, and the last
// release tears the torrent down. Construction is serialized per key so N
// concurrent first-requesters collapse onto one instance.
type Registry struct {
	bus    *bus.Bus
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	entries map[domain.ContentKey]*entry
}

// entry carries the per-key construction lock alongside the session, and is
// pruned together with it when the refcount reaches zero.
type entry struct {
	mu   sync.Mutex
	sess *Session
	refs int
}

func NewRegistry(b *bus.Bus, cfg Config, logger *slog.Logger) *Registry {
	if cfg.PieceWait <= 0 {
		cfg.PieceWait = defaultPieceWait
	}
	if cfg.MetadataWait <= 0 {
		cfg.MetadataWait = defaultMetadataWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		bus:     b,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[domain.ContentKey]*entry),
	}
}

// Acquire returns the session for p.Key, constructing it on first use. Every
// successful Acquire must be paired with one Session.Release.
func (r *Registry) Acquire(p ports.AddParams) (*Session, error) {
	r.mu.Lock()
	e, ok := r.entries[p.Key]
	if !ok {
		e = &entry{}
		r.entries[p.Key] = e
	}
	e.refs++
	r.mu.Unlock()

	// Per-key lock: concurrent first-requesters queue here and all leave
	// with the single constructed instance.
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != nil {
		return e.sess, nil
	}
	sess, err := newSession(r, p)
	if err != nil {
		r.drop(p.Key, e)
		return nil, err
	}
	e.sess = sess
	return sess, nil
}

// Active reports the number of live sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// release decrements the refcount for s and destroys it on the last drop.
func (r *Registry) release(s *Session) {
	r.mu.Lock()
	e, ok := r.entries[s.key]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	last := e.refs <= 0
	if last {
		delete(r.entries, s.key)
	}
	r.mu.Unlock()

	if last {
		s.close()
	}
}

// drop removes a failed construction's refcount without touching the
// backend.
func (r *Registry) drop(key domain.ContentKey, e *entry) {
	r.mu.Lock()
	e.refs--
	if e.refs <= 0 && e.sess == nil {
		delete(r.entries, key)
	}
	r.mu.Unlock()
}
