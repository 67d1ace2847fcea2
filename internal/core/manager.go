// Package core implements the unit of work: identity map, snapshot change
// tracking, relation handles and the session that flushes changes in
// dependency order.
package core

import (
	"io"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"entitygraph/pkg/mapping"
	"entitygraph/pkg/storage"
)

// Config holds the toggles the session honours.
type Config struct {
	// ForceEntityConstructor hydrates rows on top of the descriptor's
	// constructor defaults instead of populating fields directly.
	ForceEntityConstructor bool
	// AllowGlobalContext permits work on Manager.Session().
	AllowGlobalContext bool
	// DisableIdentityMap is the default for FindOne lookups; WithIdentityMap
	// overrides it per call.
	DisableIdentityMap bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets the session toggles.
func WithConfig(cfg Config) Option { return func(m *Manager) { m.cfg = cfg } }

// WithObserver installs the statement observer.
func WithObserver(obs storage.Observer) Option { return func(m *Manager) { m.observer = obs } }

// WithLogger sets the structured logger used for flush summaries.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock overrides the time source used for statement timings.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns the registry, the store and the configuration shared by all
// sessions. It is safe for concurrent use; sessions are not.
type Manager struct {
	registry *mapping.Registry
	store    storage.Store
	cfg      Config
	observer storage.Observer
	logger   *slog.Logger
	now      func() time.Time
	global   *Session
	forks    atomic.Uint64
}

// NewManager seals the registry and returns a manager over store.
func NewManager(store storage.Store, registry *mapping.Registry, opts ...Option) (*Manager, error) {
	if err := registry.Seal(); err != nil {
		return nil, err
	}
	m := &Manager{
		registry: registry,
		store:    store,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.global = newSession(m, "global")
	m.global.global = true
	return m, nil
}

// Registry returns the sealed registry.
func (m *Manager) Registry() *mapping.Registry { return m.registry }

// Store returns the backing store.
func (m *Manager) Store() storage.Store { return m.store }

// Config returns the session toggles.
func (m *Manager) Config() Config { return m.cfg }

// Session returns the global session. Unless AllowGlobalContext is set,
// every operation on it fails with ErrGlobalContext.
func (m *Manager) Session() *Session { return m.global }

// Fork returns a new session with an empty identity map.
func (m *Manager) Fork() *Session {
	return newSession(m, "fork-"+strconv.FormatUint(m.forks.Add(1), 10))
}

// ForkNamed returns a new session whose events carry label.
func (m *Manager) ForkNamed(label string) *Session {
	m.forks.Add(1)
	return newSession(m, label)
}

// New constructs an unmanaged instance of kind.
func (m *Manager) New(kind string, values mapping.Values) (*Entity, error) {
	desc, err := m.registry.Describe(kind)
	if err != nil {
		return nil, err
	}
	return New(desc, values)
}

// Close closes the backing store.
func (m *Manager) Close() error { return m.store.Close() }
