// Package registry owns the backend client and resolution cache of every
// target one backend has seen.
package registry

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/objectfs/assetresolver/internal/cache"
	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
)

// Target is the per-target state: one backend client and one cache table.
type Target struct {
	Name    string
	Backend types.Backend
	Cache   *cache.Table

	// Err is the construction failure, nil for a usable target. A failed
	// target keeps a Backend that reports Err from every call.
	Err error
}

// Available reports whether the backend client was constructed.
func (t *Target) Available() bool {
	return t.Err == nil
}

type slot struct {
	once   sync.Once
	done   chan struct{}
	target *Target
}

// Registry lazily constructs one Target per target name and keeps it for
// its own lifetime.
type Registry struct {
	backend string
	factory types.BackendFactory
	logger  *slog.Logger
	metrics types.MetricsCollector
	health  types.HealthRecorder

	mu    sync.Mutex
	slots map[string]*slot
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m types.MetricsCollector) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithHealth sets the per-target health sink.
func WithHealth(h types.HealthRecorder) Option {
	return func(r *Registry) {
		if h != nil {
			r.health = h
		}
	}
}

// New creates a registry for the named backend.
func New(backend string, factory types.BackendFactory, opts ...Option) *Registry {
	r := &Registry{
		backend: backend,
		factory: factory,
		logger:  slog.Default(),
		metrics: types.NopMetrics{},
		health:  types.NopHealth{},
		slots:   make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "registry", "backend", backend)
	return r
}

// Get returns the Target for name, constructing its backend client on
// first use. Concurrent first calls for the same name construct exactly
// one client; the others wait for it. Construction runs detached from
// ctx cancellation so that one caller giving up cannot poison the target.
func (r *Registry) Get(ctx context.Context, name string) *Target {
	r.mu.Lock()
	s, ok := r.slots[name]
	if !ok {
		s = &slot{done: make(chan struct{})}
		r.slots[name] = s
	}
	r.mu.Unlock()

	s.once.Do(func() {
		defer close(s.done)
		s.target = r.construct(context.WithoutCancel(ctx), name)
	})
	return s.target
}

// Lookup returns the Target for name without constructing it.
func (r *Registry) Lookup(name string) (*Target, bool) {
	r.mu.Lock()
	s, ok := r.slots[name]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-s.done:
		return s.target, true
	default:
		// still constructing
		return nil, false
	}
}

func (r *Registry) construct(ctx context.Context, name string) *Target {
	t := &Target{Name: name, Cache: cache.NewTable()}

	backend, err := r.factory(ctx, name)
	if err == nil && backend == nil {
		err = errors.NewError(errors.ErrCodeInternalError, "factory returned no backend")
	}
	if err != nil {
		rerr := errors.NewError(errors.ErrCodeBackendUnavailable, "backend client construction failed").
			WithComponent("registry").
			WithTarget(r.backend, name).
			WithCause(err)
		r.logger.Warn("Target unavailable", "target", name, "error", err)
		r.metrics.RecordBackendConstruction(r.backend, "failed")
		r.health.MarkUnavailable(r.backend+"/"+name, rerr)
		t.Err = rerr
		t.Backend = unavailable{err: rerr}
		return t
	}

	r.logger.Debug("Backend client constructed", "target", name)
	r.metrics.RecordBackendConstruction(r.backend, "ok")
	r.health.RecordSuccess(r.backend + "/" + name)
	t.Backend = backend
	return t
}

// Targets returns the names of all targets seen so far, sorted.
func (r *Registry) Targets() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// Close releases every backend client that implements io.Closer. The
// registry must not be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[string]*slot)
	r.mu.Unlock()

	var firstErr error
	for name, s := range slots {
		<-s.done
		if !s.target.Available() {
			continue
		}
		if c, ok := s.target.Backend.(io.Closer); ok {
			if err := c.Close(); err != nil {
				r.logger.Warn("Failed to close backend client", "target", name, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// unavailable stands in for a backend whose construction failed.
type unavailable struct {
	err *errors.ResolverError
}

func (u unavailable) CheckRemote(_ context.Context, key string) (types.RemoteInfo, error) {
	return types.RemoteInfo{}, u.err.Clone().WithKey(key).WithOperation("check_remote")
}

func (u unavailable) FetchContent(_ context.Context, key, _ string) (types.FetchResult, error) {
	return types.FetchResult{}, u.err.Clone().WithKey(key).WithOperation("fetch_content")
}
