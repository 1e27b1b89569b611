package scope

import (
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Layer is one scoped cache. A layer is reference counted: every Begin
// that pushes it takes a reference and every End drops one. When the last
// reference is dropped the layer's entries are discarded and any cached
// value implementing io.Closer is closed.
//
// A Layer may be shared between goroutines by passing it explicitly to
// Begin, so it is safe for concurrent use.
type Layer struct {
	id     string
	logger *slog.Logger

	mu     sync.Mutex
	refs   int
	values map[string]any
	closed bool

	group singleflight.Group
}

func newLayer(logger *slog.Logger) *Layer {
	id := uuid.NewString()
	return &Layer{
		id:     id,
		logger: logger.With("layer", id),
		values: make(map[string]any),
	}
}

// ID identifies the layer in logs.
func (l *Layer) ID() string { return l.id }

// Refs returns the current reference count.
func (l *Layer) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}

// Len returns the number of cached values.
func (l *Layer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.values)
}

// Closed reports whether the last reference was released.
func (l *Layer) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Get returns the cached value for key.
func (l *Layer) Get(key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.values[key]
	return v, ok
}

// GetOrLoad returns the cached value for key, calling load on a miss.
// Concurrent misses for the same key share one load. Failed loads are not
// cached. hit reports whether the value came from the layer.
func (l *Layer) GetOrLoad(key string, load func() (any, error)) (v any, hit bool, err error) {
	if v, ok := l.Get(key); ok {
		return v, true, nil
	}

	v, err, _ = l.group.Do(key, func() (any, error) {
		if v, ok := l.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		l.store(key, v)
		return v, nil
	})
	return v, false, err
}

func (l *Layer) store(key string, v any) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		// Loaded after the scope ended; nobody will release it.
		closeValue(l.logger, key, v)
		return
	}
	l.values[key] = v
	l.mu.Unlock()
}

func (l *Layer) acquire() {
	l.mu.Lock()
	l.refs++
	l.closed = false
	l.mu.Unlock()
}

// release drops one reference and discards the layer when none remain.
func (l *Layer) release() {
	l.mu.Lock()
	l.refs--
	if l.refs > 0 {
		l.mu.Unlock()
		return
	}
	values := l.values
	l.values = make(map[string]any)
	l.closed = true
	l.mu.Unlock()

	for key, v := range values {
		closeValue(l.logger, key, v)
	}
	l.logger.Debug("Scope layer discarded", "entries", len(values))
}

func closeValue(logger *slog.Logger, key string, v any) {
	if c, ok := v.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("Failed to close scoped value", "key", key, "error", err)
		}
	}
}
