// Package scope implements the opt-in scoped cache: a LIFO stack of
// reference-counted layers owned by one logical operation.
package scope

import (
	"context"
	"log/slog"
	"sync"

	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
)

// Stack is the scope stack of one goroutine. It travels in a
// context.Context; see WithStack and FromContext.
type Stack struct {
	logger  *slog.Logger
	metrics types.MetricsCollector

	mu     sync.Mutex
	layers []*Layer
}

// NewStack creates an empty stack. A nil logger or metrics sink is
// replaced by a default.
func NewStack(logger *slog.Logger, metrics types.MetricsCollector) *Stack {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = types.NopMetrics{}
	}
	return &Stack{
		logger:  logger.With("component", "scope"),
		metrics: metrics,
	}
}

// Begin opens a scope and returns its layer. With a shared layer, that
// layer is pushed and its reference count increases. Without one, a
// nested Begin reuses the current top layer and an outermost Begin pushes
// a fresh layer.
func (s *Stack) Begin(shared *Layer) *Layer {
	s.mu.Lock()
	defer s.mu.Unlock()

	layer := shared
	if layer == nil && len(s.layers) > 0 {
		layer = s.layers[len(s.layers)-1]
	}
	if layer == nil {
		layer = newLayer(s.logger)
		s.logger.Debug("Scope layer created", "layer", layer.ID())
	}

	layer.acquire()
	s.layers = append(s.layers, layer)
	return layer
}

// End closes the innermost scope. layer must be the value the matching
// Begin returned; ending an empty stack or ending out of order panics
// with a SCOPE_MISMATCH error.
func (s *Stack) End(layer *Layer) {
	s.mu.Lock()
	n := len(s.layers)
	if n == 0 {
		s.mu.Unlock()
		panic(errors.NewError(errors.ErrCodeScopeMismatch, "EndScope without a matching BeginScope").
			WithComponent("scope"))
	}
	top := s.layers[n-1]
	if layer != nil && top != layer {
		s.mu.Unlock()
		panic(errors.Newf(errors.ErrCodeScopeMismatch, "EndScope for layer %s but innermost scope is %s", layer.ID(), top.ID()).
			WithComponent("scope"))
	}
	s.layers[n-1] = nil
	s.layers = s.layers[:n-1]
	s.mu.Unlock()

	top.release()
}

// Depth returns the number of open scopes.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.layers)
}

// Current returns the innermost layer, or nil outside any scope.
func (s *Stack) Current() *Layer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.layers) == 0 {
		return nil
	}
	return s.layers[len(s.layers)-1]
}

// Lookup resolves key through the current layer, calling load on a miss.
// Outside any scope load is called every time.
func (s *Stack) Lookup(key string, load func() (any, error)) (any, error) {
	layer := s.Current()
	if layer == nil {
		return load()
	}
	v, hit, err := layer.GetOrLoad(key, load)
	s.metrics.RecordScopeLookup(hit)
	return v, err
}

type stackKey struct{}

// WithStack returns a context carrying s.
func WithStack(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, stackKey{}, s)
}

// FromContext returns the stack carried by ctx, or nil.
func FromContext(ctx context.Context) *Stack {
	s, _ := ctx.Value(stackKey{}).(*Stack)
	return s
}

// Detach returns a context without a stack, for handing to another
// goroutine. The scope stack is owned by one goroutine; to share a layer,
// pass it to Begin on the other goroutine's own stack.
func Detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, stackKey{}, (*Stack)(nil))
}
