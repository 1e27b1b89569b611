package resolver

import (
	"context"

	"github.com/objectfs/assetresolver/internal/scope"
	"github.com/objectfs/assetresolver/pkg/errors"
)

// Layer is a scoped cache layer. Pass the layer returned by BeginScope to
// a BeginScope on another goroutine to share it.
type Layer = scope.Layer

// BeginScope opens a resolution scope and returns the context carrying it
// along with its layer. A nil shared layer reuses the innermost open
// layer, or creates a fresh one for an outermost scope.
func (r *Resolver) BeginScope(ctx context.Context, shared *Layer) (context.Context, *Layer) {
	stack := scope.FromContext(ctx)
	if stack == nil {
		stack = scope.NewStack(r.logger, r.metrics)
		ctx = scope.WithStack(ctx, stack)
	}
	return ctx, stack.Begin(shared)
}

// EndScope closes the innermost scope of ctx. layer must be the one the
// matching BeginScope returned. Ending a scope that was never begun
// panics with a SCOPE_MISMATCH error.
func (r *Resolver) EndScope(ctx context.Context, layer *Layer) {
	stack := scope.FromContext(ctx)
	if stack == nil {
		panic(errors.NewError(errors.ErrCodeScopeMismatch, "EndScope without a matching BeginScope").
			WithComponent("scope"))
	}
	stack.End(layer)
}

// WithScope runs fn inside a scope and ends it when fn returns.
func (r *Resolver) WithScope(ctx context.Context, shared *Layer, fn func(ctx context.Context) error) error {
	ctx, layer := r.BeginScope(ctx, shared)
	defer r.EndScope(ctx, layer)
	return fn(ctx)
}

// scoped runs load through the innermost scope layer of ctx, if any.
// Keys are namespaced per Resolver.
func (r *Resolver) scoped(ctx context.Context, key string, load func() (any, error)) (any, error) {
	stack := scope.FromContext(ctx)
	if stack == nil {
		return load()
	}
	return stack.Lookup(r.id+"/"+key, load)
}

// inScope reports whether ctx has an open scope.
func inScope(ctx context.Context) bool {
	stack := scope.FromContext(ctx)
	return stack != nil && stack.Current() != nil
}

// Detach returns ctx without its scope stack, for handing to a goroutine
// that opens scopes of its own.
func Detach(ctx context.Context) context.Context {
	return scope.Detach(ctx)
}
