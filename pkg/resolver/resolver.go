package resolver

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/objectfs/assetresolver/internal/archive"
	"github.com/objectfs/assetresolver/internal/cache"
	"github.com/objectfs/assetresolver/internal/engine"
	"github.com/objectfs/assetresolver/internal/localfs"
	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
)

// LocalBackend is the backend name reported for plain filesystem paths.
const LocalBackend = "local"

// Scope cache key prefixes.
const (
	resolveKeyPrefix = "resolve:"
	infoKeyPrefix    = "info:"
	packageKeyPrefix = "package:"
)

// ArchiveOpener opens the package at a local path.
type ArchiveOpener func(path string) (archive.Reader, error)

// Resolver is the public resolver surface. Backends are consulted in
// registration order and the first whose scheme matches wins; anything
// else is a plain filesystem path. A Resolver is safe for concurrent use;
// scopes are per goroutine and travel in the context.
type Resolver struct {
	id          string
	engines     []*engine.Engine
	local       *localfs.Resolver
	openArchive ArchiveOpener
	logger      *slog.Logger
	metrics     types.MetricsCollector
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEngine registers a backend engine. Engines are matched in the order
// they are registered.
func WithEngine(e *engine.Engine) Option {
	return func(r *Resolver) {
		if e != nil {
			r.engines = append(r.engines, e)
		}
	}
}

// WithLocal sets the passthrough resolver for plain paths.
func WithLocal(l *localfs.Resolver) Option {
	return func(r *Resolver) { r.local = l }
}

// WithArchiveOpener replaces the zip package reader.
func WithArchiveOpener(open ArchiveOpener) Option {
	return func(r *Resolver) { r.openArchive = open }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m types.MetricsCollector) Option {
	return func(r *Resolver) { r.metrics = m }
}

// New creates a Resolver.
func New(opts ...Option) (*Resolver, error) {
	r := &Resolver{id: uuid.NewString()}
	for _, opt := range opts {
		opt(r)
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "resolver")
	if r.metrics == nil {
		r.metrics = types.NopMetrics{}
	}
	if r.openArchive == nil {
		r.openArchive = func(path string) (archive.Reader, error) {
			return archive.OpenZip(path)
		}
	}
	if r.local == nil {
		l, err := localfs.New(nil)
		if err != nil {
			return nil, errors.NewError(errors.ErrCodeInvalidConfig, "determine working directory").
				WithComponent("resolver").
				WithCause(err)
		}
		r.local = l
	}

	seen := make(map[string]bool, len(r.engines))
	for _, e := range r.engines {
		if seen[e.Name()] {
			return nil, errors.Newf(errors.ErrCodeInvalidConfig, "backend %q registered twice", e.Name()).
				WithComponent("resolver")
		}
		seen[e.Name()] = true
	}

	return r, nil
}

// Backends returns the registered backend names in match order.
func (r *Resolver) Backends() []string {
	names := make([]string, len(r.engines))
	for i, e := range r.engines {
		names[i] = e.Name()
	}
	return names
}

// Resolve maps identifier to its local path. Inside a scope the result is
// cached in the scope's layer, empty results included. An identifier
// whose asset does not exist resolves to "" with a nil error; an
// unavailable backend or failed probe resolves to "" with the error.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (string, error) {
	v, err := r.scoped(ctx, resolveKeyPrefix+identifier, func() (any, error) {
		info, err := r.resolve(ctx, identifier)
		if err != nil {
			return nil, err
		}
		return info.LocalPath, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ResolveWithInfo is Resolve with backend metadata attached.
func (r *Resolver) ResolveWithInfo(ctx context.Context, identifier string) (types.AssetInfo, error) {
	v, err := r.scoped(ctx, infoKeyPrefix+identifier, func() (any, error) {
		return r.resolve(ctx, identifier)
	})
	if err != nil {
		info := types.AssetInfo{Identifier: identifier}
		if e := r.match(identifier); e != nil {
			info.Backend = e.Name()
		}
		return info, err
	}
	return v.(types.AssetInfo), nil
}

func (r *Resolver) resolve(ctx context.Context, identifier string) (types.AssetInfo, error) {
	e, _, err := r.dispatch(identifier)
	if err != nil {
		r.metrics.RecordResolution(e.Name(), "error")
		return types.AssetInfo{Identifier: identifier, Backend: e.Name()}, err
	}
	if e != nil {
		return e.Resolve(ctx, identifier)
	}
	r.metrics.RecordResolution(LocalBackend, "passthrough")
	info := r.local.ResolveWithInfo(identifier)
	info.Backend = LocalBackend
	return info, nil
}

// ComputeLocalPath returns where identifier lives or would live on disk,
// without any remote call.
func (r *Resolver) ComputeLocalPath(identifier string) (string, error) {
	e, loc, err := r.dispatch(identifier)
	if err != nil {
		return "", err
	}
	if e != nil {
		return e.LocalPath(loc)
	}
	return r.local.ComputeLocalPath(identifier), nil
}

// ComputeNormalizedPath returns identifier in canonical form. Backend
// identifiers get their key's dot segments resolved; plain paths are
// cleaned lexically.
func (r *Resolver) ComputeNormalizedPath(identifier string) (string, error) {
	e, _, err := r.dispatch(identifier)
	if err != nil {
		return "", err
	}
	if e != nil {
		return e.Normalize(identifier)
	}
	return localfs.NormalizePath(identifier), nil
}

// IsRelativePath reports whether identifier is a relative filesystem
// path. Backend identifiers are never relative.
func (r *Resolver) IsRelativePath(identifier string) bool {
	if e, _, _ := r.dispatch(identifier); e != nil {
		return false
	}
	return localfs.IsRelativePath(identifier)
}

// AnchorRelativePath anchors a relative path to anchor, which may itself
// be a backend identifier. Paths that are not relative are returned as is.
func (r *Resolver) AnchorRelativePath(anchor, path string) string {
	if !r.IsRelativePath(path) || anchor == "" {
		return path
	}
	if e, _, err := r.dispatch(anchor); e != nil && err == nil {
		i := strings.LastIndexByte(anchor, '/')
		if i < 0 {
			return path
		}
		anchored := anchor[:i+1] + strings.TrimPrefix(path, "./")
		if normalized, err := e.Normalize(anchored); err == nil {
			return normalized
		}
		return anchored
	}
	return localfs.AnchorRelativePath(anchor, path)
}

// FetchToLocalPath makes sure the resolved identifier's content is on
// disk. It fails with NOT_RESOLVED, without any I/O, when the identifier
// was never resolved. Plain paths need no fetch.
func (r *Resolver) FetchToLocalPath(ctx context.Context, identifier string) error {
	e, _, err := r.dispatch(identifier)
	if err != nil || e == nil {
		return err
	}
	_, err = e.Fetch(ctx, identifier)
	return err
}

// Refresh re-probes identifier regardless of its cached state and returns
// the updated info. A fetched entry becomes stale only when the remote
// copy is strictly newer.
func (r *Resolver) Refresh(ctx context.Context, identifier string) (types.AssetInfo, error) {
	e, _, err := r.dispatch(identifier)
	if err != nil {
		return types.AssetInfo{Identifier: identifier, Backend: e.Name()}, err
	}
	if e != nil {
		return e.Refresh(ctx, identifier)
	}
	info := r.local.ResolveWithInfo(identifier)
	info.Backend = LocalBackend
	return info, nil
}

// GetModificationTimestamp returns the modification marker of identifier.
// Backend identifiers must have been resolved first.
func (r *Resolver) GetModificationTimestamp(ctx context.Context, identifier string) (types.Timestamp, error) {
	e, _, err := r.dispatch(identifier)
	if err != nil {
		return 0, err
	}
	if e != nil {
		return e.ModificationTime(ctx, identifier)
	}
	path := r.local.Resolve(identifier)
	ts, err := localfs.ModificationTime(path)
	if err != nil {
		return 0, errors.NewError(errors.ErrCodeNotFound, "local file does not exist").
			WithComponent("resolver").
			WithIdentifier(identifier).
			WithTarget(LocalBackend, "").
			WithKey(path).
			WithCause(err)
	}
	return ts, nil
}

// Stats returns resolution cache statistics per backend and target.
func (r *Resolver) Stats() map[string]map[string]cache.Stats {
	out := make(map[string]map[string]cache.Stats, len(r.engines))
	for _, e := range r.engines {
		out[e.Name()] = e.Stats()
	}
	return out
}

// Close releases every backend client. Fetched files stay on disk.
func (r *Resolver) Close() error {
	var errs []error
	for _, e := range r.engines {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (r *Resolver) match(identifier string) *engine.Engine {
	for _, e := range r.engines {
		if e.Matches(identifier) {
			return e
		}
	}
	return nil
}

// dispatch returns the engine owning identifier. A nil engine means a
// plain path: no scheme matched, or the identifier only looks like one of
// the schemes. An identifier that climbs above its target root is a
// backend identifier that cannot be served; its engine is returned with
// the error.
func (r *Resolver) dispatch(identifier string) (*engine.Engine, types.Location, error) {
	e := r.match(identifier)
	if e == nil {
		return nil, types.Location{}, nil
	}
	loc, err := e.Parse(identifier)
	if err == nil {
		return e, loc, nil
	}
	if engine.IsPathEscape(err) {
		return e, types.Location{}, err
	}
	r.logger.Debug("Malformed backend identifier, treating as local path",
		"identifier", identifier, "backend", e.Name(), "error", err)
	return nil, types.Location{}, nil
}
