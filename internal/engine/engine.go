// Package engine implements the resolve and fetch protocol shared by all
// remote backends.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/objectfs/assetresolver/internal/cache"
	"github.com/objectfs/assetresolver/internal/identifier"
	"github.com/objectfs/assetresolver/internal/registry"
	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
	"github.com/objectfs/assetresolver/pkg/utils"
)

// Config configures an Engine.
type Config struct {
	// Name identifies the backend in cache paths, logs and metrics.
	Name     string
	Parser   types.Parser
	Factory  types.BackendFactory
	CacheDir string
	Logger   *slog.Logger
	Metrics  types.MetricsCollector
	Health   types.HealthRecorder
}

// Engine resolves and fetches identifiers of one backend scheme.
type Engine struct {
	name     string
	parser   types.Parser
	registry *registry.Registry
	cacheDir string
	logger   *slog.Logger
	metrics  types.MetricsCollector
	health   types.HealthRecorder
}

// New creates an engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Name == "":
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "engine name is required")
	case cfg.Parser == nil:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "engine parser is required")
	case cfg.Factory == nil:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "engine backend factory is required")
	case cfg.CacheDir == "":
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "engine cache directory is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var m types.MetricsCollector = types.NopMetrics{}
	if cfg.Metrics != nil {
		m = cfg.Metrics
	}
	var h types.HealthRecorder = types.NopHealth{}
	if cfg.Health != nil {
		h = cfg.Health
	}

	return &Engine{
		name:   cfg.Name,
		parser: cfg.Parser,
		registry: registry.New(cfg.Name, cfg.Factory,
			registry.WithLogger(logger),
			registry.WithMetrics(m),
			registry.WithHealth(h)),
		cacheDir: cfg.CacheDir,
		logger:   logger.With("component", "engine", "backend", cfg.Name),
		metrics:  m,
		health:   h,
	}, nil
}

// Name returns the backend name.
func (e *Engine) Name() string { return e.name }

// Matches reports whether identifier belongs to this backend's scheme.
func (e *Engine) Matches(identifier string) bool {
	return e.parser.Matches(identifier)
}

// Parse splits identifier into its location.
func (e *Engine) Parse(identifier string) (types.Location, error) {
	return e.parser.Parse(identifier)
}

// Normalize returns identifier with its key's dot segments resolved.
func (e *Engine) Normalize(identifier string) (string, error) {
	return e.parser.Normalize(identifier)
}

// IsPathEscape reports whether err rejects an identifier that climbs
// above its target root.
func IsPathEscape(err error) bool {
	return identifier.IsPathEscape(err)
}

// Registry exposes the per-target state.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// LocalPath returns the deterministic cache path for loc:
// <cacheDir>/<backend>/<target>/<key>.
func (e *Engine) LocalPath(loc types.Location) (string, error) {
	if loc.Target == "" || loc.Target == "." || loc.Target == ".." {
		return "", errors.Newf(errors.ErrCodeMalformedIdentifier, "unusable target %q", loc.Target).
			WithTarget(e.name, loc.Target)
	}
	key, err := utils.CleanKey(loc.Key)
	if err != nil {
		return "", errors.NewError(errors.ErrCodeMalformedIdentifier, "unusable key").
			WithTarget(e.name, loc.Target).
			WithKey(loc.Key).
			WithCause(err)
	}
	path, err := utils.SecureJoin(e.cacheDir, e.name, loc.Target, key)
	if err != nil {
		return "", errors.NewError(errors.ErrCodeMalformedIdentifier, "cache path escapes cache directory").
			WithTarget(e.name, loc.Target).
			WithKey(loc.Key).
			WithCause(err)
	}
	return path, nil
}

// Resolve maps identifier to its local cache path. A Missing entry is
// probed once; a pending or fetched entry is answered from the cache
// without any remote call. A key that does not exist yields an empty
// LocalPath and a nil error.
func (e *Engine) Resolve(ctx context.Context, identifier string) (types.AssetInfo, error) {
	loc, localPath, err := e.locate(identifier)
	if err != nil {
		return types.AssetInfo{}, err
	}

	tgt := e.registry.Get(ctx, loc.Target)
	entry, _ := tgt.Cache.GetOrCreate(loc.Key)

	entry.Lock()
	defer entry.Unlock()

	if entry.State() != types.StateMissing {
		e.metrics.RecordResolution(e.name, "cached")
		return e.info(identifier, loc, entry), nil
	}

	return e.resolveMissing(ctx, identifier, loc, localPath, tgt, entry)
}

// locate parses identifier and computes its cache path. It runs before
// any backend client is constructed.
func (e *Engine) locate(identifier string) (types.Location, string, error) {
	loc, err := e.parser.Parse(identifier)
	if err != nil {
		return types.Location{}, "", err
	}
	localPath, err := e.LocalPath(loc)
	if err != nil {
		e.metrics.RecordResolution(e.name, "error")
		return types.Location{}, "", annotate(err, errors.ErrCodeMalformedIdentifier, identifier, e.name, loc)
	}
	return loc, localPath, nil
}

// resolveMissing probes the remote for a Missing entry. Entry lock held.
func (e *Engine) resolveMissing(ctx context.Context, identifier string, loc types.Location, localPath string, tgt *registry.Target, entry *cache.Entry) (types.AssetInfo, error) {
	ri, err := e.checkRemote(ctx, tgt, loc.Key)
	if err != nil {
		rerr := annotate(err, errors.ErrCodeBackendUnavailable, identifier, e.name, loc)
		entry.MarkMissing(rerr)
		e.logger.Warn("Remote check failed", "identifier", identifier, "target", loc.Target, "error", err)
		e.metrics.RecordResolution(e.name, "error")
		return types.AssetInfo{}, rerr
	}
	if !ri.Exists {
		entry.MarkMissing(notFound(identifier, e.name, loc))
		e.logger.Debug("Asset not found", "identifier", identifier, "target", loc.Target)
		e.metrics.RecordResolution(e.name, "not_found")
		return types.AssetInfo{Identifier: identifier, Backend: e.name, Target: loc.Target, Key: loc.Key}, nil
	}

	if err := entry.MarkNeedsFetching(localPath, ri.Timestamp, ri.Version); err != nil {
		return types.AssetInfo{}, err
	}
	e.metrics.RecordResolution(e.name, "resolved")
	return e.info(identifier, loc, entry), nil
}

// Fetch materializes a resolved identifier at its local path. It fails
// with NotResolved, without any I/O, when identifier was never resolved.
func (e *Engine) Fetch(ctx context.Context, identifier string) (types.AssetInfo, error) {
	loc, err := e.parser.Parse(identifier)
	if err != nil {
		return types.AssetInfo{}, err
	}

	tgt, entry, err := e.lookup(identifier, loc)
	if err != nil {
		return types.AssetInfo{}, err
	}

	entry.Lock()
	defer entry.Unlock()

	switch entry.State() {
	case types.StateMissing:
		e.metrics.RecordFetch(e.name, "unresolved", 0)
		return types.AssetInfo{}, e.missingReason(identifier, loc, entry)

	case types.StateFetched:
		if fileExists(entry.LocalPath()) {
			e.metrics.RecordFetch(e.name, "hit", 0)
			return e.info(identifier, loc, entry), nil
		}
		// The file was removed behind our back; fetch it again.
		e.logger.Info("Fetched file missing on disk, refetching", "identifier", identifier, "path", entry.LocalPath())
		if err := entry.MarkNeedsFetching(entry.LocalPath(), entry.Timestamp(), entry.Version()); err != nil {
			return types.AssetInfo{}, err
		}
	}

	return e.fetchPending(ctx, identifier, loc, tgt, entry)
}

// fetchPending runs the freshness check and download for a NeedsFetching
// entry. Entry lock held.
func (e *Engine) fetchPending(ctx context.Context, identifier string, loc types.Location, tgt *registry.Target, entry *cache.Entry) (types.AssetInfo, error) {
	ri, err := e.checkRemote(ctx, tgt, loc.Key)
	switch {
	case err != nil:
		// Unreachable probe: the download below reports the real failure.
		e.logger.Debug("Freshness check failed before fetch", "identifier", identifier, "error", err)
	case !ri.Exists:
		rerr := notFound(identifier, e.name, loc)
		entry.MarkMissing(rerr)
		e.metrics.RecordFetch(e.name, "failed", 0)
		return types.AssetInfo{}, rerr
	}

	localPath := entry.LocalPath()
	res, err := tgt.Backend.FetchContent(ctx, loc.Key, localPath)
	if err != nil {
		rerr := annotate(err, errors.ErrCodeFetchFailed, identifier, e.name, loc)
		entry.MarkMissing(rerr)
		e.logger.Warn("Fetch failed, entry rolled back", "identifier", identifier, "target", loc.Target, "error", err)
		e.metrics.RecordFetch(e.name, "failed", 0)
		e.health.RecordError(e.component(tgt), rerr)
		return types.AssetInfo{}, rerr
	}
	e.health.RecordSuccess(e.component(tgt))

	ts := res.Timestamp
	if ts == 0 {
		ts = ri.Timestamp
	}
	version := res.Version
	if version == "" {
		version = ri.Version
	}
	if err := entry.MarkFetched(ts, version); err != nil {
		return types.AssetInfo{}, err
	}

	e.logger.Debug("Asset fetched", "identifier", identifier, "path", localPath, "bytes", res.BytesWritten)
	e.metrics.RecordFetch(e.name, "ok", res.BytesWritten)
	return e.info(identifier, loc, entry), nil
}

// Refresh re-resolves identifier against the remote regardless of its
// cached state. A Fetched entry becomes NeedsFetching only when the remote
// copy is strictly newer; probe failures leave it untouched.
func (e *Engine) Refresh(ctx context.Context, identifier string) (types.AssetInfo, error) {
	loc, localPath, err := e.locate(identifier)
	if err != nil {
		return types.AssetInfo{}, err
	}

	tgt := e.registry.Get(ctx, loc.Target)
	entry, _ := tgt.Cache.GetOrCreate(loc.Key)

	entry.Lock()
	defer entry.Unlock()

	if entry.State() == types.StateMissing {
		return e.resolveMissing(ctx, identifier, loc, localPath, tgt, entry)
	}

	ri, err := e.checkRemote(ctx, tgt, loc.Key)
	if err != nil {
		e.logger.Debug("Refresh probe failed, keeping cached state", "identifier", identifier, "error", err)
		return e.info(identifier, loc, entry), nil
	}
	if err := e.applyProbe(identifier, loc, entry, ri); err != nil {
		return types.AssetInfo{}, err
	}
	return e.info(identifier, loc, entry), nil
}

// ModificationTime returns the remote modification marker of a resolved
// identifier, marking a Fetched entry stale when the remote is newer. When
// the remote cannot be reached the last known marker is returned.
func (e *Engine) ModificationTime(ctx context.Context, identifier string) (types.Timestamp, error) {
	loc, err := e.parser.Parse(identifier)
	if err != nil {
		return 0, err
	}

	tgt, entry, err := e.lookup(identifier, loc)
	if err != nil {
		return 0, err
	}

	entry.Lock()
	defer entry.Unlock()

	if entry.State() == types.StateMissing {
		return 0, e.missingReason(identifier, loc, entry)
	}

	ri, err := e.checkRemote(ctx, tgt, loc.Key)
	if err != nil || !ri.Exists {
		return entry.Timestamp(), nil
	}
	if err := e.applyProbe(identifier, loc, entry, ri); err != nil {
		return 0, err
	}
	return ri.Timestamp, nil
}

// applyProbe applies a successful probe result to a pending or fetched
// entry. Entry lock held.
func (e *Engine) applyProbe(identifier string, loc types.Location, entry *cache.Entry, ri types.RemoteInfo) error {
	if !ri.Exists {
		// The remote copy is gone. A pending entry has nothing to fetch;
		// a fetched one keeps serving its local copy.
		if entry.State() == types.StateNeedsFetching {
			entry.MarkMissing(notFound(identifier, e.name, loc))
		}
		return nil
	}
	if !ri.Timestamp.NewerThan(entry.Timestamp()) {
		return nil
	}
	if entry.State() == types.StateFetched {
		e.logger.Info("Remote copy is newer, marking stale", "identifier", identifier,
			"stored", entry.Timestamp(), "remote", ri.Timestamp)
		return entry.MarkNeedsFetching(entry.LocalPath(), ri.Timestamp, ri.Version)
	}
	return nil
}

// Stats returns cache statistics per target.
func (e *Engine) Stats() map[string]cache.Stats {
	out := make(map[string]cache.Stats)
	for _, name := range e.registry.Targets() {
		if tgt, ok := e.registry.Lookup(name); ok {
			out[name] = tgt.Cache.Stats()
		}
	}
	return out
}

// Close releases the backend clients.
func (e *Engine) Close() error {
	return e.registry.Close()
}

func (e *Engine) lookup(identifier string, loc types.Location) (*registry.Target, *cache.Entry, error) {
	tgt, ok := e.registry.Lookup(loc.Target)
	if ok {
		if entry, ok := tgt.Cache.Get(loc.Key); ok {
			return tgt, entry, nil
		}
	}
	return nil, nil, errors.NewError(errors.ErrCodeNotResolved, "identifier must be resolved before it is fetched").
		WithComponent("engine").
		WithIdentifier(identifier).
		WithTarget(e.name, loc.Target).
		WithKey(loc.Key)
}

func (e *Engine) checkRemote(ctx context.Context, tgt *registry.Target, key string) (types.RemoteInfo, error) {
	ri, err := tgt.Backend.CheckRemote(ctx, key)
	switch {
	case err != nil:
		e.metrics.RecordRemoteCheck(e.name, "error")
		e.health.RecordError(e.component(tgt), err)
		return ri, err
	case ri.Exists:
		e.metrics.RecordRemoteCheck(e.name, "exists")
	default:
		e.metrics.RecordRemoteCheck(e.name, "absent")
	}
	e.health.RecordSuccess(e.component(tgt))
	return ri, nil
}

func (e *Engine) component(tgt *registry.Target) string {
	return e.name + "/" + tgt.Name
}

func (e *Engine) missingReason(identifier string, loc types.Location, entry *cache.Entry) error {
	if reason := entry.Reason(); reason != nil {
		return reason
	}
	return notFound(identifier, e.name, loc)
}

func (e *Engine) info(identifier string, loc types.Location, entry *cache.Entry) types.AssetInfo {
	return types.AssetInfo{
		Identifier: identifier,
		Backend:    e.name,
		Target:     loc.Target,
		Key:        loc.Key,
		LocalPath:  entry.LocalPath(),
		Version:    entry.Version(),
		Timestamp:  entry.Timestamp(),
		State:      entry.State(),
	}
}

func notFound(identifier, backend string, loc types.Location) *errors.ResolverError {
	return errors.NewError(errors.ErrCodeNotFound, "asset does not exist").
		WithComponent("engine").
		WithIdentifier(identifier).
		WithTarget(backend, loc.Target).
		WithKey(loc.Key)
}

// annotate attaches identifier context to err. Errors without a resolver
// code are classified as def.
func annotate(err error, def errors.ErrorCode, identifier, backend string, loc types.Location) *errors.ResolverError {
	var re *errors.ResolverError
	if stderrors.As(err, &re) {
		out := re.Clone()
		if out.Identifier == "" {
			out.Identifier = identifier
		}
		if out.Backend == "" {
			out.Backend = backend
		}
		if out.Target == "" {
			out.Target = loc.Target
		}
		if out.Key == "" {
			out.Key = loc.Key
		}
		return out
	}
	return errors.NewError(def, fmt.Sprintf("%s backend call failed", backend)).
		WithIdentifier(identifier).
		WithTarget(backend, loc.Target).
		WithKey(loc.Key).
		WithCause(err)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
