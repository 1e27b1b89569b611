// Package sql provides the relational database backend client. Assets are
// rows of a single table with columns path, data and time; the key of an
// identifier, leading slash included, is matched against path.
package sql

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/objectfs/assetresolver/internal/storage"
	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
)

// BackendName is the name database assets are cached under.
const BackendName = "sql"

// Backend implements types.Backend for one database server.
type Backend struct {
	store        store
	target       string
	queryTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger the backend derives its own from.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBackend connects to the server named by target.
func NewBackend(ctx context.Context, target string, cfg *Config, opts ...Option) (*Backend, error) {
	if target == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "server name cannot be empty").
			WithComponent("sql")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	st, err := openStore(ctx, cfg.DSN(target), cfg.Table, cfg.MaxOpenConns)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeBackendUnavailable, "connect to database").
			WithComponent("sql").
			WithTarget(BackendName, target).
			WithCause(err)
	}

	b := newBackend(target, st, cfg.QueryTimeout, opts...)
	b.logger.Info("SQL backend connected", "database", cfg.Database, "table", cfg.Table)
	return b, nil
}

func newBackend(target string, st store, queryTimeout time.Duration, opts ...Option) *Backend {
	b := &Backend{
		store:        st,
		target:       target,
		queryTimeout: queryTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "sql-backend", "server", target)
	return b
}

// Factory returns a BackendFactory that connects once per server, with
// the settings configFor returns for it.
func Factory(configFor ConfigFunc, opts ...Option) types.BackendFactory {
	return func(ctx context.Context, target string) (types.Backend, error) {
		cfg, err := configFor(target)
		if err != nil {
			return nil, err
		}
		return NewBackend(ctx, target, cfg, opts...)
	}
}

// CheckRemote reports whether a row exists for key.
func (b *Backend) CheckRemote(ctx context.Context, key string) (types.RemoteInfo, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	exists, modified, err := b.store.Probe(ctx, key)
	if err != nil {
		return types.RemoteInfo{}, errors.NewError(errors.ErrCodeBackendUnavailable, "probe failed").
			WithComponent("sql").
			WithOperation("probe").
			WithTarget(BackendName, b.target).
			WithKey(key).
			WithCause(err)
	}
	if !exists {
		return types.RemoteInfo{Exists: false}, nil
	}
	return types.RemoteInfo{
		Exists:    true,
		Timestamp: types.TimestampFromTime(modified),
		Version:   version(modified),
	}, nil
}

// FetchContent writes the data column of key to destPath.
func (b *Backend) FetchContent(ctx context.Context, key, destPath string) (types.FetchResult, error) {
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	data, modified, found, err := b.store.Content(ctx, key)
	if err != nil {
		return types.FetchResult{}, errors.NewError(errors.ErrCodeFetchFailed, "content query failed").
			WithComponent("sql").
			WithOperation("fetch").
			WithTarget(BackendName, b.target).
			WithKey(key).
			WithCause(err)
	}
	if !found {
		return types.FetchResult{}, errors.NewError(errors.ErrCodeNotFound, "row disappeared before fetch").
			WithComponent("sql").
			WithOperation("fetch").
			WithTarget(BackendName, b.target).
			WithKey(key)
	}

	n, err := storage.WriteFile(destPath, bytes.NewReader(data))
	if err != nil {
		return types.FetchResult{}, err
	}

	b.logger.Debug("Row downloaded", "key", key, "bytes", n)
	return types.FetchResult{
		BytesWritten: n,
		Timestamp:    types.TimestampFromTime(modified),
		Version:      version(modified),
	}, nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.store.Close()
}

func (b *Backend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.queryTimeout > 0 {
		return context.WithTimeout(ctx, b.queryTimeout)
	}
	return ctx, func() {}
}

func version(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
