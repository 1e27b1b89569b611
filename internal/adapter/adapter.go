package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/objectfs/assetresolver/internal/config"
	"github.com/objectfs/assetresolver/internal/engine"
	"github.com/objectfs/assetresolver/internal/identifier"
	"github.com/objectfs/assetresolver/internal/localfs"
	"github.com/objectfs/assetresolver/internal/metrics"
	"github.com/objectfs/assetresolver/internal/storage/s3"
	"github.com/objectfs/assetresolver/internal/storage/sql"
	"github.com/objectfs/assetresolver/pkg/health"
	"github.com/objectfs/assetresolver/pkg/resolver"
)

// Adapter owns a configured Resolver and its metrics endpoint.
type Adapter struct {
	config   *config.Configuration
	logger   *slog.Logger
	metrics  *metrics.Collector
	health   *health.Tracker
	resolver *resolver.Resolver
}

// New builds a Resolver from cfg with the enabled backends registered.
// Backend clients are not constructed until their first identifier is
// resolved.
func New(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (*Adapter, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Global.MetricsEnabled,
		Port:      cfg.Global.MetricsPort,
		Path:      "/metrics",
		Namespace: "assetresolver",
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics collector: %w", err)
	}

	tracker := health.NewTracker(health.DefaultConfig())
	tracker.AddStateChangeCallback(func(component string, oldState, newState health.HealthState, err error) {
		logger.Warn("Backend target health changed",
			"target", component, "from", oldState.String(), "to", newState.String(), "error", err)
	})
	collector.SetHealthTracker(tracker)

	local, err := localfs.New(cfg.SearchPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to create local resolver: %w", err)
	}

	opts := []resolver.Option{
		resolver.WithLocal(local),
		resolver.WithLogger(logger),
		resolver.WithMetrics(collector),
	}

	engines, err := buildEngines(cfg, logger, collector, tracker)
	if err != nil {
		return nil, err
	}
	for _, e := range engines {
		opts = append(opts, resolver.WithEngine(e))
	}

	r, err := resolver.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	logger.Info("Asset resolver configured",
		"backends", r.Backends(),
		"cache_dir", cfg.Cache.Directory,
		"search_paths", local.SearchPaths())

	return &Adapter{
		config:   cfg,
		logger:   logger,
		metrics:  collector,
		health:   tracker,
		resolver: r,
	}, nil
}

// Resolver returns the configured resolver.
func (a *Adapter) Resolver() *resolver.Resolver {
	return a.resolver
}

// Metrics returns the metrics collector. It is disabled unless the
// configuration enables metrics.
func (a *Adapter) Metrics() *metrics.Collector {
	return a.metrics
}

// Health returns the per-target health tracker.
func (a *Adapter) Health() *health.Tracker {
	return a.health
}

// Start starts the metrics endpoint when metrics are enabled.
func (a *Adapter) Start(ctx context.Context) error {
	if err := a.metrics.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	return nil
}

// Stop shuts down the metrics endpoint and releases backend clients.
func (a *Adapter) Stop(ctx context.Context) error {
	a.logger.Info("Stopping asset resolver")

	var firstErr error
	if err := a.metrics.Stop(ctx); err != nil {
		firstErr = fmt.Errorf("failed to stop metrics server: %w", err)
	}
	if err := a.resolver.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close backends: %w", err)
	}
	return firstErr
}

func buildEngines(cfg *config.Configuration, logger *slog.Logger, m *metrics.Collector, h *health.Tracker) ([]*engine.Engine, error) {
	var engines []*engine.Engine

	if cfg.S3.Enabled {
		opts := []identifier.Option{identifier.WithPrefix(cfg.S3.Scheme)}
		if cfg.S3.Suffix != "" {
			opts = append(opts, identifier.WithSuffix(cfg.S3.Suffix))
		}
		e, err := engine.New(engine.Config{
			Name:     s3.BackendName,
			Parser:   identifier.NewParser(s3.BackendName, opts...),
			Factory:  s3.Factory(S3Config(cfg), s3.WithLogger(logger)),
			CacheDir: cfg.Cache.Directory,
			Logger:   logger,
			Metrics:  m,
			Health:   h,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 engine: %w", err)
		}
		engines = append(engines, e)
	}

	if cfg.SQL.Enabled {
		opts := []identifier.Option{identifier.WithPrefix(cfg.SQL.Scheme)}
		if cfg.SQL.RewriteLocalhost {
			opts = append(opts, identifier.WithTargetAlias("localhost", "127.0.0.1"))
		}
		e, err := engine.New(engine.Config{
			Name:     sql.BackendName,
			Parser:   identifier.NewParser(sql.BackendName, opts...),
			Factory:  sql.Factory(SQLConfigFunc(cfg), sql.WithLogger(logger)),
			CacheDir: cfg.Cache.Directory,
			Logger:   logger,
			Metrics:  m,
			Health:   h,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create sql engine: %w", err)
		}
		engines = append(engines, e)
	}

	return engines, nil
}

// S3Config translates the s3 and network sections into backend settings.
func S3Config(cfg *config.Configuration) *s3.Config {
	out := s3.NewDefaultConfig()
	out.Region = cfg.S3.Region
	out.Endpoint = cfg.S3.Endpoint
	out.ForcePathStyle = cfg.S3.ForcePathStyle
	out.AccessKeyID = cfg.S3.AccessKeyID
	out.SecretAccessKey = cfg.S3.SecretAccessKey
	out.SessionToken = cfg.S3.SessionToken
	out.ProxyURL = cfg.Network.ProxyURL()
	out.ConnectTimeout = cfg.Network.Timeouts.Connect
	out.RequestTimeout = cfg.Network.Timeouts.Request
	return out
}

// SQLConfigFunc returns the per-server settings lookup for the sql
// backend. Environment overrides are read when a server is first used.
func SQLConfigFunc(cfg *config.Configuration) sql.ConfigFunc {
	base := cfg.SQL
	timeouts := cfg.Network.Timeouts
	return func(target string) (*sql.Config, error) {
		sc, err := base.ForTarget(target)
		if err != nil {
			return nil, err
		}
		return &sql.Config{
			User:             sc.User,
			Password:         sc.Password,
			Database:         sc.Database,
			Table:            sc.Table,
			Port:             sc.Port,
			SSLMode:          sc.SSLMode,
			RewriteLocalhost: sc.RewriteLocalhost,
			MaxOpenConns:     sc.MaxOpenConns,
			ConnectTimeout:   timeouts.Connect,
			QueryTimeout:     timeouts.Request,
		}, nil
	}
}
