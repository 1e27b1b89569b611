package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/objectfs/assetresolver/pkg/health"
)

// Collector exports resolver outcomes as Prometheus metrics. It implements
// types.MetricsCollector. A disabled collector accepts every call and
// records nothing.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry
	logger   *slog.Logger

	// Prometheus metrics
	resolutions   *prometheus.CounterVec
	remoteChecks  *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchBytes    *prometheus.HistogramVec
	scopeLookups  *prometheus.CounterVec
	constructions *prometheus.CounterVec

	// Internal tracking
	counts  map[string]int64
	started time.Time
	health  *health.Tracker

	// HTTP server for metrics endpoint
	server   *http.Server
	listener net.Listener
}

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// NewDefaultConfig returns the configuration used for a nil Config.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "assetresolver",
	}
}

// NewCollector creates a new metrics collector
func NewCollector(config *Config, logger *slog.Logger) (*Collector, error) {
	if config == nil {
		config = NewDefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	if !config.Enabled {
		return &Collector{config: config, logger: logger}, nil
	}
	if config.Path == "" {
		config.Path = "/metrics"
	}

	collector := &Collector{
		config:    config,
		registry:  prometheus.NewRegistry(),
		logger:    logger.With("component", "metrics"),
		counts:    make(map[string]int64),
		started:   time.Now(),
	}

	collector.initMetrics()

	if err := collector.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return collector, nil
}

// Enabled reports whether the collector records anything.
func (c *Collector) Enabled() bool {
	return c != nil && c.config.Enabled
}

// Registry returns the Prometheus registry, nil when disabled.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if !c.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Start starts the metrics server. It returns once the listener is bound.
func (c *Collector) Start(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler())
	mux.HandleFunc("/health", c.healthHandler)
	mux.HandleFunc("/debug/metrics", c.debugMetricsHandler)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", c.config.Port))
	if err != nil {
		return fmt.Errorf("listen on metrics port %d: %w", c.config.Port, err)
	}

	c.mu.Lock()
	c.listener = ln
	c.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second, // Prevent Slowloris attacks
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			c.logger.Error("Metrics server error", "error", err)
		}
	}()

	c.logger.Info("Metrics server started", "addr", ln.Addr().String(), "path", c.config.Path)
	return nil
}

// SetHealthTracker makes the health endpoint report per-target health.
// It must be called before Start.
func (c *Collector) SetHealthTracker(t *health.Tracker) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.health = t
	c.mu.Unlock()
}

// Addr returns the bound address of a started server.
func (c *Collector) Addr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

// Stop stops the metrics collection server
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server != nil {
		return server.Shutdown(ctx)
	}
	return nil
}

// RecordResolution counts one Resolve outcome.
func (c *Collector) RecordResolution(backend, outcome string) {
	if !c.Enabled() {
		return
	}
	c.resolutions.WithLabelValues(backend, outcome).Inc()
	c.count("resolution", backend, outcome)
}

// RecordRemoteCheck counts one metadata probe.
func (c *Collector) RecordRemoteCheck(backend, outcome string) {
	if !c.Enabled() {
		return
	}
	c.remoteChecks.WithLabelValues(backend, outcome).Inc()
	c.count("remote_check", backend, outcome)
}

// RecordFetch counts one Fetch outcome and the bytes it downloaded.
func (c *Collector) RecordFetch(backend, outcome string, bytes int64) {
	if !c.Enabled() {
		return
	}
	c.fetches.WithLabelValues(backend, outcome).Inc()
	if bytes > 0 {
		c.fetchBytes.WithLabelValues(backend).Observe(float64(bytes))
	}
	c.count("fetch", backend, outcome)
}

// RecordScopeLookup counts one scoped-cache lookup.
func (c *Collector) RecordScopeLookup(hit bool) {
	if !c.Enabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.scopeLookups.WithLabelValues(result).Inc()
	c.count("scope_lookup", "", result)
}

// RecordBackendConstruction counts one backend client construction.
func (c *Collector) RecordBackendConstruction(backend, outcome string) {
	if !c.Enabled() {
		return
	}
	c.constructions.WithLabelValues(backend, outcome).Inc()
	c.count("construction", backend, outcome)
}

// GetMetrics returns a copy of the recorded counts keyed by
// "<kind>/<backend>/<outcome>".
func (c *Collector) GetMetrics() map[string]int64 {
	if !c.Enabled() {
		return map[string]int64{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

func (c *Collector) count(kind, backend, outcome string) {
	c.mu.Lock()
	c.counts[kind+"/"+backend+"/"+outcome]++
	c.mu.Unlock()
}

func (c *Collector) initMetrics() {
	c.resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "resolutions_total",
			Help:      "Total number of identifier resolutions by outcome",
		},
		[]string{"backend", "outcome"},
	)

	c.remoteChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "remote_checks_total",
			Help:      "Total number of remote metadata probes by outcome",
		},
		[]string{"backend", "outcome"},
	)

	c.fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "fetches_total",
			Help:      "Total number of fetch requests by outcome",
		},
		[]string{"backend", "outcome"},
	)

	c.fetchBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "fetch_size_bytes",
			Help:      "Size of downloaded assets in bytes",
			Buckets:   prometheus.ExponentialBuckets(1024, 2, 20), // 1KB to ~1GB
		},
		[]string{"backend"},
	)

	c.scopeLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "scope_lookups_total",
			Help:      "Total number of scoped cache lookups",
		},
		[]string{"result"},
	)

	c.constructions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.config.Namespace,
			Subsystem: c.config.Subsystem,
			Name:      "backend_constructions_total",
			Help:      "Total number of backend client constructions by outcome",
		},
		[]string{"backend", "outcome"},
	)
}

func (c *Collector) registerMetrics() error {
	metrics := []prometheus.Collector{
		c.resolutions,
		c.remoteChecks,
		c.fetches,
		c.fetchBytes,
		c.scopeLookups,
		c.constructions,
	}

	for _, metric := range metrics {
		if err := c.registry.Register(metric); err != nil {
			return err
		}
	}

	return nil
}

// HTTP handlers

func (c *Collector) healthHandler(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	tracker := c.health
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if tracker == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"assetresolver-metrics"}`))
		return
	}

	// Unavailable targets never fail the endpoint.
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(tracker.Report())
}

type debugCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

func (c *Collector) debugMetricsHandler(w http.ResponseWriter, r *http.Request) {
	counts := c.GetMetrics()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]debugCount, 0, len(keys))
	for _, k := range keys {
		out = append(out, debugCount{Key: k, Count: counts[k]})
	}

	c.mu.RLock()
	uptime := time.Since(c.started).Round(time.Second).String()
	c.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"uptime": uptime,
		"counts": out,
	})
}
