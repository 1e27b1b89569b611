/*
Package metrics exports resolver outcomes as Prometheus metrics.

Architecture

	┌─────────────┐
	│  Collector  │  ← implements types.MetricsCollector
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/metrics │
	│ - Histograms │         └─────────────────┘
	└──────────────┘

# Metrics

With the default namespace:

	assetresolver_resolutions_total{backend,outcome}          cached, resolved, not_found, error
	assetresolver_remote_checks_total{backend,outcome}        exists, absent, error
	assetresolver_fetches_total{backend,outcome}              hit, ok, failed, unresolved
	assetresolver_fetch_size_bytes{backend}                   histogram of downloaded bytes
	assetresolver_scope_lookups_total{result}                 hit, miss
	assetresolver_backend_constructions_total{backend,outcome} ok, failed

# Usage

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "assetresolver",
	}, logger)
	if err != nil {
		return err
	}
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

The collector uses a private registry, so several collectors can coexist
in one process. Handler can be mounted on an existing mux instead of
calling Start.

A nil or disabled Collector is valid and records nothing.
*/
package metrics
