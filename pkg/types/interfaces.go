package types

import (
	"context"
)

// Backend is the capability set every remote store provides. One Backend
// value serves exactly one target (bucket, server) and must be safe for
// concurrent use.
type Backend interface {
	// CheckRemote is a metadata-only probe. A key that does not exist is
	// reported as RemoteInfo{Exists: false} with a nil error; transport
	// failures are errors.
	CheckRemote(ctx context.Context, key string) (RemoteInfo, error)

	// FetchContent downloads the full content of key to destPath, creating
	// parent directories as needed. destPath is never left half-written.
	FetchContent(ctx context.Context, key, destPath string) (FetchResult, error)
}

// BackendFactory constructs the Backend for one target. It is called at
// most once per target for the lifetime of a registry.
type BackendFactory func(ctx context.Context, target string) (Backend, error)

// Parser recognizes identifiers belonging to one backend scheme.
type Parser interface {
	// Matches is a purely lexical check.
	Matches(identifier string) bool

	// Parse splits a matching identifier into its target and key.
	Parse(identifier string) (Location, error)

	// Normalize rewrites a matching identifier with dot segments resolved.
	Normalize(identifier string) (string, error)
}

// MetricsCollector receives resolver outcomes. Implementations must be
// safe for concurrent use.
type MetricsCollector interface {
	RecordResolution(backend, outcome string)
	RecordRemoteCheck(backend, outcome string)
	RecordFetch(backend, outcome string, bytes int64)
	RecordScopeLookup(hit bool)
	RecordBackendConstruction(backend, outcome string)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RecordResolution(string, string) {}
func (NopMetrics) RecordRemoteCheck(string, string) {}
func (NopMetrics) RecordFetch(string, string, int64) {}
func (NopMetrics) RecordScopeLookup(bool) {}
func (NopMetrics) RecordBackendConstruction(string, string) {}

// HealthRecorder receives per-target outcomes. Components are named
// "backend/target".
type HealthRecorder interface {
	RecordSuccess(component string)
	RecordError(component string, err error)
	MarkUnavailable(component string, err error)
}

// NopHealth discards everything.
type NopHealth struct{}

func (NopHealth) RecordSuccess(string) {}
func (NopHealth) RecordError(string, error) {}
func (NopHealth) MarkUnavailable(string, error) {}
