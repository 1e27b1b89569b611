/*
Package types provides the core interfaces and data structures shared by the
asset resolver packages.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│              Resolver Façade                │
	│               (pkg/resolver)                │
	└─────────────────────────────────────────────┘
	          │            │             │
	┌─────────┴───┐ ┌──────┴─────┐ ┌─────┴──────┐
	│   Scoped    │ │   Engine   │ │  Default   │
	│   Cache     │ │ (per store)│ │  resolver  │
	└─────────────┘ └────────────┘ └────────────┘
	                  │        │
	         ┌────────┴──┐ ┌───┴──────┐
	         │ Registry  │ │ Resolution│
	         │ (Backend) │ │   Cache   │
	         └───────────┘ └──────────┘

# Backend Interface

Backend is the only contract a remote store has to satisfy: a metadata
probe (CheckRemote) and a full content download (FetchContent). A missing
key is not an error; it is reported through RemoteInfo.Exists.

Backends are constructed per target by a BackendFactory. Construction may
fail, in which case the registry remembers the failure for the target's
lifetime.

# Timestamps

Timestamp values are opaque modification markers. They are only ever
compared against markers produced by the same backend.
*/
package types
