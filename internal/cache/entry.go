package cache

import (
	"sync"

	"github.com/objectfs/assetresolver/pkg/errors"
	"github.com/objectfs/assetresolver/pkg/types"
)

// Entry is the resolution state of one backend-local key.
//
// Callers hold the entry lock for the whole of a resolve or fetch so that
// operations on the same key are serialized while unrelated keys proceed
// independently. All accessors and Mark* methods require the lock.
type Entry struct {
	mu sync.Mutex

	state     types.EntryState
	localPath string
	timestamp types.Timestamp
	version   string
	reason    error
}

// Snapshot is a copy of an entry taken under its lock.
type Snapshot struct {
	State     types.EntryState
	LocalPath string
	Timestamp types.Timestamp
	Version   string
	Reason    error
}

// Lock acquires the entry.
func (e *Entry) Lock() { e.mu.Lock() }

// Unlock releases the entry.
func (e *Entry) Unlock() { e.mu.Unlock() }

func (e *Entry) State() types.EntryState { return e.state }
func (e *Entry) LocalPath() string { return e.localPath }
func (e *Entry) Timestamp() types.Timestamp { return e.timestamp }
func (e *Entry) Version() string { return e.version }

// Reason is the error recorded by the last transition into Missing, or
// nil for an entry that was never resolved.
func (e *Entry) Reason() error { return e.reason }

// Snapshot copies the entry state.
func (e *Entry) Snapshot() Snapshot {
	return Snapshot{
		State:     e.state,
		LocalPath: e.localPath,
		Timestamp: e.timestamp,
		Version:   e.version,
		Reason:    e.reason,
	}
}

// MarkNeedsFetching records a successful remote probe. Valid from Missing,
// and from Fetched when the remote copy turned out to be newer.
func (e *Entry) MarkNeedsFetching(localPath string, ts types.Timestamp, version string) error {
	if localPath == "" {
		return transitionError(e.state, types.StateNeedsFetching, "empty local path")
	}
	if e.state == types.StateNeedsFetching {
		return transitionError(e.state, types.StateNeedsFetching, "already pending")
	}
	e.state = types.StateNeedsFetching
	e.localPath = localPath
	e.timestamp = ts
	e.version = version
	e.reason = nil
	return nil
}

// MarkFetched records a completed download. Valid only from NeedsFetching.
func (e *Entry) MarkFetched(ts types.Timestamp, version string) error {
	if e.state != types.StateNeedsFetching {
		return transitionError(e.state, types.StateFetched, "no fetch pending")
	}
	e.state = types.StateFetched
	e.timestamp = ts
	if version != "" {
		e.version = version
	}
	return nil
}

// MarkMissing rolls the entry back so the next resolution probes again.
// The local path is cleared; files already on disk are left alone.
func (e *Entry) MarkMissing(reason error) {
	e.state = types.StateMissing
	e.localPath = ""
	e.timestamp = 0
	e.version = ""
	e.reason = reason
}

func transitionError(from, to types.EntryState, msg string) error {
	return errors.Newf(errors.ErrCodeInternalError, "invalid transition %s -> %s: %s", from, to, msg).
		WithComponent("cache")
}
