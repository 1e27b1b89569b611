package types

import (
	"time"
)

// Timestamp is a backend modification marker. It is monotonic within one
// backend and not comparable across backends.
type Timestamp int64

// TimestampFromTime converts a wall clock time to a marker with
// nanosecond resolution. The zero time maps to zero.
func TimestampFromTime(t time.Time) Timestamp {
	if t.IsZero() {
		return 0
	}
	return Timestamp(t.UnixNano())
}

// Time converts the marker back to a wall clock time.
func (ts Timestamp) Time() time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ts))
}

// NewerThan reports whether ts is strictly newer than other.
func (ts Timestamp) NewerThan(other Timestamp) bool {
	return ts > other
}

// RemoteInfo is the result of a metadata probe.
type RemoteInfo struct {
	Exists    bool      `json:"exists"`
	Timestamp Timestamp `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Size      int64     `json:"size,omitempty"`
}

// FetchResult describes a completed download.
type FetchResult struct {
	BytesWritten int64     `json:"bytes_written"`
	Timestamp    Timestamp `json:"timestamp"`
	Version      string    `json:"version,omitempty"`
}

// Location is a parsed backend identifier.
type Location struct {
	Backend string `json:"backend"`
	Target  string `json:"target"`
	Key     string `json:"key"`
}

// EntryState is the lifecycle state of one cached key.
type EntryState int

const (
	StateMissing EntryState = iota
	StateNeedsFetching
	StateFetched
)

func (s EntryState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateNeedsFetching:
		return "needs_fetching"
	case StateFetched:
		return "fetched"
	default:
		return "unknown"
	}
}

// AssetInfo is the resolution result with backend metadata attached.
type AssetInfo struct {
	Identifier string     `json:"identifier"`
	Backend    string     `json:"backend,omitempty"`
	Target     string     `json:"target,omitempty"`
	Key        string     `json:"key,omitempty"`
	LocalPath  string     `json:"local_path"`
	Version    string     `json:"version,omitempty"`
	Timestamp  Timestamp  `json:"timestamp,omitempty"`
	State      EntryState `json:"state"`
}

// Range represents a byte range
type Range struct {
	Offset int64 `json:"offset"`
	Size   int64 `json:"size"`
}
