package cache

import (
	"sync"
	"sync/atomic"

	"github.com/objectfs/assetresolver/pkg/types"
)

// Table maps backend-local keys to entries for one target. Lookups and
// inserts are lock-free; each entry carries its own lock.
type Table struct {
	entries sync.Map // string -> *Entry
	size    atomic.Int64
}

// Stats counts entries per state.
type Stats struct {
	Entries       int `json:"entries"`
	Missing       int `json:"missing"`
	NeedsFetching int `json:"needs_fetching"`
	Fetched       int `json:"fetched"`
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Get returns the entry for key if one was ever created.
func (t *Table) Get(key string) (*Entry, bool) {
	v, ok := t.entries.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Entry), true
}

// GetOrCreate returns the entry for key, creating a Missing entry if
// there is none. created reports whether this call inserted it.
func (t *Table) GetOrCreate(key string) (entry *Entry, created bool) {
	if v, ok := t.entries.Load(key); ok {
		return v.(*Entry), false
	}
	v, loaded := t.entries.LoadOrStore(key, &Entry{})
	if !loaded {
		t.size.Add(1)
	}
	return v.(*Entry), !loaded
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return int(t.size.Load())
}

// Range calls fn for each entry until fn returns false. Entries are not
// locked; fn must lock an entry before reading it.
func (t *Table) Range(fn func(key string, e *Entry) bool) {
	t.entries.Range(func(k, v any) bool {
		return fn(k.(string), v.(*Entry))
	})
}

// Stats locks each entry in turn to count states.
func (t *Table) Stats() Stats {
	var s Stats
	t.Range(func(_ string, e *Entry) bool {
		e.Lock()
		state := e.State()
		e.Unlock()

		s.Entries++
		switch state {
		case types.StateMissing:
			s.Missing++
		case types.StateNeedsFetching:
			s.NeedsFetching++
		case types.StateFetched:
			s.Fetched++
		}
		return true
	})
	return s
}
