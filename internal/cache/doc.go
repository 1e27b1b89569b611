/*
Package cache holds the per-target resolution cache.

Every backend-local key gets one Entry that moves through three states:

	           probe: exists
	  Missing ──────────────────▶ NeedsFetching
	     ▲                          │      ▲
	     │ fetch failed             │      │ probe: remote newer
	     └──────────────────────────┤      │
	                  fetch ok      ▼      │
	                              Fetched ─┘

A Fetched entry is never moved back to Missing by a failed probe; only a
failed fetch rolls an entry back.

Entries live for the lifetime of their Table. Nothing is evicted, and
files written by a fetch are never removed by this package.

# Concurrency

Table is a sync.Map of entries. Each Entry has its own mutex which callers
hold across a whole resolve or fetch, so two goroutines working on the
same key are serialized while different keys never contend.
*/
package cache
