// Package dashboard serves derived spending views over the expense cache,
// memoized per cache revision.
package dashboard

import (
	"slices"
	"sync/atomic"
	"time"

	"spesync/internal/cache"
	"spesync/internal/core"
	"spesync/internal/expenses"
)

// Source is the part of the expense cache the views read.
type Source interface {
	Snapshot() expenses.Snapshot
}

type key struct {
	epoch    uint64
	revision uint64
	filter   core.Filter
	ref      int64
	loc      string
}

// Views memoizes core.DeriveAggregates. A new cache revision or session
// epoch yields a new key, so stale results are never served.
type Views struct {
	src    Source
	memo   cache.Cache[key, core.Aggregates]
	hits   atomic.Int64
	misses atomic.Int64
}

func New(src Source, size int, ttl time.Duration) *Views {
	if size <= 0 {
		size = 32
	}
	return &Views{src: src, memo: cache.NewLRU[key, core.Aggregates](size, ttl)}
}

// View returns the aggregates of the current records for f around ref.
func (v *Views) View(f core.Filter, ref time.Time) core.Aggregates {
	snap := v.src.Snapshot()
	k := key{
		epoch:    snap.Epoch,
		revision: snap.Revision,
		filter:   f,
		ref:      ref.UnixNano(),
		loc:      ref.Location().String(),
	}
	if agg, ok := v.memo.Get(k); ok {
		v.hits.Add(1)
		return detach(agg)
	}
	v.misses.Add(1)
	agg := core.DeriveAggregates(snap.Expenses, f, ref)
	v.memo.Set(k, agg)
	return detach(agg)
}

// detach copies the slices so callers cannot reach into the memo.
func detach(agg core.Aggregates) core.Aggregates {
	agg.ByCategory = slices.Clone(agg.ByCategory)
	agg.Series = slices.Clone(agg.Series)
	return agg
}

// Invalidate drops every memoized view.
func (v *Views) Invalidate() {
	v.memo.Purge()
}

// Stats reports memo hits and misses since creation.
func (v *Views) Stats() (hits, misses int64) {
	return v.hits.Load(), v.misses.Load()
}

// CleanExpired drops memoized views past their TTL. It lets a
// cache.Sweeper manage the views.
func (v *Views) CleanExpired() int {
	if c, ok := v.memo.(cache.Cleaner); ok {
		return c.CleanExpired()
	}
	return 0
}
