// Package baton implements the Baton Protocol (C12): the ordered,
// append-only state carried step to step and phase to phase through a
// run, with copy-on-write snapshots at phase entry and deterministic
// merge back at phase exit.
package baton

import "sort"

// Baton is the run's shared state. Keys are role names and their
// <role>_gate / <role>_artifacts companions; values are whatever
// artifacts/gate verdicts a step chose to record.
// Nothing is ever deleted from a Baton over the life of a run.
type Baton struct {
	values map[string]interface{}
	order  []string
}

// New returns an empty Baton.
func New() *Baton {
	return &Baton{values: make(map[string]interface{})}
}

// Set records or overwrites a key, appending it to the write order the
// first time it is seen.
func (b *Baton) Set(key string, value interface{}) {
	if _, exists := b.values[key]; !exists {
		b.order = append(b.order, key)
	}
	b.values[key] = value
}

// Get returns the value for key and whether it was present.
func (b *Baton) Get(key string) (interface{}, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Keys returns every key in the order it was first written.
func (b *Baton) Keys() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Snapshot returns a copy-on-write clone: independent of further
// mutation to b, used to hand each parallel-phase worker its own view
// of the baton as it existed at phase entry.
func (b *Baton) Snapshot() *Baton {
	clone := &Baton{
		values: make(map[string]interface{}, len(b.values)),
		order:  make([]string, len(b.order)),
	}
	for k, v := range b.values {
		clone.values[k] = v
	}
	copy(clone.order, b.order)
	return clone
}

// Merge folds another Baton's writes into b. Keys are applied in the
// order other.Keys() returns them, so merge results are deterministic
// regardless of goroutine scheduling order — callers merge worker
// snapshots back in a fixed, sorted-by-role order rather than
// completion order.
func (b *Baton) Merge(other *Baton) {
	for _, k := range other.Keys() {
		v, _ := other.Get(k)
		b.Set(k, v)
	}
}

// MergeAll merges a set of worker snapshots back into b in
// role-sorted order, giving a deterministic result regardless of which
// worker finished first.
func MergeAll(b *Baton, snapshots map[string]*Baton) {
	roles := make([]string, 0, len(snapshots))
	for role := range snapshots {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		b.Merge(snapshots[role])
	}
}

// Map returns a plain map view of the current values, for callers
// (security scan, metrics) that want a snapshot without baton's own
// ordering machinery.
func (b *Baton) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}
