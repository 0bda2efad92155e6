// Package store defines the persistence contract for SavedState implied by
// spec.md §6 ("Persisted state layout... the only on-disk artifact the
// core defines") and provides two concrete backends. Grounded in the
// Store/Snapshot contract of
// _examples/goadesign-goa-ai/agents/runtime/memory/memory.go, adapted from
// an append-only event log to direct SavedState snapshot storage since
// spec.md's state model is a snapshot envelope, not an event stream.
package store

import (
	"context"
	"errors"

	"github.com/deckrun/deckrun/state"
)

// ErrNotFound is returned by Load when no snapshot exists for a run_id.
// Callers that want spec.md's "treat absence as empty history" behavior
// should fall back to a zero-value SavedState rather than propagating this
// error.
var ErrNotFound = errors.New("saved state not found")

// Store persists SavedState snapshots keyed by run_id. Implementations
// must be safe for concurrent use across goroutines acting on different
// run_ids; a single run_id is only ever written by one in-flight
// invocation at a time (spec.md §5: "Saved state is treated as
// single-owner at any instant").
type Store interface {
	Load(ctx context.Context, runID string) (state.SavedState, error)
	Save(ctx context.Context, s state.SavedState) error
}
