// Package search implements LitScout's query-time search engine: embedding a
// free-text query, issuing ANN lookups against the paper/concept embedding
// tables, and the several aggregation modes layered on top of them (hybrid
// paper+concept ranking, venue/source aggregation, author aggregation).
package search

import (
	"context"
	"fmt"
	"sync"

	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/types"
)

// tuning is the cached (lists, probes) pair for one embedding kind.
type tuning struct {
	lists  int
	probes int
}

// Autotuner keeps each embedding kind's IVFFLAT index sized to its row
// count, so callers never have to reason about pgvector index parameters
// directly. The chosen (lists, probes) pair is cached per process; a second
// call for the same kind reuses it without hitting the store again unless
// Invalidate is called.
//
// Safe for concurrent use.
type Autotuner struct {
	store store.Store

	mu    sync.Mutex
	cache map[types.EmbeddingKind]tuning
}

// NewAutotuner returns an Autotuner backed by st.
func NewAutotuner(st store.Store) *Autotuner {
	return &Autotuner{store: st, cache: make(map[types.EmbeddingKind]tuning)}
}

// Ensure returns the (lists, probes) pair kind's index should be queried
// with, building or rebuilding the index first if it is missing or has
// drifted too far from the row-count-appropriate size.
func (a *Autotuner) Ensure(ctx context.Context, kind types.EmbeddingKind) (lists, probes int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := a.cache[kind]; ok {
		return t.lists, t.probes, nil
	}

	stats, err := a.store.IndexStats(ctx, kind)
	if err != nil {
		return 0, 0, fmt.Errorf("search: index stats for %s: %w", kind, err)
	}

	ideal := chooseLists(stats.RowCount)
	lists = ideal
	if stats.CurrentLists == 0 || listsHaveDrifted(stats.CurrentLists, ideal) {
		if err := a.store.EnsureANNIndex(ctx, kind, ideal); err != nil {
			return 0, 0, fmt.Errorf("search: ensure ann index for %s: %w", kind, err)
		}
	} else {
		lists = stats.CurrentLists
	}

	probes = chooseProbes(lists)
	a.cache[kind] = tuning{lists: lists, probes: probes}
	return lists, probes, nil
}

// Invalidate drops the cached tuning for kind, forcing the next Ensure call
// to re-read IndexStats. Used after a bulk embedding load changes the row
// count materially.
func (a *Autotuner) Invalidate(kind types.EmbeddingKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, kind)
}

// chooseLists picks an IVFFLAT `lists` parameter from a table sized to the
// embeddings table's row count — a piecewise-constant approximation of the
// usual sqrt(n) rule of thumb, in steps large enough that small ingestion
// runs don't thrash the index.
func chooseLists(rowCount int64) int {
	switch {
	case rowCount < 1_000:
		return 50
	case rowCount < 10_000:
		return 100
	case rowCount < 100_000:
		return 200
	case rowCount < 1_000_000:
		return 1000
	default:
		return 2000
	}
}

// chooseProbes picks the session-local `ivfflat.probes` setting for a given
// `lists` value, trading recall for latency at roughly 5–10% of lists.
func chooseProbes(lists int) int {
	switch {
	case lists <= 50:
		return 5
	case lists <= 100:
		return 10
	case lists <= 200:
		return 20
	case lists <= 1000:
		return 50
	default:
		return 100
	}
}

// listsHaveDrifted reports whether current has drifted from ideal by more
// than a factor of 1.5 in either direction, the threshold below which a drop-and-rebuild
// isn't worth the cost of losing the existing index.
func listsHaveDrifted(current, ideal int) bool {
	if current <= 0 {
		return true
	}
	ratio := float64(ideal) / float64(current)
	return ratio > 1.5 || ratio < 1/1.5
}
