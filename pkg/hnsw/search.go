package hnsw

import (
	"sort"

	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

// ScoredID pairs an id with its distance to a query.
type ScoredID struct {
	ID       vectorstore.ID
	Distance float32
}

// SearchOptions configures Search.
type SearchOptions struct {
	EfSearch        int  // candidate list size; <= 0 falls back to Config.EfSearch, then floored at k
	ExactDimensions bool // start from the per-dimension entry point
	Filter          func(id vectorstore.ID) bool
}

// Search returns the k closest live vectors to query. An empty index
// returns an empty result set, not an error, so callers can fall back
// to a linear scan while the graph is uninitialized.
func (idx *Index) Search(query []float32, k int, opts SearchOptions) ([]ScoredID, error) {
	if len(query) == 0 {
		return nil, dberrors.E("hnsw.search", dberrors.InvalidArgument, nil)
	}

	idx.mu.RLock()
	if !idx.hasGlobalEntry {
		idx.mu.RUnlock()
		return nil, nil
	}

	dim := len(query)
	entry := idx.globalEntry
	entryLevel := idx.globalLevel
	if opts.ExactDimensions {
		if id, ok := idx.perDimEntry[dim]; ok {
			entry = id
			entryLevel = idx.perDimLevel[dim]
		} else {
			idx.mu.RUnlock()
			return nil, nil
		}
	}
	idx.mu.RUnlock()

	ef := opts.EfSearch
	if ef <= 0 {
		ef = idx.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	ep := entry
	node := idx.getNode(ep)
	if node == nil {
		return nil, nil
	}
	currentDist := idx.cfg.Distance(query, node.Vector())

	for lc := entryLevel; lc > 0; lc-- {
		ep, currentDist = idx.greedyDescend(query, ep, currentDist, lc)
	}

	searchOpts := layerSearchOptions{excludeTombstone: true, userFilter: opts.Filter}
	if opts.ExactDimensions {
		searchOpts.filterByDim = true
		searchOpts.requireDimension = dim
	}

	candidates := idx.candidateSearch(query, ep, ef, 0, searchOpts)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return idLess(candidates[i].id, candidates[j].id)
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}

	out := make([]ScoredID, len(candidates))
	for i, c := range candidates {
		out[i] = ScoredID{ID: c.id, Distance: c.distance}
	}
	return out, nil
}
