package hnsw

import "github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"

// BuildFromScratch clears all state and rebuilds the graph from
// entries. In dimension-aware mode each dimension group is inserted
// sequentially so no cross-dimension edges ever form; otherwise entries
// are inserted in the order given. progress, if non-nil, is called at
// roughly 1% increments with a value in [0, 1].
func (idx *Index) BuildFromScratch(entries []vectorstore.Entry, progress func(fraction float64)) error {
	idx.mu.Lock()
	idx.nodes = make(map[vectorstore.ID]*Node)
	idx.dimGroups = make(map[int][]vectorstore.ID)
	idx.tombstones = make(map[vectorstore.ID]struct{})
	idx.hasGlobalEntry = false
	idx.perDimEntry = make(map[int]vectorstore.ID)
	idx.perDimLevel = make(map[int]int)
	idx.size = 0
	idx.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	ordered := entries
	if idx.cfg.DimensionAware {
		byDim := make(map[int][]vectorstore.Entry)
		var dims []int
		for _, e := range entries {
			dim := len(e.Vector)
			if _, seen := byDim[dim]; !seen {
				dims = append(dims, dim)
			}
			byDim[dim] = append(byDim[dim], e)
		}
		ordered = ordered[:0]
		for _, dim := range dims {
			ordered = append(ordered, byDim[dim]...)
		}
	}

	total := len(ordered)
	lastReported := -1
	for i, e := range ordered {
		if err := idx.Insert(e.ID, e.Vector); err != nil {
			return err
		}
		if progress != nil {
			pct := (i + 1) * 100 / total
			if pct != lastReported {
				lastReported = pct
				progress(float64(i+1) / float64(total))
			}
		}
	}

	return nil
}
