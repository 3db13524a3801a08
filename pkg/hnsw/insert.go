package hnsw

import (
	"sort"

	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

// Insert adds id/vector to the graph.
func (idx *Index) Insert(id vectorstore.ID, vector []float32) error {
	if len(vector) == 0 {
		return errEmptyVector
	}

	idx.mu.Lock()

	if old, exists := idx.nodes[id]; exists {
		if _, tomb := idx.tombstones[id]; !tomb {
			idx.mu.Unlock()
			return dberrors.E("hnsw.insert", dberrors.InvalidArgument, nil)
		}
		// Re-adding a soft-deleted id: fully unlink the stale node so the
		// fresh insert builds its neighborhood around the new vector.
		idx.purgeLocked(old)
	}

	dim := len(vector)
	level := idx.randomLevel()
	node := newNode(id, vector, level)

	firstInGroup := len(idx.dimGroups[dim]) == 0
	idx.dimGroups[dim] = append(idx.dimGroups[dim], id)
	idx.nodes[id] = node
	idx.size++

	if firstInGroup {
		idx.perDimEntry[dim] = id
		idx.perDimLevel[dim] = level
	}

	if !idx.hasGlobalEntry {
		idx.hasGlobalEntry = true
		idx.globalEntry = id
		idx.globalLevel = level
		idx.mu.Unlock()
		return nil
	}

	entry, entryLevel := idx.chooseEntryLocked(dim)
	idx.mu.Unlock()

	ep := entry
	currentDist := idx.cfg.Distance(vector, idx.getNode(ep).Vector())

	for lc := entryLevel; lc > level; lc-- {
		ep, currentDist = idx.greedyDescend(vector, ep, currentDist, lc)
	}

	top := level
	if entryLevel < top {
		top = entryLevel
	}

	opts := layerSearchOptions{excludeTombstone: true}
	if idx.cfg.DimensionAware {
		opts.filterByDim = true
		opts.requireDimension = dim
	}

	for lc := top; lc >= 0; lc-- {
		candidates := idx.candidateSearch(vector, ep, idx.cfg.EfConstruction, lc, opts)

		m := idx.cfg.M
		if lc == 0 {
			m = idx.m0()
		}
		neighbors := selectNeighbors(candidates, m)

		for _, nbID := range neighbors {
			nb := idx.getNode(nbID)
			if nb == nil {
				continue
			}
			node.addNeighbor(lc, nbID)
			nb.addNeighbor(lc, id)
			idx.pruneNeighbors(nb, lc)
		}

		if len(candidates) > 0 {
			ep = candidates[0].id
		}
	}

	idx.mu.Lock()
	if level > idx.globalLevel {
		idx.globalLevel = level
		idx.globalEntry = id
	}
	if level > idx.perDimLevel[dim] {
		idx.perDimLevel[dim] = level
		idx.perDimEntry[dim] = id
	}
	idx.mu.Unlock()

	return nil
}

// purgeLocked removes a tombstoned node entirely: every neighbor's
// back-edge, the nodes map entry, its dimension-group slot, and the
// tombstone itself. Entry points never reference a tombstoned node
// (Delete reassigns them), so none need fixing here. Caller holds
// idx.mu.
func (idx *Index) purgeLocked(node *Node) {
	id := node.ID()
	for lvl := 0; lvl <= node.Level(); lvl++ {
		for _, nbID := range node.neighborsAt(lvl) {
			if nb := idx.nodes[nbID]; nb != nil {
				nb.removeNeighbor(lvl, id)
			}
		}
	}
	delete(idx.nodes, id)
	delete(idx.tombstones, id)

	dim := node.Dimension()
	group := idx.dimGroups[dim]
	for i, gid := range group {
		if gid == id {
			idx.dimGroups[dim] = append(group[:i], group[i+1:]...)
			break
		}
	}
	if len(idx.dimGroups[dim]) == 0 {
		delete(idx.dimGroups, dim)
	}
}

// chooseEntryLocked implements "prefer the per-dimension entry point,
// falling back to global" (step 2 of Insert). Caller holds idx.mu.
func (idx *Index) chooseEntryLocked(dim int) (vectorstore.ID, int) {
	if idx.cfg.DimensionAware {
		if id, ok := idx.perDimEntry[dim]; ok {
			return id, idx.perDimLevel[dim]
		}
	}
	return idx.globalEntry, idx.globalLevel
}

// selectNeighbors keeps the M closest candidates (candidates is already
// sorted closest-first by candidateSearch).
func selectNeighbors(candidates []heapItem, m int) []vectorstore.ID {
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	out := make([]vectorstore.ID, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// pruneNeighbors keeps at most M edges at level for node, the M closest
// to node's own vector. Dropped edges are removed from both sides so
// the graph stays symmetric.
func (idx *Index) pruneNeighbors(node *Node, level int) {
	m := idx.cfg.M
	if level == 0 {
		m = idx.m0()
	}

	neighbors := node.neighborsAt(level)
	if len(neighbors) <= m {
		return
	}

	type scored struct {
		id   vectorstore.ID
		dist float32
	}
	vec := node.Vector()
	ranked := make([]scored, 0, len(neighbors))
	for _, nbID := range neighbors {
		nb := idx.getNode(nbID)
		if nb == nil {
			continue
		}
		ranked = append(ranked, scored{id: nbID, dist: idx.cfg.Distance(vec, nb.Vector())})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })

	dropped := ranked[min(m, len(ranked)):]
	ranked = ranked[:min(m, len(ranked))]

	kept := make([]vectorstore.ID, len(ranked))
	for i, r := range ranked {
		kept[i] = r.id
	}
	node.setNeighbors(level, kept)

	for _, d := range dropped {
		if nb := idx.getNode(d.id); nb != nil {
			nb.removeNeighbor(level, node.ID())
		}
	}
}
