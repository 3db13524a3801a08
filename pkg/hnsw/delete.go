package hnsw

import "github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"

// Delete soft-deletes id: it is added to the tombstone set and, if it
// was an entry point, a new one is chosen. Edges are never rewritten;
// readers skip tombstoned nodes.
func (idx *Index) Delete(id vectorstore.ID) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	node, ok := idx.nodes[id]
	if !ok {
		return false
	}
	if _, already := idx.tombstones[id]; already {
		return false
	}

	idx.tombstones[id] = struct{}{}
	idx.size--

	if idx.hasGlobalEntry && idx.globalEntry == id {
		newID, newLevel, found := idx.bestSurvivorLocked(-1)
		idx.hasGlobalEntry = found
		idx.globalEntry = newID
		idx.globalLevel = newLevel
	}

	dim := node.Dimension()
	if idx.perDimEntry[dim] == id {
		newID, newLevel, found := idx.bestSurvivorLocked(dim)
		if found {
			idx.perDimEntry[dim] = newID
			idx.perDimLevel[dim] = newLevel
		} else {
			delete(idx.perDimEntry, dim)
			delete(idx.perDimLevel, dim)
		}
	}

	return true
}

// bestSurvivorLocked finds the surviving node with the highest level,
// breaking ties by lowest id. dim < 0 searches every node; dim >= 0
// restricts the search to that dimension group. Caller holds idx.mu.
func (idx *Index) bestSurvivorLocked(dim int) (vectorstore.ID, int, bool) {
	var best vectorstore.ID
	bestLevel := -1
	found := false

	consider := func(id vectorstore.ID, node *Node) {
		if _, tomb := idx.tombstones[id]; tomb {
			return
		}
		if !found || node.Level() > bestLevel || (node.Level() == bestLevel && idLess(id, best)) {
			best = id
			bestLevel = node.Level()
			found = true
		}
	}

	if dim >= 0 {
		for _, id := range idx.dimGroups[dim] {
			if node := idx.nodes[id]; node != nil {
				consider(id, node)
			}
		}
	} else {
		for id, node := range idx.nodes {
			consider(id, node)
		}
	}

	return best, bestLevel, found
}
