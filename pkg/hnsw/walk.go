package hnsw

import (
	"container/heap"

	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

// greedyDescend performs single-neighbor greedy descent at one level:
// repeatedly moves to a neighbor of the current node that is closer to
// query than the current node, until none improves.
func (idx *Index) greedyDescend(query []float32, start vectorstore.ID, startDist float32, level int) (vectorstore.ID, float32) {
	current := start
	currentDist := startDist

	changed := true
	for changed {
		changed = false
		node := idx.getNode(current)
		if node == nil {
			break
		}
		for _, nbID := range node.neighborsAt(level) {
			nb := idx.getNode(nbID)
			if nb == nil {
				continue
			}
			d := idx.cfg.Distance(query, nb.Vector())
			if d < currentDist {
				currentDist = d
				current = nbID
				changed = true
			}
		}
	}

	return current, currentDist
}

// layerSearchOptions configures candidateSearch's filtering behavior.
type layerSearchOptions struct {
	requireDimension int  // only consider nodes of this dimension
	filterByDim      bool // whether requireDimension is enforced
	excludeTombstone bool // tombstoned nodes are explored but never kept as results
	userFilter       func(id vectorstore.ID) bool
}

// candidateSearch runs a greedy best-first search at level, maintaining
// up to ef results. It underlies both ef_construction candidate
// gathering and query-time beam search.
func (idx *Index) candidateSearch(query []float32, entry vectorstore.ID, ef int, level int, opts layerSearchOptions) []heapItem {
	visited := map[vectorstore.ID]bool{entry: true}
	candidates := &minHeap{}
	results := &maxHeap{}

	entryNode := idx.getNode(entry)
	if entryNode == nil {
		return nil
	}
	dist := idx.cfg.Distance(query, entryNode.Vector())
	heap.Push(candidates, heapItem{id: entry, distance: dist})
	if idx.admits(entry, opts) {
		heap.Push(results, heapItem{id: entry, distance: dist})
	}

	for candidates.Len() > 0 {
		current := heap.Pop(candidates).(heapItem)

		if worst, ok := results.peek(); ok && results.Len() >= ef && current.distance > worst.distance {
			break
		}

		currentNode := idx.getNode(current.id)
		if currentNode == nil {
			continue
		}

		for _, nbID := range currentNode.neighborsAt(level) {
			if visited[nbID] {
				continue
			}
			visited[nbID] = true

			nbNode := idx.getNode(nbID)
			if nbNode == nil {
				continue
			}

			nbDist := idx.cfg.Distance(query, nbNode.Vector())
			worst, full := results.peek()
			if !full || results.Len() < ef || nbDist < worst.distance {
				heap.Push(candidates, heapItem{id: nbID, distance: nbDist})
				if idx.admits(nbID, opts) {
					heap.Push(results, heapItem{id: nbID, distance: nbDist})
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}

	out := make([]heapItem, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(heapItem)
	}
	return out
}

func (idx *Index) admits(id vectorstore.ID, opts layerSearchOptions) bool {
	if opts.excludeTombstone && idx.isTombstoned(id) {
		return false
	}
	if opts.filterByDim {
		node := idx.getNode(id)
		if node == nil || node.Dimension() != opts.requireDimension {
			return false
		}
	}
	if opts.userFilter != nil && !opts.userFilter(id) {
		return false
	}
	return true
}
