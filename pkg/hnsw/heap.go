package hnsw

import "github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"

// heapItem is one candidate in the construction/search priority queues.
type heapItem struct {
	id       vectorstore.ID
	distance float32
}

// minHeap keeps the closest item at the top, for the unvisited-candidate
// frontier.
type minHeap []heapItem

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].distance < h[j].distance }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// maxHeap keeps the farthest item at the top, for a bounded result set
// that evicts its worst member as better candidates arrive.
type maxHeap []heapItem

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].distance > h[j].distance }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (h maxHeap) peek() (heapItem, bool) {
	if len(h) == 0 {
		return heapItem{}, false
	}
	return h[0], true
}
