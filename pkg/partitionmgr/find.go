package partitionmgr

import (
	"sort"

	"github.com/N2FlowJS/nbase-sub001/pkg/cluster"
	"github.com/N2FlowJS/nbase-sub001/pkg/events"
	"github.com/N2FlowJS/nbase-sub001/pkg/hnsw"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

// PartitionScoredID is a search hit tagged with the partition it came
// from, since vector ids are only unique within a partition.
type PartitionScoredID struct {
	PartitionID string
	ID          vectorstore.ID
	Distance    float32
}

// FindOptions configures FindNearest (the clustered-search fan-out).
type FindOptions struct {
	K              int
	SearchWidening int
	Filter         func(id vectorstore.ID, metadata map[string]any) bool
	PartitionIDs   []string // empty/nil: every currently loaded partition
}

// HNSWFindOptions configures FindNearestHNSW.
type HNSWFindOptions struct {
	K               int
	EfSearch        int
	ExactDimensions bool
	Filter          func(id vectorstore.ID) bool
	PartitionIDs    []string // empty/nil: every currently loaded partition
}

// targetPartitions resolves the partition set for a fan-out. An
// explicit id list is filtered to ids that actually exist and lazily
// loaded (the caller asked for them by name); an empty list uses
// whatever is already resident, with no loading, matching
// get_vector/has_vector's "loaded partitions only" trade-off.
func (m *Manager) targetPartitions(explicit []string) []string {
	if len(explicit) == 0 {
		m.mu.Lock()
		ids := m.loadedPartitionIDsLocked()
		m.mu.Unlock()
		return ids
	}

	ids := make([]string, 0, len(explicit))
	for _, id := range explicit {
		m.mu.Lock()
		_, exists := m.configs[id]
		m.mu.Unlock()
		if exists {
			ids = append(ids, id)
		}
	}
	return ids
}

// FindNearest fans a clustered search out across the target partitions
// and merges the results, sorted ascending by distance.
func (m *Manager) FindNearest(query []float32, opts FindOptions) ([]PartitionScoredID, error) {
	k := opts.K
	if k <= 0 {
		k = 10
	}

	ids := m.targetPartitions(opts.PartitionIDs)

	var merged []PartitionScoredID
	for _, pid := range ids {
		m.mu.Lock()
		p, err := m.loadPartitionLocked(pid)
		m.mu.Unlock()
		if err != nil {
			m.emit(events.PartitionError, map[string]any{"partition": pid, "err": err})
			continue
		}

		hits, err := p.FindNearest(query, cluster.FindOptions{K: k, SearchWidening: opts.SearchWidening, Filter: opts.Filter})
		if err != nil {
			m.emit(events.PartitionError, map[string]any{"partition": pid, "err": err})
			continue
		}
		for _, h := range hits {
			merged = append(merged, PartitionScoredID{PartitionID: pid, ID: h.ID, Distance: h.Distance})
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Distance < merged[j].Distance })
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// FindNearestHNSW fans an HNSW search out across the target partitions,
// lazily loading each partition's graph and skipping any whose index
// cannot be loaded.
func (m *Manager) FindNearestHNSW(query []float32, opts HNSWFindOptions) ([]PartitionScoredID, error) {
	k := opts.K
	if k <= 0 {
		k = 10
	}

	ids := m.targetPartitions(opts.PartitionIDs)

	var merged []PartitionScoredID
	for _, pid := range ids {
		m.mu.Lock()
		p, err := m.loadPartitionLocked(pid)
		m.mu.Unlock()
		if err != nil {
			m.emit(events.PartitionError, map[string]any{"partition": pid, "err": err})
			continue
		}

		hits, err := p.SearchHNSW(query, k, hnsw.SearchOptions{
			EfSearch:        opts.EfSearch,
			ExactDimensions: opts.ExactDimensions,
			Filter:          opts.Filter,
		})
		if err != nil {
			m.logger.Warn("partitionmgr: hnsw search skipped a partition", map[string]interface{}{"partition": pid, "err": err})
			m.emit(events.PartitionError, map[string]any{"partition": pid, "err": err})
			continue
		}
		for _, h := range hits {
			merged = append(merged, PartitionScoredID{PartitionID: pid, ID: h.ID, Distance: h.Distance})
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Distance < merged[j].Distance })
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}
