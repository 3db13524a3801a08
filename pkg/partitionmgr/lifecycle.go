package partitionmgr

import (
	"sort"
	"sync"

	"github.com/N2FlowJS/nbase-sub001/pkg/events"
	"github.com/N2FlowJS/nbase-sub001/pkg/partition"
)

// SaveResult reports what Save persisted.
type SaveResult struct {
	PartitionsSaved int
	Errors          []error
}

// Save saves configs (debounced to a single in-flight op), then every
// loaded partition's data and HNSW index, in parallel. Save itself is
// serialized against concurrent Save calls (e.g. an auto-save tick
// landing mid-explicit-save) via saveMu, so two invocations never write
// the same partition's files at once from within one process.
func (m *Manager) Save() (SaveResult, error) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	var result SaveResult
	err := m.logger.LogOperation("partitionmgr.save", func() error {
		if err := m.saveConfigs(); err != nil {
			return err
		}

		m.mu.Lock()
		ids := m.loadedPartitionIDsLocked()
		partitions := make([]*partition.Partition, 0, len(ids))
		for _, id := range ids {
			if p, ok := m.cache.Peek(id); ok {
				partitions = append(partitions, p)
			}
		}
		m.mu.Unlock()

		var wg sync.WaitGroup
		var mu sync.Mutex

		for _, p := range partitions {
			wg.Add(1)
			go func(p *partition.Partition) {
				defer wg.Done()
				err := p.Save()
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					result.Errors = append(result.Errors, err)
					return
				}
				result.PartitionsSaved++
			}(p)
		}
		wg.Wait()

		m.emit(events.SaveComplete, map[string]any{"partitions_saved": result.PartitionsSaved})
		return nil
	})
	if err != nil {
		return SaveResult{}, err
	}
	return result, nil
}

// BuildIndex rebuilds partition id's HNSW graph from every vector in
// its store, loading the partition first if needed. progress, if
// non-nil, is forwarded to the build.
func (m *Manager) BuildIndex(id string, progress func(fraction float64)) error {
	m.mu.Lock()
	p, err := m.loadPartitionLocked(id)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return p.BuildIndex(progress)
}

// RefitPartition re-clusters partition id's store around k k-means
// centroids.
func (m *Manager) RefitPartition(id string, k int) error {
	m.mu.Lock()
	p, err := m.loadPartitionLocked(id)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	return p.Refit(k)
}

// Close runs a final Save and evicts every resident partition (closing
// each one's handles), then clears in-memory state.
func (m *Manager) Close() error {
	if _, err := m.Save(); err != nil {
		return err
	}

	m.mu.Lock()
	m.cache.Purge() // triggers onEvict for every entry
	m.configs = make(map[string]partition.Config)
	m.activeID = ""
	m.mu.Unlock()

	return nil
}

// PartitionStats describes one configured partition. Cluster and HNSW
// counts are only meaningful while the partition is resident; for an
// unloaded partition VectorCount comes from its config record.
type PartitionStats struct {
	ID           string
	Active       bool
	Loaded       bool
	VectorCount  int
	ClusterCount int
	HNSWSize     int
	HNSWLoaded   bool
}

// Stats summarizes the manager's configured and loaded partitions.
type Stats struct {
	TotalConfigured int
	TotalVectors    int
	Loaded          int
	ActivePartition string
	Partitions      []PartitionStats
}

// GetStats returns a snapshot of partition counts, one entry per
// configured partition, sorted by id.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		TotalConfigured: len(m.configs),
		Loaded:          m.cache.Len(),
		ActivePartition: m.activeID,
	}

	ids := make([]string, 0, len(m.configs))
	for id := range m.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		cfg := m.configs[id]
		ps := PartitionStats{ID: id, Active: cfg.Active, VectorCount: cfg.VectorCount}
		if p, ok := m.cache.Peek(id); ok {
			ps.Loaded = true
			detail := p.GetStats()
			ps.VectorCount = detail.VectorCount
			ps.ClusterCount = detail.ClusterCount
			ps.HNSWSize = detail.HNSWSize
			ps.HNSWLoaded = detail.HNSWLoaded
		}
		stats.TotalVectors += ps.VectorCount
		stats.Partitions = append(stats.Partitions, ps)
	}

	return stats
}
