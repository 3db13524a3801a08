// Package partition bundles a clustered vector store with an optional
// loaded HNSW index and a small config record: the unit the partition
// manager loads, evicts, and persists.
package partition

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/N2FlowJS/nbase-sub001/pkg/cluster"
	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/hnsw"
	"github.com/N2FlowJS/nbase-sub001/pkg/observability"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

// Config is the on-disk identity and metadata of a partition, mirroring
// the partition config file's fields.
type Config struct {
	ID          string
	Name        string
	DBDirName   string
	Active      bool
	VectorCount int
	Description string
	Properties  map[string]any
	ClusterSize int
}

// Options configures a new Partition.
type Options struct {
	Dir         string // partition root; vectors/metadata/cluster state live at Dir/data, the graph at Dir/hnsw
	Compression bool
	Cluster     cluster.Config
	HNSW        hnsw.Config
	Logger      *observability.Logger
}

// Partition is {clustered store, optional loaded HNSW index, config}. It
// does not own files directly: file paths are always Dir/data (cluster
// state and vectors) and Dir/hnsw (the graph), both derived from the
// single root directory it was constructed with.
type Partition struct {
	mu sync.RWMutex

	cfg    Config
	opts   Options
	logger *observability.Logger

	store *cluster.Store
	index *hnsw.Index // nil until BuildIndex/LoadIndex
}

// New creates a Partition around a fresh vector store at opts.Dir/data.
// The HNSW index is not loaded; call LoadIndex or BuildIndex to attach
// one.
func New(cfg Config, opts Options) *Partition {
	logger := opts.Logger
	if logger == nil {
		logger = observability.GetGlobalLogger().WithField("component", "partition")
	}
	p := &Partition{cfg: cfg, opts: opts, logger: logger}
	vs := vectorstore.New(vectorstore.Config{Dir: p.dataDir(), Compression: opts.Compression, Logger: logger})
	clusterCfg := opts.Cluster
	clusterCfg.Compression = opts.Compression
	p.store = cluster.New(vs, clusterCfg)
	return p
}

func (p *Partition) dataDir() string { return filepath.Join(p.opts.Dir, "data") }
func (p *Partition) hnswDir() string { return filepath.Join(p.opts.Dir, "hnsw") }

// Config returns a copy of the partition's config record.
func (p *Partition) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// SetActive flips the active flag in the in-memory config; the caller
// (the partition manager) is responsible for scheduling the config save.
func (p *Partition) SetActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.Active = active
}

// ClusterStore returns the underlying clustered store, for callers (the
// coordinator's clustered search path) that need it directly.
func (p *Partition) ClusterStore() *cluster.Store { return p.store }

// HasIndex reports whether an HNSW index is currently loaded.
func (p *Partition) HasIndex() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.index != nil
}

// --- union of the clustered store's operations ---

// Add stores a vector (auto-assigning an id when id is nil), assigns it
// to a cluster, and, if an HNSW index is loaded, inserts it there too.
func (p *Partition) Add(id *vectorstore.ID, vector []float32, metadata map[string]any) (vectorstore.ID, error) {
	assigned, err := p.store.Add(id, vector, metadata)
	if err != nil {
		return vectorstore.ID{}, err
	}
	p.mu.RLock()
	idx := p.index
	p.mu.RUnlock()
	if idx != nil {
		if err := idx.Insert(assigned, vector); err != nil {
			p.logger.Warn("partition: hnsw insert failed after store add", map[string]interface{}{
				"partition": p.cfg.ID, "id": assigned.Key(), "err": err,
			})
		}
	}
	return assigned, nil
}

// Get returns id's vector.
func (p *Partition) Get(id vectorstore.ID) ([]float32, bool) { return p.store.VectorStore().Get(id) }

// GetMetadata returns id's metadata.
func (p *Partition) GetMetadata(id vectorstore.ID) (map[string]any, bool) {
	return p.store.VectorStore().GetMetadata(id)
}

// Has reports whether id is present.
func (p *Partition) Has(id vectorstore.ID) bool { return p.store.VectorStore().Has(id) }

// Delete removes id from the clustered store and, if loaded, tombstones
// it in the HNSW index.
func (p *Partition) Delete(id vectorstore.ID) bool {
	ok := p.store.Delete(id)
	if !ok {
		return false
	}
	p.mu.RLock()
	idx := p.index
	p.mu.RUnlock()
	if idx != nil {
		idx.Delete(id)
	}
	return true
}

// Update replaces id's vector, implemented as delete+add so the cluster
// assignment and any loaded HNSW graph are rebuilt against the new
// vector rather than left pointing at stale state. Existing metadata is
// preserved. Reports whether the dimension changed.
func (p *Partition) Update(id vectorstore.ID, vector []float32) (dimensionChanged bool, err error) {
	existing, ok := p.store.VectorStore().Get(id)
	if !ok {
		return false, dberrors.E("partition.update", dberrors.NotFound, dberrors.ErrNotFound)
	}
	meta, _ := p.store.VectorStore().GetMetadata(id)
	dimensionChanged = len(existing) != len(vector)

	if !p.Delete(id) {
		return false, dberrors.E("partition.update", dberrors.NotFound, dberrors.ErrNotFound)
	}
	idCopy := id
	if _, err := p.Add(&idCopy, vector, meta); err != nil {
		return false, err
	}
	return dimensionChanged, nil
}

// SetMetadata overwrites id's metadata.
func (p *Partition) SetMetadata(id vectorstore.ID, value map[string]any) error {
	return p.store.VectorStore().SetMetadata(id, value)
}

// UpdateMetadataFunc applies fn to id's current metadata and stores the
// result.
func (p *Partition) UpdateMetadataFunc(id vectorstore.ID, fn func(current map[string]any) map[string]any) error {
	return p.store.VectorStore().UpdateMetadataFunc(id, fn)
}

// Size returns the number of vectors currently in the backing store.
func (p *Partition) Size() int { return p.store.VectorStore().Size() }

// FindNearest runs a clustered search.
func (p *Partition) FindNearest(query []float32, opts cluster.FindOptions) ([]cluster.ScoredID, error) {
	return p.store.FindNearest(query, opts)
}

// Refit re-clusters the backing store around k k-means centroids.
func (p *Partition) Refit(k int) error { return p.store.Refit(k) }

// EstimateQuantizedSize reports what the partition's vectors would
// occupy if scalar-quantized to int8, a sizing diagnostic only.
func (p *Partition) EstimateQuantizedSize() int64 {
	return p.store.VectorStore().EstimateQuantizedSize()
}

// --- HNSW operations ---

// BuildIndex discards any loaded index and builds a fresh one from every
// vector currently in the backing store.
func (p *Partition) BuildIndex(progress func(fraction float64)) error {
	entries := p.store.VectorStore().Iter()
	idx := hnsw.New(p.opts.HNSW)
	if err := idx.BuildFromScratch(entries, progress); err != nil {
		return err
	}
	p.mu.Lock()
	p.index = idx
	p.mu.Unlock()
	return nil
}

// LoadIndex loads the graph file under dir/hnsw into a fresh index,
// replacing whatever is currently loaded. A missing file yields an
// empty index, matching hnsw.Index.Load's own contract.
func (p *Partition) LoadIndex() error {
	idx := hnsw.New(p.opts.HNSW)
	if err := idx.Load(p.hnswDir()); err != nil {
		return err
	}
	p.mu.Lock()
	p.index = idx
	p.mu.Unlock()
	return nil
}

// SaveIndex persists the loaded HNSW index. A no-op, not an error, if no
// index is loaded.
func (p *Partition) SaveIndex() error {
	p.mu.RLock()
	idx := p.index
	p.mu.RUnlock()
	if idx == nil {
		return nil
	}
	return idx.Save(p.hnswDir())
}

// UnloadIndex drops the in-memory HNSW handle without saving it; callers
// that want the graph persisted must call SaveIndex first.
func (p *Partition) UnloadIndex() {
	p.mu.Lock()
	p.index = nil
	p.mu.Unlock()
}

// SearchHNSW runs an HNSW search, lazily loading the index from disk if
// it is not already resident.
func (p *Partition) SearchHNSW(query []float32, k int, opts hnsw.SearchOptions) ([]hnsw.ScoredID, error) {
	p.mu.RLock()
	idx := p.index
	p.mu.RUnlock()

	if idx == nil {
		if err := p.LoadIndex(); err != nil {
			return nil, dberrors.E("partition.search_hnsw", dberrors.NotFound, err)
		}
		p.mu.RLock()
		idx = p.index
		p.mu.RUnlock()
	}
	return idx.Search(query, k, opts)
}

// Stats summarizes the partition's current resident state.
type Stats struct {
	VectorCount  int
	ClusterCount int
	HNSWSize     int
	HNSWLoaded   bool
}

// GetStats returns current vector/cluster/HNSW counts.
func (p *Partition) GetStats() Stats {
	cs := p.store.GetStats()
	p.mu.RLock()
	idx := p.index
	p.mu.RUnlock()

	stats := Stats{VectorCount: cs.VectorCount, ClusterCount: cs.ClusterCount}
	if idx != nil {
		stats.HNSWLoaded = true
		stats.HNSWSize = idx.Size()
	}
	return stats
}

// --- persistence ---

// Save persists the clustered store (vectors + metadata + cluster
// state) and, if an index is loaded, the HNSW graph. The cluster and
// HNSW files are guarded by an advisory lock distinct from the vector
// store's own internal save lock; a second process saving the same
// partition directory blocks on that lock instead of interleaving writes.
func (p *Partition) Save() error {
	if err := p.store.VectorStore().Save(); err != nil {
		return err
	}

	if err := os.MkdirAll(p.opts.Dir, 0o755); err != nil {
		return dberrors.E("partition.save", dberrors.IoError, err)
	}
	fl := flock.New(filepath.Join(p.opts.Dir, ".partition.lock"))
	if err := fl.Lock(); err != nil {
		return dberrors.E("partition.save", dberrors.IoError, err)
	}
	defer fl.Unlock()

	if err := p.store.Save(p.dataDir()); err != nil {
		return err
	}
	return p.SaveIndex()
}

// Load reads the clustered store (vectors, metadata, cluster state) from
// disk. The HNSW index is not loaded eagerly; call LoadIndex explicitly
// or rely on SearchHNSW's lazy load.
func (p *Partition) Load() error {
	if err := p.store.VectorStore().Load(); err != nil {
		return err
	}
	return p.store.Load(p.dataDir())
}

// Close releases the backing store's file handles and drops any loaded
// HNSW handle. Exception-safe: the vector store is closed even if no
// index was loaded, and closing never fails because an index wasn't.
func (p *Partition) Close() error {
	p.mu.Lock()
	p.index = nil
	p.mu.Unlock()
	return p.store.VectorStore().Close()
}
