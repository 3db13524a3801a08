// Package partitionmgr owns the set of partition configurations
// discovered at startup and an LRU-bounded cache of the partitions
// currently loaded into memory, routing vector operations to the
// active partition and fanning searches out across the resident set.
package partitionmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/N2FlowJS/nbase-sub001/pkg/cluster"
	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/events"
	"github.com/N2FlowJS/nbase-sub001/pkg/hnsw"
	"github.com/N2FlowJS/nbase-sub001/pkg/observability"
	"github.com/N2FlowJS/nbase-sub001/pkg/partition"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Config tunes the manager's capacity and routing behavior.
type Config struct {
	PartitionsDir       string // default "database/partitions"
	MaxActivePartitions int    // LRU capacity for loaded partitions, default 3
	PartitionCapacity   int    // vectors per partition before rollover, default 100000
	AutoCreate          bool   // default true

	Compression bool
	Cluster     cluster.Config
	HNSW        hnsw.Config
	Logger      *observability.Logger

	// Events, if set, receives vector/partition lifecycle notifications.
	// Handlers run synchronously on the calling goroutine, and some emit
	// points (partition load and LRU eviction) run while m.mu is held, so
	// a handler must never call back into this Manager.
	Events *events.Bus

	// Metrics, if set, receives partition residency and vector-op counters.
	Metrics *observability.Metrics
}

// DefaultConfig returns the standard partition-manager knobs.
func DefaultConfig() Config {
	return Config{
		PartitionsDir:       filepath.Join("database", "partitions"),
		MaxActivePartitions: 3,
		PartitionCapacity:   100000,
		AutoCreate:          true,
		Cluster:             cluster.DefaultConfig(),
		HNSW:                hnsw.DefaultConfig(),
	}
}

// Manager is the LRU-resident set of partitions.
type Manager struct {
	mu sync.Mutex // the single mutator of configs, the LRU, and activeID

	cfg     Config
	logger  *observability.Logger
	events  *events.Bus
	metrics *observability.Metrics

	configs  map[string]partition.Config
	cache    *lru.Cache[string, *partition.Partition]
	activeID string

	configSaveMu sync.Mutex
	configSaving chan struct{} // non-nil while a config save is in flight

	saveMu sync.Mutex // serializes whole-manager Save() calls (e.g. an overlapping auto-save tick)
}

// New creates a Manager. It does not scan disk; call Load to discover
// existing partitions.
func New(cfg Config) (*Manager, error) {
	if cfg.PartitionsDir == "" {
		cfg.PartitionsDir = DefaultConfig().PartitionsDir
	}
	if cfg.MaxActivePartitions <= 0 {
		cfg.MaxActivePartitions = 3
	}
	if cfg.PartitionCapacity <= 0 {
		cfg.PartitionCapacity = 100000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.GetGlobalLogger().WithField("component", "partitionmgr")
	}

	m := &Manager{cfg: cfg, logger: logger, events: cfg.Events, metrics: cfg.Metrics, configs: make(map[string]partition.Config)}

	cache, err := lru.NewWithEvict(cfg.MaxActivePartitions, m.onEvict)
	if err != nil {
		return nil, dberrors.E("partitionmgr.new", dberrors.Internal, err)
	}
	m.cache = cache
	return m, nil
}

// onEvict is the LRU dispose hook: close the partition's file handles
// and drop its HNSW handle. Saving during eviction is not performed;
// callers rely on periodic/explicit Save.
func (m *Manager) onEvict(id string, p *partition.Partition) {
	if err := p.Close(); err != nil {
		m.logger.Warn("partitionmgr: error closing evicted partition", map[string]interface{}{"partition": id, "err": err})
	}
	if m.metrics != nil {
		m.metrics.RecordLRUEviction()
		m.metrics.UpdatePartitionsLoaded(m.cache.Len())
	}
	m.emit(events.PartitionUnloaded, map[string]any{"partition": id})
}

// emit publishes t on the manager's event bus, if one is configured.
func (m *Manager) emit(t events.Type, payload map[string]any) {
	if m.events == nil {
		return
	}
	m.events.Emit(events.Event{Type: t, Payload: payload})
}

// Partition returns the resident handle for id, loading it from disk
// (which may evict an LRU victim) if it is not already cached. Exported
// for callers outside the package (the coordinator's metadata/vector
// hydration) that need a specific partition by id.
func (m *Manager) Partition(id string) (*partition.Partition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadPartitionLocked(id)
}

func (m *Manager) partitionDir(id string) string { return filepath.Join(m.cfg.PartitionsDir, id) }

func validateID(id string) error {
	if id == "" || !idPattern.MatchString(id) {
		return dberrors.E("partitionmgr.validate_id", dberrors.InvalidArgument, fmt.Errorf("invalid partition id %q", id))
	}
	return nil
}

// partitionOptions builds the Options a partition is constructed with:
// the manager-wide cluster/HNSW config, with the partition's own
// ClusterSize (when set) overriding the cluster target size.
func (m *Manager) partitionOptions(cfg partition.Config) partition.Options {
	clusterCfg := m.cfg.Cluster
	if cfg.ClusterSize > 0 {
		clusterCfg.TargetSize = cfg.ClusterSize
	}
	return partition.Options{
		Dir:         m.partitionDir(cfg.ID),
		Compression: m.cfg.Compression,
		Cluster:     clusterCfg,
		HNSW:        m.cfg.HNSW,
		Logger:      m.logger,
	}
}

// loadPartitionLocked returns the resident handle for id, loading it
// from disk (which may evict an LRU victim) if it is not already
// cached. Caller holds m.mu.
func (m *Manager) loadPartitionLocked(id string) (*partition.Partition, error) {
	if p, ok := m.cache.Get(id); ok {
		return p, nil
	}
	cfg, ok := m.configs[id]
	if !ok {
		return nil, dberrors.E("partitionmgr.load_partition", dberrors.NotFound, fmt.Errorf("unknown partition %q", id))
	}

	p := partition.New(cfg, m.partitionOptions(cfg))
	if err := p.Load(); err != nil {
		return nil, err
	}

	// vector_count is authoritative once loaded: if the on-disk config
	// disagrees with what the store actually holds, the in-memory count
	// wins and the config is rewritten.
	if actual := p.Size(); cfg.VectorCount != actual {
		cfg.VectorCount = actual
		m.configs[id] = cfg
		go m.saveConfigs()
	}

	m.cache.Add(id, p)
	if m.metrics != nil {
		m.metrics.UpdatePartitionsLoaded(m.cache.Len())
	}
	m.emit(events.PartitionLoaded, map[string]any{"partition": id})
	return p, nil
}

// newPartitionConfig builds the config record for a brand-new partition.
func newPartitionConfig(id, name string) partition.Config {
	if name == "" {
		name = id
	}
	return partition.Config{ID: id, Name: name, DBDirName: id}
}

// CreateOptions configures CreatePartition.
type CreateOptions struct {
	Name        string
	Description string
	Properties  map[string]any
	ClusterSize int
	Activate    bool
}

// CreatePartition validates id, materializes an empty on-disk layout,
// loads it into the resident set (possibly evicting an LRU victim), and
// optionally activates it. An empty id auto-generates a uuid.
func (m *Manager) CreatePartition(id string, opts CreateOptions) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := validateID(id); err != nil {
		return "", err
	}

	m.mu.Lock()
	if _, exists := m.configs[id]; exists {
		m.mu.Unlock()
		return "", dberrors.E("partitionmgr.create_partition", dberrors.InvalidArgument, fmt.Errorf("partition %q already exists", id))
	}

	cfg := newPartitionConfig(id, opts.Name)
	cfg.Description = opts.Description
	cfg.Properties = opts.Properties
	cfg.ClusterSize = opts.ClusterSize
	m.configs[id] = cfg
	m.mu.Unlock()

	dir := m.partitionDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", dberrors.E("partitionmgr.create_partition", dberrors.IoError, err)
	}

	p := partition.New(cfg, m.partitionOptions(cfg))
	// Pre-materialize an empty vector/cluster/HNSW layout so later loads
	// (including a concurrent reader racing this create) find a
	// consistent on-disk shape rather than partially-missing files. The
	// empty graph also means every subsequent Add lands in the index
	// incrementally instead of waiting for an explicit build.
	if err := p.BuildIndex(nil); err != nil {
		return "", err
	}
	if err := p.Save(); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.cache.Add(id, p)
	m.mu.Unlock()

	if err := m.saveConfigs(); err != nil {
		return "", err
	}
	m.emit(events.PartitionCreated, map[string]any{"partition": id})

	if opts.Activate {
		if err := m.SetActivePartition(id); err != nil {
			return "", err
		}
	}
	return id, nil
}

// SetActivePartition loads id (if not resident), flips it active, and
// deactivates the previous active partition. The configs are saved
// through the debounced saveConfigs before it returns.
func (m *Manager) SetActivePartition(id string) error {
	m.mu.Lock()
	if _, ok := m.configs[id]; !ok {
		m.mu.Unlock()
		return dberrors.E("partitionmgr.set_active_partition", dberrors.NotFound, fmt.Errorf("unknown partition %q", id))
	}
	p, err := m.loadPartitionLocked(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	previous := m.activeID
	if previous != "" && previous != id {
		if prevCfg, ok := m.configs[previous]; ok {
			prevCfg.Active = false
			m.configs[previous] = prevCfg
		}
		if prevP, ok := m.cache.Peek(previous); ok {
			prevP.SetActive(false)
		}
	}

	cfg := m.configs[id]
	cfg.Active = true
	m.configs[id] = cfg
	p.SetActive(true)
	m.activeID = id
	m.mu.Unlock()

	if err := m.saveConfigs(); err != nil {
		return err
	}
	m.emit(events.PartitionActivated, map[string]any{"partition": id, "previous": previous})
	return nil
}

// ensureActiveLocked returns the active partition, auto-creating one if
// none exists yet and AutoCreate is on (this is how an empty database
// activates on its first add_vector). Caller holds m.mu.
func (m *Manager) ensureActiveLocked() (string, *partition.Partition, error) {
	if m.activeID != "" {
		p, err := m.loadPartitionLocked(m.activeID)
		return m.activeID, p, err
	}
	if !m.cfg.AutoCreate {
		return "", nil, dberrors.E("partitionmgr.add_vector", dberrors.CapacityExceeded, dberrors.ErrCapacityFull)
	}
	return "", nil, errNeedsNewActive
}

// errNeedsNewActive is an internal control-flow sentinel: it never
// escapes AddVector, it only signals "no active partition yet, create
// one" to the caller holding m.mu.
var errNeedsNewActive = fmt.Errorf("partitionmgr: no active partition")

// activateNewPartition creates and activates a fresh partition, used
// both for first-ever activation and for capacity rollover.
func (m *Manager) activateNewPartition() (string, *partition.Partition, error) {
	id, err := m.CreatePartition("", CreateOptions{Activate: true})
	if err != nil {
		return "", nil, err
	}
	m.mu.Lock()
	p, err := m.loadPartitionLocked(id)
	m.mu.Unlock()
	if err != nil {
		return "", nil, err
	}
	return id, p, nil
}

// AddVector routes to the active partition, rolling over to a freshly
// created one when it is full and auto_create is enabled.
func (m *Manager) AddVector(id *vectorstore.ID, vector []float32, metadata map[string]any) (string, vectorstore.ID, error) {
	m.mu.Lock()
	partitionID, p, err := m.ensureActiveLocked()
	if err == errNeedsNewActive {
		m.mu.Unlock()
		partitionID, p, err = m.activateNewPartition()
		if err != nil {
			return "", vectorstore.ID{}, err
		}
	} else if err != nil {
		m.mu.Unlock()
		return "", vectorstore.ID{}, err
	} else {
		m.mu.Unlock()
	}

	if p.Size() >= m.cfg.PartitionCapacity {
		if !m.cfg.AutoCreate {
			return "", vectorstore.ID{}, dberrors.E("partitionmgr.add_vector", dberrors.CapacityExceeded, dberrors.ErrCapacityFull)
		}
		partitionID, p, err = m.activateNewPartition()
		if err != nil {
			return "", vectorstore.ID{}, err
		}
	}

	assigned, err := p.Add(id, vector, metadata)
	if err != nil {
		return "", vectorstore.ID{}, err
	}

	m.mu.Lock()
	cfg := m.configs[partitionID]
	cfg.VectorCount = p.Size()
	m.configs[partitionID] = cfg
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordInsert(partitionID, 1)
	}
	m.emit(events.VectorAdd, map[string]any{"partition": partitionID, "id": assigned.Key()})
	return partitionID, assigned, nil
}

// BulkAddItem is one record in a BulkAdd call.
type BulkAddItem struct {
	ID       *vectorstore.ID
	Vector   []float32
	Metadata map[string]any
}

// BulkAddResult reports what BulkAdd did.
type BulkAddResult struct {
	Inserted     int
	PartitionIDs []string
}

// BulkAdd fills the active partition to capacity, rolling to a new one
// as needed, and reports every partition id touched.
func (m *Manager) BulkAdd(items []BulkAddItem) (BulkAddResult, error) {
	start := time.Now()
	touched := make(map[string]struct{})
	result := BulkAddResult{}

	for _, item := range items {
		partitionID, _, err := m.AddVector(item.ID, item.Vector, item.Metadata)
		if err != nil {
			return result, err
		}
		touched[partitionID] = struct{}{}
		result.Inserted++
	}

	result.PartitionIDs = make([]string, 0, len(touched))
	for id := range touched {
		result.PartitionIDs = append(result.PartitionIDs, id)
	}
	sort.Strings(result.PartitionIDs)
	if m.metrics != nil {
		// AddVector already recorded each item under RecordInsert; only the
		// batch-level counters are added here to avoid double-counting.
		m.metrics.BatchInsertTotal.Inc()
		m.metrics.BatchInsertDuration.Observe(time.Since(start).Seconds())
	}
	m.emit(events.VectorsBulkAdd, map[string]any{"partitions": result.PartitionIDs, "count": result.Inserted})
	return result, nil
}

// loadedPartitionIDsLocked returns the ids currently resident in the
// LRU, least-recently-used first (the order of lru.Cache.Keys). Caller
// holds m.mu.
func (m *Manager) loadedPartitionIDsLocked() []string {
	return m.cache.Keys()
}

// GetVector scans loaded partitions only, returning the first match.
func (m *Manager) GetVector(id vectorstore.ID) ([]float32, bool) {
	m.mu.Lock()
	ids := m.loadedPartitionIDsLocked()
	m.mu.Unlock()

	for _, pid := range ids {
		m.mu.Lock()
		p, ok := m.cache.Get(pid)
		m.mu.Unlock()
		if !ok {
			continue
		}
		if v, found := p.Get(id); found {
			return v, true
		}
	}
	return nil, false
}

// GetMetadata scans loaded partitions only, returning the first match.
func (m *Manager) GetMetadata(id vectorstore.ID) (map[string]any, bool) {
	m.mu.Lock()
	ids := m.loadedPartitionIDsLocked()
	m.mu.Unlock()

	for _, pid := range ids {
		m.mu.Lock()
		p, ok := m.cache.Get(pid)
		m.mu.Unlock()
		if !ok {
			continue
		}
		if v, found := p.GetMetadata(id); found {
			return v, true
		}
	}
	return nil, false
}

// HasVector scans loaded partitions only.
func (m *Manager) HasVector(id vectorstore.ID) bool {
	m.mu.Lock()
	ids := m.loadedPartitionIDsLocked()
	m.mu.Unlock()

	for _, pid := range ids {
		m.mu.Lock()
		p, ok := m.cache.Get(pid)
		m.mu.Unlock()
		if ok && p.Has(id) {
			return true
		}
	}
	return false
}

// DeleteVector scans loaded partitions and, when found, deletes from
// the owning partition (tombstoning it in that partition's HNSW index
// if loaded).
func (m *Manager) DeleteVector(id vectorstore.ID) bool {
	m.mu.Lock()
	ids := m.loadedPartitionIDsLocked()
	m.mu.Unlock()

	for _, pid := range ids {
		m.mu.Lock()
		p, ok := m.cache.Get(pid)
		m.mu.Unlock()
		if !ok || !p.Has(id) {
			continue
		}
		if p.Delete(id) {
			m.mu.Lock()
			cfg := m.configs[pid]
			cfg.VectorCount = p.Size()
			m.configs[pid] = cfg
			m.mu.Unlock()
			if m.metrics != nil {
				m.metrics.RecordDelete(pid, 1)
			}
			m.emit(events.VectorDelete, map[string]any{"partition": pid, "id": id.Key()})
			return true
		}
	}
	return false
}

// Update scans loaded partitions and, when found, replaces id's vector
// in the owning partition. Emits vector:update with the dimension-change
// flag.
func (m *Manager) Update(id vectorstore.ID, vector []float32) (bool, error) {
	m.mu.Lock()
	ids := m.loadedPartitionIDsLocked()
	m.mu.Unlock()

	for _, pid := range ids {
		m.mu.Lock()
		p, ok := m.cache.Get(pid)
		m.mu.Unlock()
		if !ok || !p.Has(id) {
			continue
		}
		dimensionChanged, err := p.Update(id, vector)
		if err != nil {
			return false, err
		}
		m.mu.Lock()
		cfg := m.configs[pid]
		cfg.VectorCount = p.Size()
		m.configs[pid] = cfg
		m.mu.Unlock()
		m.emit(events.VectorUpdate, map[string]any{
			"partition": pid, "id": id.Key(), "dimension_changed": dimensionChanged,
		})
		return true, nil
	}
	return false, dberrors.E("partitionmgr.update", dberrors.NotFound, dberrors.ErrNotFound)
}

// SetMetadata scans loaded partitions and, when found, overwrites id's
// metadata wholesale.
func (m *Manager) SetMetadata(id vectorstore.ID, value map[string]any) error {
	m.mu.Lock()
	ids := m.loadedPartitionIDsLocked()
	m.mu.Unlock()

	for _, pid := range ids {
		m.mu.Lock()
		p, ok := m.cache.Get(pid)
		m.mu.Unlock()
		if !ok || !p.Has(id) {
			continue
		}
		return p.SetMetadata(id, value)
	}
	return dberrors.E("partitionmgr.set_metadata", dberrors.NotFound, dberrors.ErrNotFound)
}

// UpdateMetadata scans loaded partitions and, when found, applies fn to
// id's current metadata and stores the result.
func (m *Manager) UpdateMetadata(id vectorstore.ID, fn func(current map[string]any) map[string]any) error {
	m.mu.Lock()
	ids := m.loadedPartitionIDsLocked()
	m.mu.Unlock()

	for _, pid := range ids {
		m.mu.Lock()
		p, ok := m.cache.Get(pid)
		m.mu.Unlock()
		if !ok || !p.Has(id) {
			continue
		}
		return p.UpdateMetadataFunc(id, fn)
	}
	return dberrors.E("partitionmgr.update_metadata", dberrors.NotFound, dberrors.ErrNotFound)
}
