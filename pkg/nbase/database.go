// Package nbase is the embeddable database facade: it wires a
// partition manager, the unified search coordinator, and the event
// bus together behind one handle, and enforces that a failed
// initialization or an explicit Close leaves every subsequent
// operation failing fast with Closed rather than touching half-built
// state.
package nbase

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/N2FlowJS/nbase-sub001/pkg/cluster"
	"github.com/N2FlowJS/nbase-sub001/pkg/config"
	"github.com/N2FlowJS/nbase-sub001/pkg/coordinator"
	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/distance"
	"github.com/N2FlowJS/nbase-sub001/pkg/events"
	"github.com/N2FlowJS/nbase-sub001/pkg/hnsw"
	"github.com/N2FlowJS/nbase-sub001/pkg/observability"
	"github.com/N2FlowJS/nbase-sub001/pkg/partitionmgr"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

// Database is a single embedded nbase instance rooted at one data
// directory.
type Database struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	events  *events.Bus

	manager     *partitionmgr.Manager
	coordinator *coordinator.Coordinator
	autosaver   *events.AutoSaver

	closed atomic.Bool
}

// Open initializes a Database from cfg: it builds the event bus and
// metrics, constructs the partition manager, loads any partitions
// already on disk, wires cache invalidation to the mutation events,
// and starts the auto-save loop. Any failure here is fatal — the
// caller should not retry Open with the same cfg without addressing
// the underlying error.
func Open(cfg *config.Config) (*Database, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, dberrors.E("nbase.open", dberrors.InvalidArgument, err)
	}

	observability.SetGlobalLogger(observability.NewLogger(observability.ParseLogLevel(cfg.Logging.Level), os.Stdout))
	logger := observability.GetGlobalLogger().WithField("component", "nbase")
	metrics := observability.NewMetrics()
	bus := events.NewBus()

	db := &Database{cfg: cfg, logger: logger, metrics: metrics, events: bus}

	manager, err := partitionmgr.New(partitionmgr.Config{
		PartitionsDir:       cfg.Persistence.DBPath,
		MaxActivePartitions: cfg.PartitionManager.MaxActivePartitions,
		PartitionCapacity:   cfg.PartitionManager.PartitionCapacity,
		AutoCreate:          cfg.PartitionManager.AutoCreate,
		Compression:         cfg.Persistence.Compression,
		Cluster: cluster.Config{
			TargetSize:        cfg.Cluster.TargetSize,
			ThresholdFactor:   cfg.Cluster.ThresholdFactor,
			DistanceThreshold: cfg.Cluster.DistanceThreshold,
			MaxClusters:       cfg.Cluster.MaxClusters,
			Logger:            logger,
		},
		HNSW: hnsw.Config{
			M:                cfg.HNSW.M,
			EfConstruction:   cfg.HNSW.EfConstruction,
			EfSearch:         cfg.HNSW.EfSearch,
			MaxLevel:         cfg.HNSW.MaxLevel,
			LevelProbability: cfg.HNSW.LevelProbability,
			DimensionAware:   cfg.HNSW.DimensionAware,
			Distance:         distance.Euclidean,
			Logger:           logger,
		},
		Logger:  logger,
		Events:  bus,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := manager.Load(); err != nil {
		return nil, err
	}
	db.manager = manager

	db.coordinator = coordinator.New(manager, coordinator.Config{
		MaxConcurrentSearches: cfg.Coordinator.MaxConcurrentSearches,
		CacheSize:             cfg.Coordinator.CacheSize,
		DefaultK:              cfg.Coordinator.DefaultK,
		RerankLambda:          cfg.Coordinator.RerankLambda,
		Logger:                logger,
		Metrics:               metrics,
		Events:                bus,
	})

	for _, t := range events.CacheInvalidatingTypes {
		bus.Subscribe(t, func(events.Event) { db.coordinator.InvalidateCache() })
	}

	if cfg.Events.SaveIntervalMS > 0 {
		db.autosaver = events.NewAutoSaver(
			time.Duration(cfg.Events.SaveIntervalMS)*time.Millisecond,
			func() error { _, err := db.manager.Save(); return err },
			func(err error) { logger.Error("nbase: auto-save failed", map[string]interface{}{"err": err}) },
		)
		db.autosaver.Start()
	}

	return db, nil
}

func (db *Database) checkOpen(op string) error {
	if db.closed.Load() {
		return dberrors.E(op, dberrors.Closed, dberrors.ErrClosed)
	}
	return nil
}

// AddVector inserts a vector into the active partition, auto-creating
// or rolling over as needed.
func (db *Database) AddVector(id *vectorstore.ID, vector []float32, metadata map[string]any) (string, vectorstore.ID, error) {
	if err := db.checkOpen("nbase.add_vector"); err != nil {
		return "", vectorstore.ID{}, err
	}
	return db.manager.AddVector(id, vector, metadata)
}

// BulkAdd inserts many vectors, reporting every partition touched.
func (db *Database) BulkAdd(items []partitionmgr.BulkAddItem) (partitionmgr.BulkAddResult, error) {
	if err := db.checkOpen("nbase.bulk_add"); err != nil {
		return partitionmgr.BulkAddResult{}, err
	}
	return db.manager.BulkAdd(items)
}

// GetVector returns a vector by id from the resident partition set.
func (db *Database) GetVector(id vectorstore.ID) ([]float32, bool, error) {
	if err := db.checkOpen("nbase.get_vector"); err != nil {
		return nil, false, err
	}
	v, ok := db.manager.GetVector(id)
	return v, ok, nil
}

// GetMetadata returns a vector's metadata from the resident partition set.
func (db *Database) GetMetadata(id vectorstore.ID) (map[string]any, bool, error) {
	if err := db.checkOpen("nbase.get_metadata"); err != nil {
		return nil, false, err
	}
	v, ok := db.manager.GetMetadata(id)
	return v, ok, nil
}

// HasVector reports whether id exists in the resident partition set.
func (db *Database) HasVector(id vectorstore.ID) (bool, error) {
	if err := db.checkOpen("nbase.has_vector"); err != nil {
		return false, err
	}
	return db.manager.HasVector(id), nil
}

// DeleteVector removes id from whichever resident partition holds it.
func (db *Database) DeleteVector(id vectorstore.ID) (bool, error) {
	if err := db.checkOpen("nbase.delete_vector"); err != nil {
		return false, err
	}
	return db.manager.DeleteVector(id), nil
}

// UpdateVector replaces id's vector, reassigning its cluster and, if an
// HNSW index is loaded, its graph edges.
func (db *Database) UpdateVector(id vectorstore.ID, vector []float32) (bool, error) {
	if err := db.checkOpen("nbase.update_vector"); err != nil {
		return false, err
	}
	return db.manager.Update(id, vector)
}

// SetMetadata overwrites id's metadata wholesale.
func (db *Database) SetMetadata(id vectorstore.ID, value map[string]any) error {
	if err := db.checkOpen("nbase.set_metadata"); err != nil {
		return err
	}
	return db.manager.SetMetadata(id, value)
}

// UpdateMetadata applies fn to id's current metadata and stores the
// result.
func (db *Database) UpdateMetadata(id vectorstore.ID, fn func(current map[string]any) map[string]any) error {
	if err := db.checkOpen("nbase.update_metadata"); err != nil {
		return err
	}
	return db.manager.UpdateMetadata(id, fn)
}

// CreatePartition creates (and optionally activates) a new partition.
func (db *Database) CreatePartition(id string, opts partitionmgr.CreateOptions) (string, error) {
	if err := db.checkOpen("nbase.create_partition"); err != nil {
		return "", err
	}
	return db.manager.CreatePartition(id, opts)
}

// SetActivePartition switches the active partition.
func (db *Database) SetActivePartition(id string) error {
	if err := db.checkOpen("nbase.set_active_partition"); err != nil {
		return err
	}
	return db.manager.SetActivePartition(id)
}

// BuildIndex rebuilds a partition's HNSW graph from scratch, emitting
// index:progress at roughly 1% increments and index:complete (or
// index:error) when done.
func (db *Database) BuildIndex(partitionID string) error {
	if err := db.checkOpen("nbase.build_index"); err != nil {
		return err
	}
	err := db.manager.BuildIndex(partitionID, func(fraction float64) {
		db.events.Emit(events.Event{Type: events.IndexProgress, Payload: map[string]any{
			"partition": partitionID, "fraction": fraction,
		}})
	})
	if err != nil {
		db.events.Emit(events.Event{Type: events.IndexError, Payload: map[string]any{
			"partition": partitionID, "err": err,
		}})
		return err
	}
	db.events.Emit(events.Event{Type: events.IndexComplete, Payload: map[string]any{
		"partition": partitionID,
	}})
	return nil
}

// RefitPartition re-clusters a partition's store around k k-means
// centroids.
func (db *Database) RefitPartition(partitionID string, k int) error {
	if err := db.checkOpen("nbase.refit_partition"); err != nil {
		return err
	}
	return db.manager.RefitPartition(partitionID, k)
}

// Search runs a unified nearest-neighbor search across the resident
// (or named) partitions.
func (db *Database) Search(query []float32, opts coordinator.SearchOptions) ([]coordinator.Result, error) {
	if err := db.checkOpen("nbase.search"); err != nil {
		return nil, err
	}
	return db.coordinator.Search(query, opts)
}

// Save flushes configs and every loaded partition to disk.
func (db *Database) Save() (partitionmgr.SaveResult, error) {
	if err := db.checkOpen("nbase.save"); err != nil {
		return partitionmgr.SaveResult{}, err
	}
	return db.manager.Save()
}

// Stats summarizes the manager's configured and loaded partitions.
func (db *Database) Stats() (partitionmgr.Stats, error) {
	if err := db.checkOpen("nbase.stats"); err != nil {
		return partitionmgr.Stats{}, err
	}
	return db.manager.GetStats(), nil
}

// TotalVectorCount sums the vector counts of every configured
// partition (resident counts for loaded partitions, config records for
// the rest).
func (db *Database) TotalVectorCount() (int, error) {
	if err := db.checkOpen("nbase.total_vector_count"); err != nil {
		return 0, err
	}
	return db.manager.GetStats().TotalVectors, nil
}

// CacheStats reports the search result cache's entry count and its
// cumulative hit/miss counters.
func (db *Database) CacheStats() (size int, hits, misses int64, err error) {
	if err := db.checkOpen("nbase.cache_stats"); err != nil {
		return 0, 0, 0, err
	}
	hits, misses = db.coordinator.CacheStats()
	return db.coordinator.CacheLen(), hits, misses, nil
}

// EstimateQuantizedSize reports what a partition's vectors would occupy
// if scalar-quantized to int8. Diagnostic only; never touches the
// search path.
func (db *Database) EstimateQuantizedSize(partitionID string) (int64, error) {
	if err := db.checkOpen("nbase.estimate_quantized_size"); err != nil {
		return 0, err
	}
	p, err := db.manager.Partition(partitionID)
	if err != nil {
		return 0, err
	}
	return p.EstimateQuantizedSize(), nil
}

// Close stops the auto-save loop, flushes and closes every resident
// partition, and marks the database closed: every operation after
// this point fails fast with a Closed error rather than touching the
// (now invalid) manager state.
func (db *Database) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	if db.autosaver != nil {
		db.autosaver.Stop()
	}
	return db.manager.Close()
}
