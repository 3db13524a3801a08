// Package hnsw implements a Hierarchical Navigable Small World graph
// over vectorstore ids: incremental insert, tombstone-based soft
// delete, dimension-aware entry points and search, and single-file
// serialization.
package hnsw

import (
	"math/rand"
	"sync"
	"time"

	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/distance"
	"github.com/N2FlowJS/nbase-sub001/pkg/observability"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

// Config tunes the graph's shape and construction cost.
type Config struct {
	M                int             // max out-degree per level above 0 (level 0 uses 2*M)
	EfConstruction   int             // candidate list size while inserting
	EfSearch         int             // default candidate list size while searching
	MaxLevel         int             // hard cap on a node's level
	LevelProbability float64         // level-up probability, 0 < p < 1
	DimensionAware   bool            // keep dimension groups free of cross-dimension edges
	Distance         distance.Metric // smaller is closer
	Compression      bool            // gzip the serialized graph on Save/Load
	Logger           *observability.Logger
}

// DefaultConfig returns the standard HNSW parameters.
func DefaultConfig() Config {
	return Config{
		M:                16,
		EfConstruction:   200,
		EfSearch:         50,
		MaxLevel:         16,
		LevelProbability: 0.5,
		DimensionAware:   true,
		Distance:         distance.Euclidean,
	}
}

// Index is a single HNSW graph.
type Index struct {
	mu sync.RWMutex

	cfg    Config
	rand   *rand.Rand
	logger *observability.Logger

	nodes      map[vectorstore.ID]*Node
	dimGroups  map[int][]vectorstore.ID
	tombstones map[vectorstore.ID]struct{}

	hasGlobalEntry bool
	globalEntry    vectorstore.ID
	globalLevel    int

	perDimEntry map[int]vectorstore.ID
	perDimLevel map[int]int

	size int
}

// New creates an empty index. Zero-valued Config fields fall back to
// DefaultConfig's values.
func New(cfg Config) *Index {
	def := DefaultConfig()
	if cfg.M == 0 {
		cfg.M = def.M
	}
	if cfg.EfConstruction == 0 {
		cfg.EfConstruction = def.EfConstruction
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = def.EfSearch
	}
	if cfg.MaxLevel == 0 {
		cfg.MaxLevel = def.MaxLevel
	}
	if cfg.LevelProbability == 0 {
		cfg.LevelProbability = def.LevelProbability
	}
	if cfg.Distance == nil {
		cfg.Distance = def.Distance
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.GetGlobalLogger().WithField("component", "hnsw")
	}

	return &Index{
		cfg:         cfg,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:      logger,
		nodes:       make(map[vectorstore.ID]*Node),
		dimGroups:   make(map[int][]vectorstore.ID),
		tombstones:  make(map[vectorstore.ID]struct{}),
		perDimEntry: make(map[int]vectorstore.ID),
		perDimLevel: make(map[int]int),
	}
}

func (idx *Index) m0() int { return idx.cfg.M * 2 }

// randomLevel draws a node level geometrically: level = 0; while
// rand01() < p and level < maxLevel: level++.
func (idx *Index) randomLevel() int {
	level := 0
	for idx.rand.Float64() < idx.cfg.LevelProbability && level < idx.cfg.MaxLevel {
		level++
	}
	return level
}

// Size returns the number of live (non-tombstoned) vectors.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.size
}

// IsEmpty reports whether the index has no entry point to search from.
func (idx *Index) IsEmpty() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return !idx.hasGlobalEntry
}

func (idx *Index) isTombstoned(id vectorstore.ID) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.tombstones[id]
	return ok
}

// getNode looks up a node under a read lock, so callers walking the
// graph never race a concurrent Insert/Delete mutating idx.nodes.
func (idx *Index) getNode(id vectorstore.ID) *Node {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.nodes[id]
}

// Stats summarizes the current graph shape.
type Stats struct {
	Size             int
	DimensionGroups  map[int]int
	TombstoneCount   int
	GlobalEntryLevel int
}

// GetStats returns current index statistics.
func (idx *Index) GetStats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	groups := make(map[int]int, len(idx.dimGroups))
	for dim, ids := range idx.dimGroups {
		groups[dim] = len(ids)
	}

	level := -1
	if idx.hasGlobalEntry {
		level = idx.globalLevel
	}

	return Stats{
		Size:             idx.size,
		DimensionGroups:  groups,
		TombstoneCount:   len(idx.tombstones),
		GlobalEntryLevel: level,
	}
}

// idLess provides a stable, deterministic tie-break between ids (used
// for "lowest id" rules in entry-point reassignment and result sorts).
func idLess(a, b vectorstore.ID) bool { return a.Key() < b.Key() }

var errEmptyVector = dberrors.E("hnsw.insert", dberrors.InvalidArgument, nil)
