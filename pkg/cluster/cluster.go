// Package cluster wraps a vectorstore.Store with dynamic IVF-style
// clusters: each cluster is a centroid plus a member id list, used to
// prune the candidate set for exact search and to seed HNSW construction.
package cluster

import (
	"sort"
	"sync"

	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/distance"
	"github.com/N2FlowJS/nbase-sub001/pkg/observability"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

// Metric selects which distance kernel the store scores centroids and
// members with, and how strictly it enforces dimension compatibility:
// cosine requires an exact dimension match, Euclidean tolerates any.
type Metric int

const (
	Euclidean Metric = iota
	Cosine
)

func (m Metric) distance(a, b []float32) float32 {
	if m == Cosine {
		return distance.Cosine(a, b)
	}
	return distance.Euclidean(a, b)
}

func (m Metric) compatible(dimA, dimB int) bool {
	if m == Cosine {
		return dimA == dimB
	}
	return true
}

// Cluster is a centroid plus its member id list.
type Cluster struct {
	Key      uint64
	Centroid []float32
	Members  []vectorstore.ID
}

// Config tunes cluster-creation behavior.
type Config struct {
	TargetSize        int     // default 100
	ThresholdFactor   float64 // default 1.5
	DistanceThreshold float32 // default 0.5
	MaxClusters       int     // default 256
	Metric            Metric
	Compression       bool // gzip cluster.json on Save/Load
	Logger            *observability.Logger
}

// DefaultConfig returns the standard cluster-creation thresholds.
func DefaultConfig() Config {
	return Config{
		TargetSize:        100,
		ThresholdFactor:   1.5,
		DistanceThreshold: 0.5,
		MaxClusters:       256,
		Metric:            Euclidean,
	}
}

// Store is a clustered view over a vectorstore.Store.
type Store struct {
	mu sync.RWMutex

	vs     *vectorstore.Store
	cfg    Config
	logger *observability.Logger

	clusters map[uint64]*Cluster
	owner    map[vectorstore.ID]uint64 // id -> cluster key
	nextKey  uint64
}

// New wraps vs with a clustered index using cfg.
func New(vs *vectorstore.Store, cfg Config) *Store {
	if cfg.TargetSize == 0 {
		cfg.TargetSize = 100
	}
	if cfg.ThresholdFactor == 0 {
		cfg.ThresholdFactor = 1.5
	}
	if cfg.DistanceThreshold == 0 {
		cfg.DistanceThreshold = 0.5
	}
	if cfg.MaxClusters == 0 {
		cfg.MaxClusters = 256
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.GetGlobalLogger().WithField("component", "cluster")
	}

	return &Store{
		vs:       vs,
		cfg:      cfg,
		logger:   logger,
		clusters: make(map[uint64]*Cluster),
		owner:    make(map[vectorstore.ID]uint64),
	}
}

// VectorStore returns the wrapped vector store, for components (HNSW
// seeding, the partition manager) that need direct access.
func (s *Store) VectorStore() *vectorstore.Store { return s.vs }

// Add stores (id, vector, metadata) in the backing vector store and
// assigns it to a cluster per the creation/attach rule documented on
// assignLocked.
func (s *Store) Add(id *vectorstore.ID, vector []float32, metadata map[string]any) (vectorstore.ID, error) {
	assigned, err := s.vs.Add(id, vector, metadata)
	if err != nil {
		return vectorstore.ID{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignLocked(assigned, vector)
	return assigned, nil
}

// assignLocked implements the cluster creation/attach decision. Creating
// a new cluster is the default when no cluster exists. Once clusters
// exist, a new cluster is created when the nearest compatible cluster is
// over-full, too far, or no compatible cluster exists at all -- but only
// while there is still room under MaxClusters; once MaxClusters is
// reached the vector always attaches, falling back to the least-bad
// centroid (ignoring dimension compatibility) when nothing compatible
// exists.
func (s *Store) assignLocked(id vectorstore.ID, vector []float32) {
	if len(s.clusters) == 0 {
		s.createClusterLocked(id, vector)
		return
	}

	bestKey, bestDist, found := s.nearestCompatibleLocked(vector)
	atCapacity := len(s.clusters) >= s.cfg.MaxClusters

	if !atCapacity {
		overFull := found && float64(len(s.clusters[bestKey].Members)) >= float64(s.cfg.TargetSize)*s.cfg.ThresholdFactor
		tooFar := found && bestDist > s.cfg.DistanceThreshold
		if !found || overFull || tooFar {
			s.createClusterLocked(id, vector)
			return
		}
	}

	if !found {
		// At capacity with nothing compatible: attach to the overall
		// least-bad centroid, ignoring dimension compatibility.
		bestKey, _ = s.nearestAnyLocked(vector)
	}

	s.attachLocked(bestKey, id, vector)
}

func (s *Store) createClusterLocked(id vectorstore.ID, vector []float32) {
	centroid := make([]float32, len(vector))
	copy(centroid, vector)

	key := s.nextKey
	s.nextKey++

	s.clusters[key] = &Cluster{Key: key, Centroid: centroid, Members: []vectorstore.ID{id}}
	s.owner[id] = key
}

func (s *Store) attachLocked(key uint64, id vectorstore.ID, vector []float32) {
	c := s.clusters[key]
	n := float64(len(c.Members))
	for i := range c.Centroid {
		var v float32
		if i < len(vector) {
			v = vector[i]
		}
		c.Centroid[i] = float32((float64(c.Centroid[i])*n + float64(v)) / (n + 1))
	}
	c.Members = append(c.Members, id)
	s.owner[id] = key
}

// nearestCompatibleLocked returns the nearest centroid whose dimension
// is compatible with vector under the configured metric.
func (s *Store) nearestCompatibleLocked(vector []float32) (key uint64, dist float32, found bool) {
	best := float32(0)
	bestKey := uint64(0)
	found = false

	for k, c := range s.clusters {
		if !s.cfg.Metric.compatible(len(c.Centroid), len(vector)) {
			continue
		}
		d := s.cfg.Metric.distance(vector, c.Centroid)
		if !found || d < best {
			found = true
			best = d
			bestKey = k
		}
	}

	return bestKey, best, found
}

// nearestAnyLocked returns the nearest centroid regardless of dimension
// compatibility, for the at-capacity "least-bad" fallback.
func (s *Store) nearestAnyLocked(vector []float32) (key uint64, dist float32) {
	best := float32(0)
	bestKey := uint64(0)
	first := true

	for k, c := range s.clusters {
		d := distance.Euclidean(vector, c.Centroid)
		if first || d < best {
			first = false
			best = d
			bestKey = k
		}
	}

	return bestKey, best
}

// Delete removes id from its owning cluster and the backing store.
func (s *Store) Delete(id vectorstore.ID) bool {
	removedVec, hadVec := s.vs.Get(id)
	if !s.vs.Delete(id) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.owner[id]
	if !ok {
		return true
	}
	delete(s.owner, id)

	c := s.clusters[key]
	n := len(c.Members)
	idx := -1
	for i, m := range c.Members {
		if m == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return true
	}

	c.Members = append(c.Members[:idx], c.Members[idx+1:]...)

	if len(c.Members) == 0 {
		delete(s.clusters, key)
		return true
	}

	newN := len(c.Members)
	if float64(newN) < float64(n)*0.5 {
		s.recomputeCentroidLocked(c)
	} else if hadVec { // incremental update: c' = (c*n - v)/(n-1)
		for i := range c.Centroid {
			var v float32
			if i < len(removedVec) {
				v = removedVec[i]
			}
			c.Centroid[i] = float32((float64(c.Centroid[i])*float64(n) - float64(v)) / float64(newN))
		}
	}

	return true
}

func (s *Store) recomputeCentroidLocked(c *Cluster) {
	if len(c.Members) == 0 {
		return
	}
	dim := len(c.Centroid)
	sum := make([]float64, dim)
	count := 0
	for _, m := range c.Members {
		v, ok := s.vs.Get(m)
		if !ok || len(v) != dim {
			continue
		}
		for i, val := range v {
			sum[i] += float64(val)
		}
		count++
	}
	if count == 0 {
		return
	}
	for i := range c.Centroid {
		c.Centroid[i] = float32(sum[i] / float64(count))
	}
}

// Stats summarizes the current cluster layout.
type Stats struct {
	ClusterCount int
	VectorCount  int
}

// GetStats returns the current vector and cluster counts.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{ClusterCount: len(s.clusters), VectorCount: s.vs.Size()}
}

// FindOptions configures FindNearest.
type FindOptions struct {
	K              int
	SearchWidening int // default: same as K
	Filter         func(id vectorstore.ID, metadata map[string]any) bool
}

// ScoredID pairs an id with its distance to the query.
type ScoredID struct {
	ID       vectorstore.ID
	Distance float32
}

// FindNearest implements the cluster-pruned search: score centroids,
// visit clusters by increasing centroid distance collecting the union of
// members until it is large enough, then score and sort exactly.
func (s *Store) FindNearest(query []float32, opts FindOptions) ([]ScoredID, error) {
	if len(query) == 0 {
		return nil, dberrors.E("cluster.find_nearest", dberrors.InvalidArgument, nil)
	}
	k := opts.K
	if k <= 0 {
		k = 10
	}
	widening := opts.SearchWidening
	if widening < k {
		widening = k
	}

	s.mu.RLock()
	if len(s.clusters) == 0 {
		s.mu.RUnlock()
		return s.linearScan(query, k, opts.Filter)
	}

	type ranked struct {
		key  uint64
		dist float32
	}
	order := make([]ranked, 0, len(s.clusters))
	for key, c := range s.clusters {
		if !s.cfg.Metric.compatible(len(c.Centroid), len(query)) {
			continue
		}
		order = append(order, ranked{key: key, dist: s.cfg.Metric.distance(query, c.Centroid)})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].dist < order[j].dist })

	union := make(map[vectorstore.ID]struct{})
	for _, r := range order {
		for _, m := range s.clusters[r.key].Members {
			union[m] = struct{}{}
		}
		if len(union) >= widening {
			break
		}
	}
	s.mu.RUnlock()

	candidates := make([]ScoredID, 0, len(union))
	for id := range union {
		v, ok := s.vs.Get(id)
		if !ok {
			continue
		}
		if opts.Filter != nil {
			meta, _ := s.vs.GetMetadata(id)
			if !opts.Filter(id, meta) {
				continue
			}
		}
		candidates = append(candidates, ScoredID{ID: id, Distance: s.cfg.Metric.distance(query, v)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

func (s *Store) linearScan(query []float32, k int, filter func(vectorstore.ID, map[string]any) bool) ([]ScoredID, error) {
	entries := s.vs.Iter()
	candidates := make([]ScoredID, 0, len(entries))
	for _, e := range entries {
		if filter != nil && !filter(e.ID, e.Metadata) {
			continue
		}
		candidates = append(candidates, ScoredID{ID: e.ID, Distance: s.cfg.Metric.distance(query, e.Vector)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}
