package cluster

import (
	"github.com/N2FlowJS/nbase-sub001/internal/quantization"
	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

// Refit replaces the current cluster layout with one built by k-means,
// seeded with k-means++, over every vector currently in the store. It is
// an explicit operator action (unlike incremental centroid maintenance
// on Add/Delete) for correcting drift after heavy churn.
func (s *Store) Refit(k int) error {
	return s.logger.LogOperationWithFields("cluster.refit", map[string]interface{}{"k": k}, func() error {
		return s.refit(k)
	})
}

func (s *Store) refit(k int) error {
	entries := s.vs.Iter()
	if len(entries) == 0 {
		return nil
	}
	if k <= 0 || k > len(entries) {
		return dberrors.E("cluster.refit", dberrors.InvalidArgument, nil)
	}

	byDim := make(map[int][][]float32)
	for _, e := range entries {
		byDim[len(e.Vector)] = append(byDim[len(e.Vector)], e.Vector)
	}

	dim := 0
	for d, vecs := range byDim {
		if len(vecs) > len(byDim[dim]) {
			dim = d
		}
	}
	vectors := byDim[dim]
	if k > len(vectors) {
		k = len(vectors)
	}

	metric := quantization.Euclidean
	if s.cfg.Metric == Cosine {
		metric = quantization.Cosine
	}

	centroids, err := quantization.KMeansPlusPlus(vectors, k, quantization.KMeansOptions{Metric: metric})
	if err != nil {
		return dberrors.E("cluster.refit", dberrors.Internal, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clusters = make(map[uint64]*Cluster, len(centroids))
	s.owner = make(map[vectorstore.ID]uint64, len(entries))
	s.nextKey = 0

	for _, c := range centroids {
		centroid := make([]float32, len(c))
		copy(centroid, c)
		key := s.nextKey
		s.nextKey++
		s.clusters[key] = &Cluster{Key: key, Centroid: centroid}
	}

	for _, e := range entries {
		bestKey, _, found := s.nearestCompatibleLocked(e.Vector)
		if !found {
			s.logger.Warn("cluster: refit left a vector unassigned", map[string]interface{}{
				"id": e.ID.Key(), "dimension": len(e.Vector),
			})
			continue
		}
		c := s.clusters[bestKey]
		c.Members = append(c.Members, e.ID)
		s.owner[e.ID] = bestKey
	}

	for key, c := range s.clusters {
		if len(c.Members) == 0 {
			delete(s.clusters, key)
			continue
		}
		s.recomputeCentroidLocked(c)
	}

	return nil
}
