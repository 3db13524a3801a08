package coordinator

import (
	"sort"

	"github.com/N2FlowJS/nbase-sub001/pkg/distance"
)

func metricFor(name string) distance.Metric {
	if name == "cosine" {
		return distance.Cosine
	}
	return distance.Euclidean
}

// rerank dispatches to the configured method. An empty/unknown method
// is a no-op: results already arrive distance-sorted.
func (c *Coordinator) rerank(query []float32, results []Result, opts SearchOptions, k int, lambda float64) []Result {
	switch opts.RerankMethod {
	case RerankMMR:
		return c.rerankMMR(query, results, opts, k, lambda)
	case RerankWeighted:
		return c.rerankWeighted(results, opts, k)
	default:
		return results
	}
}

// rerankMMR greedily builds a list of size k, each step picking the
// unselected candidate maximizing relevance to the query minus its
// similarity to whatever has already been picked.
func (c *Coordinator) rerankMMR(query []float32, results []Result, opts SearchOptions, k int, lambda float64) []Result {
	metric := metricFor(opts.DistanceMetric)
	if k > len(results) {
		k = len(results)
	}

	c.hydrateVectors(results)

	relevance := make([]float64, len(results))
	for i, r := range results {
		if r.Vector == nil {
			// Hydration failed (e.g. the id was deleted between search
			// and rerank): fall back to the original distance ranking
			// so the candidate still participates, just without diversity input.
			relevance[i] = -float64(r.Distance)
			continue
		}
		relevance[i] = 1 - float64(metric(query, r.Vector))
	}

	selected := make([]bool, len(results))
	out := make([]Result, 0, k)
	for len(out) < k {
		best := -1
		var bestScore float64
		for i, r := range results {
			if selected[i] {
				continue
			}
			maxSim := 0.0
			if r.Vector != nil {
				for j := range results {
					if !selected[j] || results[j].Vector == nil {
						continue
					}
					if sim := 1 - float64(metric(r.Vector, results[j].Vector)); sim > maxSim {
						maxSim = sim
					}
				}
			}
			score := lambda*relevance[i] - (1-lambda)*maxSim
			if best == -1 || score > bestScore {
				best, bestScore = i, score
			}
		}
		selected[best] = true
		picked := results[best]
		picked.Score = bestScore
		out = append(out, picked)
	}
	return out
}

// rerankWeighted combines distance with a weighted sum over
// caller-specified numeric metadata fields into a composite score
// (lower is better, consistent with distance), then re-sorts ascending.
// A higher-weighted field value lowers the score, i.e. makes the
// candidate more preferred.
func (c *Coordinator) rerankWeighted(results []Result, opts SearchOptions, k int) []Result {
	c.hydrateMetadata(results)

	for i := range results {
		score := float64(results[i].Distance)
		for field, weight := range opts.WeightedFields {
			if v, ok := numericMetadataField(results[i].Metadata, field); ok {
				score -= weight * v
			}
		}
		results[i].Score = score
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score < results[j].Score })

	if k < len(results) {
		results = results[:k]
	}
	return results
}

func numericMetadataField(meta map[string]any, field string) (float64, bool) {
	v, ok := meta[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
