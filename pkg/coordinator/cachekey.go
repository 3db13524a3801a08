package coordinator

import (
	"fmt"
	"sort"
	"strings"
)

// cacheKey identifies a cached result list by (vector fingerprint, k,
// and the subset of options that affect results).
type cacheKey string

// vectorFingerprint samples up to 16 evenly-spaced positions of v and
// folds each (value scaled by 1000, index) pair into a running 32-bit
// hash. It is not cryptographic: collisions only cost a cache miss.
func vectorFingerprint(v []float32) uint32 {
	n := len(v)
	if n == 0 {
		return 0
	}
	step := 1
	if n > 16 {
		step = n / 16
	}
	var h uint32 = 2166136261
	sampled := 0
	for i := 0; i < n && sampled < 16; i += step {
		scaled := int32(v[i] * 1000)
		h = h*31 + uint32(scaled) + uint32(i)
		sampled++
	}
	return h
}

func buildCacheKey(query []float32, opts SearchOptions, k int, lambda float64) cacheKey {
	ids := append([]string(nil), opts.PartitionIDs...)
	sort.Strings(ids)

	weighted := make([]string, 0, len(opts.WeightedFields))
	for field, w := range opts.WeightedFields {
		weighted = append(weighted, fmt.Sprintf("%s=%g", field, w))
	}
	sort.Strings(weighted)

	return cacheKey(fmt.Sprintf("v%08x:k%d:h%v:g%v:r%s:l%g:m%s:e%d:x%v:p%s:w%s",
		vectorFingerprint(query), k, opts.UseHNSW, opts.Rerank, opts.RerankMethod,
		lambda, opts.DistanceMetric, opts.EfSearch, opts.ExactDimensions,
		strings.Join(ids, ","), strings.Join(weighted, ","),
	))
}
