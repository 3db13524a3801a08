// Package quantization holds the numeric helpers behind the clustered
// store's refit path and the vector store's sizing diagnostics: k-means
// centroid fitting with k-means++ seeding, and int8 scalar quantization.
package quantization

import (
	"fmt"
	"math"
	"math/rand"
)

// Metric selects the distance used while seeding and iterating.
type Metric int

const (
	Euclidean Metric = iota
	Cosine
)

func (m Metric) distance(a, b []float32) float32 {
	if m == Cosine {
		return cosineDistance(a, b)
	}
	return euclideanDistance(a, b)
}

func euclideanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(float32(math.Sqrt(float64(na)))*float32(math.Sqrt(float64(nb))))
}

// KMeansOptions tunes KMeansPlusPlus. The zero value gives 25 Lloyd
// iterations of Euclidean k-means seeded deterministically, which is
// what a cluster refit wants: the same store contents always refit to
// the same layout.
type KMeansOptions struct {
	MaxIterations int
	Metric        Metric
	Seed          int64
}

const (
	defaultKMeansIterations = 25
	defaultKMeansSeed       = 42
)

// KMeansPlusPlus fits k centroids to vectors: k-means++ seeding, then
// Lloyd iterations until convergence or the iteration cap. All input
// vectors must share one dimension (the caller filters a
// dimension-heterogeneous store down to its dominant group first).
func KMeansPlusPlus(vectors [][]float32, k int, opts KMeansOptions) ([][]float32, error) {
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("quantization: no training vectors")
	}
	if len(vectors) < k {
		return nil, fmt.Errorf("quantization: %d vectors cannot seed %d centroids", len(vectors), k)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultKMeansIterations
	}
	if opts.Seed == 0 {
		opts.Seed = defaultKMeansSeed
	}

	r := rand.New(rand.NewSource(opts.Seed))
	centroids := seedCentroids(vectors, k, opts.Metric, r)

	for iter := 0; iter < opts.MaxIterations; iter++ {
		if converged := lloydStep(vectors, centroids, opts.Metric); converged {
			break
		}
	}
	return centroids, nil
}

// seedCentroids picks k starting centroids: the first uniformly, each
// subsequent one with probability proportional to its squared distance
// from the nearest centroid chosen so far.
func seedCentroids(vectors [][]float32, k int, metric Metric, r *rand.Rand) [][]float32 {
	dim := len(vectors[0])
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, cloneVec(vectors[r.Intn(len(vectors))]))

	weights := make([]float32, len(vectors))
	for len(centroids) < k {
		var total float32
		for i, v := range vectors {
			nearest := float32(math.MaxFloat32)
			for _, c := range centroids {
				if d := metric.distance(v, c); d < nearest {
					nearest = d
				}
			}
			weights[i] = nearest * nearest
			total += weights[i]
		}

		if total == 0 {
			centroids = append(centroids, cloneVec(vectors[r.Intn(len(vectors))]))
			continue
		}
		target := r.Float32() * total
		var cumulative float32
		picked := len(vectors) - 1
		for i, w := range weights {
			cumulative += w
			if cumulative >= target {
				picked = i
				break
			}
		}
		next := make([]float32, dim)
		copy(next, vectors[picked])
		centroids = append(centroids, next)
	}
	return centroids
}

// lloydStep runs one assign-and-recenter pass in place, reporting
// whether every centroid moved less than the convergence tolerance.
func lloydStep(vectors, centroids [][]float32, metric Metric) bool {
	dim := len(vectors[0])
	sums := make([][]float32, len(centroids))
	counts := make([]int, len(centroids))
	for i := range sums {
		sums[i] = make([]float32, dim)
	}

	for _, v := range vectors {
		best := 0
		bestDist := float32(math.MaxFloat32)
		for c, centroid := range centroids {
			if d := metric.distance(v, centroid); d < bestDist {
				bestDist = d
				best = c
			}
		}
		for i, x := range v {
			sums[best][i] += x
		}
		counts[best]++
	}

	converged := true
	for c := range centroids {
		if counts[c] == 0 {
			continue // an orphaned centroid keeps its position
		}
		moved := float32(0)
		for i := range centroids[c] {
			mean := sums[c][i] / float32(counts[c])
			d := centroids[c][i] - mean
			moved += d * d
			centroids[c][i] = mean
		}
		if moved > 1e-12 {
			converged = false
		}
	}
	return converged
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
