package coordinator

import "testing"

func TestCacheKeyDeterministic(t *testing.T) {
	query := []float32{0.1, 0.2, 0.3, 0.4}
	opts := SearchOptions{
		K:            5,
		UseHNSW:      true,
		PartitionIDs: []string{"b", "a"},
		WeightedFields: map[string]float64{
			"score":    0.5,
			"priority": 1.0,
		},
	}

	a := buildCacheKey(query, opts, 5, 0.7)
	// Same inputs with partition ids and weighted fields in a different
	// order must produce the same key.
	opts2 := opts
	opts2.PartitionIDs = []string{"a", "b"}
	b := buildCacheKey(query, opts2, 5, 0.7)

	if a != b {
		t.Fatalf("expected identical keys for equivalent inputs, got %q vs %q", a, b)
	}
}

func TestCacheKeyVariesWithInputs(t *testing.T) {
	query := []float32{0.1, 0.2, 0.3}
	base := buildCacheKey(query, SearchOptions{}, 10, 0.7)

	if k := buildCacheKey([]float32{0.1, 0.2, 0.4}, SearchOptions{}, 10, 0.7); k == base {
		t.Error("expected a different query vector to change the key")
	}
	if k := buildCacheKey(query, SearchOptions{}, 20, 0.7); k == base {
		t.Error("expected a different k to change the key")
	}
	if k := buildCacheKey(query, SearchOptions{UseHNSW: true}, 10, 0.7); k == base {
		t.Error("expected the search method to change the key")
	}
}

func TestVectorFingerprintSamplesLongVectors(t *testing.T) {
	long := make([]float32, 1024)
	for i := range long {
		long[i] = float32(i) * 0.001
	}
	a := vectorFingerprint(long)

	long[0] += 1 // a sampled position
	if vectorFingerprint(long) == a {
		t.Error("expected a change at a sampled position to alter the fingerprint")
	}

	if vectorFingerprint(nil) != 0 {
		t.Error("expected the empty vector to fingerprint to zero")
	}
}
