package nbase

import (
	"path/filepath"
	"testing"

	"github.com/N2FlowJS/nbase-sub001/pkg/config"
	"github.com/N2FlowJS/nbase-sub001/pkg/coordinator"
	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/partitionmgr"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

// testConfigBuilder assembles a config.Config for a scratch data
// directory, overriding just the knobs a given scenario cares about.
type testConfigBuilder struct {
	dir               string
	partitionCapacity int
}

func (b *testConfigBuilder) build() *config.Config {
	cfg := config.Default()
	cfg.Persistence.DBPath = b.dir
	cfg.Events.SaveIntervalMS = 0 // tests drive Save() explicitly
	if b.partitionCapacity > 0 {
		cfg.PartitionManager.PartitionCapacity = b.partitionCapacity
	}
	return cfg
}

func openAt(t *testing.T, b *testConfigBuilder) *Database {
	t.Helper()
	db, err := Open(b.build())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return db
}

func testDB(t *testing.T, mutate func(*testConfigBuilder)) *Database {
	t.Helper()
	b := &testConfigBuilder{dir: t.TempDir()}
	if mutate != nil {
		mutate(b)
	}
	db := openAt(t, b)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestActivationOnEmpty(t *testing.T) {
	db := testDB(t, nil)

	_, id, err := db.AddVector(nil, []float32{1, 2, 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if id.IsString() {
		t.Fatalf("expected an auto-assigned integer id, got string %q", id.Str())
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalConfigured != 1 {
		t.Fatalf("expected exactly one auto-created partition, got %d", stats.TotalConfigured)
	}
	total, err := db.TotalVectorCount()
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("expected total vector count 1, got %d", total)
	}
}

func TestPartitionRollover(t *testing.T) {
	db := testDB(t, func(b *testConfigBuilder) { b.partitionCapacity = 2 })

	result, err := db.BulkAdd([]partitionmgr.BulkAddItem{
		{Vector: []float32{1, 0, 0}},
		{Vector: []float32{0, 1, 0}},
		{Vector: []float32{0, 0, 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.PartitionIDs) != 2 {
		t.Fatalf("expected rollover to touch 2 partitions, got %d (%v)", len(result.PartitionIDs), result.PartitionIDs)
	}
	if result.Inserted != 3 {
		t.Fatalf("expected 3 vectors inserted, got %d", result.Inserted)
	}
}

func TestHNSWSoftDelete(t *testing.T) {
	db := testDB(t, nil)

	ids := make([]vectorstore.ID, 0, 100)
	for i := 0; i < 100; i++ {
		v := []float32{float32(i), float32(i) * 0.5, 0, 0}
		_, id, err := db.AddVector(nil, v, nil)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.ActivePartition == "" {
		t.Fatal("expected an active partition")
	}
	if err := db.BuildIndex(stats.ActivePartition); err != nil {
		t.Fatal(err)
	}

	query := []float32{50, 25, 0, 0}
	before, err := db.Search(query, coordinator.SearchOptions{K: 5, UseHNSW: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(before) < 2 {
		t.Fatalf("expected at least 2 hits before delete, got %d", len(before))
	}
	top1 := before[0].ID

	if ok, err := db.DeleteVector(top1); err != nil || !ok {
		t.Fatalf("expected delete to succeed, ok=%v err=%v", ok, err)
	}

	after, err := db.Search(query, coordinator.SearchOptions{K: 5, UseHNSW: true, SkipCache: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range after {
		if r.ID == top1 {
			t.Fatalf("deleted id %v still appears in search results", top1)
		}
	}
}

func TestDimensionAwareSearch(t *testing.T) {
	db := testDB(t, nil)

	for i := 0; i < 10; i++ {
		v := []float32{float32(i), float32(i) + 1, float32(i) + 2}
		if _, _, err := db.AddVector(nil, v, map[string]any{"dim": 3}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 10; i++ {
		v := []float32{float32(i), float32(i) + 1, float32(i) + 2, float32(i) + 3, float32(i) + 4}
		if _, _, err := db.AddVector(nil, v, map[string]any{"dim": 5}); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if err := db.BuildIndex(stats.ActivePartition); err != nil {
		t.Fatal(err)
	}

	query := []float32{2, 3, 4}
	results, err := db.Search(query, coordinator.SearchOptions{
		K: 5, UseHNSW: true, ExactDimensions: true, IncludeMetadata: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one hit")
	}
	for _, r := range results {
		dim, _ := r.Metadata["dim"].(int)
		if dim != 3 {
			t.Fatalf("expected every result to be stored with dim 3, got metadata %v", r.Metadata)
		}
	}
}

func TestCacheInvalidationOnAdd(t *testing.T) {
	db := testDB(t, nil)
	db.AddVector(nil, []float32{1, 1}, nil)

	if _, err := db.Search([]float32{1, 1}, coordinator.SearchOptions{K: 1}); err != nil {
		t.Fatal(err)
	}
	size, _, misses, err := db.CacheStats()
	if err != nil {
		t.Fatal(err)
	}
	if misses == 0 {
		t.Fatal("expected the first search to be a cache miss")
	}
	if size < 1 {
		t.Fatalf("expected the search result to be cached, cache size %d", size)
	}

	db.AddVector(nil, []float32{9, 9}, nil)

	size, _, _, err = db.CacheStats()
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("expected the mutation to empty the cache, got size %d", size)
	}

	if _, err := db.Search([]float32{1, 1}, coordinator.SearchOptions{K: 1}); err != nil {
		t.Fatal(err)
	}
	_, hits, _, err := db.CacheStats()
	if err != nil {
		t.Fatal(err)
	}
	if hits != 0 {
		t.Fatalf("expected the repeated search after invalidation to miss, got %d hits", hits)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	b := &testConfigBuilder{dir: dir, partitionCapacity: 400}

	db := openAt(t, b)
	// Distinct distances to the query for every vector, so the top-k id
	// set is well-defined and comparable across the reload.
	for i := 0; i < 1000; i++ {
		v := []float32{float32(i) * 0.01, float32(i) * 0.02, float32(i) * 0.03}
		if _, _, err := db.AddVector(nil, v, nil); err != nil {
			t.Fatal(err)
		}
	}
	statsBefore, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	var allPartitions []string
	for _, ps := range statsBefore.Partitions {
		allPartitions = append(allPartitions, ps.ID)
		if err := db.BuildIndex(ps.ID); err != nil {
			t.Fatal(err)
		}
	}
	query := []float32{0, 0, 0}
	resultsBefore, err := db.Search(query, coordinator.SearchOptions{
		K: 10, PartitionIDs: allPartitions, SkipCache: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Re-read stats after the index builds so HNSW sizes are recorded.
	statsBefore, err = db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Save(); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := openAt(t, b)
	defer reopened.Close()
	statsAfter, err := reopened.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if statsAfter.TotalConfigured != statsBefore.TotalConfigured {
		t.Fatalf("expected %d configured partitions after reload, got %d", statsBefore.TotalConfigured, statsAfter.TotalConfigured)
	}
	if statsAfter.TotalVectors != statsBefore.TotalVectors {
		t.Fatalf("expected %d total vectors after reload, got %d", statsBefore.TotalVectors, statsAfter.TotalVectors)
	}
	countsBefore := make(map[string]int)
	for _, ps := range statsBefore.Partitions {
		countsBefore[ps.ID] = ps.VectorCount
	}
	for _, ps := range statsAfter.Partitions {
		if ps.VectorCount != countsBefore[ps.ID] {
			t.Fatalf("partition %s: expected %d vectors after reload, got %d", ps.ID, countsBefore[ps.ID], ps.VectorCount)
		}
	}

	resultsAfter, err := reopened.Search(query, coordinator.SearchOptions{
		K: 10, PartitionIDs: allPartitions, SkipCache: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	idsBefore := make(map[vectorstore.ID]bool)
	for _, r := range resultsBefore {
		idsBefore[r.ID] = true
	}
	if len(resultsAfter) != len(resultsBefore) {
		t.Fatalf("expected %d results after reload, got %d", len(resultsBefore), len(resultsAfter))
	}
	for _, r := range resultsAfter {
		if !idsBefore[r.ID] {
			t.Fatalf("result id %v after reload was not in the pre-save result set", r.ID)
		}
	}
}

func TestUpdateVectorReassignsClusterAndIndex(t *testing.T) {
	db := testDB(t, nil)

	_, id, err := db.AddVector(nil, []float32{0, 0}, map[string]any{"tag": "a"})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if err := db.BuildIndex(stats.ActivePartition); err != nil {
		t.Fatal(err)
	}

	if ok, err := db.UpdateVector(id, []float32{100, 100, 100}); err != nil || !ok {
		t.Fatalf("expected update to succeed, ok=%v err=%v", ok, err)
	}

	v, ok, err := db.GetVector(id)
	if err != nil || !ok || len(v) != 3 {
		t.Fatalf("expected the 3-dim updated vector back, got %v ok=%v err=%v", v, ok, err)
	}
	meta, ok, err := db.GetMetadata(id)
	if err != nil || !ok || meta["tag"] != "a" {
		t.Fatalf("expected metadata preserved across update, got %v", meta)
	}

	results, err := db.Search([]float32{100, 100, 100}, coordinator.SearchOptions{K: 1, UseHNSW: true, SkipCache: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("expected the HNSW graph to reflect the updated vector, got %v", results)
	}

	if err := db.SetMetadata(id, map[string]any{"tag": "b"}); err != nil {
		t.Fatal(err)
	}
	meta, _, _ = db.GetMetadata(id)
	if meta["tag"] != "b" {
		t.Fatalf("expected SetMetadata to overwrite, got %v", meta)
	}

	if err := db.UpdateMetadata(id, func(current map[string]any) map[string]any {
		current["extra"] = true
		return current
	}); err != nil {
		t.Fatal(err)
	}
	meta, _, _ = db.GetMetadata(id)
	if meta["tag"] != "b" || meta["extra"] != true {
		t.Fatalf("expected UpdateMetadata to merge, got %v", meta)
	}
}

func TestOperationsFailAfterClose(t *testing.T) {
	db := testDB(t, nil)
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	_, _, err := db.AddVector(nil, []float32{1}, nil)
	if dberrors.KindOf(err) != dberrors.Closed {
		t.Fatalf("expected a Closed error after Close, got %v", err)
	}

	// Close is idempotent.
	if err := db.Close(); err != nil {
		t.Fatalf("expected a second Close to be a no-op, got %v", err)
	}
}
