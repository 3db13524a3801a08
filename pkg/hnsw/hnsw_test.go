package hnsw

import (
	"testing"

	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

func TestInsertAndSearchFindsNearest(t *testing.T) {
	idx := New(DefaultConfig())

	points := map[string][]float32{
		"a": {0, 0, 0},
		"b": {10, 10, 10},
		"c": {0.1, 0.1, 0.1},
	}
	for name, v := range points {
		if err := idx.Insert(vectorstore.StringID(name), v); err != nil {
			t.Fatal(err)
		}
	}

	results, err := idx.Search([]float32{0, 0, 0}, 1, SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != vectorstore.StringID("a") {
		t.Fatalf("expected nearest to be 'a', got %v", results[0].ID)
	}
}

func TestSearchOnEmptyIndexReturnsEmpty(t *testing.T) {
	idx := New(DefaultConfig())
	results, err := idx.Search([]float32{1, 2, 3}, 5, SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results from an empty index, got %v", results)
	}
	if !idx.IsEmpty() {
		t.Fatal("expected IsEmpty to be true")
	}
}

func TestDeleteExcludesFromSearch(t *testing.T) {
	idx := New(DefaultConfig())
	idA := vectorstore.StringID("a")
	idx.Insert(idA, []float32{0, 0})
	idx.Insert(vectorstore.StringID("b"), []float32{5, 5})

	if !idx.Delete(idA) {
		t.Fatal("expected delete to succeed")
	}
	if idx.Delete(idA) {
		t.Fatal("expected second delete to report false")
	}

	results, err := idx.Search([]float32{0, 0}, 2, SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ID == idA {
			t.Fatal("expected tombstoned id to be excluded from search results")
		}
	}
}

func TestDeleteReassignsGlobalEntryPoint(t *testing.T) {
	idx := New(DefaultConfig())
	first := vectorstore.StringID("first")
	idx.Insert(first, []float32{1, 1, 1})
	for i := 0; i < 20; i++ {
		idx.Insert(vectorstore.IntID(uint64(i)), []float32{float32(i), 0, 0})
	}

	idx.Delete(first)

	idx.mu.RLock()
	stillEntry := idx.globalEntry == first
	hasEntry := idx.hasGlobalEntry
	idx.mu.RUnlock()

	if stillEntry {
		t.Fatal("expected global entry point to be reassigned away from a deleted node")
	}
	if !hasEntry {
		t.Fatal("expected a surviving global entry point")
	}
}

func TestReAddAfterDelete(t *testing.T) {
	idx := New(DefaultConfig())
	id := vectorstore.StringID("x")

	if err := idx.Insert(id, []float32{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	idx.Delete(id)
	if err := idx.Insert(id, []float32{4, 5, 6}); err != nil {
		t.Fatal(err)
	}

	results, err := idx.Search([]float32{4, 5, 6}, 1, SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != id {
		t.Fatalf("expected re-added id to be searchable, got %v", results)
	}
}

func TestDimensionAwareSearchRespectsExactDimensions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DimensionAware = true
	idx := New(cfg)

	for i := 0; i < 10; i++ {
		idx.Insert(vectorstore.StringID(string(rune('a'+i))), []float32{float32(i), 0, 0})
	}
	for i := 0; i < 10; i++ {
		idx.Insert(vectorstore.IntID(uint64(i)), []float32{float32(i), 0, 0, 0, 0})
	}

	results, err := idx.Search([]float32{0, 0, 0}, 5, SearchOptions{ExactDimensions: true})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		node := idx.nodes[r.ID]
		if node.Dimension() != 3 {
			t.Fatalf("expected exact_dimensions search to only return dim-3 nodes, got dim %d", node.Dimension())
		}
	}
}

func TestSearchAppliesUserFilter(t *testing.T) {
	idx := New(DefaultConfig())
	idA := vectorstore.StringID("a")
	idB := vectorstore.StringID("b")
	idx.Insert(idA, []float32{0, 0})
	idx.Insert(idB, []float32{0.1, 0.1})

	results, err := idx.Search([]float32{0, 0}, 5, SearchOptions{
		Filter: func(id vectorstore.ID) bool { return id != idA },
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ID == idA {
			t.Fatal("expected filter to exclude idA")
		}
	}
}

func TestBuildFromScratchReportsProgress(t *testing.T) {
	idx := New(DefaultConfig())
	entries := make([]vectorstore.Entry, 50)
	for i := range entries {
		entries[i] = vectorstore.Entry{ID: vectorstore.IntID(uint64(i)), Vector: []float32{float32(i), 0}}
	}

	var lastFraction float64
	calls := 0
	err := idx.BuildFromScratch(entries, func(fraction float64) {
		calls++
		lastFraction = fraction
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls == 0 {
		t.Fatal("expected at least one progress callback")
	}
	if lastFraction != 1.0 {
		t.Fatalf("expected final progress fraction to be 1.0, got %f", lastFraction)
	}
	if idx.Size() != 50 {
		t.Fatalf("expected 50 nodes after build, got %d", idx.Size())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	idx := New(DefaultConfig())
	idx.Insert(vectorstore.StringID("a"), []float32{1, 2, 3})
	idx.Insert(vectorstore.StringID("b"), []float32{4, 5, 6})
	idx.Insert(vectorstore.StringID("c"), []float32{7, 8, 9})

	if err := idx.Save(dir); err != nil {
		t.Fatal(err)
	}

	reloaded := New(DefaultConfig())
	if err := reloaded.Load(dir); err != nil {
		t.Fatal(err)
	}
	if reloaded.Size() != 3 {
		t.Fatalf("expected 3 nodes after reload, got %d", reloaded.Size())
	}

	results, err := reloaded.Search([]float32{1, 2, 3}, 1, SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != vectorstore.StringID("a") {
		t.Fatalf("expected reloaded graph to find 'a', got %v", results)
	}
}

func TestSaveElidesTombstonedNodes(t *testing.T) {
	dir := t.TempDir()
	idx := New(DefaultConfig())
	idA := vectorstore.StringID("a")
	idx.Insert(idA, []float32{1, 2})
	idx.Insert(vectorstore.StringID("b"), []float32{3, 4})
	idx.Delete(idA)

	if err := idx.Save(dir); err != nil {
		t.Fatal(err)
	}

	reloaded := New(DefaultConfig())
	if err := reloaded.Load(dir); err != nil {
		t.Fatal(err)
	}
	if reloaded.Size() != 1 {
		t.Fatalf("expected tombstoned node to be elided, got size %d", reloaded.Size())
	}
}

func TestNeighborConnectionsStaySymmetric(t *testing.T) {
	cfg := DefaultConfig()
	cfg.M = 4
	cfg.EfConstruction = 16
	idx := New(cfg)

	for i := 0; i < 200; i++ {
		v := []float32{float32(i % 17), float32(i % 13), float32(i % 7)}
		if err := idx.Insert(vectorstore.IntID(uint64(i)), v); err != nil {
			t.Fatal(err)
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for id, node := range idx.nodes {
		for lvl := 0; lvl <= node.Level(); lvl++ {
			for _, nbID := range node.neighborsAt(lvl) {
				nb := idx.nodes[nbID]
				if nb == nil {
					t.Fatalf("node %v references unknown neighbor %v at level %d", id, nbID, lvl)
				}
				back := false
				for _, rev := range nb.neighborsAt(lvl) {
					if rev == id {
						back = true
						break
					}
				}
				if !back {
					t.Fatalf("asymmetric edge: %v -> %v at level %d has no reverse", id, nbID, lvl)
				}
			}
		}
	}
}
