package partitionmgr

import (
	"path/filepath"
	"testing"

	"github.com/N2FlowJS/nbase-sub001/pkg/cluster"
	"github.com/N2FlowJS/nbase-sub001/pkg/hnsw"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

func newTestManager(t *testing.T, dir string, maxActive, capacity int) *Manager {
	t.Helper()
	m, err := New(Config{
		PartitionsDir:       filepath.Join(dir, "partitions"),
		MaxActivePartitions: maxActive,
		PartitionCapacity:   capacity,
		AutoCreate:          true,
		Cluster:             cluster.DefaultConfig(),
		HNSW:                hnsw.DefaultConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestAddVectorActivatesOnEmpty(t *testing.T) {
	m := newTestManager(t, t.TempDir(), 3, 100000)
	pid, id, err := m.AddVector(nil, []float32{1, 2, 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if pid == "" {
		t.Fatal("expected a partition id to be assigned")
	}
	if !m.HasVector(id) {
		t.Fatal("expected the vector to be findable right after add")
	}
	stats := m.GetStats()
	if stats.ActivePartition != pid {
		t.Fatalf("expected %q active, got %q", pid, stats.ActivePartition)
	}
}

func TestAddVectorRollsOverAtCapacity(t *testing.T) {
	m := newTestManager(t, t.TempDir(), 3, 2)
	res, err := m.BulkAdd([]BulkAddItem{
		{Vector: []float32{1, 1}},
		{Vector: []float32{2, 2}},
		{Vector: []float32{3, 3}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 3 {
		t.Fatalf("expected 3 inserted, got %d", res.Inserted)
	}
	if len(res.PartitionIDs) != 2 {
		t.Fatalf("expected rollover to touch 2 partitions, got %v", res.PartitionIDs)
	}

	var counts []int
	for _, pid := range res.PartitionIDs {
		m.mu.Lock()
		p, err := m.loadPartitionLocked(pid)
		m.mu.Unlock()
		if err != nil {
			t.Fatal(err)
		}
		counts = append(counts, p.Size())
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	if total != 3 {
		t.Fatalf("expected partition sizes to sum to 3, got %v", counts)
	}
}

func TestCreateAndSetActivePartition(t *testing.T) {
	m := newTestManager(t, t.TempDir(), 3, 100000)
	id, err := m.CreatePartition("mine", CreateOptions{Name: "mine"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "mine" {
		t.Fatalf("expected explicit id to be honored, got %q", id)
	}
	if err := m.SetActivePartition(id); err != nil {
		t.Fatal(err)
	}
	if m.GetStats().ActivePartition != id {
		t.Fatalf("expected %q to be active", id)
	}

	second, err := m.CreatePartition("", CreateOptions{Activate: true})
	if err != nil {
		t.Fatal(err)
	}
	if m.GetStats().ActivePartition != second {
		t.Fatalf("expected %q to be active after creating with Activate, got %q", second, m.GetStats().ActivePartition)
	}
}

func TestCreatePartitionRejectsInvalidID(t *testing.T) {
	m := newTestManager(t, t.TempDir(), 3, 100000)
	if _, err := m.CreatePartition("bad id!", CreateOptions{}); err == nil {
		t.Fatal("expected an invalid id to be rejected")
	}
}

func TestGetAndDeleteVectorScanLoadedPartitionsOnly(t *testing.T) {
	m := newTestManager(t, t.TempDir(), 3, 100000)
	_, id, err := m.AddVector(nil, []float32{5, 5}, map[string]any{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}

	v, ok := m.GetVector(id)
	if !ok || len(v) != 2 {
		t.Fatalf("expected vector back, got %v ok=%v", v, ok)
	}
	meta, ok := m.GetMetadata(id)
	if !ok || meta["k"] != "v" {
		t.Fatalf("expected metadata back, got %v", meta)
	}
	if !m.HasVector(id) {
		t.Fatal("expected HasVector true")
	}
	if !m.DeleteVector(id) {
		t.Fatal("expected delete to succeed")
	}
	if m.HasVector(id) {
		t.Fatal("expected vector gone after delete")
	}
}

func TestUpdateVectorAndMetadata(t *testing.T) {
	m := newTestManager(t, t.TempDir(), 3, 100000)
	_, id, err := m.AddVector(nil, []float32{1, 2}, map[string]any{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}

	ok, err := m.Update(id, []float32{9, 9, 9})
	if err != nil || !ok {
		t.Fatalf("expected update to succeed, ok=%v err=%v", ok, err)
	}
	v, found := m.GetVector(id)
	if !found || len(v) != 3 {
		t.Fatalf("expected the updated 3-dim vector back, got %v found=%v", v, found)
	}
	meta, found := m.GetMetadata(id)
	if !found || meta["k"] != "v" {
		t.Fatalf("expected metadata preserved across update, got %v", meta)
	}

	if err := m.SetMetadata(id, map[string]any{"k": "v2"}); err != nil {
		t.Fatal(err)
	}
	meta, _ = m.GetMetadata(id)
	if meta["k"] != "v2" {
		t.Fatalf("expected SetMetadata to overwrite, got %v", meta)
	}

	if err := m.UpdateMetadata(id, func(current map[string]any) map[string]any {
		current["count"] = 1
		return current
	}); err != nil {
		t.Fatal(err)
	}
	meta, _ = m.GetMetadata(id)
	if meta["k"] != "v2" || meta["count"] != 1 {
		t.Fatalf("expected UpdateMetadata to merge onto existing metadata, got %v", meta)
	}

	if _, err := m.Update(vectorstore.IntID(999999), []float32{1}); err == nil {
		t.Fatal("expected update of an unknown id to fail")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, dir, 3, 100000)
	_, id, err := m.AddVector(nil, []float32{1, 2}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Save(); err != nil {
		t.Fatal(err)
	}

	reloaded := newTestManager(t, dir, 3, 100000)
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if !reloaded.HasVector(id) {
		t.Fatal("expected the active partition to be pre-loaded with the vector intact")
	}
}

func TestLRUEvictionClosesPartition(t *testing.T) {
	m := newTestManager(t, t.TempDir(), 1, 100000)
	first, err := m.CreatePartition("first", CreateOptions{Activate: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.CreatePartition("second", CreateOptions{Activate: true}); err != nil {
		t.Fatal(err)
	}

	m.mu.Lock()
	_, resident := m.cache.Peek(first)
	m.mu.Unlock()
	if resident {
		t.Fatal("expected the first partition to have been evicted once capacity 1 was exceeded")
	}
}
