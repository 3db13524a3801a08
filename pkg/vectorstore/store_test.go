package vectorstore

import (
	"os"
	"testing"

	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
)

func TestAddAutoIDStrictlyIncreasing(t *testing.T) {
	s := New(Config{})

	id1, err := s.Add(nil, []float32{1, 2, 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.Add(nil, []float32{4, 5, 6}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if id1.IsString() || id2.IsString() {
		t.Fatal("expected auto-assigned integer ids")
	}
	if id2.Int() <= id1.Int() {
		t.Fatalf("expected strictly increasing ids, got %d then %d", id1.Int(), id2.Int())
	}
}

func TestAddRejectsEmptyVector(t *testing.T) {
	s := New(Config{})
	if _, err := s.Add(nil, nil, nil); dberrors.KindOf(err) != dberrors.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestGetHasDelete(t *testing.T) {
	s := New(Config{})
	id, _ := s.Add(nil, []float32{1, 2}, map[string]any{"tag": "a"})

	if !s.Has(id) {
		t.Fatal("expected id present")
	}
	v, ok := s.Get(id)
	if !ok || len(v) != 2 {
		t.Fatalf("Get returned %v, %v", v, ok)
	}
	m, ok := s.GetMetadata(id)
	if !ok || m["tag"] != "a" {
		t.Fatalf("GetMetadata returned %v, %v", m, ok)
	}

	if !s.Delete(id) {
		t.Fatal("expected delete to succeed")
	}
	if s.Has(id) {
		t.Fatal("expected id gone after delete")
	}
	if s.Delete(id) {
		t.Fatal("expected second delete to report false")
	}
}

func TestReAddAfterDelete(t *testing.T) {
	s := New(Config{})
	id := StringID("x")

	if _, err := s.Add(&id, []float32{1, 2, 3}, nil); err != nil {
		t.Fatal(err)
	}
	if !s.Delete(id) {
		t.Fatal("expected delete to succeed")
	}
	if s.Has(id) {
		t.Fatal("expected id absent")
	}
	if _, err := s.Add(&id, []float32{4, 5, 6}, nil); err != nil {
		t.Fatal(err)
	}
	if !s.Has(id) {
		t.Fatal("expected re-added id present")
	}
}

func TestUpdateReportsDimensionChange(t *testing.T) {
	s := New(Config{})
	id, _ := s.Add(nil, []float32{1, 2, 3}, nil)

	changed, err := s.Update(id, []float32{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatal("expected dimension change to be reported")
	}

	changed, err = s.Update(id, []float32{9, 9})
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("expected no dimension change on same-length update")
	}
}

func TestBulkAddReturnsIDsInOrder(t *testing.T) {
	s := New(Config{})
	items := []BulkItem{
		{Vector: []float32{1}},
		{Vector: []float32{2}},
		{Vector: []float32{3}},
	}

	ids, err := s.BulkAdd(items)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i].Int() <= ids[i-1].Int() {
			t.Fatalf("expected strictly increasing bulk ids: %v", ids)
		}
	}
}

func TestCloseRejectsSubsequentWrites(t *testing.T) {
	s := New(Config{})
	s.Close()

	if _, err := s.Add(nil, []float32{1}, nil); dberrors.KindOf(err) != dberrors.Closed {
		t.Fatalf("expected Closed, got %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New(Config{Dir: dir})

	idA := StringID("alpha")
	s.Add(&idA, []float32{1, 2, 3}, map[string]any{"k": "v"})
	s.Add(nil, []float32{4, 5}, nil)

	if err := s.Save(); err != nil {
		t.Fatal(err)
	}

	reopened := New(Config{Dir: dir})
	if err := reopened.Load(); err != nil {
		t.Fatal(err)
	}

	if reopened.Size() != 2 {
		t.Fatalf("expected 2 vectors after reload, got %d", reopened.Size())
	}
	v, ok := reopened.Get(idA)
	if !ok || len(v) != 3 {
		t.Fatalf("expected reloaded vector for %v, got %v %v", idA, v, ok)
	}
	m, ok := reopened.GetMetadata(idA)
	if !ok || m["k"] != "v" {
		t.Fatalf("expected reloaded metadata for %v, got %v", idA, m)
	}
}

func TestLoadMissingFilesIsNotError(t *testing.T) {
	dir := t.TempDir()
	os.RemoveAll(dir) // directory does not even exist yet
	s := New(Config{Dir: dir})

	if err := s.Load(); err != nil {
		t.Fatalf("expected no error loading an absent store, got %v", err)
	}
	if s.Size() != 0 {
		t.Fatal("expected empty store")
	}
}
