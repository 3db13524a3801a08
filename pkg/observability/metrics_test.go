package observability

import (
	"testing"
	"time"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	t.Run("NewMetrics", func(t *testing.T) {
		if m == nil {
			t.Fatal("NewMetrics returned nil")
		}
		if m.VectorsInserted == nil {
			t.Error("VectorsInserted not initialized")
		}
		if m.CacheHits == nil {
			t.Error("CacheHits not initialized")
		}
		if m.PartitionsLoaded == nil {
			t.Error("PartitionsLoaded not initialized")
		}
	})

	t.Run("RecordInsert", func(t *testing.T) {
		m.RecordInsert("default", 1)
		for i := 0; i < 100; i++ {
			m.RecordInsert("default", 1)
		}
		m.RecordInsert("p2", 1000)
	})

	t.Run("RecordDelete", func(t *testing.T) {
		m.RecordDelete("default", 1)
		for i := 0; i < 50; i++ {
			m.RecordDelete("default", 1)
		}
	})

	t.Run("RecordSearch", func(t *testing.T) {
		m.RecordSearch(50*time.Millisecond, 10)
		m.RecordSearch(100*time.Millisecond, 25)
		for i := 1; i <= 100; i += 10 {
			m.RecordSearch(time.Millisecond*time.Duration(i), i)
		}
	})

	t.Run("UpdateIndexSize", func(t *testing.T) {
		m.UpdateIndexSize("p1", 1000)
		m.UpdateIndexSize("p2", 50000)
		m.UpdateIndexSize("p1", 1500)
	})

	t.Run("UpdateIndexMemory", func(t *testing.T) {
		m.UpdateIndexMemory("p1", 1024*1024*100)
		m.UpdateIndexMemory("p2", 1024*1024*1024)
	})

	t.Run("UpdateIndexMaxLayer", func(t *testing.T) {
		m.UpdateIndexMaxLayer("p1", 5)
		m.UpdateIndexMaxLayer("p2", 8)
	})

	t.Run("UpdateHNSWTombstones", func(t *testing.T) {
		m.UpdateHNSWTombstones("p1", 3)
		m.UpdateHNSWTombstones("p2", 0)
	})

	t.Run("CacheMetrics", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			m.RecordCacheHit()
		}
		for i := 0; i < 50; i++ {
			m.RecordCacheMiss()
		}
		m.UpdateCacheSize(100)
		m.UpdateCacheSize(500)
	})

	t.Run("BatchMetrics", func(t *testing.T) {
		m.RecordBatchInsert(500*time.Millisecond, 100)
		m.RecordBatchInsert(5*time.Second, 1000)
		m.RecordBatchDelete(200*time.Millisecond, 50)
		m.RecordBatchDelete(2*time.Second, 500)
	})

	t.Run("PartitionManagerMetrics", func(t *testing.T) {
		m.UpdatePartitionsLoaded(3)
		m.RecordLRUEviction()
		m.RecordLRUEviction()
		m.UpdatePartitionsLoaded(2)
	})

	t.Run("SystemMetrics", func(t *testing.T) {
		m.UpdateGoroutineCount(100)
		m.UpdateMemoryUsage(1024 * 1024 * 512)
		for i := 0; i < 10; i++ {
			m.UpdateGoroutineCount(100 + i*10)
		}
	})
}

func TestConcurrentMetricUpdates(t *testing.T) {
	m := NewMetrics()
	done := make(chan bool, 10)

	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 10; j++ {
				m.RecordCacheHit()
				m.RecordInsert("p1", 1)
			}
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func BenchmarkRecordSearch(b *testing.B) {
	m := NewMetrics()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.RecordSearch(10*time.Millisecond, 10)
	}
}

func BenchmarkUpdateIndexSize(b *testing.B) {
	m := NewMetrics()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.UpdateIndexSize("p1", i)
	}
}
