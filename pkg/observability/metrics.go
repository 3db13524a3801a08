package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for an embedded nbase instance.
// Each instance registers into its own Registry rather than the
// package-global default, so embedding applications (and tests) can
// open several databases in one process; a scrape endpoint exposes
// Registry via promhttp.HandlerFor.
type Metrics struct {
	Registry *prometheus.Registry

	// Vector operation metrics
	VectorsInserted prometheus.Counter
	VectorsDeleted  prometheus.Counter
	VectorsSearched prometheus.Counter

	// Index metrics, labeled by partition id
	IndexSize        *prometheus.GaugeVec
	IndexMemoryBytes *prometheus.GaugeVec
	IndexMaxLayer    *prometheus.GaugeVec
	HNSWTombstones   *prometheus.GaugeVec

	// Search metrics
	SearchLatency    prometheus.Histogram
	SearchResultSize prometheus.Histogram

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheSize   prometheus.Gauge

	// Batch operation metrics
	BatchInsertTotal    prometheus.Counter
	BatchInsertDuration prometheus.Histogram
	BatchDeleteTotal    prometheus.Counter
	BatchDeleteDuration prometheus.Histogram

	// Partition manager metrics
	PartitionsLoaded prometheus.Gauge
	LRUEvictions     prometheus.Counter

	// System metrics
	GoroutinesCount prometheus.Gauge
	MemoryUsage     prometheus.Gauge
}

// NewMetrics creates all Prometheus metrics, registered into a fresh
// Registry owned by the returned Metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		Registry: registry,
		VectorsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "nbase_vectors_inserted_total",
			Help: "Total number of vectors inserted",
		}),
		VectorsDeleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "nbase_vectors_deleted_total",
			Help: "Total number of vectors deleted",
		}),
		VectorsSearched: factory.NewCounter(prometheus.CounterOpts{
			Name: "nbase_vectors_searched_total",
			Help: "Total number of search operations",
		}),

		IndexSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nbase_index_size",
			Help: "Number of vectors in index by partition",
		}, []string{"partition"}),
		IndexMemoryBytes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nbase_index_memory_bytes",
			Help: "Estimated memory usage of an index by partition",
		}, []string{"partition"}),
		IndexMaxLayer: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nbase_index_max_layer",
			Help: "Maximum layer in the HNSW graph by partition",
		}, []string{"partition"}),
		HNSWTombstones: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "nbase_hnsw_tombstones",
			Help: "Number of soft-deleted (tombstoned) nodes in the HNSW graph by partition",
		}, []string{"partition"}),

		SearchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nbase_search_latency_seconds",
			Help:    "Search latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		SearchResultSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nbase_search_result_size",
			Help:    "Number of results returned by a search",
			Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
		}),

		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "nbase_cache_hits_total",
			Help: "Total number of search result cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "nbase_cache_misses_total",
			Help: "Total number of search result cache misses",
		}),
		CacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nbase_cache_size",
			Help: "Current number of entries in the search result cache",
		}),

		BatchInsertTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "nbase_batch_insert_total",
			Help: "Total number of bulk insert operations",
		}),
		BatchInsertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nbase_batch_insert_duration_seconds",
			Help:    "Bulk insert duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		BatchDeleteTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "nbase_batch_delete_total",
			Help: "Total number of bulk delete operations",
		}),
		BatchDeleteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nbase_batch_delete_duration_seconds",
			Help:    "Bulk delete duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		}),

		PartitionsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nbase_partitions_loaded",
			Help: "Current number of partitions resident in the manager's LRU",
		}),
		LRUEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "nbase_partition_lru_evictions_total",
			Help: "Total number of partitions evicted from the manager's LRU",
		}),

		GoroutinesCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nbase_goroutines",
			Help: "Current number of goroutines",
		}),
		MemoryUsage: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nbase_memory_bytes",
			Help: "Process memory usage in bytes",
		}),
	}
}

// RecordInsert adds count vector insertions; partition is not used.
func (m *Metrics) RecordInsert(partition string, count int) {
	m.VectorsInserted.Add(float64(count))
}

// RecordDelete adds count vector deletions; partition is not used.
func (m *Metrics) RecordDelete(partition string, count int) {
	m.VectorsDeleted.Add(float64(count))
}

// RecordSearch records a search operation.
func (m *Metrics) RecordSearch(duration time.Duration, resultSize int) {
	m.VectorsSearched.Inc()
	m.SearchLatency.Observe(duration.Seconds())
	m.SearchResultSize.Observe(float64(resultSize))
}

// RecordCacheHit records a search result cache hit.
func (m *Metrics) RecordCacheHit() {
	m.CacheHits.Inc()
}

// RecordCacheMiss records a search result cache miss.
func (m *Metrics) RecordCacheMiss() {
	m.CacheMisses.Inc()
}

// UpdateIndexSize updates the index size metric for a partition.
func (m *Metrics) UpdateIndexSize(partition string, size int) {
	m.IndexSize.WithLabelValues(partition).Set(float64(size))
}

// UpdateIndexMemory updates the index memory metric for a partition.
func (m *Metrics) UpdateIndexMemory(partition string, bytes int64) {
	m.IndexMemoryBytes.WithLabelValues(partition).Set(float64(bytes))
}

// UpdateIndexMaxLayer updates the HNSW max layer metric for a partition.
func (m *Metrics) UpdateIndexMaxLayer(partition string, maxLayer int) {
	m.IndexMaxLayer.WithLabelValues(partition).Set(float64(maxLayer))
}

// UpdateHNSWTombstones updates the HNSW tombstone count for a partition.
func (m *Metrics) UpdateHNSWTombstones(partition string, count int) {
	m.HNSWTombstones.WithLabelValues(partition).Set(float64(count))
}

// RecordBatchInsert records a bulk insert operation.
func (m *Metrics) RecordBatchInsert(duration time.Duration, count int) {
	m.BatchInsertTotal.Inc()
	m.BatchInsertDuration.Observe(duration.Seconds())
	m.VectorsInserted.Add(float64(count))
}

// RecordBatchDelete records a bulk delete operation.
func (m *Metrics) RecordBatchDelete(duration time.Duration, count int) {
	m.BatchDeleteTotal.Inc()
	m.BatchDeleteDuration.Observe(duration.Seconds())
	m.VectorsDeleted.Add(float64(count))
}

// UpdatePartitionsLoaded updates the resident-partition gauge.
func (m *Metrics) UpdatePartitionsLoaded(count int) {
	m.PartitionsLoaded.Set(float64(count))
}

// RecordLRUEviction records a partition being evicted from residency.
func (m *Metrics) RecordLRUEviction() {
	m.LRUEvictions.Inc()
}

// UpdateCacheSize updates the cache size gauge.
func (m *Metrics) UpdateCacheSize(size int) {
	m.CacheSize.Set(float64(size))
}

// UpdateGoroutineCount updates the goroutine count gauge.
func (m *Metrics) UpdateGoroutineCount(count int) {
	m.GoroutinesCount.Set(float64(count))
}

// UpdateMemoryUsage updates the process memory gauge.
func (m *Metrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}
