// Package coordinator is the unified search entry point: it picks HNSW
// or clustered search, fans a query out across partitions, merges and
// optionally reranks the hits, hydrates metadata, and caches the final
// list behind a concurrency cap.
package coordinator

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/N2FlowJS/nbase-sub001/pkg/dberrors"
	"github.com/N2FlowJS/nbase-sub001/pkg/events"
	"github.com/N2FlowJS/nbase-sub001/pkg/observability"
	"github.com/N2FlowJS/nbase-sub001/pkg/partitionmgr"
	"github.com/N2FlowJS/nbase-sub001/pkg/vectorstore"
)

// RerankMethod selects the optional post-search reordering.
type RerankMethod string

const (
	RerankNone     RerankMethod = ""
	RerankMMR      RerankMethod = "mmr"
	RerankWeighted RerankMethod = "weighted"
)

// Config tunes the coordinator.
type Config struct {
	MaxConcurrentSearches int     // default max(1, NumCPU-1)
	CacheSize             int     // default 1000
	DefaultK              int     // result count when a search leaves K unset, default 10
	RerankLambda          float64 // MMR tradeoff when a search leaves RerankLambda unset, default 0.7
	Logger                *observability.Logger
	Metrics               *observability.Metrics
	Events                *events.Bus
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	max := runtime.NumCPU() - 1
	if max < 1 {
		max = 1
	}
	return Config{MaxConcurrentSearches: max, CacheSize: 1000, DefaultK: 10, RerankLambda: 0.7}
}

// Coordinator composes a partition manager with a result cache and a
// concurrency cap.
type Coordinator struct {
	manager *partitionmgr.Manager
	cfg     Config
	logger  *observability.Logger
	metrics *observability.Metrics
	events  *events.Bus

	sem   *semaphore.Weighted
	freed chan struct{} // non-blocking pulse on every release

	cache *resultCache
}

// New builds a Coordinator around an already-constructed partition
// manager.
func New(manager *partitionmgr.Manager, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.MaxConcurrentSearches <= 0 {
		cfg.MaxConcurrentSearches = def.MaxConcurrentSearches
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = def.DefaultK
	}
	if cfg.RerankLambda <= 0 || cfg.RerankLambda > 1 {
		cfg.RerankLambda = def.RerankLambda
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.GetGlobalLogger().WithField("component", "coordinator")
	}
	return &Coordinator{
		manager: manager,
		cfg:     cfg,
		logger:  logger,
		metrics: cfg.Metrics,
		events:  cfg.Events,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentSearches)),
		freed:   make(chan struct{}, cfg.MaxConcurrentSearches),
		cache:   newResultCache(cfg.CacheSize),
	}
}

// Result is one ranked hit, optionally hydrated with its vector and/or
// metadata.
type Result struct {
	PartitionID string
	ID          vectorstore.ID
	Distance    float32
	Score       float64 // set by a rerank pass; equals float64(Distance) otherwise
	Vector      []float32
	Metadata    map[string]any
}

// SearchOptions mirrors the coordinator's documented input set.
type SearchOptions struct {
	K               int
	UseHNSW         bool
	Rerank          bool
	RerankMethod    RerankMethod
	RerankLambda    float64            // MMR tradeoff, default 0.7
	WeightedFields  map[string]float64 // metadata field -> weight, for RerankWeighted
	Filter          func(id vectorstore.ID) bool
	IncludeMetadata bool
	// DistanceMetric picks the kernel the rerank step uses to compare
	// hydrated vectors ("euclidean", the default, or "cosine"). It does
	// not change how partitions themselves score candidates: each
	// partition's metric is fixed at construction, so a mismatch here
	// only affects relative ordering within a rerank pass.
	DistanceMetric string
	PartitionIDs   []string
	EfSearch       int
	// ExactDimensions restricts an HNSW search to start from (and, in
	// dimension-aware indexes, stay within) the entry point for the
	// query's own dimension rather than the global entry point.
	ExactDimensions bool
	SearchTimeoutMs int
	SkipCache       bool
}

func (c *Coordinator) resolveK(opts SearchOptions) int {
	if opts.K <= 0 {
		return c.cfg.DefaultK
	}
	return opts.K
}

func (c *Coordinator) resolveLambda(opts SearchOptions) float64 {
	if opts.RerankLambda == 0 {
		return c.cfg.RerankLambda
	}
	return opts.RerankLambda
}

// Search runs method-select -> fan-out -> rerank -> hydrate -> cache.
func (c *Coordinator) Search(query []float32, opts SearchOptions) ([]Result, error) {
	start := time.Now()
	k := c.resolveK(opts)
	lambda := c.resolveLambda(opts)

	var key cacheKey
	if !opts.SkipCache {
		key = buildCacheKey(query, opts, k, lambda)
		if cached, ok := c.cache.Get(key); ok {
			if c.metrics != nil {
				c.metrics.RecordCacheHit()
			}
			out := make([]Result, len(cached))
			copy(out, cached)
			return out, nil
		}
		if c.metrics != nil {
			c.metrics.RecordCacheMiss()
		}
	}

	ctx := context.Background()
	if opts.SearchTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.SearchTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	results, err := c.runSearch(ctx, query, k, opts)
	if err != nil {
		c.emit(events.SearchError, map[string]any{"err": err})
		return nil, err
	}

	if opts.Rerank && len(results) > 1 {
		results = c.rerank(query, results, opts, k, lambda)
	}
	if opts.IncludeMetadata {
		c.hydrateMetadata(results)
	}
	if !opts.SkipCache {
		cached := make([]Result, len(results))
		copy(cached, results)
		c.cache.Put(key, cached)
		if c.metrics != nil {
			c.metrics.UpdateCacheSize(c.cache.Len())
		}
	}

	if c.metrics != nil {
		c.metrics.RecordSearch(time.Since(start), len(results))
	}
	c.emit(events.SearchComplete, map[string]any{
		"k": k, "results": len(results), "duration_ms": time.Since(start).Milliseconds(),
	})
	return results, nil
}

// InvalidateCache drops every cached result list. Called by the
// database facade's event handler on a mutating event.
func (c *Coordinator) InvalidateCache() {
	c.cache.Clear()
	if c.metrics != nil {
		c.metrics.UpdateCacheSize(0)
	}
}

// CacheStats reports the result cache's cumulative hit/miss counters.
func (c *Coordinator) CacheStats() (hits, misses int64) { return c.cache.Stats() }

// CacheLen reports how many result lists are currently cached.
func (c *Coordinator) CacheLen() int { return c.cache.Len() }

func (c *Coordinator) emit(t events.Type, payload map[string]any) {
	if c.events != nil {
		c.events.Emit(events.Event{Type: t, Payload: payload})
	}
}

func (c *Coordinator) runSearch(ctx context.Context, query []float32, k int, opts SearchOptions) ([]Result, error) {
	type fanOut struct {
		hits []partitionmgr.PartitionScoredID
		err  error
	}
	done := make(chan fanOut, 1)

	go func() {
		if opts.UseHNSW {
			hits, err := c.manager.FindNearestHNSW(query, partitionmgr.HNSWFindOptions{
				K: k, EfSearch: opts.EfSearch, Filter: opts.Filter, PartitionIDs: opts.PartitionIDs,
				ExactDimensions: opts.ExactDimensions,
			})
			done <- fanOut{hits: hits, err: err}
			return
		}
		var filter func(vectorstore.ID, map[string]any) bool
		if opts.Filter != nil {
			filter = func(id vectorstore.ID, _ map[string]any) bool { return opts.Filter(id) }
		}
		hits, err := c.manager.FindNearest(query, partitionmgr.FindOptions{
			K: k, Filter: filter, PartitionIDs: opts.PartitionIDs,
		})
		done <- fanOut{hits: hits, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		out := make([]Result, len(r.hits))
		for i, h := range r.hits {
			out[i] = Result{PartitionID: h.PartitionID, ID: h.ID, Distance: h.Distance, Score: float64(h.Distance)}
		}
		return out, nil
	case <-ctx.Done():
		// The fan-out goroutine is left to finish on its own; its result
		// is discarded. Partition-level operations don't accept a
		// context, so this is a best-effort cancellation at the
		// coordinator boundary, not a hard stop of in-flight I/O.
		return nil, dberrors.E("coordinator.search", dberrors.Timeout, ctx.Err())
	}
}

// acquire enforces max_concurrent_searches: try immediately, else wait
// for exactly one release signal and try once more, failing Overloaded
// if another waiter won that freed slot first.
func (c *Coordinator) acquire(ctx context.Context) error {
	if c.sem.TryAcquire(1) {
		return nil
	}
	select {
	case <-c.freed:
	case <-ctx.Done():
		return dberrors.E("coordinator.search", dberrors.Timeout, ctx.Err())
	}
	if c.sem.TryAcquire(1) {
		return nil
	}
	return dberrors.E("coordinator.search", dberrors.Overloaded, dberrors.ErrOverloaded)
}

func (c *Coordinator) release() {
	c.sem.Release(1)
	select {
	case c.freed <- struct{}{}:
	default:
	}
}

func (c *Coordinator) hydrateMetadata(results []Result) {
	for i := range results {
		if results[i].Metadata != nil {
			continue
		}
		p, err := c.manager.Partition(results[i].PartitionID)
		if err != nil {
			continue
		}
		if meta, ok := p.GetMetadata(results[i].ID); ok {
			results[i].Metadata = meta
		}
	}
}

func (c *Coordinator) hydrateVectors(results []Result) {
	for i := range results {
		if results[i].Vector != nil {
			continue
		}
		p, err := c.manager.Partition(results[i].PartitionID)
		if err != nil {
			continue
		}
		if v, ok := p.Get(results[i].ID); ok {
			results[i].Vector = v
		}
	}
}
