package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Config holds every tunable knob for an embedded nbase instance.
type Config struct {
	Persistence      PersistenceConfig
	PartitionManager PartitionManagerConfig
	Cluster          ClusterConfig
	HNSW             HNSWConfig
	Coordinator      CoordinatorConfig
	Events           EventsConfig
	Logging          LoggingConfig
}

// PersistenceConfig controls where and how partitions hit disk.
type PersistenceConfig struct {
	DBPath      string // root data directory (default: "./data")
	Compression bool   // gzip-compress vector store snapshots (default: true)
}

// PartitionManagerConfig controls partition lifecycle and residency.
type PartitionManagerConfig struct {
	MaxActivePartitions int  // LRU capacity for loaded partitions (default: 3)
	PartitionCapacity   int  // vectors per partition before rollover (default: 100000)
	AutoCreate          bool // create the first partition on first insert (default: true)
}

// ClusterConfig controls the in-partition clustered index.
type ClusterConfig struct {
	TargetSize        int     // default 100
	ThresholdFactor   float64 // default 1.5
	DistanceThreshold float32 // default 0.5
	MaxClusters       int     // default 256
}

// HNSWConfig controls the optional HNSW graph index.
type HNSWConfig struct {
	M                int     // max out-degree per level above 0 (default 16)
	EfConstruction   int     // candidate list size while inserting (default 200)
	EfSearch         int     // default candidate list size while searching (default 50)
	MaxLevel         int     // hard cap on a node's level (default 16)
	LevelProbability float64 // level-up probability (default 0.5)
	DimensionAware   bool    // keep dimension groups free of cross-dimension edges
}

// CoordinatorConfig controls the unified search entry point.
type CoordinatorConfig struct {
	MaxConcurrentSearches int     // default max(1, NumCPU-1)
	CacheSize             int     // default 1000
	DefaultK              int     // default 10
	RerankLambda          float64 // MMR tradeoff, default 0.7
}

// EventsConfig controls the interval auto-save loop (an events.AutoSaver
// ticker started by nbase.Open).
type EventsConfig struct {
	SaveIntervalMS int // default 60000; 0 disables auto-save
}

// LoggingConfig controls the global logger installed at startup.
type LoggingConfig struct {
	Level string // "debug", "info", "warn", "error", "fatal" (default "info")
}

func defaultMaxConcurrentSearches() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Persistence: PersistenceConfig{
			DBPath:      "./data",
			Compression: true,
		},
		PartitionManager: PartitionManagerConfig{
			MaxActivePartitions: 3,
			PartitionCapacity:   100000,
			AutoCreate:          true,
		},
		Cluster: ClusterConfig{
			TargetSize:        100,
			ThresholdFactor:   1.5,
			DistanceThreshold: 0.5,
			MaxClusters:       256,
		},
		HNSW: HNSWConfig{
			M:                16,
			EfConstruction:   200,
			EfSearch:         50,
			MaxLevel:         16,
			LevelProbability: 0.5,
			DimensionAware:   true,
		},
		Coordinator: CoordinatorConfig{
			MaxConcurrentSearches: defaultMaxConcurrentSearches(),
			CacheSize:             1000,
			DefaultK:              10,
			RerankLambda:          0.7,
		},
		Events: EventsConfig{
			SaveIntervalMS: 60000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables, starting
// from Default() for anything not set. No flag/file merge layer is
// provided; callers compose those themselves if they need them.
func LoadFromEnv() *Config {
	cfg := Default()

	if v := os.Getenv("NBASE_DB_PATH"); v != "" {
		cfg.Persistence.DBPath = v
	}
	if v := os.Getenv("NBASE_COMPRESSION"); v != "" {
		cfg.Persistence.Compression = v == "true"
	}

	if v := os.Getenv("NBASE_MAX_ACTIVE_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PartitionManager.MaxActivePartitions = n
		}
	}
	if v := os.Getenv("NBASE_PARTITION_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PartitionManager.PartitionCapacity = n
		}
	}
	if v := os.Getenv("NBASE_AUTO_CREATE"); v != "" {
		cfg.PartitionManager.AutoCreate = v == "true"
	}

	if v := os.Getenv("NBASE_CLUSTER_TARGET_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cluster.TargetSize = n
		}
	}
	if v := os.Getenv("NBASE_CLUSTER_THRESHOLD_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cluster.ThresholdFactor = f
		}
	}
	if v := os.Getenv("NBASE_CLUSTER_MAX_CLUSTERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cluster.MaxClusters = n
		}
	}

	if v := os.Getenv("NBASE_HNSW_M"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HNSW.M = n
		}
	}
	if v := os.Getenv("NBASE_HNSW_EF_CONSTRUCTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HNSW.EfConstruction = n
		}
	}
	if v := os.Getenv("NBASE_HNSW_EF_SEARCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HNSW.EfSearch = n
		}
	}

	if v := os.Getenv("NBASE_MAX_CONCURRENT_SEARCHES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Coordinator.MaxConcurrentSearches = n
		}
	}
	if v := os.Getenv("NBASE_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Coordinator.CacheSize = n
		}
	}
	if v := os.Getenv("NBASE_DEFAULT_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Coordinator.DefaultK = n
		}
	}

	if v := os.Getenv("NBASE_SAVE_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Events.SaveIntervalMS = n
		}
	}

	if v := os.Getenv("NBASE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg
}

// Validate checks the configuration for values the rest of the system
// cannot safely run with.
func (c *Config) Validate() error {
	if c.Persistence.DBPath == "" {
		return fmt.Errorf("persistence: data directory not specified")
	}

	if c.PartitionManager.MaxActivePartitions < 1 {
		return fmt.Errorf("partition manager: max active partitions must be > 0, got %d", c.PartitionManager.MaxActivePartitions)
	}
	if c.PartitionManager.PartitionCapacity < 1 {
		return fmt.Errorf("partition manager: partition capacity must be > 0, got %d", c.PartitionManager.PartitionCapacity)
	}

	if c.Cluster.TargetSize < 1 {
		return fmt.Errorf("cluster: target size must be > 0, got %d", c.Cluster.TargetSize)
	}
	if c.Cluster.MaxClusters < 1 {
		return fmt.Errorf("cluster: max clusters must be > 0, got %d", c.Cluster.MaxClusters)
	}

	if c.HNSW.M < 2 || c.HNSW.M > 100 {
		return fmt.Errorf("hnsw: invalid M %d (recommended: 16)", c.HNSW.M)
	}
	if c.HNSW.EfConstruction < 1 {
		return fmt.Errorf("hnsw: efConstruction must be > 0, got %d", c.HNSW.EfConstruction)
	}
	if c.HNSW.LevelProbability <= 0 || c.HNSW.LevelProbability >= 1 {
		return fmt.Errorf("hnsw: level probability must be in (0, 1), got %g", c.HNSW.LevelProbability)
	}

	if c.Coordinator.MaxConcurrentSearches < 1 {
		return fmt.Errorf("coordinator: max concurrent searches must be > 0, got %d", c.Coordinator.MaxConcurrentSearches)
	}
	if c.Coordinator.CacheSize < 1 {
		return fmt.Errorf("coordinator: cache size must be > 0, got %d", c.Coordinator.CacheSize)
	}
	if c.Coordinator.DefaultK < 1 {
		return fmt.Errorf("coordinator: default k must be > 0, got %d", c.Coordinator.DefaultK)
	}
	if c.Coordinator.RerankLambda < 0 || c.Coordinator.RerankLambda > 1 {
		return fmt.Errorf("coordinator: rerank lambda must be in [0, 1], got %g", c.Coordinator.RerankLambda)
	}

	if c.Events.SaveIntervalMS < 0 {
		return fmt.Errorf("events: save interval must be >= 0, got %d", c.Events.SaveIntervalMS)
	}

	return nil
}
