package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/N2FlowJS/nbase-sub001/pkg/config"
	"github.com/N2FlowJS/nbase-sub001/pkg/nbase"
	"github.com/N2FlowJS/nbase-sub001/pkg/observability"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	os.Exit(run())
}

// run does the work and returns the process exit code: 0 on normal
// shutdown, 1 on fatal init failure.
func run() int {
	var (
		showVersion = flag.Bool("version", false, "show version and exit")
		showHelp    = flag.Bool("help", false, "show help and exit")
		dbPath      = flag.String("db-path", "", "data directory (overrides NBASE_DB_PATH/config)")
		saveMS      = flag.Int("save-interval-ms", -1, "auto-save interval in milliseconds, 0 disables (overrides config)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("nbase v%s (commit: %s)\n", version, commit)
		return 0
	}
	if *showHelp {
		showUsage()
		return 0
	}

	printBanner()

	cfg := config.LoadFromEnv()
	if *dbPath != "" {
		cfg.Persistence.DBPath = *dbPath
	}
	if *saveMS >= 0 {
		cfg.Events.SaveIntervalMS = *saveMS
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	db, err := nbase.Open(cfg)
	if err != nil {
		observability.Error("failed to open database", map[string]interface{}{"err": err})
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return 1
	}

	printStartupInfo(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	fmt.Println("nbase is ready. Press Ctrl+C to stop.")
	sig := <-sigChan
	observability.Info("received signal, shutting down", map[string]interface{}{"signal": sig.String()})

	if err := db.Close(); err != nil {
		observability.Error("error during shutdown", map[string]interface{}{"err": err})
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
		return 1
	}
	observability.Info("shut down cleanly")
	return 0
}

func printBanner() {
	banner := `
 _ __ | |__   __ _ ___  ___
| '_ \| '_ \ / _` + "`" + ` / __|/ _ \
| | | | |_) | (_| \__ \  __/
|_| |_|_.__/ \__,_|___/\___|

embeddable vector database
`
	fmt.Println(banner)
	fmt.Printf("version %s (commit %s)\n\n", version, commit)
}

func printStartupInfo(cfg *config.Config) {
	fmt.Println("configuration:")
	fmt.Printf("  persistence.db_path:              %s\n", cfg.Persistence.DBPath)
	fmt.Printf("  persistence.compression:          %v\n", cfg.Persistence.Compression)
	fmt.Printf("  partition_manager.max_active:     %d\n", cfg.PartitionManager.MaxActivePartitions)
	fmt.Printf("  partition_manager.capacity:       %d\n", cfg.PartitionManager.PartitionCapacity)
	fmt.Printf("  hnsw.m:                           %d\n", cfg.HNSW.M)
	fmt.Printf("  hnsw.ef_construction:             %d\n", cfg.HNSW.EfConstruction)
	fmt.Printf("  hnsw.ef_search:                   %d\n", cfg.HNSW.EfSearch)
	fmt.Printf("  coordinator.max_concurrent:       %d\n", cfg.Coordinator.MaxConcurrentSearches)
	fmt.Printf("  coordinator.cache_size:           %d\n", cfg.Coordinator.CacheSize)
	fmt.Printf("  events.save_interval_ms:          %d\n", cfg.Events.SaveIntervalMS)
	fmt.Printf("  logging.level:                    %s\n", cfg.Logging.Level)
	fmt.Println()
}

func showUsage() {
	fmt.Println("nbase - embeddable vector database")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  nbase [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -help                  Show this help message")
	fmt.Println("  -version               Show version information")
	fmt.Println("  -db-path PATH          Data directory (overrides NBASE_DB_PATH)")
	fmt.Println("  -save-interval-ms MS   Auto-save interval, 0 disables")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  NBASE_DB_PATH                  Data directory")
	fmt.Println("  NBASE_COMPRESSION              Compress snapshots (true/false)")
	fmt.Println("  NBASE_MAX_ACTIVE_PARTITIONS    LRU capacity for loaded partitions")
	fmt.Println("  NBASE_PARTITION_CAPACITY       Vectors per partition before rollover")
	fmt.Println("  NBASE_AUTO_CREATE              Auto-create first partition (true/false)")
	fmt.Println("  NBASE_CLUSTER_TARGET_SIZE      Target cluster size")
	fmt.Println("  NBASE_CLUSTER_THRESHOLD_FACTOR Cluster split threshold factor")
	fmt.Println("  NBASE_CLUSTER_MAX_CLUSTERS     Max clusters per partition")
	fmt.Println("  NBASE_HNSW_M                   HNSW M parameter")
	fmt.Println("  NBASE_HNSW_EF_CONSTRUCTION     HNSW efConstruction")
	fmt.Println("  NBASE_HNSW_EF_SEARCH           HNSW default efSearch")
	fmt.Println("  NBASE_MAX_CONCURRENT_SEARCHES  Coordinator concurrency cap")
	fmt.Println("  NBASE_CACHE_SIZE               Coordinator result cache size")
	fmt.Println("  NBASE_DEFAULT_K                Default search result count")
	fmt.Println("  NBASE_SAVE_INTERVAL_MS         Auto-save interval in milliseconds")
	fmt.Println("  NBASE_LOG_LEVEL                Log level: debug, info, warn, error, fatal")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  nbase")
	fmt.Println("  nbase -db-path /var/lib/nbase")
	fmt.Println("  NBASE_HNSW_M=32 nbase")
	fmt.Println()
}
