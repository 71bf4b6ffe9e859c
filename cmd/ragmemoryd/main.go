// Command ragmemoryd is the composition root for the ragmemory
// semantic memory engine. It loads configuration, wires every
// component (C1-C9), ensures the vector store collection exists, and
// runs a smoke self-check before exiting.
//
// There is no HTTP/RPC/MCP transport here: that is a separate concern
// layered on top of this engine. A caller that wants a served API
// embeds these packages directly rather than shelling out to this
// binary.
//
// Configuration is loaded from environment variables, optionally
// overlaid on a YAML file. See internal/config for details.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fyrsmithlabs/ragmemory/internal/config"
	"github.com/fyrsmithlabs/ragmemory/internal/embedcache"
	"github.com/fyrsmithlabs/ragmemory/internal/embeddings"
	"github.com/fyrsmithlabs/ragmemory/internal/indexer"
	"github.com/fyrsmithlabs/ragmemory/internal/logging"
	"github.com/fyrsmithlabs/ragmemory/internal/memory"
	"github.com/fyrsmithlabs/ragmemory/internal/parser"
	"github.com/fyrsmithlabs/ragmemory/internal/pool"
	"github.com/fyrsmithlabs/ragmemory/internal/query"
	"github.com/fyrsmithlabs/ragmemory/internal/vectorstore"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	embedWorker := flag.String("embed-worker", "", "internal: run as an embed-worker subprocess, consuming a JSON-encoded embeddings.ProviderConfig")
	flag.Parse()

	if *embedWorker != "" {
		if err := runEmbedWorker(*embedWorker); err != nil {
			fmt.Fprintf(os.Stderr, "ragmemoryd embed-worker: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if flag.NArg() > 0 && flag.Arg(0) == "version" {
		fmt.Printf("ragmemoryd %s (%s)\n", version, gitCommit)
		os.Exit(0)
	}

	ctx := context.Background()
	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "ragmemoryd: %v\n", err)
		os.Exit(1)
	}
}

// runEmbedWorker is the entry point re-invoked by embeddings.ProcessPool:
// the parent spawns this same binary with --embed-worker set to a
// JSON-encoded embeddings.ProviderConfig, and this process serves
// embedding requests over stdin/stdout until the parent closes stdin.
func runEmbedWorker(cfgJSON string) error {
	var cfg embeddings.ProviderConfig
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		return fmt.Errorf("decoding provider config: %w", err)
	}
	return embeddings.RunEmbedWorker(os.Stdin, os.Stdout, func() (embeddings.Provider, error) {
		return embeddings.NewProvider(cfg)
	})
}

// run loads configuration, constructs every component, ensures the
// collection exists, and exercises the store/retrieve/query round trip
// once as a deploy-time smoke check.
func run(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info(ctx, "starting ragmemoryd",
		zap.String("qdrant_url", cfg.Qdrant.URL),
		zap.String("collection", cfg.Qdrant.CollectionName),
		zap.Bool("read_only", cfg.ReadOnly))

	deps, err := wire(cfg, logger.Underlying())
	if err != nil {
		return fmt.Errorf("wiring dependencies: %w", err)
	}
	defer deps.Close()

	if err := deps.store.EnsureCollection(ctx, vectorstore.CollectionSpec{
		Name:                 cfg.Qdrant.CollectionName,
		VectorDim:            uint64(cfg.Embeddings.Dimensions),
		Distance:             "cosine",
		PayloadSchemaVersion: vectorstore.CurrentSchemaVersion,
	}); err != nil {
		return fmt.Errorf("ensuring collection: %w", err)
	}

	if err := smokeCheck(ctx, deps, cfg); err != nil {
		return fmt.Errorf("smoke check: %w", err)
	}

	logger.Info(ctx, "ragmemoryd ready: components wired, collection ensured, smoke check passed")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadWithFile(path)
	}
	return config.Load()
}

func newLogger() (*logging.Logger, error) {
	return logging.NewLogger(logging.NewDefaultConfig(), nil)
}

// dependencies holds every long-lived collaborator wired by run, so
// they can be released together.
type dependencies struct {
	pool          *pool.Pool
	store         vectorstore.Store
	embedCache    *embedcache.Cache
	dispatcher    *embedcache.Dispatcher
	provider      embeddings.Provider
	embedder      *embeddings.Engine
	fileIndex     *indexer.FileIndex
	indexer       *indexer.Indexer
	queryEngine   *query.Engine
	relationships *memory.RelationshipStore
	service       *memory.Service
	embedWorkers  *embeddings.ProcessPool
}

func (d *dependencies) Close() {
	if d.embedWorkers != nil {
		_ = d.embedWorkers.Close()
	}
	if d.relationships != nil {
		_ = d.relationships.Close()
	}
	if d.fileIndex != nil {
		_ = d.fileIndex.Close()
	}
	if d.provider != nil {
		_ = d.provider.Close()
	}
	if d.dispatcher != nil {
		d.dispatcher.Close()
	}
	if d.embedCache != nil {
		_ = d.embedCache.Close()
	}
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.pool != nil {
		_ = d.pool.Close()
	}
}

// wire constructs every component in dependency order: C2 pool, C3
// store, C4 cache, C5 embeddings, C6 parser, C7 indexer, C8 query
// engine, C9 memory service.
func wire(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	d := &dependencies{}

	host, portStr, err := net.SplitHostPort(cfg.Qdrant.URL)
	if err != nil {
		host, portStr = cfg.Qdrant.URL, "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parsing qdrant port %q: %w", portStr, err)
	}

	dial := func(ctx context.Context) (*qdrant.Client, error) {
		return qdrant.NewClient(&qdrant.Config{
			Host:   host,
			Port:   port,
			UseTLS: cfg.Qdrant.UseTLS,
			GrpcOptions: []grpc.DialOption{
				grpc.WithDefaultCallOptions(
					grpc.MaxCallRecvMsgSize(cfg.Qdrant.MaxMessageSize),
					grpc.MaxCallSendMsgSize(cfg.Qdrant.MaxMessageSize),
				),
			},
		})
	}

	d.pool = pool.New(cfg.Pool.Size, cfg.Pool.RecycleSeconds, pool.Timeouts{
		Fast:          cfg.Pool.FastTimeout,
		Medium:        cfg.Pool.MediumTimeout,
		Deep:          cfg.Pool.DeepTimeout,
		RelaxedFast:   cfg.Pool.RelaxedFastTimeout,
		RelaxedMedium: cfg.Pool.RelaxedMediumTimeout,
		RelaxedDeep:   cfg.Pool.RelaxedDeepTimeout,
	}, dial)

	d.store = vectorstore.NewQdrantStore(d.pool, 5*time.Second)

	if err := os.MkdirAll(cfg.Paths.BaseDataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	cachePath := cfg.Paths.BaseDataDir + "/embedding_cache.db"
	d.embedCache, err = embedcache.Open(cachePath, time.Duration(cfg.Cache.TTLDays)*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("opening embedding cache: %w", err)
	}
	workers := cfg.Embeddings.ParallelWorkers
	if workers <= 0 {
		workers = 4
	}
	d.dispatcher = embedcache.NewDispatcher(d.embedCache, workers)

	d.provider, err = embeddings.NewProvider(embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing embedding provider: %w", err)
	}
	d.embedder = embeddings.NewEngine(d.provider, d.dispatcher, cfg.Embeddings.Model, embeddings.EngineConfig{
		EnableParallel:         cfg.Embeddings.EnableParallel,
		ParallelWorkers:        workers,
		ParallelBatchThreshold: cfg.Embeddings.ParallelBatchThreshold,
	}, logger)

	if cfg.Embeddings.EnableParallel && workers > 1 {
		procPool, err := spawnEmbedWorkerPool(cfg, workers)
		if err != nil {
			return nil, fmt.Errorf("spawning embed worker pool: %w", err)
		}
		d.embedWorkers = procPool
		d.embedder.SetProcessPool(procPool)
	}

	fileIndexPath := cfg.Paths.BaseDataDir + "/file_index.db"
	d.fileIndex, err = indexer.OpenFileIndex(fileIndexPath)
	if err != nil {
		return nil, fmt.Errorf("opening file index: %w", err)
	}

	p := parser.New()
	d.indexer = indexer.New(d.store, d.embedder, p, d.fileIndex, indexer.Config{
		FileConcurrency: cfg.Indexer.FileConcurrency,
	}, logger)

	d.queryEngine = query.New(d.store, d.embedder, query.Config{
		Collection: cfg.Qdrant.CollectionName,
		Alpha:      cfg.Hybrid.Alpha,
	}, logger)

	relationshipsPath := cfg.Paths.BaseDataDir + "/relationships.db"
	d.relationships, err = memory.OpenRelationshipStore(relationshipsPath)
	if err != nil {
		return nil, fmt.Errorf("opening relationship store: %w", err)
	}

	d.service = memory.NewService(d.store, d.embedder, d.queryEngine, d.relationships, memory.Config{
		Collection: cfg.Qdrant.CollectionName,
		ReadOnly:   cfg.ReadOnly,
	}, logger)

	return d, nil
}

// spawnEmbedWorkerPool starts cfg.Embeddings.ParallelWorkers copies of
// this same binary, each re-invoked with --embed-worker and the
// provider config it needs to build its own Provider lazily on its
// first request. This is the process-level parallelism the embedding
// engine's large-batch path dispatches to instead of goroutines.
func spawnEmbedWorkerPool(cfg *config.Config, workers int) (*embeddings.ProcessPool, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving executable path: %w", err)
	}

	workerCfgJSON, err := json.Marshal(embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding embed worker config: %w", err)
	}

	return embeddings.NewProcessPool(workers, exe, []string{"--embed-worker", string(workerCfgJSON)})
}

// smokeCheck exercises store -> get_by_id -> retrieve once, so a bad
// deploy (unreachable Qdrant, wrong dimension, broken embedding
// provider) fails at startup rather than on the first real request.
func smokeCheck(ctx context.Context, d *dependencies, cfg *config.Config) error {
	if cfg.ReadOnly {
		// A read_only deployment has nothing to smoke-test beyond
		// EnsureCollection, already run by the caller.
		return nil
	}

	id, err := d.service.Store(ctx, "ragmemoryd startup smoke check", memory.CategorySessionState, memory.StoreInput{
		Source: memory.SourceAutoClassified,
	})
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if _, err := d.service.GetByID(ctx, id); err != nil {
		return fmt.Errorf("get_by_id: %w", err)
	}

	results, _, err := d.service.Retrieve(ctx, "startup smoke check", nil, 1, memory.ModeSemantic, cfg.Hybrid.Alpha, nil)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	if len(results) == 0 {
		return fmt.Errorf("retrieve returned no results for the memory just stored")
	}

	return d.service.Delete(ctx, id)
}
