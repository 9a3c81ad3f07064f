package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ragd/internal/config"
	"ragd/internal/crawl"
	"ragd/internal/embed"
	"ragd/internal/extract"
	"ragd/internal/fetch"
	server "ragd/internal/http"
	"ragd/internal/migrate"
	"ragd/internal/rerank"
	"ragd/internal/search"
	"ragd/internal/store"
)

// robotsTimeout bounds the robots.txt fetch independently of any model
// client timeout.
const robotsTimeout = 10 * time.Second

func main() {
	role := flag.String("role", "all", "process role: api|crawler|all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration invalid: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	// Run migrations on a short-lived connection
	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(rootCtx, cfg.Database.DSN, cfg.Database.MinConns, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()

	if err := st.AssertSchema(rootCtx, cfg.Embedding.Dim, cfg.Chunk.Contextual); err != nil {
		log.Fatalf("schema mismatch: %v", err)
	}
	if err := st.EnsureANNIndex(rootCtx, cfg.VectorIndex.Mode, cfg.Embedding.Dim); err != nil {
		log.Fatalf("vector index setup failed: %v", err)
	}

	embedder := buildEmbedder(cfg)
	reranker := buildReranker(cfg, logger)

	switch *role {
	case "api":
		runAPI(rootCtx, cfg, st, embedder, reranker, logger)
	case "crawler":
		if err := crawlTargetError(cfg); err != nil {
			log.Fatalf("crawler role: %v", err)
		}
		runCrawler(rootCtx, cfg, st, embedder, logger)
	case "all":
		go runCrawler(rootCtx, cfg, st, embedder, logger)
		runAPI(rootCtx, cfg, st, embedder, reranker, logger)
	default:
		log.Fatalf("invalid role: %s (expected api|crawler|all)", *role)
	}
}

func buildEmbedder(cfg *config.Config) *embed.Embedder {
	var provider embed.Provider
	switch cfg.Embedding.Mode {
	case config.EmbeddingModeLocal:
		provider = embed.NewLocalProvider(cfg.Embedding.LocalBaseURL, cfg.Embedding.Model,
			cfg.Embedding.Dim, cfg.Embedding.Timeout)
	default:
		provider = embed.NewRemoteProvider(cfg.Embedding.APIBaseURL, cfg.Embedding.APIKey,
			cfg.Embedding.Model, cfg.Embedding.Dim, cfg.Embedding.Timeout)
	}
	return embed.New(provider, embed.Options{
		MaxConcurrent:    cfg.Embedding.MaxConcurrent,
		QueryInstruction: cfg.Embedding.QueryInstruction,
	})
}

func buildReranker(cfg *config.Config, logger *slog.Logger) *rerank.Reranker {
	if !cfg.Reranker.Enabled {
		return nil
	}
	var cal *rerank.Calibration
	if cfg.Reranker.Calibration {
		var err error
		cal, err = rerank.LoadCalibration(cfg.Reranker.CalibrationFile)
		if err != nil {
			log.Fatalf("reranker calibration failed: %v", err)
		}
	}
	r := rerank.New(cfg.Reranker.BaseURL, cfg.Reranker.Model, cfg.Reranker.Timeout, cal)
	if !r.Available() {
		logger.Warn("reranker model unreachable, queries fall back to similarity order",
			"url", cfg.Reranker.BaseURL)
	}
	return r
}

func runAPI(ctx context.Context, cfg *config.Config, st *store.Store, embedder *embed.Embedder, reranker *rerank.Reranker, logger *slog.Logger) {
	var engineReranker search.Reranker
	if reranker != nil {
		engineReranker = reranker
	}
	engine := search.New(st, embedder, engineReranker, search.Options{
		Hybrid:     cfg.Search.Hybrid,
		UseRerank:  cfg.Reranker.Enabled,
		Oversample: cfg.Search.Oversample,
		Logger:     logger,
	})

	scope := fmt.Sprintf("hybrid=%t|rerank=%t|model=%s",
		cfg.Search.Hybrid, cfg.Reranker.Enabled, cfg.Embedding.Model)
	cache, err := server.NewQueryCache(cfg.Redis.URL, cfg.Redis.QueryCacheTTL, scope)
	if err != nil {
		log.Fatalf("query cache init failed: %v", err)
	}

	s := server.NewServer(st, engine, cache, logger)

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("api listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := s.Listen(cfg.Server.Host, cfg.Server.Port); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// crawlTargetError reports why the crawler cannot start. The dedicated
// crawler role treats this as fatal; the combined role may still serve
// queries over an existing corpus.
func crawlTargetError(cfg *config.Config) error {
	if cfg.Crawler.TargetURL == "" {
		return fmt.Errorf("TARGET_URL is required")
	}
	if _, err := fetch.Canonicalize(cfg.Crawler.TargetURL); err != nil {
		return fmt.Errorf("TARGET_URL invalid: %w", err)
	}
	return nil
}

func runCrawler(ctx context.Context, cfg *config.Config, st *store.Store, embedder *embed.Embedder, logger *slog.Logger) {
	if cfg.Crawler.TargetURL == "" {
		logger.Warn("TARGET_URL not set, crawler idle")
		return
	}

	seed, err := fetch.Canonicalize(cfg.Crawler.TargetURL)
	if err != nil {
		log.Fatalf("TARGET_URL invalid: %v", err)
	}
	if added, err := st.AddURLs(ctx, []string{seed}); err != nil {
		log.Fatalf("seed frontier failed: %v", err)
	} else if added > 0 {
		logger.Info("frontier seeded", "url", seed)
	}

	var robots *fetch.Robots
	if cfg.Crawler.RespectRobots {
		robots = fetch.NewRobots(fetch.UserAgent(), robotsTimeout)
	}

	filter, err := extract.LoadFilter(cfg.Extract.PatternsFile)
	if err != nil {
		log.Fatalf("filter patterns invalid: %v", err)
	}

	fetcher := fetch.New(fetch.Options{
		BrowserURL: cfg.Crawler.BrowserURL,
		Prefix:     seed,
		Robots:     robots,
	})
	extractor := extract.New(cfg.Extract.ContentSelector, filter)

	processor := crawl.NewProcessor(st, fetcher, extractor, embedder, logger, crawl.ProcessorOptions{
		ChunkSize:     cfg.Chunk.Size,
		MinChunkLen:   cfg.Chunk.MinLen,
		MinContentLen: cfg.Extract.MinContentLen,
		Contextual:    cfg.Chunk.Contextual,
	})
	scheduler := crawl.NewScheduler(st, processor, logger, crawl.SchedulerOptions{
		BatchSize:     cfg.Crawler.BatchSize,
		MaxConcurrent: cfg.Crawler.MaxConcurrent,
		WaveSize:      cfg.Crawler.ProcessorSize,
		Interval:      cfg.Crawler.Interval,
	})

	logger.Info("crawler running", "target", seed, "interval", cfg.Crawler.Interval)
	if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("crawler failed: %v", err)
	}
}
