package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/finsight/finsight/internal/api"
	"github.com/finsight/finsight/internal/cache"
	"github.com/finsight/finsight/internal/composer"
	"github.com/finsight/finsight/internal/config"
	"github.com/finsight/finsight/internal/executor"
	"github.com/finsight/finsight/internal/ingest"
	"github.com/finsight/finsight/internal/intent"
	"github.com/finsight/finsight/internal/llm"
	"github.com/finsight/finsight/internal/pipeline"
	"github.com/finsight/finsight/internal/retrieval"
	"github.com/finsight/finsight/internal/schema"
	"github.com/finsight/finsight/internal/semcache"
	"github.com/finsight/finsight/internal/sqlgen"
	"github.com/finsight/finsight/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the finsight server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "finsight version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check the LLM endpoint is reachable before wiring anything to it.
	llmClient := llm.New(cfg.LLM.BaseURL, cfg.LLM.APIKey)
	if !llmClient.IsRunning(ctx) {
		slog.Warn("LLM endpoint not reachable at startup, queries will fail until it is", "base_url", cfg.LLM.BaseURL)
	}

	// Open the similarity store.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Retrieval over the two corpora.
	embedder := retrieval.NewEmbedder(llmClient, cfg.LLM.EmbedModel)
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	exampleRetriever := retrieval.NewRetriever(embedder, vectorStore, retrieval.TableExamples)
	questionRetriever := retrieval.NewRetriever(embedder, vectorStore, retrieval.TableQuestionCache)

	// Seed the few-shot corpus on first run.
	ingestor := ingest.New(embedder, vectorStore)
	if err := ingestor.SeedIfEmpty(ctx, retrieval.TableExamples); err != nil {
		slog.Warn("seeding example corpus failed", "error", err)
	}

	// Execution cache: Redis when configured, in-process otherwise.
	var kv cache.Store = cache.NewMemoryStore()
	if cfg.Redis.URL != "" {
		redisStore, err := cache.NewRedisStore(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("configuring redis: %w", err)
		}
		if err := redisStore.Ping(ctx); err != nil {
			slog.Warn("redis not reachable, falling back to in-memory cache", "error", err)
		} else {
			kv = redisStore
		}
	}

	// Warehouse connection for SQL execution.
	pool, err := executor.Connect(ctx, cfg.Warehouse)
	if err != nil {
		return fmt.Errorf("connecting to warehouse: %w", err)
	}
	defer pool.Close()

	schemaProvider, err := schema.FromFile(cfg.Schema.DescriptionFile)
	if err != nil {
		return fmt.Errorf("loading schema description: %w", err)
	}

	orch := pipeline.New(pipeline.Deps{
		Schema:     schemaProvider,
		Classifier: intent.NewKeywordClassifier(),
		Resolver:   intent.NewKeywordResolver(),
		Examples:   exampleRetriever,
		Assembler:  composer.New(),
		Generator:  sqlgen.New(llmClient, cfg.LLM.ChatModel, cfg.LLM.Timeout),
		Executor:   executor.NewPgxExecutor(pool, cfg.Warehouse.QueryTimeout),
		Semantic:   semcache.New(questionRetriever, cfg.Retrieval.DistanceThreshold),
		Recorder:   semcache.NewRecorder(embedder, vectorStore),
		Analyst:    pipeline.NewChatAnalyst(llmClient, cfg.LLM.ChatModel, cfg.LLM.Timeout),
		Cache:      cache.NewExecutionCache(kv),
		TopK:       cfg.Retrieval.TopK,
		QueryTTL:   cfg.Cache.QueryTTL,
		IntentTTL:  cfg.Cache.IntentTTL,
	})

	handler := api.NewAppHandler(api.AppDeps{
		Pipeline: orch,
		Ingestor: ingestor,
		Analyst:  pipeline.NewChatAnalyst(llmClient, cfg.LLM.ChatModel, cfg.LLM.Timeout),
		Token:    cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server on stdio transport.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Pipeline: orch,
		Ingestor: ingestor,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "finsight listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
