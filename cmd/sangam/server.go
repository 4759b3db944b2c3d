package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/kalambet/sangam/internal/api"
	"github.com/kalambet/sangam/internal/artifact"
	"github.com/kalambet/sangam/internal/config"
	"github.com/kalambet/sangam/internal/conversation"
	"github.com/kalambet/sangam/internal/engine"
	"github.com/kalambet/sangam/internal/indexcache"
	"github.com/kalambet/sangam/internal/ingest"
	"github.com/kalambet/sangam/internal/invalidation"
	"github.com/kalambet/sangam/internal/pipeline"
	"github.com/kalambet/sangam/internal/proxy"
	"github.com/kalambet/sangam/internal/retrieval"
	"github.com/kalambet/sangam/internal/storage"
	"github.com/kalambet/sangam/internal/textsplit"
	"github.com/kalambet/sangam/internal/vectorindex"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sangam server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running sangam server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sangam system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "sangam.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ollamaModels adapts the engine's model names to the API model list.
type ollamaModels struct {
	engine engine.Engine
}

func (o ollamaModels) ListModels(ctx context.Context) ([]proxy.Model, error) {
	names, err := o.engine.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	models := make([]proxy.Model, len(names))
	for i, n := range names {
		models[i] = proxy.Model{ID: n, Object: "model", OwnedBy: "ollama"}
	}
	return models, nil
}

// backends holds the stores the server writes to.
type backends struct {
	store     *storage.Store
	documents artifact.DocumentStore
	redis     *redis.Client
	closers   []io.Closer
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i].Close(); err != nil {
			slog.Warn("closing backend", "error", err)
		}
	}
}

// openBackends opens SQLite for jobs and transcripts, and the configured
// document store for artifacts. Redis is connected whenever an address is
// configured so index invalidations reach other replicas.
func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	b := &backends{store: store, documents: store, closers: []io.Closer{store}}

	if cfg.Storage.Backend == config.StorageRedis {
		rs, err := storage.NewRedisStore(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB}, "sangam")
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, rs)
		if err := rs.Ping(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		b.documents = rs
		b.redis = rs.Client()
		return b, nil
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, index invalidations stay local", "addr", cfg.Redis.Addr, "error", err)
			rdb.Close()
			return b, nil
		}
		b.closers = append(b.closers, rdb)
		b.redis = rdb
	}
	return b, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "sangam version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	apiToken, err := config.GetAPIToken(config.NewSecretStore())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("sangam is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("sangam is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Embeddings always come from the local engine; answers come from the
	// configured generation backend.
	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	readyModels := []string{cfg.Ollama.EmbedModel}
	if cfg.Generation.Backend == config.BackendOllama {
		readyModels = append(readyModels, cfg.Ollama.ChatModel)
	}
	if err := engine.EnsureReady(ctx, eng, os.Stderr, readyModels...); err != nil {
		return err
	}

	be, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer be.Close()

	temperature := cfg.Generation.Temperature
	opts := engine.ChatOptions{Temperature: &temperature, MaxTokens: cfg.Generation.MaxTokens}
	var (
		generator engine.Generator
		models    api.ModelLister
	)
	switch cfg.Generation.Backend {
	case config.BackendOllama:
		generator = engine.NewLocalGenerator(eng, cfg.Ollama.ChatModel, opts)
		models = ollamaModels{engine: eng}
	default:
		client := proxy.NewClient(cfg.Generation.OpenRouterAPIKey)
		client.SetRateLimit(cfg.Generation.RequestsPerSecond, 1)
		generator = engine.NewRemoteGenerator(client, cfg.Generation.Model, opts)
		models = client
	}

	artifacts := artifact.NewSet(be.documents, cfg.Storage.ShardLimit)
	cache := indexcache.New[*vectorindex.Index](cfg.CacheTTL())
	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)
	chain := pipeline.New(retrieval.NewRetriever(embedder), generator, cfg.Retrieval.TopK)

	svcCfg := conversation.Config{WindowPairs: cfg.Memory.WindowPairs}
	var bus *invalidation.Bus
	if be.redis != nil {
		bus = invalidation.NewBus(be.redis, cfg.Redis.Channel)
		svcCfg.Publisher = bus
	}
	svc := conversation.NewService(artifacts, be.store, cache, chain, generator, svcCfg)

	if bus != nil {
		sub, err := bus.Subscribe(ctx, func(key indexcache.Key) {
			svc.DropCached(key)
		})
		if err != nil {
			return fmt.Errorf("subscribing to index invalidations: %w", err)
		}
		defer sub.Close()
		slog.Info("index invalidations enabled", "channel", cfg.Redis.Channel)
	}

	splitter, err := textsplit.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("configuring splitter: %w", err)
	}
	ingester := ingest.New(artifacts, be.store, splitter, embedder, svc)

	worker := ingest.NewWorker(be.store, ingester, 500*time.Millisecond)
	go worker.Run(ctx)

	handler := api.NewAppHandler(api.AppDeps{
		Content:       svc,
		Uploader:      ingester,
		Jobs:          be.store,
		Models:        models,
		Token:         apiToken,
		MaxUploadSize: cfg.MaxUploadBytes(),
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Content: svc, Uploader: ingester, Owner: owner})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)", "owner", owner)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "sangam listening on %s\n", addr)
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

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("sangam is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop sangam (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to sangam (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if engine.NewOllamaEngine(cfg.Ollama.BaseURL).IsRunning(context.Background()) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	} else {
		printStatus("Ollama", "not running")
	}

	printStatus("Embed model", "%s", cfg.Ollama.EmbedModel)
	switch cfg.Generation.Backend {
	case config.BackendOllama:
		printStatus("Chat model", "%s (ollama)", cfg.Ollama.ChatModel)
	default:
		printStatus("Chat model", "%s (openrouter)", cfg.Generation.Model)
	}
	printStatus("Storage", "%s", cfg.Storage.Backend)

	if running {
		if c, err := newAPIClient(); err == nil {
			var items []fileItem
			if resp, err := c.get(context.Background(), "/files"); err == nil && decodeJSON(resp, &items) == nil {
				ready := 0
				for _, it := range items {
					if it.Ready {
						ready++
					}
				}
				printStatus("Content", "%d items (%d ready) for %s", len(items), ready, owner)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
