package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanmcp/internal/async"
	"github.com/Aman-CERP/amanmcp/internal/config"
	"github.com/Aman-CERP/amanmcp/internal/embed"
	"github.com/Aman-CERP/amanmcp/internal/logging"
	mcpserver "github.com/Aman-CERP/amanmcp/internal/mcp"
	"github.com/Aman-CERP/amanmcp/internal/routing/bootstrap"
	"github.com/Aman-CERP/amanmcp/internal/search"
	"github.com/Aman-CERP/amanmcp/internal/session"
	"github.com/Aman-CERP/amanmcp/internal/store"
	"github.com/Aman-CERP/amanmcp/internal/watcher"
)

// serveDebug enables debug-level MCP-safe (file-only) logging for this
// command specifically. Kept separate from root's persistent --debug flag,
// which also drives CPU/trace profiling unrelated to serving.
var serveDebug bool

func newServeCmd() *cobra.Command {
	var (
		transport   string
		port        int
		sessionName string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP (Model Context Protocol) server, exposing hybrid search and
skill.command routing to AI clients over stdio.

MCP requires stdout to carry JSON-RPC exclusively: all status and log output
goes to the file log, never to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeWithSession(cmd.Context(), transport, port, sessionName)
		},
	}

	cmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable verbose MCP-safe logging to ~/.amanmcp/logs/")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport to serve over: stdio")
	cmd.Flags().IntVar(&port, "port", 0, "Port for non-stdio transports (unused for stdio)")
	cmd.Flags().StringVar(&sessionName, "session", "", "Serve a named session's index instead of the project's default")

	return cmd
}

// setupMCPLogging initializes file-only logging so nothing but JSON-RPC
// ever reaches stdout, matching BUG-034/BUG-035's MCP-safe logging
// requirement for every entry point that starts the server.
func setupMCPLogging() (func(), error) {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if serveDebug {
		logCfg.Level = "debug"
	}

	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return func() {}, fmt.Errorf("failed to setup MCP-safe logging: %w", err)
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// verifyStdinForMCP checks that stdin is a pipe, not an interactive
// terminal, since stdio transport requires a connected MCP client on the
// other end of stdin/stdout.
func verifyStdinForMCP() error {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return fmt.Errorf("stdin is a terminal, not a pipe: amanmcp serve expects an MCP client connected over stdin/stdout, not an interactive shell")
	}
	return nil
}

// runServe starts the MCP server over transport/port for the current
// project, using its default (non-session) index.
func runServe(ctx context.Context, transport string, port int) error {
	return runServeWithSession(ctx, transport, port, "")
}

// runServeWithSession is runServe's superset: when sessionName is set, it
// serves that named session's index (creating it on first use) instead of
// the project's default .amanmcp directory.
func runServeWithSession(ctx context.Context, transport string, port int, sessionName string) error {
	cleanup, err := setupMCPLogging()
	if err != nil {
		return err
	}
	defer cleanup()

	if transport == "stdio" {
		if err := verifyStdinForMCP(); err != nil {
			slog.Warn("stdin validation failed", slog.String("error", err.Error()))
		}
	}

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}

	dataDir := filepath.Join(root, ".amanmcp")
	if sessionName != "" {
		mgr, err := getSessionManager()
		if err != nil {
			return fmt.Errorf("session manager: %w", err)
		}
		sess, err := mgr.Open(sessionName, root)
		if err != nil {
			return fmt.Errorf("open session %q: %w", sessionName, err)
		}
		sess.UpdateLastUsed()
		if err := mgr.Save(sess); err != nil {
			slog.Debug("failed to persist session metadata", slog.String("error", err.Error()))
		}
		dataDir = sess.SessionDir
		slog.Info("serving session", slog.String("name", sessionName), slog.String("dir", dataDir))
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	embed.SetMLXConfig(embed.MLXServerConfig{
		Endpoint: cfg.Embeddings.MLXEndpoint,
		Model:    cfg.Embeddings.MLXModel,
	})
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		slog.Warn("embedder init failed, falling back to static embeddings",
			slog.String("provider", provider.String()), slog.String("error", err.Error()))
		embedder = embed.NewStaticEmbedder768()
	}
	defer func() { _ = embedder.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	vectorConfig := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()
	if _, err := os.Stat(vectorPath); err == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Debug("vector_load_failed", slog.String("error", loadErr.Error()))
		}
	}

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	if cfg.Search.BM25Weight > 0 || cfg.Search.SemanticWeight > 0 {
		engineConfig.DefaultWeights = search.Weights{
			BM25:     cfg.Search.BM25Weight,
			Semantic: cfg.Search.SemanticWeight,
		}
	}
	engine := search.New(bm25, vector, embedder, metadata, engineConfig,
		search.WithMultiQuerySearch(search.NewPatternDecomposer()))

	mcp, err := mcpserver.NewServer(engine, metadata, embedder, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	progress := async.NewIndexProgress()
	mcp.SetIndexProgress(progress)

	wireRouting(ctx, mcp, dataDir, embedder)
	startBackgroundWatcher(ctx, root)

	addr := ""
	if port > 0 {
		addr = fmt.Sprintf(":%d", port)
	}
	return mcp.Serve(ctx, transport, addr)
}

// wireRouting builds the routing core (hybrid tool search, skill sniffing,
// skill.command decision combinator) and registers the route tool. Failure
// to build it is non-fatal: the server still serves code search, just
// without the route tool.
func wireRouting(ctx context.Context, mcp *mcpserver.Server, dataDir string, embedder embed.Embedder) {
	routingCore, err := bootstrap.New(ctx, bootstrap.Config{DataDir: dataDir}, embedder, bootstrap.BuiltinTools())
	if err != nil {
		slog.Warn("routing core unavailable, route tool disabled", slog.String("error", err.Error()))
		return
	}
	mcp.SetRouter(routingCore.Service)
	mcp.RegisterRoutingTool()
}

// startBackgroundWatcher starts the file watcher in a goroutine so a slow
// filesystem never delays the MCP handshake (BUG-035): the watcher
// initializes concurrently with the server already serving requests.
func startBackgroundWatcher(ctx context.Context, root string) {
	startupTimeout := 5 * time.Second
	if v := os.Getenv("AMANMCP_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			startupTimeout = d
		}
	}

	go func() {
		started := time.Now()
		w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
		if err != nil {
			slog.Debug("file watcher unavailable", slog.String("error", err.Error()))
			return
		}
		if err := w.Start(ctx, root); err != nil {
			slog.Debug("file watcher failed to start", slog.String("error", err.Error()))
			return
		}
		if elapsed := time.Since(started); elapsed > startupTimeout {
			slog.Debug("file watcher startup exceeded expected window",
				slog.Duration("elapsed", elapsed), slog.Duration("expected", startupTimeout))
		}
		slog.Debug("file watcher started", slog.String("root", root))

		for {
			select {
			case <-ctx.Done():
				_ = w.Stop()
				return
			case events, ok := <-w.Events():
				if !ok {
					return
				}
				slog.Debug("file change detected", slog.Int("count", len(events)))
			case werr, ok := <-w.Errors():
				if !ok {
					return
				}
				if werr != nil {
					slog.Debug("file watcher error", slog.String("error", werr.Error()))
				}
			}
		}
	}()
}

// getSessionManager opens the default session store under ~/.amanmcp/sessions.
func getSessionManager() (*session.Manager, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to determine home directory: %w", err)
	}
	return session.NewManager(session.ManagerConfig{
		StoragePath: filepath.Join(home, ".amanmcp", "sessions"),
	})
}
