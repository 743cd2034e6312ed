package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kalambet/shopbot/internal/api"
	"github.com/kalambet/shopbot/internal/cart"
	"github.com/kalambet/shopbot/internal/catalog"
	"github.com/kalambet/shopbot/internal/config"
	"github.com/kalambet/shopbot/internal/dialogue"
	"github.com/kalambet/shopbot/internal/eta"
	"github.com/kalambet/shopbot/internal/reranking"
	"github.com/kalambet/shopbot/internal/retrieval"
	"github.com/kalambet/shopbot/internal/session"
	"github.com/kalambet/shopbot/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the shopbot server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running shopbot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show shopbot system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", true, "serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "shopbot.pid")
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
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// catalogSources maps config to catalog sources. Optional files that do not
// exist are skipped so a bare products file is enough to start.
func catalogSources(cfg config.CatalogConfig) catalog.Sources {
	src := catalog.Sources{ProductsPath: cfg.ProductsPath}
	if _, err := os.Stat(cfg.SynonymsPath); err == nil {
		src.SynonymsPath = cfg.SynonymsPath
	} else if cfg.SynonymsPath != "" {
		slog.Warn("synonyms file not found, continuing without synonyms", "path", cfg.SynonymsPath)
	}
	if _, err := os.Stat(cfg.OrdersPath); err == nil {
		src.OrdersPath = cfg.OrdersPath
	} else if cfg.OrdersPath != "" {
		slog.Warn("orders file not found, continuing without imported orders", "path", cfg.OrdersPath)
	}
	return src
}

// openMemoryStore returns the session memory backend and a close func.
func openMemoryStore(ctx context.Context, cfg config.SessionConfig, store *storage.Store) (session.Store, func() error, error) {
	if cfg.Backend != "redis" {
		return store, func() error { return nil }, nil
	}
	rs, err := session.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix, cfg.TTL)
	if err != nil {
		return nil, nil, err
	}
	return rs, rs.Close, nil
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "shopbot version %s\n", version)

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
			printWarning("shopbot is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("shopbot is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	src := catalogSources(cfg.Catalog)
	snap, err := catalog.Load(ctx, src)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	slog.Info("catalog loaded",
		"products", snap.Index.Len(),
		"categories", len(snap.Index.Categories()),
		"synonyms", snap.Synonyms.Len(),
		"orders", len(snap.Orders),
	)
	reloader := catalog.NewReloader(src, snap, cfg.Catalog.ReloadInterval)
	if cfg.Catalog.ReloadInterval > 0 {
		go reloader.Run(ctx)
	}

	memStore, closeMem, err := openMemoryStore(ctx, cfg.Session, store)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer closeMem()
	memory := session.NewManagerWithTTL(memStore, cfg.Session.CacheTTL)
	slog.Info("session memory ready", "backend", cfg.Session.Backend, "cache_ttl", cfg.Session.CacheTTL)

	bot := dialogue.New(dialogue.Deps{
		Catalog: reloader,
		Memory:  memory,
		Store:   store,
		Retriever: retrieval.NewRetriever(retrieval.Config{
			CategoryThreshold: cfg.Search.CategoryThreshold,
			ProductThreshold:  cfg.Search.ProductThreshold,
		}, reranking.NewReranker(cfg.Search.Shuffle, 0)),
		Resolver:  cart.NewResolver(cfg.Cart.MatchThreshold, cfg.Cart.MaxRecommendations),
		Estimator: eta.NewEstimator(eta.ParsePolicy(cfg.ETA.Policy)),
		Metrics:   dialogue.NewMetrics(prometheus.DefaultRegisterer),
	})

	var limiter *api.RateLimiter
	if cfg.Server.RateLimitRPS > 0 {
		limiter = api.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		go limiter.Run(ctx)
	}

	go pruneSessions(ctx, memory, cfg.Session.CacheTTL)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewAppHandler(api.AppDeps{
			Bot:     bot,
			Store:   store,
			Catalog: reloader,
			Memory:  memory,
			Token:   apiToken,
			Limiter: limiter,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Bot: bot, Catalog: reloader}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "shopbot listening on %s\n", addr)
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

// pruneSessions drops expired cache entries every ttl until ctx is done.
func pruneSessions(ctx context.Context, m *session.Manager, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(); n > 0 {
				slog.Debug("pruned session cache", "entries", n)
			}
		}
	}
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
		printError("shopbot is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop shopbot (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to shopbot (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		// Still exit cleanly so scripts can poll status.
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

	printStatus("Session backend", "%s", cfg.Session.Backend)
	printStatus("Products", "%s", cfg.Catalog.ProductsPath)

	apiToken, tokenErr := config.GetAPIToken(config.NewSecretStore())
	if tokenErr == nil && running {
		catResp, err := apiGet(client, serverURL+"/catalog/categories", apiToken)
		if err == nil {
			var body struct {
				Categories []string `json:"categories"`
			}
			if json.NewDecoder(catResp.Body).Decode(&body) == nil {
				printStatus("Categories", "%d", len(body.Categories))
			}
			catResp.Body.Close()
		}
		interResp, err := apiGet(client, serverURL+"/interactions?limit=100", apiToken)
		if err == nil {
			var interactions []json.RawMessage
			if json.NewDecoder(interResp.Body).Decode(&interactions) == nil {
				printStatus("Interactions", "%s", countLabel(len(interactions), 100))
			}
			interResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}

func apiGet(client *http.Client, url, token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return client.Do(req)
}
