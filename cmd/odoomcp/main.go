// Command odoomcp runs the Odoo MCP server: the MCP-facing transports
// (§6.1) and the config-manager HTTP surface (§6.2) sharing one registry,
// instance store, client pool, and metadata cache. Grounded on the
// corpus's cmd/mcpproxy/main.go (cobra root + serve subcommand,
// signal.Notify-driven graceful shutdown); trimmed to a single `serve`
// subcommand since broader CLI UX (search/tools/call/auth/doctor
// subcommands) is an explicit spec non-goal.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/smart-mcp-proxy/odoo-mcp/internal/cache"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/config"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/dispatcher"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/hotreload"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/httpapi"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/logs"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/mcpsession"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/pool"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/registry"
	"github.com/smart-mcp-proxy/odoo-mcp/internal/server"
)

var version = "v0.1.0"

var (
	flagTransport    string
	flagListen       string
	flagConfigUIAddr string
	flagConfigDir    string
	flagLogLevel     string
	flagLogToFile    bool
	flagLogDir       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "odoomcp",
		Short:   "MCP server bridging AI assistant clients to Odoo ERP instances",
		Version: version,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server and the config-manager HTTP surface",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&flagTransport, "transport", "http", "MCP transport to run: http or stdio")
	serveCmd.Flags().StringVarP(&flagListen, "listen", "l", ":8080", "Listen address for the MCP HTTP transports")
	serveCmd.Flags().StringVar(&flagConfigUIAddr, "config-ui-listen", "", "Listen address for the config-manager HTTP surface (default: :3008 or $ODOO_MCP_CONFIG_UI_PORT)")
	serveCmd.Flags().StringVar(&flagConfigDir, "config-dir", "", "Directory holding tools.json/prompts.json/server.json/instances.json")
	serveCmd.Flags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&flagLogToFile, "log-to-file", false, "Enable rotating file logging")
	serveCmd.Flags().StringVar(&flagLogDir, "log-dir", "", "Directory for rotated log files")

	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logLevel := flagLogLevel
	if logLevel == "" {
		logLevel = envOr("ODOO_MCP_LOG_LEVEL", "info")
	}
	logger := logs.New(logs.Options{
		Env:      envOrDefault(),
		Level:    logLevel,
		ToFile:   flagLogToFile || os.Getenv("ODOO_MCP_LOG_TO_FILE") == "true",
		Dir:      firstNonEmpty(flagLogDir, os.Getenv("ODOO_MCP_LOG_DIR")),
		Filename: "odoomcp.log",
	})
	defer func() { _ = logger.Sync() }()

	configDir := firstNonEmpty(flagConfigDir, os.Getenv(registry.EnvConfigDir))

	instMap, err := config.LoadInstances(configDir)
	if err != nil {
		return fmt.Errorf("load instances: %w", err)
	}
	store := config.NewStore(instMap)
	instancesPath := config.ResolveInstancesPath(configDir)

	reg := registry.New(registry.ResolvePaths(configDir), logger)
	if err := reg.Load(); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	dbPath := firstNonEmpty(os.Getenv("ODOO_MCP_CACHE_DB"), defaultCachePath(configDir))
	if dir := parentDir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("open metadata cache db: %w", err)
	}
	defer func() { _ = db.Close() }()

	cacheTTL := cache.DefaultTTL
	if raw := os.Getenv("ODOO_MCP_METADATA_CACHE_TTL_SECONDS"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cacheTTL = time.Duration(secs) * time.Second
		}
	}
	metaCache, err := cache.New(db, cacheTTL, logger)
	if err != nil {
		return fmt.Errorf("construct metadata cache: %w", err)
	}

	clientPool := pool.New(store, nil, logger)
	disp := dispatcher.New(reg, clientPool, metaCache, os.Getenv, logger)
	handler := mcpsession.New(reg, disp, clientPool, store, os.Getenv, logger)

	loadInstances := func() (config.InstanceMap, error) { return config.LoadInstances(configDir) }
	watcher, err := hotreload.New(reg, store, clientPool, metaCache, loadInstances, instancesPath, logger)
	if err != nil {
		return fmt.Errorf("construct hot-reload watcher: %w", err)
	}
	go watcher.Run()
	defer watcher.Stop()

	auth, err := httpapi.NewAuthManager(
		envOr("ODOO_MCP_CONFIG_UI_USERNAME", "admin"),
		os.Getenv("ODOO_MCP_CONFIG_UI_PASSWORD"),
		nil,
	)
	if err != nil {
		return fmt.Errorf("construct config-manager auth: %w", err)
	}
	if os.Getenv("ODOO_MCP_HTTP_AUTH_ENABLE") == "true" {
		auth.SetMCPAuthEnabled(true)
	}
	if token := os.Getenv("ODOO_MCP_HTTP_AUTH_TOKEN"); token != "" {
		auth.SetMCPToken(token)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if flagTransport == "stdio" {
		logger.Info("starting stdio MCP transport")
		return server.RunStdio(ctx, handler, os.Stdin, os.Stdout, logger)
	}

	mcpServer := server.New(flagListen, handler, auth, reg.Current().Server.ServerName, logger)
	configUIAddr := firstNonEmpty(flagConfigUIAddr, envOr("ODOO_MCP_CONFIG_UI_PORT", ""))
	if configUIAddr == "" {
		configUIAddr = ":3008"
	} else if _, err := strconv.Atoi(configUIAddr); err == nil {
		configUIAddr = ":" + configUIAddr
	}
	configUI := httpapi.New(reg, store, instancesPath, clientPool, metaCache, auth, parseCORSOrigins(os.Getenv(httpapi.EnvCORSOrigins)), logger)
	configUIServer := &http.Server{
		Addr:              configUIAddr,
		Handler:           configUI,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting MCP HTTP transports", zap.String("addr", flagListen))
		if err := mcpServer.ListenAndServe(ctx); err != nil {
			errCh <- fmt.Errorf("mcp transport server: %w", err)
		}
	}()
	go func() {
		logger.Info("starting config-manager HTTP surface", zap.String("addr", configUIAddr))
		if err := configUIServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("config-manager server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error, shutting down", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = configUIServer.Shutdown(shutdownCtx)

	return nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// parseCORSOrigins splits ODOO_MCP_CORS_ORIGINS's comma-separated list,
// trimming whitespace and dropping empty entries. An empty input yields a
// nil slice, which httpapi.Server treats as "allow any origin".
func parseCORSOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func envOrDefault() logs.Env {
	if os.Getenv("ODOO_MCP_ENV") == "production" {
		return logs.EnvProduction
	}
	return logs.EnvDevelopment
}

func defaultCachePath(configDir string) string {
	if configDir == "" {
		return "odoo-mcp-cache.db"
	}
	return configDir + "/cache.db"
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
