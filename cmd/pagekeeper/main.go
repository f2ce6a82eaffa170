// CLAUDE:SUMMARY CLI entry point for pagekeeper: daemon (HTTP API + MCP + scheduler), one-shot run and stats modes.
// Command pagekeeper scrapes numeric values from web pages on a daily
// schedule and serves them over a JSON API and MCP.
//
// Usage:
//
//	pagekeeper -config pagekeeper.yaml    # run with config file
//	pagekeeper -db pagekeeper.db          # run with defaults
//	pagekeeper -db pagekeeper.db -run     # scrape every enabled page and exit
//	pagekeeper -db pagekeeper.db -stats   # show stats and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pricewatch/pagekeeper"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to pagekeeper.yaml config file")
	dbPath := flag.String("db", env("PAGEKEEPER_DB", ""), "path to SQLite database")
	listen := flag.String("listen", env("PAGEKEEPER_LISTEN", ""), "HTTP listen address")
	readOnly := flag.Bool("read-only", envBool("PAGEKEEPER_READ_ONLY"), "reject mutating API requests")
	runOnce := flag.Bool("run", false, "scrape every enabled page and exit")
	showStats := flag.Bool("stats", false, "show stats and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := resolveConfig(*configPath, *dbPath, *listen, *readOnly)
	if err != nil {
		logger.Error("pagekeeper: config", "error", err)
		os.Exit(1)
	}

	if err := run(ctx, logger, cfg, *runOnce, *showStats); err != nil {
		logger.Error("pagekeeper: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg *pagekeeper.Config, runOnce, showStats bool) error {
	k, err := pagekeeper.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer k.Close()

	// One-shot: scrape.
	if runOnce {
		rep, err := k.RunActive(ctx)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		return printJSON(rep)
	}

	// One-shot: stats.
	if showStats {
		stats, err := k.Stats(ctx)
		if err != nil {
			return fmt.Errorf("stats: %w", err)
		}
		return printJSON(stats)
	}

	// Daemon mode.
	if err := k.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "pagekeeper", Version: version}, nil)
	k.RegisterMCP(mcpSrv)

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	mux.Handle("/", k.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("pagekeeper: listening", "addr", cfg.Listen, "read_only", cfg.ReadOnly)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("pagekeeper: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("pagekeeper: shutdown", "error", err)
	}
	return nil
}

func resolveConfig(configPath, dbPath, listen string, readOnly bool) (*pagekeeper.Config, error) {
	cfg := &pagekeeper.Config{}
	if configPath != "" {
		var err error
		if cfg, err = pagekeeper.LoadConfigFile(configPath); err != nil {
			return nil, err
		}
	}
	// Flags and environment override the file.
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if readOnly {
		cfg.ReadOnly = true
	}
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
