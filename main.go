package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/crdb-mcp/internal/config"
	"github.com/hazyhaar/crdb-mcp/internal/db"
	"github.com/hazyhaar/crdb-mcp/internal/mcp"
	"github.com/hazyhaar/crdb-mcp/pkg/audit"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("crdb-mcp %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`crdb-mcp — CockroachDB MCP server

Usage:
  crdb-mcp serve [--config config.toml]
  crdb-mcp version
  crdb-mcp help

Commands:
  serve     Start the MCP server on stdio
  version   Print version
  help      Show this help`)
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config.toml")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	var auditLog audit.Logger
	if cfg.Audit.Enabled {
		l, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			logger.Warn("audit trail disabled", "error", err)
		} else {
			auditLog = l
		}
	}

	manager := db.NewManager(logger)
	keepalive := db.NewKeepalive(manager, time.Duration(cfg.Keepalive.IntervalSec)*time.Second, logger)
	keepalive.Start()

	// Teardown order matters: the keepalive loop finishes its tick before
	// the connection goes away underneath it.
	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			logger.Info("shutting down")
			keepalive.Stop()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := manager.Disconnect(ctx); err != nil {
				logger.Error("disconnect on shutdown", "error", err)
			}
			if auditLog != nil {
				if err := auditLog.Close(); err != nil {
					logger.Error("closing audit trail", "error", err)
				}
			}
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received", "signal", sig.String())
		shutdown()
		closeLog()
		os.Exit(0)
	}()

	srv := mcp.NewServer(version, manager, cfg, auditLog)
	logger.Info("crdb-mcp serving on stdio", "version", version)

	errLogger := slog.NewLogLogger(logger.Handler(), slog.LevelError)
	if err := server.ServeStdio(srv, server.WithErrorLogger(errLogger)); err != nil {
		logger.Error("server error", "error", err)
	}

	// Stdio transport ended (client closed the session).
	shutdown()
}

// newLogger builds the slog logger. Logs go to the configured file or to
// stderr; stdout belongs to the MCP stream.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if cfg.Log.Path == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Log.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.Log.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	return logger, func() { f.Close() }, nil
}
