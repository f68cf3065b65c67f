package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ironsheep/marker-tools-mcp/internal/config"
	"github.com/ironsheep/marker-tools-mcp/internal/detection"
	"github.com/ironsheep/marker-tools-mcp/internal/logger"
	"github.com/ironsheep/marker-tools-mcp/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("marker-tools-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("marker-tools-mcp - MCP server for fiducial marker detection")
			fmt.Println()
			fmt.Println("Usage: marker-tools-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Println("  MARKER_CONFIG=path.yaml        Load settings from a YAML file")
			fmt.Println("  MARKER_MCP_LOG_LEVEL=debug     Log level (debug, info, warn, error)")
			fmt.Println("  MARKER_IMAGE_DIR=dir           Default batch directory")
			fmt.Println("  MARKER_BACKEND=aruco           Detection backend")
			fmt.Println("  MARKER_WORKERS=n               Concurrent tasks per strategy run")
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			fmt.Println("Configure it in your MCP client (e.g., Claude Desktop).")
			return
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "marker-tools-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Getenv("MARKER_CONFIG"))
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stdout carries the MCP protocol; logs go to stderr.
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log := logger.New(os.Stderr, level)
	log.Debug().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("commit", GitCommit).
		Msg("marker MCP server starting")

	backend, err := detection.NewBackend(cfg.Backend, cfg.Detector.Dictionary)
	if err != nil {
		return fmt.Errorf("failed to start backend %q: %w", cfg.Backend, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, backend, server.WithLogger(log), server.WithVersion(Version))
	if err := srv.Run(ctx); err != nil && err != context.Canceled {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
