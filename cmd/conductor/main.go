// Package main provides the conductor binary entry point.
// Conductor is an adaptive request router and orchestration engine: it
// learns which provider/model serves each kind of task best and drives
// multi-step composite tasks through a durable queue.
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
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/conductor/config"
	"github.com/c360studio/conductor/task"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "conductor"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Adaptive request router and orchestration engine",
		Long: `Conductor routes requests across providers using multi-armed bandit
policies guarded by per-provider circuit breakers, and executes
composite tasks as planned, queued, quality-gated steps.

Durable state (jobs, bandit statistics, outcome deduplication) lives in
NATS JetStream KV when a NATS URL is configured.`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&configPath, &logLevel))
	cmd.AddCommand(routeCmd(&configPath, &logLevel))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func serveCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the routing and orchestration engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath, *logLevel)
		},
	}
}

func routeCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "route <request.json>",
		Short: "Route a single request and print the decision",
		Long: `Route reads a task request from a JSON file, routes it against the
configured provider set, and prints the routing decision. No provider
is invoked and no outcome is recorded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return routeOnce(cmd.Context(), *configPath, *logLevel, args[0])
		},
	}
}

func serve(configPath, logLevel string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	// Hot-reload the provider set when the config file changes.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger, eng.reload)
		if err != nil {
			return fmt.Errorf("create config watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start config watcher: %w", err)
		}
		defer watcher.Stop()
	}

	var metricsSrv *http.Server
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(eng.promReg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			logger.Info("Serving metrics", "addr", cfg.Metrics.ListenAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	logger.Info("Conductor ready",
		"version", Version,
		"providers", len(cfg.Providers),
		"policy", cfg.Bandit.Policy)

	<-ctx.Done()
	logger.Info("Shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func routeOnce(ctx context.Context, configPath, logLevel, requestPath string) error {
	logger := newLogger(logLevel)
	slog.SetDefault(logger)

	cfg, err := config.NewLoader(logger).Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	data, err := os.ReadFile(requestPath)
	if err != nil {
		return fmt.Errorf("read request file: %w", err)
	}
	var req task.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	if req.Priority == "" {
		req.Priority = task.PriorityMedium
	}

	eng, err := newEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer eng.close()

	decision, err := eng.control.Route(ctx, req)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
