// Package main is the command-line entry point for qaforge. It answers a
// single query through the full control plane and prints the selection
// result with its provenance.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/draftline/qaforge"
	"github.com/draftline/qaforge/internal/config"
	"github.com/draftline/qaforge/providers/openai"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	query := flag.String("query", "", "query to answer")
	contextFile := flag.String("context", "", "path to source material file")
	queryType := flag.String("type", "numeric", "query type (numeric, trend, comparison)")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	flag.Parse()

	if *query == "" {
		fmt.Fprintln(os.Stderr, "usage: qaforge -query \"...\" [-context file] [-config file]")
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var contextText string
	if *contextFile != "" {
		data, err := os.ReadFile(*contextFile)
		if err != nil {
			logger.Error("failed to read context file", "error", err)
			os.Exit(1)
		}
		contextText = string(data)
	}

	opts := []qaforge.Option{
		qaforge.WithProvider(openai.New(
			openai.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
			openai.WithBaseURL(os.Getenv("QAFORGE_BASE_URL")),
		)),
		qaforge.WithLogger(logger),
	}

	if *configPath != "" {
		cfgManager, err := config.NewManager(*configPath, logger)
		if err != nil {
			logger.Error("failed to load configuration", "error", err)
			os.Exit(1)
		}
		defer func() { _ = cfgManager.Close() }()

		logger = configureLogger(cfgManager.Get())

		// Logging settings apply live on reload; everything else is read once
		// at client construction and needs a restart.
		cfgManager.OnChange(func(cfg *config.Config) {
			configureLogger(cfg)
			slog.Info("configuration reloaded, logging settings applied",
				"level", cfg.Logging.Level,
				"format", cfg.Logging.Format,
			)
		})
		if err := cfgManager.Watch(ctx); err != nil {
			logger.Warn("config hot-reload disabled", "error", err)
		}
		opts = append(opts, qaforge.WithConfigFile(*configPath), qaforge.WithLogger(logger))
	} else {
		opts = append(opts, qaforge.WithModels("gpt-4o", "gpt-4o-mini"))
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, logger)
	}

	client, err := qaforge.New(opts...)
	if err != nil {
		logger.Error("failed to initialize client", "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	result, err := client.GenerateAndSelect(ctx, *query, contextText, *queryType)
	if err != nil {
		logger.Error("round failed", "error", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Error("failed to encode result", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	status := client.BudgetStatus()
	logger.Info("round complete",
		"strategy", result.Provenance.Strategy,
		"repaired", result.Provenance.Repaired,
		"spent_usd", status.SpentCostUSD,
	)
}

func configureLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server failed", "error", err)
	}
}
