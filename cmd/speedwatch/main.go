// Command speedwatch is the playback speed controller daemon.
//
// Usage:
//
//	speedwatch -config speedwatch.yaml      # control pages from YAML config
//	speedwatch -url https://example.com     # quick single-page run
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/vscd/audit"
	"github.com/hazyhaar/vscd/connectivity"
	"github.com/hazyhaar/vscd/idgen"
	"github.com/hazyhaar/vscd/shield"
	"github.com/hazyhaar/vscd/speedwatch"
)

func main() {
	configPath := flag.String("config", "", "path to speedwatch.yaml config file")
	singleURL := flag.String("url", "", "control a single URL (stdout sink)")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath, *singleURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: speedwatch -config <file> | -url <url>")
		os.Exit(1)
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	if err := run(ctx, logger, cfg, *configPath); err != nil {
		logger.Error("speedwatch: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path, singleURL string) (*speedwatch.Config, error) {
	switch {
	case path != "":
		cfg, err := speedwatch.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	case singleURL != "":
		cfg, err := speedwatch.ParseConfig(nil)
		if err != nil {
			return nil, err
		}
		cfg.Pages = []speedwatch.PageConfig{{ID: idgen.New(), URL: singleURL}}
		cfg.Sinks = []speedwatch.SinkConfig{{Type: "stdout"}}
		return cfg, nil
	}
	return nil, errors.New("speedwatch: -config or -url required")
}

func run(ctx context.Context, logger *slog.Logger, cfg *speedwatch.Config, configPath string) error {
	store, db, err := speedwatch.OpenSettings(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	sinks, err := speedwatch.BuildSinks(cfg.Sinks, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		sinks = append(sinks, speedwatch.NewStdoutSink(os.Stdout))
	}

	al := audit.NewSQLiteLogger(db, audit.WithLogger(logger))
	if err := al.Init(); err != nil {
		return err
	}
	defer al.Close()
	go pruneAudit(ctx, al, logger)

	w := speedwatch.New(cfg, store, logger, sinks...)
	w.SetAuditLog(al)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer w.Stop()

	if configPath != "" {
		go func() {
			err := speedwatch.WatchConfigFile(ctx, configPath, logger, func(next *speedwatch.Config) {
				logger.Info("speedwatch: config reloaded", "pages", len(next.Pages))
				w.Reload(ctx, next)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("speedwatch: config watch stopped", "error", err)
			}
		}()
	}

	router := connectivity.New(
		connectivity.WithLogger(logger),
		connectivity.WithMiddleware(
			connectivity.Recovery(logger),
			connectivity.Logging(logger),
			connectivity.Timeout(30*time.Second),
		),
	)
	w.RegisterConnectivity(router)

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "speedwatch", Version: "0.1.0"}, nil)
	w.RegisterMCP(mcpSrv)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack(logger, shield.DefaultRate()) {
		r.Use(mw)
	}
	w.RegisterHTTP(r)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	r.Post("/call/{service}", func(rw http.ResponseWriter, req *http.Request) {
		callService(rw, req, router)
	})
	r.Get("/audit", func(rw http.ResponseWriter, req *http.Request) {
		listAudit(rw, req, al)
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("speedwatch: listening", "addr", cfg.HTTP.Addr, "services", router.Services())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http: %w", err)
	}

	logger.Info("speedwatch: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
