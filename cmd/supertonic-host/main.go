// Command supertonic-host is the native messaging host. Browsers start it with
// the calling extension's origin as the first argument and talk to it over
// stdin and stdout; all diagnostics go to stderr.
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

	"github.com/DevGitPit/supertonic/internal/config"
	"github.com/DevGitPit/supertonic/internal/engine"
	"github.com/DevGitPit/supertonic/internal/eventstore"
	"github.com/DevGitPit/supertonic/internal/host"
	"github.com/DevGitPit/supertonic/internal/logging"
	"github.com/DevGitPit/supertonic/internal/telemetry"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file (default $"+config.EnvConfigPath+")")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Fprintln(os.Stderr, version)
		return
	}

	if err := run(configPath, flag.Arg(0)); err != nil {
		os.Exit(1)
	}
}

func run(configPath, origin string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.New(os.Stderr, "info", "json").Error("failed to load config", slog.String("error", err.Error()))
		return err
	}
	logger := logging.New(os.Stderr, cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat)

	provider, err := telemetry.Setup(cfg, logger, os.Stderr)
	if err != nil {
		logger.Error("failed to setup telemetry", slog.String("error", err.Error()))
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()
	serveMetrics(cfg.Telemetry.PrometheusBind, provider.MetricsHandler(), logger)

	eng, err := newEngine(cfg.Engine)
	if err != nil {
		logger.Error("failed to create engine", slog.String("error", err.Error()))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		logger.Error("failed to open request journal", slog.String("error", err.Error()))
		return err
	}
	defer journal.Close()

	h := host.New(cfg, eng, os.Stdin, os.Stdout, host.Options{
		Logger:      logger,
		Instruments: telemetry.NewInstruments("host", logger),
		Journal:     journal,
	})
	if err := journal.AppendSession(ctx, h.SessionID(), origin, cfg.Engine.Mode); err != nil {
		logger.Warn("failed to journal session", slog.String("error", err.Error()))
	}
	logger.Info("starting host",
		slog.String("version", version),
		slog.String("origin", origin),
		slog.String("engine", cfg.Engine.Mode))

	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("host exited with error", slog.String("error", err.Error()))
			return err
		}
	case <-ctx.Done():
		logger.Info("signal received, stopping")
	}
	logger.Info("shutdown complete")
	return nil
}

func newEngine(cfg config.EngineConfig) (engine.Engine, error) {
	switch cfg.Mode {
	case "mock":
		return engine.NewMock(uint32(cfg.MockSampleRate)), nil
	case "exec":
		return engine.NewExec(cfg.Command)
	default:
		return nil, errors.New("unsupported engine mode " + cfg.Mode)
	}
}

func serveMetrics(bind string, handler http.Handler, logger *slog.Logger) {
	if bind == "" || handler == nil {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: bind, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	logger.Info("serving metrics", slog.String("addr", bind))
}
