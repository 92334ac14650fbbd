// Command supertonic-bridge runs a host session and serves it over HTTP,
// WebSocket and optionally NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DevGitPit/supertonic/internal/bridge"
	"github.com/DevGitPit/supertonic/internal/bus"
	"github.com/DevGitPit/supertonic/internal/config"
	"github.com/DevGitPit/supertonic/internal/hostclient"
	"github.com/DevGitPit/supertonic/internal/logging"
	"github.com/DevGitPit/supertonic/internal/natsserver"
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
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.New(os.Stderr, "info", "json").Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg.RuntimeName = "supertonic-bridge"
	logger := logging.New(os.Stdout, cfg.Telemetry.LogLevel, cfg.Telemetry.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("bridge exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	provider, err := telemetry.Setup(cfg, logger, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	client, err := hostclient.Start(ctx, cfg.Bridge.HostCommand, hostclient.Options{
		MaxMessageBytes: cfg.Protocol.MaxMessageBytes,
		Reinitialize:    cfg.Bridge.InitializeOnStart,
	}, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if cfg.Bridge.InitializeOnStart {
		initCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Bridge.RequestTimeoutMS)*time.Millisecond)
		err := client.Initialize(initCtx, "")
		cancel()
		if err != nil {
			// the host stays usable; callers may send initialize themselves
			logger.Warn("host initialization failed", slog.String("error", err.Error()))
		} else {
			logger.Info("host initialized")
		}
	}

	srv := bridge.New(cfg.Bridge, client, provider.MetricsHandler(), telemetry.NewInstruments("bridge", logger), logger)

	if busCfg := cfg.Bridge.Bus; busCfg.Enabled {
		embedded, err := natsserver.Start(busCfg, logger)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()
		if url := embedded.ClientURL(); url != "" {
			busCfg.Servers = []string{url}
		}
		busClient, err := bus.Connect(ctx, busCfg, logger)
		if err != nil {
			return err
		}
		defer busClient.Close()
		if err := srv.ServeBus(ctx, busClient); err != nil {
			return err
		}
	}

	return srv.Start(ctx)
}
