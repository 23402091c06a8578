package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/rtl-audio-splitter/internal/config"
	"github.com/skypro1111/rtl-audio-splitter/internal/metrics"
	"github.com/skypro1111/rtl-audio-splitter/internal/output"
	"github.com/skypro1111/rtl-audio-splitter/internal/server"
	"github.com/skypro1111/rtl-audio-splitter/internal/splitter"
	"github.com/skypro1111/rtl-audio-splitter/internal/stream"
)

const (
	serviceName    = "rtl-audio-splitter"
	serviceVersion = "1.0.0"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults are used when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("sample_bytes", cfg.Audio.SampleBytes),
		slog.Int("read_size", cfg.Audio.ReadSize),
		slog.Int("preroll_samples", cfg.PrerollCapacity()),
		slog.String("recording_dir", cfg.Recording.Directory),
		slog.Bool("control_enabled", cfg.Control.Enabled),
		slog.Int("udp_port", cfg.Control.UDPPort),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
		slog.Int("outputs", len(cfg.Outputs)),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

// run wires the splitter to its collaborators and blocks until shutdown
func run(cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)

	core := splitter.New(splitter.Config{
		SampleBytes:     cfg.Audio.SampleBytes,
		PrerollCapacity: cfg.PrerollCapacity(),
		Logger:          logger.With(slog.String("component", "splitter")),
		Metrics:         appMetrics,
	})

	if err := registerOutputs(core, cfg, logger); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	pump := stream.NewPump(os.Stdin, core, cfg.Audio.ReadSize, logger.With(slog.String("component", "upstream")))
	g.Go(func() error {
		return pump.Run(gctx)
	})

	var udpServer *server.UDPServer
	if cfg.Control.Enabled {
		udpServer = server.NewUDPServer(&cfg.Control, core, appMetrics, logger.With(slog.String("component", "control")))
		g.Go(func() error {
			return udpServer.Run(gctx)
		})
	}

	sigChan := make(chan os.Signal, 4)
	signal.Notify(sigChan, append(append([]os.Signal{}, server.ModeSignals...), server.ShutdownSignals...)...)
	defer signal.Stop(sigChan)

	signals := server.NewSignalHandler(sigChan, core, logger.With(slog.String("component", "signals")))
	g.Go(func() error {
		return signals.Run(gctx)
	})

	if cfg.HTTP.Enabled {
		httpServer := server.NewHTTPServer(cfg, core, udpServer, pump, appMetrics, registry, logger.With(slog.String("component", "http")))
		g.Go(func() error {
			return httpServer.Run(gctx)
		})
	}

	logger.Info("Service started successfully, streaming stdin")

	err := g.Wait()
	switch {
	case errors.Is(err, stream.ErrSourceLost):
		logger.Info("Upstream audio ended, shutting down")
		err = nil
	case errors.Is(err, server.ErrShutdownRequested):
		err = nil
	case err != nil:
		logger.Error("Shutting down after failure", slog.String("error", err.Error()))
	}

	logger.Info("Starting graceful shutdown...")

	// Outputs get the grace period to exit on their own and another to
	// react to SIGTERM
	grace := cfg.Recording.GetGracePeriod()
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*grace+time.Second)
	defer closeCancel()

	if closeErr := core.Close(closeCtx); closeErr != nil {
		logger.Warn("Outputs did not finish in time", slog.String("error", closeErr.Error()))
	}

	stats := pump.Statistics()
	logger.Info("Final statistics",
		slog.Uint64("bytes_read", stats.BytesRead),
		slog.Uint64("chunks_read", stats.ChunksRead),
	)
	if udpServer != nil {
		ctl := udpServer.GetStatistics()
		logger.Info("Final control statistics",
			slog.Uint64("packets_received", ctl.PacketsReceived),
			slog.Uint64("packets_processed", ctl.PacketsProcessed),
			slog.Uint64("parse_errors", ctl.ParseErrors),
		)
	}

	return err
}

// registerOutputs builds every configured output and adds it to the core
func registerOutputs(core *splitter.Splitter, cfg *config.Config, logger *slog.Logger) error {
	opts := output.BuildOptions{
		Format: output.Format{
			SampleRate:  cfg.Audio.SampleRate,
			SampleBytes: cfg.Audio.SampleBytes,
			Dir:         cfg.Recording.Directory,
		},
		Stdout:      os.Stdout,
		QueueSize:   cfg.Recording.QueueSize,
		GracePeriod: cfg.Recording.GetGracePeriod(),
		Logger:      logger.With(slog.String("component", "output")),
	}

	for _, oc := range cfg.Outputs {
		out, err := output.Build(oc, opts)
		if err != nil {
			return err
		}

		var roles splitter.Role
		for _, name := range oc.Roles {
			role, err := splitter.ParseRole(name)
			if err != nil {
				return fmt.Errorf("output %s: %w", oc.Name, err)
			}
			roles |= role
		}

		if err := core.Add(oc.Name, out, roles); err != nil {
			return err
		}

		logger.Info("Output configured",
			slog.String("output", oc.Name),
			slog.String("type", oc.Type),
			slog.String("roles", roles.String()),
		)
	}

	return nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// stdout usually carries the raw audio stream, so stderr is the default
	var dest *os.File
	switch cfg.Output {
	case "stderr", "":
		dest = os.Stderr
	case "stdout":
		dest = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			dest = os.Stderr
		} else {
			dest = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(dest, opts)
	default:
		handler = slog.NewTextHandler(dest, opts)
	}

	return slog.New(handler)
}
