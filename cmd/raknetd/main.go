package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ventosilenzioso/raknetd/internal/config"
	"github.com/ventosilenzioso/raknetd/internal/metrics"
	"github.com/ventosilenzioso/raknetd/internal/raknetlog"
	"github.com/ventosilenzioso/raknetd/internal/server"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "raknetd",
		Short:   "A standalone RakNet-compatible UDP transport server.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Flags(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	config.BindFlags(rootCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func serve(fs *pflag.FlagSet, configPath string) error {
	cfg, err := config.Load(fs, configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := raknetlog.New(raknetlog.Options{Level: parseLevel(cfg.LogLevel)})
	log.Info("starting raknetd",
		"version", version,
		"bind_address", cfg.BindAddress,
		"bind_port", cfg.BindPort,
		"server_guid", cfg.ServerGUID,
		"protocol_version", cfg.ProtocolVersion,
	)

	var collectors *metrics.Collectors
	if cfg.MetricsAddress != "" {
		reg := prometheus.NewRegistry()
		collectors = metrics.New(reg)
		go serveMetrics(cfg.MetricsAddress, reg, log)
	}

	srv, err := server.New(cfg, nil, collectors, log, clockwork.NewRealClock())
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("server exited with error", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down gracefully")
		srv.Stop()
		<-errCh
		log.Info("server stopped")
		return nil
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", "error", err)
	}
}

// parseLevel maps a config string to a slog.Level, defaulting to Info for
// anything unrecognized rather than failing startup over a typo.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
