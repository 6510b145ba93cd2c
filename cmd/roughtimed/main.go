// Command roughtimed runs a Roughtime batch-signing server: it reads
// a YAML configuration file naming a listen address and a long-term
// key seed, then serves signed time responses over UDP until
// interrupted.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kyhwana/roughenough/internal/batch"
	"github.com/kyhwana/roughenough/internal/clocksource"
	"github.com/kyhwana/roughenough/internal/config"
	"github.com/kyhwana/roughenough/internal/keys"
	"github.com/kyhwana/roughenough/internal/logger"
	"github.com/kyhwana/roughenough/internal/metrics"
	"github.com/kyhwana/roughenough/internal/server"
)

func main() {
	root := &cobra.Command{
		Use:           "roughtimed <config.yaml>",
		Short:         "Run a Roughtime batch-signing server",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "roughtimed:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.LogLevel)

	hierarchy, err := keys.New(cfg.SeedBytes(), delegationOptions(cfg))
	if err != nil {
		return fmt.Errorf("keys: %w", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr, log)
	}

	responder := &batch.Responder{
		Hierarchy: hierarchy,
		Clock:     clocksource.New(cfg.SecondsOffset),
		Radius:    time.Duration(cfg.RadiusMicros) * time.Microsecond,
		BatchSize: cfg.BatchSize,
		Metrics:   m,
		Logger:    log,
	}

	addr := &net.UDPAddr{IP: net.ParseIP(cfg.Interface), Port: cfg.Port}
	srv, err := server.New(addr, responder, server.Config{
		BatchSize:      cfg.BatchSize,
		MinRequestSize: cfg.MinRequestSize,
		FlushInterval:  cfg.FlushInterval.Duration,
	}, m, log)
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	defer srv.Close()

	log.Info().
		Str("longterm_pub", hex.EncodeToString(hierarchy.LongTermPublic)).
		Str("online_pub", hex.EncodeToString(hierarchy.OnlinePublic)).
		Str("addr", srv.LocalAddr().String()).
		Msg("roughtimed started")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("roughtimed shutting down")
	return nil
}

// delegationOptions narrows the DELE validity window from config,
// leaving keys.Options' zero value (the full validity range) wherever
// mint/maxt weren't set. Load already validated both as RFC3339 if
// present, so the parse here cannot fail.
func delegationOptions(cfg *config.Config) keys.Options {
	var opts keys.Options
	if cfg.MinT != "" {
		opts.MinValidity, _ = time.Parse(time.RFC3339, cfg.MinT)
	}
	if cfg.MaxT != "" {
		opts.MaxValidity, _ = time.Parse(time.RFC3339, cfg.MaxT)
	}
	return opts
}

func serveMetrics(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics endpoint stopped")
	}
}
