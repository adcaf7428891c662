package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/roomcast/internal/adapters/http"
	"github.com/dkeye/roomcast/internal/adapters/rtc"
	"github.com/dkeye/roomcast/internal/app"
	"github.com/dkeye/roomcast/internal/app/orch"
	"github.com/dkeye/roomcast/internal/config"
)

var rootCmd = &cobra.Command{
	Use:          "roomcast-server",
	Short:        "Signaling and room coordination server for browser video calls",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd)
	},
}

func init() {
	f := rootCmd.Flags()
	f.Int("port", 5000, "HTTP listen port")
	f.String("mode", "release", "gin mode: release, debug or test")
	f.String("allowed-origin", "http://localhost:3000", "browser origin allowed to connect, * for any")
	f.String("log-level", "info", "zerolog level")
	f.String("config-env", "", "config file suffix, overrides CONFIG_ENV")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger writes console output in debug mode and JSON lines otherwise.
func newLogger(w io.Writer, mode string) zerolog.Logger {
	if mode == "debug" {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func setupLogger(w io.Writer, cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = newLogger(w, cfg.Mode)
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(cmd *cobra.Command) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Human-friendly until the configured format is known.
	log.Logger = newLogger(os.Stderr, "debug")

	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		return err
	}
	setupLogger(os.Stderr, cfg)

	iceServers, err := rtc.ICEServers(cfg.ICEServers)
	if err != nil {
		log.Error().Err(err).Msg("invalid ice servers")
		return err
	}

	prom := prometheus.NewRegistry()
	prom.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := app.NewMetrics(prom)

	reg := app.NewRegistry(metrics)
	out := app.NewDispatcher(reg, metrics)
	o := &orch.Orchestrator{
		Registry: reg,
		Rooms:    app.NewRoomManager(out, app.SimplePolicy{}, metrics),
		Relay:    app.NewSignalRelay(out),
		Out:      out,
		Limiter:  app.NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval),
		Metrics:  metrics,
	}

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Orch:       o,
		Gatherer:   prom,
		ICEServers: iceServers,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("roomcast server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("server error")
		return err
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Hijacked websockets are not tracked by Shutdown, so close them here and
	// wait for their disconnect cleanup to drain.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	closed := reg.CloseAll()
	if err := reg.WaitEmpty(shutdownCtx); err != nil {
		log.Warn().Err(err).Int("remaining", reg.Count()).Msg("connections still open at exit")
	}
	log.Info().Int("closed_connections", closed).Msg("Server exited gracefully")
	return nil
}
