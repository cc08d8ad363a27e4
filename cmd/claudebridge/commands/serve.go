package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/server"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/session"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP execution server",
	Long: `Start claudebridge as a server that exposes the execution engine over HTTP.

Executions stream their updates as server-sent events. Expired sessions are
swept on the configured schedule, and edits to the tool policy in the config
file take effect without a restart.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, dir, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLogs()

	a, err := newApp(cmd.Context(), cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info().Str("version", Version).Str("directory", dir).Msg("starting claudebridge server")

	sweeper, err := session.NewSweeper(a.engine.Sweep, cfg.Session.SweepSchedule)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	if w := a.watchConfig(dir); w != nil {
		defer w.Stop()
	}

	serverConfig := server.ConfigFrom(cfg.Server)
	if servePort != 0 {
		serverConfig.Port = servePort
	}
	srv := server.New(serverConfig, a.engine, a.bus, a.metrics)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	a.logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("server shutdown error")
	}

	a.logger.Info().Msg("server stopped")
	return nil
}
