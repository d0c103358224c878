package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ribelo/prism-sub000/app"
	"github.com/ribelo/prism-sub000/config"
	"github.com/ribelo/prism-sub000/internal/lifecycle"
	"github.com/ribelo/prism-sub000/internal/observability"
	"github.com/ribelo/prism-sub000/routes"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "api-gateway",
		Short:        "prism AI gateway",
		Long:         "prism accepts Anthropic, OpenAI and Gemini requests and routes them to any configured vendor.",
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newStopCmd(),
		newRouteCmd(),
		newResolveCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, replace)
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "stop a gateway already recorded in the PID file before starting")
	return cmd
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the gateway recorded in the PID file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return err
			}
			if cfg.Server.PIDFile == "" {
				return errors.New("PID_FILE is not configured")
			}

			pid := lifecycle.NewPIDFile(cfg.Server.PIDFile)
			rec, err := pid.Running()
			if err != nil {
				return err
			}
			if rec == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "gateway is not running")
				return nil
			}
			sent, err := pid.Terminate(rec, lifecycle.ReasonStop)
			if err != nil {
				return err
			}
			if sent {
				fmt.Fprintf(cmd.OutOrStdout(), "sent SIGTERM to gateway (pid %d)\n", rec.PID)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

// initLogger builds the process logger from configuration
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
}

func runServe(ctx context.Context, replace bool) error {
	cfg, err := config.New(ctx)
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Server.PIDFile != "" {
		pid := lifecycle.NewPIDFile(cfg.Server.PIDFile)
		rec, err := claimPIDFile(ctx, pid, cfg, replace, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := pid.Release(rec, lifecycle.ReasonShutdown); err != nil {
				logger.Warn("failed to release PID file", zap.Error(err))
			}
		}()
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		return err
	}
	deps.Start(ctx)

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           routes.SetupRoutes(deps, version),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening",
			zap.String("addr", srv.Addr),
			zap.String("version", version),
			zap.String("environment", cfg.Environment),
			zap.Bool("tls", cfg.Server.TLS.Enabled))

		var err error
		if cfg.Server.TLS.Enabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server error", zap.Error(serveErr))
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", zap.Error(err))
	}
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Warn("dependency shutdown incomplete", zap.Error(err))
	}

	logger.Info("gateway stopped")
	return serveErr
}

// claimPIDFile records this process as the server. With replace, a live
// server already recorded is stopped first.
func claimPIDFile(ctx context.Context, pid *lifecycle.PIDFile, cfg *config.Config, replace bool, logger *zap.Logger) (*lifecycle.Record, error) {
	rec, err := pid.Claim(cfg.Server.Address(), version)
	var running *lifecycle.AlreadyRunningError
	if !errors.As(err, &running) || !replace {
		return rec, err
	}

	logger.Info("replacing running gateway", zap.Int("pid", running.Record.PID))
	if _, err := pid.Terminate(&running.Record, lifecycle.ReasonReplace); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout+5*time.Second)
	defer cancel()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for lifecycle.ProcessAlive(running.Record.PID) {
		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("gateway pid %d did not exit: %w", running.Record.PID, waitCtx.Err())
		case <-ticker.C:
		}
	}
	return pid.Claim(cfg.Server.Address(), version)
}
