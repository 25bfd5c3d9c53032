/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the commission ledger. Handles configuration,
  dependency wiring, and graceful shutdown.

COMMANDS:
  serve       Start the HTTP API and the reconciliation scheduler
  reconcile   Run one reconciliation batch and exit (for cron)

CONFIGURATION:
  --config points at a YAML file. Every key can be overridden by a
  COMMISSION_* environment variable (server.port -> COMMISSION_SERVER_PORT).
  Flags override both. See config/config.go for keys and defaults.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciliation scheduler (cancels an in-flight run)
  2. Stop accepting new connections
  3. Wait for active requests to complete (server.shutdown_timeout)
  4. Close database and Redis connections

EXAMPLES:
  # Run with file database
  ./server serve --db ./data/commission.db

  # Run in memory with debug logs
  COMMISSION_DATABASE_DRIVER=memory COMMISSION_LOG_LEVEL=debug ./server serve

  # Nightly batch from cron
  ./server reconcile --config /etc/commission.yaml

SEE ALSO:
  - app.go: Dependency wiring
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/johnnyang0612/commission-system-sub001/api"
	"github.com/johnnyang0612/commission-system-sub001/config"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "commission",
		Short:         "Commission computation and payout ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (\":memory:\" for in-memory)")
	rootCmd.PersistentFlags().String("log-level", "", "debug | info | warn | error")
	rootCmd.PersistentFlags().String("rates", "", "JSON rate book file")
	_ = v.BindPFlag("database.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("rates.file", rootCmd.PersistentFlags().Lookup("rates"))

	load := func() (config.Config, error) { return config.Load(v, configFile) }

	rootCmd.AddCommand(serveCmd(v, load))
	rootCmd.AddCommand(reconcileCmd(load))

	return rootCmd
}

func serveCmd(v *viper.Viper, load func() (config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and reconciliation scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}

	cmd.Flags().IntP("port", "p", 0, "HTTP server port")
	cmd.Flags().Bool("no-scheduler", false, "disable the reconciliation scheduler")
	_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		if off, _ := cmd.Flags().GetBool("no-scheduler"); off {
			v.Set("reconciler.enabled", false)
		}
	}

	return cmd
}

func reconcileCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation batch and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runReconcile(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

func runServe(cfg config.Config) error {
	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.Logger

	scheduler := api.NewReconciliationScheduler(app.Service, logger)
	scheduler.Enabled = cfg.Reconciler.Enabled
	scheduler.CheckInterval = cfg.Reconciler.Interval

	handler := api.NewHandler(app.Service, logger)
	handler.IssuerName = cfg.Receipt.IssuerName
	handler.Scheduler = scheduler

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.CORSOrigins,
		Gatherer:       app.Registry,
		Ping:           app.Ping,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port), zap.String("database", cfg.Database.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	scheduler.Start()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		scheduler.Stop()
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runReconcile(ctx context.Context, cfg config.Config, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	res, err := app.Service.ReconcileAll(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"run_id":          res.RunID,
		"processed":       res.Processed,
		"succeeded":       res.Succeeded,
		"failed":          res.Failed,
		"skipped":         res.Skipped,
		"released":        res.Released,
		"receipts_issued": res.ReceiptsIssued,
	}); err != nil {
		return err
	}
	if res.Failed > 0 {
		return fmt.Errorf("reconciliation finished with %d failed item(s)", res.Failed)
	}
	return nil
}
