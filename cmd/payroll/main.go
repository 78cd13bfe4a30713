/*
main.go - Application entry point

PURPOSE:
  The payroll CLI. "serve" starts the HTTP API; the other commands run the
  same service operations directly against the database.

COMMANDS:
  serve       HTTP API with graceful shutdown and optional auto-run job
  run         Run (or refresh) payroll for a month and print the payouts
  runs        List runs with their summaries
  mark-paid   Mark a payout paid, realizing its advance deductions
  repay       Record a manual repayment against an advance

CONFIGURATION:
  Flags override PAYROLL_* environment variables, which override an
  optional --config file. See config/config.go for the keys.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the auto-run scheduler (waits for a running refresh)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  payroll serve --db ./data/payroll.db --port 3000
  payroll run --year 2024 --month 2
  PAYROLL_DB=":memory:" payroll serve

SEE ALSO:
  - commands.go: run, runs, mark-paid, repay
  - api/server.go: Router configuration
  - config/config.go: Settings
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/warp/payout-engine/api"
	"github.com/warp/payout-engine/config"
	"github.com/warp/payout-engine/payroll"
	"github.com/warp/payout-engine/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "payroll",
	Short: "Payout scheduling and cash-advance engine",
	Long: `payroll turns a roster of payees into monthly payout lines on the 7th,
14th, 21st and last day of the month, deducts approved cash advances oldest
first, and keeps payment status and notes across re-runs.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.String("db", "payroll.db", `SQLite database path (":memory:" for in-memory)`)
	flags.String("currency", payroll.DefaultCurrency, "default run currency")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.String("log-format", "json", "json or text")
	flags.Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", flags.Lookup("config"))
	_ = viper.BindPFlag("db", flags.Lookup("db"))
	_ = viper.BindPFlag("currency", flags.Lookup("currency"))
	_ = viper.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(markPaidCmd())
	rootCmd.AddCommand(repayCmd())
}

// withService loads config, opens the store and hands a service to fn.
func withService(ctx context.Context, fn func(ctx context.Context, cfg *config.Config, store *sqlite.Store, svc *payroll.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	svc := payroll.NewService(store, logger)
	svc.DefaultCurrency = cfg.Currency
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, cfg, store, svc)
}

// =============================================================================
// SERVE
// =============================================================================

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, cfg *config.Config, store *sqlite.Store, svc *payroll.Service) error {
				return serve(cfg, store, svc)
			})
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP server port")
	cmd.Flags().Bool("auto-run", false, "refresh the current month's run on auto_run_schedule")
	cmd.Flags().String("auto-run-schedule", "0 3 * * *", "cron expression for the auto-run job")
	_ = viper.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("auto_run_enabled", cmd.Flags().Lookup("auto-run"))
	_ = viper.BindPFlag("auto_run_schedule", cmd.Flags().Lookup("auto-run-schedule"))
	return cmd
}

func serve(cfg *config.Config, store *sqlite.Store, svc *payroll.Service) error {
	logger := svc.Logger

	handler := api.NewHandler(store, logger)
	handler.Service = svc
	router := api.NewRouter(handler, cfg.CORSOrigins)

	var scheduler *api.PayrollScheduler
	if cfg.AutoRunEnabled {
		scheduler = api.NewPayrollScheduler(svc, logger, cfg.AutoRunSchedule)
		scheduler.Currency = cfg.Currency
		if err := scheduler.Start(); err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DBPath, "auto_run", cfg.AutoRunEnabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("shutting down server")
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
