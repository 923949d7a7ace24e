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

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/humans-net/oxibridge/internal/arbiter"
	"github.com/humans-net/oxibridge/internal/config"
	"github.com/humans-net/oxibridge/internal/controller"
	"github.com/humans-net/oxibridge/internal/link"
	"github.com/humans-net/oxibridge/internal/quality"
	"github.com/humans-net/oxibridge/internal/radio"
	"github.com/humans-net/oxibridge/internal/telemetry"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay node",
	Long: `Starts the relay node: scans for the configured pulse oximeter,
connects, subscribes to its vital-sign stream, and forwards decoded
readings to the telemetry endpoint until interrupted.

Example:
  oxibridge run --config /etc/oxibridge/config.yaml
  oxibridge run --config config.yaml --verbose`,
	RunE: runNode,
}

var (
	runConfigPath string
	runVerbose    bool
)

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Path to the YAML configuration file")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Enable debug logging")
}

func runNode(cmd *cobra.Command, _ []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}

	strategy, err := link.StrategyFromConfig(cfg.Link)
	if err != nil {
		return err
	}

	printStartupSummary(cfg, strategy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupts gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received interrupt signal, shutting down...")
		cancel()
	}()

	metrics := telemetry.NewMetrics()
	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr, metrics, logger)
	}

	estimator := quality.NewEstimator(cfg.Quality)
	manager := link.NewManager(radio.NewBLERadio(logger), strategy, estimator, cfg.Link, logger)
	arbitration := arbiter.NewClient(cfg.Arbitration, logger)
	publisher := telemetry.NewPublisher(cfg.Telemetry, metrics, logger)

	ctrl := controller.New(cfg, manager, arbitration, publisher, metrics, logger)
	if err := ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startMetricsServer exposes the Prometheus registry. Failure to bind is
// not fatal; the relay keeps running without scraping.
func startMetricsServer(ctx context.Context, addr string, metrics *telemetry.Metrics, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warnf("Metrics server failed: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func printStartupSummary(cfg *config.Config, strategy link.DiscoveryStrategy) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	bold.Printf("oxibridge %s\n", formatVersion(version))
	fmt.Printf("  node:      %s\n", green.Sprint(cfg.NodeID))
	fmt.Printf("  discovery: %s\n", strategy.Describe())
	fmt.Printf("  telemetry: %s\n", cfg.Telemetry.URL)
	if cfg.Arbitration.StatusURL != "" {
		fmt.Printf("  arbiter:   %s\n", cfg.Arbitration.StatusURL)
	} else {
		fmt.Printf("  arbiter:   %s\n", yellow.Sprint("disabled (standalone)"))
	}
	if cfg.MetricsAddr != "" {
		fmt.Printf("  metrics:   http://%s/metrics\n", cfg.MetricsAddr)
	}
}
