// Package main provides the entry point for the election audit ledger daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/votingplatform/election-ledger/internal/api"
	"github.com/votingplatform/election-ledger/internal/config"
	"github.com/votingplatform/election-ledger/internal/ledger"
	"github.com/votingplatform/election-ledger/internal/storage"
)

var log = logging.Logger("ledgerd")

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Election audit ledger",
	Long: `ledgerd keeps the tamper-evident audit ledger of the voting platform.
Every poll, candidate, voter and vote change is appended to a SHA-256 hash chain
that auditors can verify online or from an exported snapshot.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if debug {
			logging.SetAllLoggers(logging.LevelDebug)
		} else {
			logging.SetAllLoggers(logging.LevelInfo)
		}
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the ledger daemon",
	Long:  `Start the ledger daemon and serve the read-only ledger API.`,
	RunE:  runDaemon,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize ledger configuration",
	Long:  `Write a default configuration file and create the data directory.`,
	RunE:  runInit,
}

var (
	configPath string
	listenAddr string
	debug      bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")

	daemonCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "override listen address")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(headCmd)
	rootCmd.AddCommand(appendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies log.level unless --debug
// was given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !debug && cfg.Log.Level != "" {
		lvl, err := logging.LevelFromString(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log.level: %w", err)
		}
		logging.SetAllLoggers(lvl)
	}
	return cfg, nil
}

// openStore opens the configured ledger store.
func openStore(cfg *config.Config) (ledger.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		log.Warn("Using in-memory ledger store; entries will not survive a restart")
		return ledger.NewMemoryStore(), nil
	default:
		return storage.NewSQLiteStore(cfg.Storage.Path, cfg.Storage.BusyTimeout())
	}
}

func serviceOptions(cfg *config.Config, metrics *ledger.Metrics) ledger.Options {
	opts := ledger.DefaultOptions()
	opts.MaxRetries = cfg.Ledger.MaxRetries
	opts.InitialInterval = cfg.Ledger.RetryInitialInterval
	opts.MaxInterval = cfg.Ledger.RetryMaxInterval
	opts.Metrics = metrics
	return opts
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Override listen address if specified
	if listenAddr != "" {
		cfg.API.ListenAddr = listenAddr
	}

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open ledger store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svc := ledger.NewService(store, serviceOptions(cfg, ledger.NewMetrics(reg)))
	defer svc.Close()

	log.Info("Starting election audit ledger...")
	if cfg.Ledger.VerifyOnStart {
		if _, err := svc.SelfCheck(ctx); err != nil {
			return fmt.Errorf("startup verification failed: %w", err)
		}
	}
	go svc.RunSelfCheck(ctx, cfg.Ledger.VerifyInterval)

	apiOpts := api.Options{
		AllowedOrigins: cfg.API.AllowedOrigins,
		EnableStream:   cfg.API.EnableStream,
	}
	if cfg.API.EnableMetrics {
		apiOpts.MetricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	server := &http.Server{
		Addr:              cfg.API.ListenAddr,
		Handler:           api.NewHandler(svc, apiOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Ledger API available at http://%s/api/ledger", cfg.API.ListenAddr)
		if cfg.API.EnableStream {
			log.Infof("Live feed available at ws://%s/api/ledger/stream", cfg.API.ListenAddr)
		}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
	case err := <-serverErr:
		return fmt.Errorf("ledger API server: %w", err)
	}

	log.Info("Shutting down...")
	cancel()
	svc.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("API server shutdown error: %v", err)
	}
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.Path, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	log.Infof("Initialized ledger configuration at %s", path)
	return nil
}
