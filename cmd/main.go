package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"device-checkin/internal/api"
	"device-checkin/internal/checkin"
	"device-checkin/internal/client"
	"device-checkin/internal/config"
	"device-checkin/internal/database"
	"device-checkin/internal/logging"
	"device-checkin/internal/metrics"
)

// version is set at build time via -ldflags
var version = "dev"

// drainTimeout bounds how long shutdown waits for an in-flight checkin
// before the credential database is closed
const drainTimeout = 10 * time.Second

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "device-checkin",
	Short: "Device checkin agent - obtain and maintain a device credential",
	Long: `A small agent that checks this device in with the registration service,
keeps the issued device credential in an encrypted local store and refreshes
it periodically. Concurrent requests for the credential share a single
checkin round trip.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runAgent(ctx, cfg, logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and initializes logging
func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := logging.Initialize(cfg.LogLevel)
	if err := logging.SetupFileLogging(logger, cfg.LogFile); err != nil {
		return nil, nil, fmt.Errorf("failed to set up file logging: %w", err)
	}

	return cfg, logger, nil
}

// openStore opens the credential database. Without a configured key, one is
// generated next to the database on first use.
func openStore(cfg *config.Config) (*database.DB, *database.CredentialStore, error) {
	var key []byte
	var err error
	if cfg.EncryptionKey != "" {
		key, err = cfg.EncryptionKeyBytes()
	} else {
		key, err = database.LoadOrCreateKey(cfg.DatabasePath + ".key")
	}
	if err != nil {
		return nil, nil, err
	}

	db, err := database.NewDB(database.Config{
		DatabasePath:  cfg.DatabasePath,
		EncryptionKey: key,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open credential database: %w", err)
	}

	return db, database.NewCredentialStore(db), nil
}

// resolveClientID prefers the configured client ID over the persisted one
func resolveClientID(ctx context.Context, cfg *config.Config, store *database.CredentialStore) (string, error) {
	if cfg.ClientID != "" {
		return cfg.ClientID, nil
	}
	return store.ClientID(ctx)
}

// newOrchestrator wires the HTTP transport and the store into an orchestrator
// seeded with the stored credential
func newOrchestrator(ctx context.Context, cfg *config.Config, logger *logrus.Logger, store *database.CredentialStore, recorder metrics.Recorder) (*checkin.Orchestrator, error) {
	cred, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	clientID, err := resolveClientID(ctx, cfg, store)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve client id: %w", err)
	}

	httpClient, err := client.NewHTTPClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	transport := client.NewCheckinTransport(httpClient, cfg.Locale, logger)

	return checkin.NewOrchestrator(transport, store, clientID,
		checkin.WithLogger(logger),
		checkin.WithRecorder(recorder),
		checkin.WithCredential(cred),
		checkin.WithCheckinInterval(cfg.CheckinIntervalDuration()),
		checkin.WithBaseContext(ctx),
	)
}

// drainCheckins waits, bounded by drainTimeout, for the orchestrator to go idle
func drainCheckins(orchestrator *checkin.Orchestrator, logger *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	if err := orchestrator.WaitIdle(ctx); err != nil {
		logger.WithError(err).Warn("Checkin still in flight at shutdown")
		return
	}
	logger.Debug("No checkin in flight, closing credential store")
}

// runAgent runs the refresher and the status API until ctx is cancelled
func runAgent(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"version":    version,
		"server_url": cfg.ServerURL,
		"database":   cfg.DatabasePath,
	}).Info("Device checkin agent starting up")

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(reg)

	orchestrator, err := newOrchestrator(ctx, cfg, logger, store, recorder)
	if err != nil {
		return err
	}
	// runs before db.Close so an in-flight save does not hit a closed database
	defer drainCheckins(orchestrator, logger)

	refresher, err := checkin.NewRefresher(orchestrator, cfg.RetryPolicy(), cfg.RefreshTickDuration(),
		checkin.WithRefresherLogger(logger))
	if err != nil {
		return err
	}
	if err := refresher.Start(ctx); err != nil {
		return err
	}
	defer refresher.Stop()

	errCh := make(chan error, 1)
	if cfg.API.Enabled {
		server := api.NewServer(cfg.API, logger, orchestrator, metrics.HTTPHandler(reg), version)
		go func() {
			errCh <- server.Start(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("Device checkin agent shutting down")
		if cfg.API.Enabled {
			if err := <-errCh; err != nil {
				logger.WithError(err).Warn("API server did not shut down cleanly")
			}
		}
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		logging.LogServiceError(logger, err, "api", "serve", false)
		return fmt.Errorf("status API failed: %w", err)
	}
}
