package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"hedge-sync-go/internal/config"
	"hedge-sync-go/internal/database"
	"hedge-sync-go/internal/engine"
	"hedge-sync-go/internal/journal"
	"hedge-sync-go/internal/license"
	"hedge-sync-go/internal/logger"
	"hedge-sync-go/internal/platform"
	"hedge-sync-go/internal/registry"
	"hedge-sync-go/internal/transport"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "1.0.0"

func main() {
	configDir := pflag.StringP("config", "c", "./configs", "directory holding config.yml")
	sim := pflag.Bool("sim", false, "use the in-memory simulated platform")
	pflag.Parse()

	// Load application configuration
	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}
	if *sim {
		cfg.Platform.Kind = "sim"
	}

	// Initialize logger
	log, err := logger.NewLogger("master", cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded", zap.String("version", version), zap.String("platform", cfg.Platform.Kind), zap.String("transport", cfg.Transport.Kind))

	if cfg.License.DeviceID == "" {
		id, err := registry.DeviceID(cfg.Registry.Dir)
		if err != nil {
			log.Fatal("Failed to resolve device id", zap.Error(err))
		}
		cfg.License.DeviceID = id
		log.Info("Using generated device id", zap.String("device_id", id))
	}

	opts := engine.Options{Version: version}

	// Deal history is optional
	if cfg.Database.DSN != "" {
		db, err := database.NewDatabase(cfg.Database.DSN)
		if err != nil {
			log.Fatal("Failed to connect to database", zap.Error(err))
		}
		opts.History = database.NewHistoryStore(db)
		log.Info("Database connection successful and schema migrated.")
	}

	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, cfg.Journal.Retention)
		if err != nil {
			log.Fatal("Failed to open event journal", zap.Error(err))
		}
		defer j.Close()
		opts.Journal = j
	}

	// Initialize the terminal adapter
	opts.Platform, err = platform.New(&cfg.Platform, log)
	if err != nil {
		log.Fatal("Failed to create platform adapter", zap.Error(err))
	}
	defer opts.Platform.Close()

	validator := license.NewChain(
		license.NewHelperValidator(cfg.License.HelperPath, cfg.License.Timeout, log),
		license.NewHTTPValidator(&cfg.License, log),
		log,
	)
	opts.Gate = license.NewGate(validator, license.Params{}, cfg.License.CheckInterval, cfg.License.RenewMargin, log)

	transportOpts := transport.OptionsFromConfig(&cfg.Transport)
	opts.OpenTransport = func() (transport.Transport, error) {
		return transport.Open(cfg.Transport.Kind, transportOpts, log)
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize and run the synchronization engine
	master := engine.NewEngine(log, &cfg, opts)
	if err := master.Run(ctx); err != nil {
		log.Error("Engine stopped", zap.Error(err))
		// os.Exit skips the deferred closes
		if opts.Journal != nil {
			opts.Journal.Close()
		}
		opts.Platform.Close()
		log.Sync()
		os.Exit(1)
	}

	log.Info("Master has been shut down.")
}
