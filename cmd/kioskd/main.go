// kioskd is the vending kiosk control-plane daemon: it keeps the local
// catalog and planogram in sync with the cloud, runs the cart and
// reservation engine, tracks the machine state and serves the touchscreen
// UI over REST and WebSocket.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vendkit/kioskd/pkg/api"
	"github.com/vendkit/kioskd/pkg/bus"
	"github.com/vendkit/kioskd/pkg/cart"
	"github.com/vendkit/kioskd/pkg/cloud"
	"github.com/vendkit/kioskd/pkg/config"
	"github.com/vendkit/kioskd/pkg/database"
	"github.com/vendkit/kioskd/pkg/machine"
	"github.com/vendkit/kioskd/pkg/mqtt"
	"github.com/vendkit/kioskd/pkg/planogram"
	"github.com/vendkit/kioskd/pkg/push"
	"github.com/vendkit/kioskd/pkg/store"
	"github.com/vendkit/kioskd/pkg/store/postgres"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	configPath := flag.String("config",
		getEnv("KIOSKD_CONFIG", "./config.yaml"),
		"Path to the YAML configuration file")
	flag.Parse()

	// Load .env next to the binary, best effort.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(*configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	logger.Info("Starting kioskd", "device_id", cfg.Cloud.DeviceID, "config", *configPath)

	// 2. Storage. Postgres by default; KIOSKD_STORE=memory runs without a
	// database for bench setups.
	var st store.Store
	var dbClient *database.Client
	if getEnv("KIOSKD_STORE", "postgres") == "memory" {
		logger.Warn("Using in-memory store, nothing will survive a restart")
		st = store.NewMemory()
	} else {
		dbCfg, err := database.LoadConfigFromEnv()
		if err != nil {
			logger.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbCfg)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				logger.Error("Error closing database client", "error", err)
			}
		}()
		logger.Info("Connected to PostgreSQL database")
		st = postgres.New(dbClient.DB())
	}

	// 3. Event bus
	b := bus.NewWithPeriod(logger, cfg.Bus.DispatchPeriod)

	// 4. Cloud client
	cloudClient := cloud.NewClient(cfg.Cloud, logger)
	cloudClient.SubscribeBus(b)

	// 5. Engines
	planogramSync := planogram.New(cfg.Planogram, b, cloudClient, st, logger)
	if err := planogramSync.Start(ctx); err != nil {
		logger.Error("Failed to start planogram synchronizer", "error", err)
		os.Exit(1)
	}

	cartEngine := cart.New(cfg.Cart, b, cloudClient, st, nil, logger)
	if err := cartEngine.Start(ctx); err != nil {
		logger.Error("Failed to start cart engine", "error", err)
		os.Exit(1)
	}

	stateMachine := machine.New(b, planogramSync, logger)
	stateMachine.Start()

	// 6. Push hub, bridged to the bus before it starts dispatching
	hub := push.NewHub(cfg.Push.WriteTimeout, logger)
	hub.BindBus(b)

	b.Start()

	// 7. MQTT topics. Handlers are bound before the broker connection so a
	// reconnect never races the registry.
	subscriber := mqtt.NewSubscriber(cfg.MQTT, logger)
	planogramSync.BindTopics(subscriber)
	cartEngine.BindTopics(subscriber)
	if err := subscriber.Connect(); err != nil {
		logger.Error("Failed to connect to MQTT broker", "error", err)
		os.Exit(1)
	}

	// 8. REST server
	server := api.NewServer(cfg.API, cfg.Planogram, b, st, cartEngine, stateMachine, hub, logger)
	if dbClient != nil {
		server.SetHealthCheck(func(ctx context.Context) (map[string]any, error) {
			return database.Health(ctx, dbClient.DB())
		})
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 9. Wait for shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("REST server failed", "error", err)
		}
	}

	// 10. Graceful shutdown, reverse startup order
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("REST server shutdown failed", "error", err)
	}
	subscriber.Stop()
	b.Stop()
	stateMachine.Stop()
	cartEngine.Stop()
	planogramSync.Stop()
	logger.Info("kioskd stopped")
}
