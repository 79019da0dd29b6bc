package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cpe-server/cpe-server-pro/internal/acs"
	"github.com/cpe-server/cpe-server-pro/internal/alerting"
	"github.com/cpe-server/cpe-server-pro/internal/api"
	"github.com/cpe-server/cpe-server-pro/internal/config"
	"github.com/cpe-server/cpe-server-pro/internal/monitor"
	"github.com/cpe-server/cpe-server-pro/internal/orchestrator"
	"github.com/cpe-server/cpe-server-pro/internal/server"
	"github.com/cpe-server/cpe-server-pro/internal/storage"
)

func main() {
	// Command line flags
	var configFile string
	flag.StringVar(&configFile, "config", "config/device-manager.yml", "Configuration file path")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Open storage
	var store storage.Store
	switch cfg.Database.Driver {
	case "memory":
		store = storage.NewMemoryStore()
		log.Info().Msg("Using in-memory store")
	default:
		pgStore, err := storage.NewPostgresStore(cfg.Database.DSN, storage.PoolOptions{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		store = pgStore
		log.Info().Msg("Connected to database")
	}
	defer store.Close()

	// ACS gateway client
	gateway := acs.NewClient(cfg.ACS.BaseURL, cfg.ACS.Token, cfg.ACS.Timeout)
	log.Info().Str("url", cfg.ACS.BaseURL).Msg("ACS gateway configured")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// WaitGroup for services
	var wg sync.WaitGroup

	// Optional: connect to NATS
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("cpe-device-manager"),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
			nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
				log.Error().
					Err(err).
					Str("subject", sub.Subject).
					Msg("NATS error")
			}),
		)

		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, running in standalone mode")
	}

	// Alert forwarder
	alerts := alerting.NewForwarder(cfg.Alerting, nc, store)
	defer alerts.Close()

	// Orchestrators and dispatcher
	provisioner := orchestrator.NewProvisioner(store, gateway, alerts, cfg.ACS.Timeout)
	upgrader := orchestrator.NewUpgrader(store, gateway, alerts, cfg.ACS.Timeout)
	dispatcher := orchestrator.NewDispatcher(provisioner, upgrader, cfg.Workers.Count, cfg.Workers.QueueSize)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := dispatcher.Start(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Dispatcher stopped")
		}
	}()

	// Device monitor
	if cfg.Monitor.Enabled {
		mon := monitor.New(store, gateway, alerts, cfg.Monitor.Interval, cfg.Monitor.PageSize)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mon.Run(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("Device monitor stopped")
			}
		}()
	} else {
		log.Info().Msg("Device monitor disabled")
	}

	// ACS event subscriber
	if nc != nil {
		subscriber := server.NewNATSSubscriber(nc, store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("Starting NATS subscriber")
			if err := subscriber.Start(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("NATS subscriber stopped")
			}
		}()
	}

	// Operational REST API
	apiServer := api.NewRESTServer(cfg, store, gateway)
	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		if err := apiServer.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("REST API server failed")
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	// Cancel context
	cancel()

	// Shutdown API server
	if err := apiServer.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
	}

	// Wait for all services
	wg.Wait()

	log.Info().Msg("Device manager stopped")
}
