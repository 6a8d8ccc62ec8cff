package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/abhinavp13/Ubiquitous/internal/api/http"
	"github.com/abhinavp13/Ubiquitous/internal/config"
	"github.com/abhinavp13/Ubiquitous/internal/connection"
	"github.com/abhinavp13/Ubiquitous/internal/datalayer"
	"github.com/abhinavp13/Ubiquitous/internal/datalayer/kafka"
	"github.com/abhinavp13/Ubiquitous/internal/datalayer/memory"
	"github.com/abhinavp13/Ubiquitous/internal/datalayer/mqtt"
	"github.com/abhinavp13/Ubiquitous/internal/metrics"
	"github.com/abhinavp13/Ubiquitous/internal/publisher"
	"github.com/abhinavp13/Ubiquitous/internal/render"
	"github.com/abhinavp13/Ubiquitous/internal/scheduler"
	"github.com/abhinavp13/Ubiquitous/internal/store"
	"github.com/abhinavp13/Ubiquitous/internal/subscriber"
	"github.com/abhinavp13/Ubiquitous/internal/weather"
	"github.com/abhinavp13/Ubiquitous/internal/weather/providers"
)

const metricsNamespace = "weather_sync"

// newDialer builds the configured data-layer driver. bus is used for the
// memory transport; nil creates a private one.
func newDialer(cfg *config.AppConfig, bus *memory.Bus) (datalayer.Dialer, error) {
	switch cfg.Transport {
	case config.TransportMemory:
		if bus == nil {
			log.Println("INFO: memory transport only pairs roles inside this process")
			bus = memory.NewBus()
		}
		return bus, nil
	case config.TransportMQTT:
		return mqtt.NewDialer(mqtt.Config{
			Broker:   cfg.MQTTBroker,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			QoS:      byte(cfg.MQTTQoS),
			Root:     cfg.MQTTRoot,
		}), nil
	case config.TransportKafka:
		return kafka.NewDialer(kafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// openStore returns the configured snapshot store and its closer.
func openStore(ctx context.Context, cfg *config.AppConfig) (weather.Store, func() error, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite, config.StorePostgres:
		st, err := store.OpenSQL(ctx, cfg.StoreDriver, cfg.StoreDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		// In-memory store with configured retention.
		return store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge), func() error { return nil }, nil
	}
}

// buildProviders returns the upstream providers that have what they need to run.
func buildProviders(cfg *config.AppConfig) []weather.Provider {
	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var provs []weather.Provider
	if cfg.OpenWeatherAPIKey != "" {
		provs = append(provs, providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey))
	}
	if cfg.WeatherAPIKey != "" {
		provs = append(provs, providers.NewWeatherAPIProvider(httpClient, cfg.WeatherAPIKey))
	}
	if cfg.Location.Lat != nil && cfg.Location.Lon != nil {
		provs = append(provs, providers.NewOpenMeteoProvider(httpClient))
	}
	return provs
}

func managerConfig(cfg *config.AppConfig, name string, collector *metrics.Collector) connection.Config {
	return connection.Config{
		Name:           name,
		ConnectTimeout: cfg.ConnectTimeout,
		SuspendTimeout: cfg.SuspendTimeout,
		OnTransition:   collector.ObserveTransitions(name),
	}
}

func runPrimary(ctx context.Context, cfg *config.AppConfig, dialer datalayer.Dialer, port string) error {
	collector := metrics.NewCollector(metricsNamespace)

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Printf("close store: %v", err)
		}
	}()

	provs := buildProviders(cfg)
	service := weather.NewService(st, provs, cfg.Units)

	mgr := connection.New(dialer, managerConfig(cfg, "primary", collector))
	pub := publisher.New(mgr, service, publisher.Config{
		Path:     cfg.SyncPath,
		Timeout:  cfg.PublishTimeout,
		Location: cfg.Location,
	}, collector)

	var refresher scheduler.Refresher
	if len(provs) > 0 {
		refresher = service
	} else {
		log.Println("INFO: no weather providers configured; snapshots arrive through PUT /api/v1/snapshot")
	}

	sched := scheduler.New(scheduler.Config{
		Interval:          cfg.PublishInterval,
		ReconnectInterval: cfg.ReconnectInterval,
		MaxRetries:        cfg.PublishMaxRetries,
		Location:          cfg.Location,
	}, refresher, pub, collector, mgr)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	mgr.Connect()
	defer mgr.Disconnect()
	go func() {
		if err := pub.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("publisher stopped: %v", err)
		}
	}()

	app := newApp("weather-sync-primary")
	httpapi.RegisterStatusRoutes(app, mgr, collector.Registry)
	httpapi.RegisterPrimaryRoutes(app, service, pub, cfg.Location)

	return serve(ctx, app, port)
}

func runCompanion(ctx context.Context, cfg *config.AppConfig, dialer datalayer.Dialer, port string) error {
	collector := metrics.NewCollector(metricsNamespace)
	mgr := connection.New(dialer, managerConfig(cfg, "companion", collector))

	// One subscriber and presentation loop per consumer.
	loops := make([]*render.Loop, 0, len(cfg.Consumers))
	for _, name := range cfg.Consumers {
		loop := render.NewLoop(name, render.LogRenderer{Name: name}, collector)
		loops = append(loops, loop)
		sub := subscriber.New(mgr, weather.ConditionTable{}, loop, subscriber.Config{
			Name: name,
			Path: cfg.SyncPath,
		}, collector)

		go func() { _ = loop.Run(ctx) }()
		go func() { _ = sub.Run(ctx) }()
	}

	sched := scheduler.New(scheduler.Config{ReconnectInterval: cfg.ReconnectInterval}, nil, nil, collector, mgr)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	mgr.Connect()
	defer mgr.Disconnect()

	app := newApp("weather-sync-companion")
	httpapi.RegisterStatusRoutes(app, mgr, collector.Registry)
	httpapi.RegisterCompanionRoutes(app, loops)

	return serve(ctx, app, port)
}

func newApp(name string) *fiber.App {
	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(httpapi.RequestID())
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": name,
		})
	})
	return app
}

// serve runs app until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, app *fiber.App, port string) error {
	errs := make(chan error, 1)
	go func() {
		errs <- app.Listen(":" + port)
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("fiber server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
	return nil
}
