package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/abhinavp13/Ubiquitous/internal/config"
	"github.com/abhinavp13/Ubiquitous/internal/datalayer/memory"
)

func main() {
	app := &cli.App{
		Name:  "weather-sync",
		Usage: "Synchronize the weather snapshot between a primary device and its companions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "transport",
				Usage: "data layer: memory, mqtt or kafka (overrides SYNC_TRANSPORT)",
			},
			&cli.StringFlag{
				Name:  "port",
				Usage: "status API port (overrides PORT)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "primary",
				Usage:  "Store, refresh and publish the weather snapshot",
				Action: primaryAction,
			},
			{
				Name:   "companion",
				Usage:  "Follow the weather snapshot and keep the render state current",
				Action: companionAction,
			},
			{
				Name:   "demo",
				Usage:  "Run a primary and a companion in one process over the in-memory transport",
				Action: demoAction,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("weather-sync: %v", err)
	}
}

func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if t := c.String("transport"); t != "" {
		cfg.Transport = t
	}
	if p := c.String("port"); p != "" {
		cfg.Port = p
	}
	return cfg, nil
}

func primaryAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dialer, err := newDialer(cfg, nil)
	if err != nil {
		return err
	}
	return runPrimary(c.Context, cfg, dialer, cfg.Port)
}

func companionAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dialer, err := newDialer(cfg, nil)
	if err != nil {
		return err
	}
	return runCompanion(c.Context, cfg, dialer, cfg.Port)
}

// demoAction pairs both roles on one in-process bus. The companion API
// listens on the port after the primary's.
func demoAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cfg.Transport = config.TransportMemory
	bus := memory.NewBus()

	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- runPrimary(ctx, cfg, bus, cfg.Port) }()
	go func() { errs <- runCompanion(ctx, cfg, bus, strconv.Itoa(port+1)) }()

	first := <-errs
	cancel()
	second := <-errs
	if first != nil {
		return first
	}
	return second
}
