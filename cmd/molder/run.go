package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"molder/internal/config"
	"molder/internal/core"
	"molder/internal/hardware"
	"molder/internal/logger"
	"molder/internal/messaging"
	"molder/internal/metrics"
	"molder/internal/storage"
	"molder/internal/watchdog"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the cycle controller.",
	Long: "`run` connects to Redis, claims the GPIO lines and ticks the " +
		"controller at 10 Hz until SIGINT or SIGTERM.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, l, err := setup()
		if err != nil {
			return err
		}
		return runController(cfg, l)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func newHardware(cfg *config.Config, l *logger.Logger) core.HardwareIO {
	if cfg.Hardware.Simulate {
		l.Warnf("Running with simulated hardware")
		return hardware.NewSimulatedIO(l)
	}
	return hardware.NewLinuxHardwareIO(cfg.Hardware.Mapping, l)
}

func runController(cfg *config.Config, l *logger.Logger) error {
	l.Infof("Starting molder...")

	store, err := storage.Open(cfg.Storage.Path, l)
	if err != nil {
		return err
	}

	redis := messaging.NewRedisClient(cfg.Redis.Host, cfg.Redis.Port, l)
	controller := core.NewController(newHardware(cfg, l), store, redis, l)
	controller.SetDefaults(cfg.Defaults.Settings())
	if cfg.Thermometer.Path != "" {
		controller.SetThermometer(hardware.Thermometer{Path: cfg.Thermometer.Path})
	}

	// The mode machine outlives the signal context and is stopped by Shutdown
	if err := controller.Start(context.Background()); err != nil {
		controller.Shutdown()
		return fmt.Errorf("failed to start controller: %w", err)
	}
	defer controller.Shutdown()

	scheduler := core.NewScheduler(controller, core.TickPeriod, l)
	scheduler.AddObserver(redis)

	if cfg.Metrics.Enabled {
		exporter := metrics.NewExporter()
		scheduler.AddObserver(exporter)

		server := metrics.NewServer(cfg.Metrics.Listen, exporter, controller, l)
		server.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				l.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
	}

	wd := watchdog.New(l)
	scheduler.AddObserver(wd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wd.Ready()
	l.Infof("System started successfully")

	err = scheduler.Run(ctx)
	wd.Stopping()
	if err != nil {
		l.Errorf("Controller stopped: %v", err)
		return err
	}

	l.Infof("Received signal, shutting down...")
	return nil
}
