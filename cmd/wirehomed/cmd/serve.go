package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/wirehome/core"
	"github.com/wirehome/core/api"
	"github.com/wirehome/core/componentgroups"
	"github.com/wirehome/core/components"
	"github.com/wirehome/core/config"
	"github.com/wirehome/core/diagnostics"
	"github.com/wirehome/core/eventlog"
	"github.com/wirehome/core/messagebus"
	"github.com/wirehome/core/storage"
	"github.com/wirehome/core/systemstatus"
)

// NewServeCommand creates the serve command running the hub until SIGINT or
// SIGTERM.
func NewServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the configuration file (.yaml, .yml or .toml)")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func serve(cfg *config.Config) error {
	logger := wirehome.NewSlogLogger(nil)

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := wirehome.NewShutdownToken(signalCtx)
	ctx := shutdown.Context()

	store, err := storage.New(cfg.DataDirectory, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	diag := diagnostics.NewRegistry(logger,
		diagnostics.WithInterval(cfg.Diagnostics.Interval.Std()),
		diagnostics.WithRegisterer(promReg),
	)
	go diag.Run(ctx)

	bus, err := messagebus.New(&cfg.MessageBus, diag, logger)
	if err != nil {
		return fmt.Errorf("create message bus: %w", err)
	}
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("start message bus: %w", err)
	}

	exporter := eventlog.NewExporter(bus, nil, logger)
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start event log: %w", err)
	}
	defer exporter.Stop()

	componentRegistry := components.NewRegistry(store, bus, logger)
	if err := componentRegistry.InitializeFromStorage(); err != nil {
		return fmt.Errorf("load components: %w", err)
	}

	groupRegistry := componentgroups.NewRegistry(store, bus, logger)
	if err := groupRegistry.InitializeFromStorage(); err != nil {
		return fmt.Errorf("load component groups: %w", err)
	}

	status := systemstatus.NewService(logger)
	startedAt := time.Now()
	status.Set("startup_timestamp", startedAt.Format(time.RFC3339))
	status.Set("version", Version)
	status.SetProvider("uptime_seconds", func() wirehome.Value {
		return int64(time.Since(startedAt).Seconds())
	})
	status.SetProvider("goroutines", func() wirehome.Value {
		return runtime.NumGoroutine()
	})

	if cfg.Watcher.Enabled {
		watcher := storage.NewWatcher(store, bus, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("storage watcher stopped", "error", err)
			}
		}()
	}

	notifications := api.NewNotifications(bus, logger)

	server := api.NewServer(cfg.API, api.Deps{
		Components:      componentRegistry,
		ComponentGroups: groupRegistry,
		Bus:             bus,
		Status:          status,
		Notifications:   notifications,
		Gatherer:        promReg,
		Logger:          logger,
	})

	logger.Info("hub started",
		"data_directory", cfg.DataDirectory,
		"components", len(componentRegistry.GetComponentUids()),
		"component_groups", len(groupRegistry.GetComponentGroupUids()),
	)

	err = server.Run(ctx)
	shutdown.Signal()
	logger.Info("hub stopped")
	return err
}
