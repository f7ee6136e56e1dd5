package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ztpkit/ztpkit/pkg/leases"
	"github.com/ztpkit/ztpkit/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the lease watcher, backup engine and job engine",
		Long: `Run the provisioning engine until interrupted.

This command runs:
  - Lease watcher: polls the dnsmasq lease file and reports new or renewed leases
  - Backup engine: backs up a device's running config once its leases settle
  - Job engine: executes queued command and deploy jobs, recovering stuck jobs first

Events are published to subscribers and, when configured, to NATS.`,
		Example: `  # Run with a config file
  ztp serve --config /etc/ztp/ztp.yaml

  # Override the lease file from the environment
  ZTP_LEASES_PATH=/tmp/dnsmasq.leases ztp serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	return cmd
}

func serve(ctx context.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Telemetry shutdown incomplete")
		}
	}()
	ctx = tel.WithContext(ctx)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	if err := tel.Metrics.StartMetricsServer(ctx, logger); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	runner := newRunner(cfg, logger)

	guard, err := newGuard(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy guard: %w", err)
	}
	if guard != nil && cfg.Policy.Watch && cfg.Policy.Dir != "" {
		if err := guard.Watch(ctx, []string{cfg.Policy.Dir}); err != nil {
			logger.Warn().Err(err).Str("dir", cfg.Policy.Dir).Msg("Policy hot reload unavailable")
		} else {
			defer func() { _ = guard.StopWatching() }()
		}
	}

	jobEngine := newJobEngine(cfg, store, runner, guard, logger)
	jobEngine.SetEventSink(tel.Events)
	jobEngine.SetMetrics(tel.Metrics)
	jobEngine.SetTracer(tel.Tracer)

	backupEngine := newBackupEngine(cfg, store, runner, logger)
	backupEngine.SetEventSink(tel.Events)
	backupEngine.SetMetrics(tel.Metrics)
	backupEngine.SetTracer(tel.Tracer)

	watcher := leases.NewWatcher(leases.Config{
		Path:     cfg.Leases.Path,
		Interval: cfg.Leases.Interval,
		Watch:    cfg.Leases.Watch,
	}, logger)
	watcher.SetMetrics(tel.Metrics)
	watcher.SetEventSink(tel.Events)
	watcher.AddCallback(backupEngine.HandleLease)

	if err := backupEngine.Start(ctx); err != nil {
		return err
	}
	defer backupEngine.Stop()

	if err := jobEngine.Start(ctx); err != nil {
		return err
	}
	defer jobEngine.Stop()

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	logger.Info().
		Str("leases", cfg.Leases.Path).
		Str("database", cfg.Database.Path).
		Str("backups", cfg.Backup.Dir).
		Bool("policy", guard != nil).
		Bool("nats", tel.Bridge != nil).
		Msg("Provisioning engine running")

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	return nil
}
