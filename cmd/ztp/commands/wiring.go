package commands

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ztpkit/ztpkit/pkg/backup"
	"github.com/ztpkit/ztpkit/pkg/config"
	"github.com/ztpkit/ztpkit/pkg/jobs"
	"github.com/ztpkit/ztpkit/pkg/policy"
	"github.com/ztpkit/ztpkit/pkg/stores"
	"github.com/ztpkit/ztpkit/pkg/transports/ssh"
)

func newRunner(cfg *config.Config, logger zerolog.Logger) *ssh.Runner {
	return ssh.NewRunner(ssh.Options{
		ConnectTimeout:        cfg.SSH.ConnectTimeout,
		CommandTimeout:        cfg.SSH.CommandTimeout,
		InteractiveTimeout:    cfg.SSH.InteractiveTimeout,
		StrictHostKeyChecking: cfg.SSH.StrictHostKeyChecking,
		KnownHostsPath:        cfg.SSH.KnownHostsPath,
	}, logger)
}

// newGuard returns nil when the policy guard is disabled.
func newGuard(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*policy.Engine, error) {
	if !cfg.Policy.Enabled {
		return nil, nil
	}
	guard, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if cfg.Policy.Dir != "" {
		if err := guard.LoadPolicies(ctx, []string{cfg.Policy.Dir}); err != nil {
			return nil, err
		}
	}
	return guard, nil
}

func newJobEngine(cfg *config.Config, store stores.Store, runner *ssh.Runner, guard *policy.Engine, logger zerolog.Logger) *jobs.Engine {
	eng := jobs.NewEngine(jobs.Config{
		QueueSize: cfg.Jobs.QueueSize,
		SSHPort:   cfg.SSH.Port,
	}, store, runner, logger)
	if guard != nil {
		eng.SetGuard(guard)
	}
	return eng
}

func newBackupEngine(cfg *config.Config, store stores.Store, runner *ssh.Runner, logger zerolog.Logger) *backup.Engine {
	eng := backup.NewEngine(backup.Config{
		Dir:         cfg.Backup.Dir,
		QueueSize:   cfg.Backup.QueueSize,
		MaxAttempts: cfg.Backup.MaxAttempts,
		BackoffStep: cfg.Backup.BackoffStep,
		SSHPort:     cfg.SSH.Port,
	}, store, runner, logger)

	if a := cfg.Backup.Archive; a.Enabled {
		eng.SetArchiver(runner, backup.ArchiveConfig{
			Host:      a.Host,
			Port:      a.Port,
			User:      a.User,
			Password:  a.Password,
			RemoteDir: a.RemoteDir,
		})
	}
	return eng
}
