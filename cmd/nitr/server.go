package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/atlanticdynamic/nitr/cmd/nitr/server"
	"github.com/atlanticdynamic/nitr/internal/config"
	"github.com/urfave/cli/v3"
)

var serverCmd = &cli.Command{
	Name:  "server",
	Usage: "Start the nitr server",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "config",
			Usage:    "Path to TOML configuration file",
			Aliases:  []string{"c"},
			Sources:  cli.EnvVars("NITR_CONFIG"),
			Required: true,
		},
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "Override the listen address from the config file",
			Aliases: []string{"l"},
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadServerConfig(cmd.String("config"), cmd.String("listen"))
		if err != nil {
			return cli.Exit(err, 1)
		}

		logger, closer, err := configureLogging(cfg.Logging)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to configure logging: %w", err), 1)
		}
		defer func() { _ = closer.Close() }()

		logger.Debug("Loaded configuration", "path", cmd.String("config"))
		if err := server.Run(ctx, logger.With("component", "server"), cfg); err != nil {
			logger.Error("Server failed", "error", err)
			return cli.Exit(err, 1)
		}
		return nil
	},
}

func loadServerConfig(path, listen string) (*config.Config, error) {
	cfg, err := config.NewConfig(path)
	if err != nil {
		return nil, err
	}
	if listen != "" {
		cfg.Server.ListenAddr = listen
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", config.ErrFailedToValidateConfig, err)
		}
	}
	slog.Debug("Configuration ready", "listen", cfg.Server.ListenAddr)
	return cfg, nil
}
