package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/atlanticdynamic/nitr/internal/config"
	"github.com/atlanticdynamic/nitr/internal/fancy"
	"github.com/atlanticdynamic/nitr/internal/script/host"
	"github.com/robbyt/go-loglater"
	"github.com/urfave/cli/v3"
)

var validateCmd = &cli.Command{
	Name:      "validate",
	Aliases:   []string{"lint"},
	Usage:     "Validate a configuration file and the scripts it names",
	ArgsUsage: "[config file]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the configuration file",
		},
		&cli.BoolFlag{
			Name:    "tree",
			Aliases: []string{"t"},
			Usage:   "Show detailed tree view of the validated configuration",
		},
		&cli.BoolFlag{
			Name:  "skip-scripts",
			Usage: "Only check the TOML file, without loading the scripts",
		},
	},
	Action: validateAction,
}

func validateAction(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	if configPath == "" {
		if cmd.Args().Len() < 1 {
			return fmt.Errorf(
				"config file path required (use the --config flag, or provide the config file as positional argument)",
			)
		}
		configPath = cmd.Args().Get(0)
	}

	out, errOut := cmd.Root().Writer, cmd.Root().ErrWriter
	if errOut == nil {
		errOut = os.Stderr
	}
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		fmt.Fprintln(errOut, fancy.ErrorText("✗ "+configPath))
		return fmt.Errorf("validation failed: %w", err)
	}

	if !cmd.Bool("skip-scripts") {
		if err := bootScripts(ctx, cfg, errOut); err != nil {
			fmt.Fprintln(errOut, fancy.ErrorText("✗ "+configPath))
			return fmt.Errorf("script validation failed: %w", err)
		}
	}

	fmt.Fprintf(out, "%s %s\n", fancy.ValidText("✓"), fancy.PathText(configPath))
	if cmd.Bool("tree") {
		fmt.Fprintln(out, cfg)
		return nil
	}
	fmt.Fprintln(out, renderConfigSummary(configPath, cfg))
	return nil
}

// bootScripts loads the configuration and handler scripts once. Logs are held back and
// replayed to errOut only when the boot fails.
func bootScripts(ctx context.Context, cfg *config.Config, errOut io.Writer) error {
	hostCfg, err := cfg.HostConfig()
	if err != nil {
		return err
	}

	collector := loglater.NewLogCollector(
		slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	h, err := host.New(ctx, hostCfg, host.WithLogHandler(collector), host.WithDebugWriter(io.Discard))
	if err != nil {
		if perr := collector.PlayLogs(slog.NewTextHandler(errOut, nil)); perr != nil {
			return fmt.Errorf("%w (log replay failed: %w)", err, perr)
		}
		return err
	}
	h.Close()
	return nil
}

func renderConfigSummary(path string, cfg *config.Config) string {
	var summary strings.Builder

	caps := "none"
	if set, err := cfg.Capabilities(); err == nil {
		caps = set.String()
	}
	handler := cfg.Scripts.Handler
	if handler == "" {
		handler = "(none)"
	}

	summary.WriteString("\nConfig Summary:\n")
	fmt.Fprintf(&summary, "- Path: %s\n", path)
	fmt.Fprintf(&summary, "- Version: %s\n", cfg.Version)
	fmt.Fprintf(&summary, "- Listen: %s\n", cfg.Server.ListenAddr)
	fmt.Fprintf(&summary, "- Handler: %s (reload: %s)\n", handler, cfg.Scripts.Reload)
	fmt.Fprintf(&summary, "- Capabilities: %s\n", caps)
	summary.WriteString("\nUse --tree for a more detailed view of the config.")

	return summary.String()
}
