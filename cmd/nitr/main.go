package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "nitr",
		Version: Version,
		Usage:   "Serve HTTP requests with a Lua handler script",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for messages before the config is loaded (trace, debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("NITR_LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			SetupLogger(cmd.String("log-level"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			serverCmd,
			validateCmd,
			versionCmd,
		},
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
