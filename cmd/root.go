package cmd

import (
	"github.com/urfave/cli/v3"
)

var version = "dev"

func App() *cli.Command {
	return &cli.Command{
		Name:    "runpod-worker-comfy",
		Version: version,
		Usage:   "Serverless job bridge for a ComfyUI generation engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML config file",
				Sources: cli.EnvVars("WORKER_CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Sources: cli.EnvVars("WORKER_LOGGING_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			workerCmd(),
			serveCmd(),
			submitCmd(),
		},
	}
}
