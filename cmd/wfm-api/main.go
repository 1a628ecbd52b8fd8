package main

import (
	"context"
	"os"

	"github.com/pipecrm/wfm/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "wfm-api",
		Usage:                 "Author CRM workflows and drive leads and deals through them",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunAPICommand(),
			ImportCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("api").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func databaseURLFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Database URL (postgres://..., sqlite://path or file:path)",
		Required: true,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}
}

func logFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}
