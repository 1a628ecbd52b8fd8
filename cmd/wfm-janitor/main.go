// Package main runs the janitor that reports and optionally removes orphaned WFM projects.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pipecrm/wfm/pkg/cmd"
	"github.com/pipecrm/wfm/pkg/janitor"
	"github.com/pipecrm/wfm/pkg/log"
	"github.com/pipecrm/wfm/pkg/metrics"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:  "wfm-janitor",
		Usage: "Find WFM projects no lead or deal points to",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database URL (postgres://..., sqlite://path or file:path)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron schedule of the sweep",
				Value:   janitor.DefaultSchedule,
				Sources: cli.EnvVars("JANITOR_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "grace-period",
				Usage:   "Minimum age of a project before it counts as orphaned",
				Value:   janitor.DefaultGracePeriod,
				Sources: cli.EnvVars("JANITOR_GRACE_PERIOD"),
			},
			&cli.BoolFlag{
				Name:    "delete",
				Usage:   "Delete orphaned projects instead of only reporting them",
				Sources: cli.EnvVars("JANITOR_DELETE"),
			},
			&cli.BoolFlag{
				Name:  "once",
				Usage: "Run a single sweep and exit",
			},
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
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("janitor").Error("Janitor failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("janitor")

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	j, err := janitor.New(persistence.ProjectRepository(), metrics.New(), janitor.Config{
		Schedule:    command.String("schedule"),
		GracePeriod: command.Duration("grace-period"),
		Delete:      command.Bool("delete"),
	}, logger)
	if err != nil {
		return fmt.Errorf("invalid janitor configuration: %w", err)
	}

	if command.Bool("once") {
		_, err = j.Sweep(ctx)

		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = j.Start(ctx)
	if err != nil {
		return err
	}

	<-ctx.Done()

	logger.Info("Shutting down janitor")

	j.Stop(context.Background())

	return nil
}
