package main

import (
	"context"

	"github.com/pipecrm/wfm/pkg/cmd"
	"github.com/pipecrm/wfm/pkg/config"
	"github.com/pipecrm/wfm/pkg/log"
	"github.com/pipecrm/wfm/pkg/otelhelper"
	"github.com/pipecrm/wfm/pkg/services"
	"github.com/urfave/cli/v3"
)

func ImportCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Create statuses, workflows and project types from a YAML file",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the definitions file",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "actor",
				Usage:   "User ID recorded as the author of the imported definitions",
				Value:   "system",
				Sources: cli.EnvVars("WFM_IMPORT_ACTOR"),
			},
			databaseURLFlag(),
		}, logFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("import")

			definitions, err := config.LoadDefinitions(command.String("file"))
			if err != nil {
				return err
			}

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

			authoring := services.NewAuthoring(persistence, nil, otelhelper.NoopTracer(), logger)

			result, err := config.NewImporter(authoring, logger).Import(ctx, definitions, command.String("actor"))
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Definitions imported", "created", result.Created, "skipped", result.Skipped)

			return nil
		},
	}
}
