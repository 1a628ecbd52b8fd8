package main

import (
	"context"
	"fmt"

	"github.com/pipecrm/wfm/pkg/cmd"
	"github.com/pipecrm/wfm/pkg/log"
	"github.com/pipecrm/wfm/pkg/metrics"
	"github.com/pipecrm/wfm/pkg/otelhelper"
	"github.com/urfave/cli/v3"
)

func RunAPICommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the API server",
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			databaseURLFlag(),
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, kafka-go, memory)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the notification queue and the definition cache",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-queue",
				Usage:   "Redis list notifications are pushed to",
				Sources: cli.EnvVars("REDIS_QUEUE"),
			},
			&cli.BoolFlag{
				Name:    "cache",
				Usage:   "Cache workflow graphs in Redis",
				Sources: cli.EnvVars("WFM_CACHE_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS URL events are mirrored to",
				Sources: cli.EnvVars("NATS_URL"),
			},
			&cli.StringFlag{
				Name:    "nats-subject-prefix",
				Usage:   "Subject prefix of the NATS sink",
				Sources: cli.EnvVars("NATS_SUBJECT_PREFIX"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export traces with OpenTelemetry",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.FloatFlag{
				Name:    "otel-sample-ratio",
				Usage:   "Fraction of new traces recorded (0 records all)",
				Sources: cli.EnvVars("OTEL_SAMPLE_RATIO"),
			},
		}, logFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing WFM API")

			tracer := otelhelper.NoopTracer()

			if command.Bool("otel") {
				var (
					shutdown otelhelper.ShutdownFunc
					err      error
				)

				tracer, shutdown, err = otelhelper.NewTracer(ctx, otelhelper.Config{
					ServiceName: "wfm-api",
					SampleRatio: command.Float("otel-sample-ratio"),
				})
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					err := shutdown(context.WithoutCancel(ctx))
					if err != nil {
						logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
					}
				}()
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

			eventBus, err := cmd.NewEventBus(cmd.EventBusConfig{
				Provider:    command.String("event-bus"),
				Brokers:     command.String("kafka-brokers"),
				OTELEnabled: command.Bool("otel"),
			}, tracer, logger)
			if err != nil {
				return err
			}

			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			outputs, err := cmd.NewOutputs(ctx, eventBus, cmd.SinkConfig{
				RedisURL:     command.String("redis-url"),
				RedisQueue:   command.String("redis-queue"),
				NATSURL:      command.String("nats-url"),
				NATSSubject:  command.String("nats-subject-prefix"),
				CacheEnabled: command.Bool("cache"),
			}, logger)
			if err != nil {
				return err
			}

			defer func() {
				err := outputs.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close outputs", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, outputs.Publisher, outputs.Cache, metrics.New(), tracer)

			return api.Start(command.Int("port"))
		},
	}
}

