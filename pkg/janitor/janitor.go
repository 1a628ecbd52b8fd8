// Package janitor finds WFM projects that no lead or deal links to.
//
// Entity creation creates the project first and links it afterwards. When linking fails the project is
// left behind; the janitor reports such projects on a cron schedule and deletes them only when told to.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pipecrm/wfm/pkg/metrics"
	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule    = "@hourly"
	DefaultGracePeriod = time.Hour
)

type Config struct {
	// Schedule is a standard cron expression or descriptor such as @hourly.
	Schedule string
	// GracePeriod protects projects whose entity may still be in the middle of being created.
	GracePeriod time.Duration
	// Delete removes the orphans instead of only reporting them.
	Delete bool
}

// Report is the outcome of one sweep.
type Report struct {
	Orphans []*models.Project
	Deleted int
}

type Janitor struct {
	projects persistence.ProjectRepository
	metrics  *metrics.Metrics
	config   Config
	cron     *cron.Cron
	logger   *slog.Logger
	now      func() time.Time
}

func New(projects persistence.ProjectRepository, m *metrics.Metrics, config Config, logger *slog.Logger) (*Janitor, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}

	if config.GracePeriod < 0 {
		return nil, errors.New("grace period must not be negative")
	}

	if _, err := cron.ParseStandard(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	return &Janitor{
		projects: projects,
		metrics:  m,
		config:   config,
		logger: logger.With(
			"module", "janitor",
			"schedule", config.Schedule,
			"delete", config.Delete,
		),
		now: time.Now,
	}, nil
}

// Sweep lists the orphaned projects older than the grace period and, in delete mode, removes them.
// A project that gets linked between listing and deletion is kept by the store and skipped here.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	cutoff := j.now().Add(-j.config.GracePeriod)

	orphans, err := j.projects.ListOrphans(ctx, cutoff)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list orphaned projects: %w", err)
	}

	j.metrics.OrphanedProjects(len(orphans))

	report := Report{Orphans: orphans}

	for _, project := range orphans {
		j.logger.WarnContext(ctx, "orphaned project",
			"project_id", project.ID,
			"workflow_id", project.WorkflowID,
			"created_at", project.CreatedAt,
		)

		if !j.config.Delete {
			continue
		}

		err := j.projects.Delete(ctx, project.ID)
		if err != nil {
			j.logger.ErrorContext(ctx, "failed to delete orphaned project", "project_id", project.ID, "error", err)

			continue
		}

		report.Deleted++
	}

	j.logger.InfoContext(ctx, "sweep finished", "orphans", len(orphans), "deleted", report.Deleted)

	return report, nil
}

// Start runs Sweep on the schedule until ctx is done or Stop is called.
func (j *Janitor) Start(ctx context.Context) error {
	j.logger.InfoContext(ctx, "Starting janitor")

	j.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := j.cron.AddFunc(j.config.Schedule, func() {
		_, err := j.Sweep(ctx)
		if err != nil {
			j.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add janitor cron job: %w", err)
	}

	j.cron.Start()

	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}

	j.logger.InfoContext(ctx, "Stopping janitor")

	<-j.cron.Stop().Done()
}
