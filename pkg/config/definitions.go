// Package config loads workflow definitions from YAML files and imports them through the authoring service.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pipecrm/wfm/pkg/models"
	"github.com/pipecrm/wfm/pkg/services"
	"gopkg.in/yaml.v3"
)

// Definitions is the structure of a definitions YAML file.
type Definitions struct {
	Statuses     []StatusDefinition      `yaml:"statuses"`
	Workflows    []WorkflowDefinition    `yaml:"workflows"`
	ProjectTypes []ProjectTypeDefinition `yaml:"project_types"`
}

type StatusDefinition struct {
	Name        string `yaml:"name"`
	Color       string `yaml:"color"`
	Description string `yaml:"description"`
}

// WorkflowDefinition describes a workflow graph. Steps are created in list order and referenced
// by their file-local key from transitions.
type WorkflowDefinition struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Steps       []StepDefinition       `yaml:"steps"`
	Transitions []TransitionDefinition `yaml:"transitions"`
}

type StepDefinition struct {
	Key      string              `yaml:"key"`
	Status   string              `yaml:"status"`
	Initial  bool                `yaml:"initial"`
	Final    bool                `yaml:"final"`
	Metadata models.StepMetadata `yaml:"metadata"`
}

type TransitionDefinition struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	Name string `yaml:"name"`
}

type ProjectTypeDefinition struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	DefaultWorkflow string `yaml:"default_workflow"`
	IconName        string `yaml:"icon_name"`
}

// LoadDefinitions loads workflow definitions from a YAML file.
func LoadDefinitions(filepath string) (*Definitions, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file %s: %w", filepath, err)
	}

	return ParseDefinitions(data)
}

func ParseDefinitions(data []byte) (*Definitions, error) {
	var definitions Definitions
	if err := yaml.Unmarshal(data, &definitions); err != nil {
		return nil, fmt.Errorf("failed to parse YAML definitions: %w", err)
	}

	if err := definitions.validate(); err != nil {
		return nil, err
	}

	return &definitions, nil
}

func (d *Definitions) validate() error {
	for _, workflow := range d.Workflows {
		keys := make(map[string]bool, len(workflow.Steps))

		for _, step := range workflow.Steps {
			if step.Key == "" {
				return fmt.Errorf("workflow %q: every step needs a key", workflow.Name)
			}

			if keys[step.Key] {
				return fmt.Errorf("workflow %q: duplicate step key %q", workflow.Name, step.Key)
			}

			keys[step.Key] = true
		}

		for _, transition := range workflow.Transitions {
			if !keys[transition.From] || !keys[transition.To] {
				return fmt.Errorf("workflow %q: transition %s -> %s references an unknown step key",
					workflow.Name, transition.From, transition.To)
			}
		}
	}

	return nil
}

// Authoring is the part of the authoring service the importer writes through.
type Authoring interface {
	StatusByName(ctx context.Context, name string) (*models.Status, error)
	CreateStatus(ctx context.Context, status *models.Status, actorID string) (*models.Status, error)
	WorkflowByName(ctx context.Context, name string) (*models.Workflow, error)
	CreateWorkflow(ctx context.Context, workflow *models.Workflow, actorID string) (*models.Workflow, error)
	CreateStep(ctx context.Context, workflowID string, input services.StepInput) (*models.Step, error)
	CreateTransition(ctx context.Context, workflowID, fromStepID, toStepID, name string) (*models.Transition, error)
	ProjectTypeByName(ctx context.Context, name string) (*models.ProjectType, error)
	CreateProjectType(ctx context.Context, projectType *models.ProjectType) (*models.ProjectType, error)
}

// ImportResult counts what an import created and what already existed.
type ImportResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Importer applies definitions. Records are matched by name and existing ones are left untouched,
// so importing the same file twice is a no-op.
type Importer struct {
	authoring Authoring
	logger    *slog.Logger
}

func NewImporter(authoring Authoring, logger *slog.Logger) *Importer {
	return &Importer{authoring: authoring, logger: logger.With("module", "importer")}
}

func (i *Importer) Import(ctx context.Context, definitions *Definitions, actorID string) (ImportResult, error) {
	var result ImportResult

	statusIDs := map[string]string{}

	for _, definition := range definitions.Statuses {
		status, created, err := findOrCreate(
			func() (*models.Status, error) { return i.authoring.StatusByName(ctx, definition.Name) },
			func() (*models.Status, error) {
				return i.authoring.CreateStatus(ctx, &models.Status{
					Name:        definition.Name,
					Color:       definition.Color,
					Description: definition.Description,
				}, actorID)
			},
		)
		if err != nil {
			return result, fmt.Errorf("status %q: %w", definition.Name, err)
		}

		result.count(created)
		statusIDs[status.Name] = status.ID
	}

	workflowIDs := map[string]string{}

	for _, definition := range definitions.Workflows {
		workflow, err := i.authoring.WorkflowByName(ctx, definition.Name)
		if err == nil {
			i.logger.InfoContext(ctx, "workflow already exists, skipping", "name", definition.Name, "workflow_id", workflow.ID)
			result.count(false)
			workflowIDs[workflow.Name] = workflow.ID

			continue
		}

		if !services.IsNotFound(err) {
			return result, fmt.Errorf("workflow %q: %w", definition.Name, err)
		}

		workflow, err = i.createWorkflow(ctx, definition, statusIDs, actorID)
		if err != nil {
			return result, fmt.Errorf("workflow %q: %w", definition.Name, err)
		}

		result.count(true)
		workflowIDs[workflow.Name] = workflow.ID
	}

	for _, definition := range definitions.ProjectTypes {
		_, created, err := findOrCreate(
			func() (*models.ProjectType, error) { return i.authoring.ProjectTypeByName(ctx, definition.Name) },
			func() (*models.ProjectType, error) {
				defaultWorkflowID, err := i.workflowID(ctx, workflowIDs, definition.DefaultWorkflow)
				if err != nil {
					return nil, err
				}

				return i.authoring.CreateProjectType(ctx, &models.ProjectType{
					Name:              definition.Name,
					Description:       definition.Description,
					DefaultWorkflowID: defaultWorkflowID,
					IconName:          definition.IconName,
				})
			},
		)
		if err != nil {
			return result, fmt.Errorf("project type %q: %w", definition.Name, err)
		}

		result.count(created)
	}

	i.logger.InfoContext(ctx, "definitions imported", "created", result.Created, "skipped", result.Skipped)

	return result, nil
}

func (i *Importer) createWorkflow(
	ctx context.Context,
	definition WorkflowDefinition,
	statusIDs map[string]string,
	actorID string,
) (*models.Workflow, error) {
	workflow, err := i.authoring.CreateWorkflow(ctx, &models.Workflow{
		Name:        definition.Name,
		Description: definition.Description,
	}, actorID)
	if err != nil {
		return nil, err
	}

	stepIDs := make(map[string]string, len(definition.Steps))

	for _, stepDefinition := range definition.Steps {
		statusID, err := i.statusID(ctx, statusIDs, stepDefinition.Status)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", stepDefinition.Key, err)
		}

		step, err := i.authoring.CreateStep(ctx, workflow.ID, services.StepInput{
			StatusID:      statusID,
			IsInitialStep: stepDefinition.Initial,
			IsFinalStep:   stepDefinition.Final,
			Metadata:      stepDefinition.Metadata,
		})
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", stepDefinition.Key, err)
		}

		stepIDs[stepDefinition.Key] = step.ID
	}

	for _, transition := range definition.Transitions {
		_, err = i.authoring.CreateTransition(ctx, workflow.ID, stepIDs[transition.From], stepIDs[transition.To], transition.Name)
		if err != nil {
			return nil, fmt.Errorf("transition %s -> %s: %w", transition.From, transition.To, err)
		}
	}

	return workflow, nil
}

// statusID resolves a status by name, from this import first and then from the store.
func (i *Importer) statusID(ctx context.Context, known map[string]string, name string) (string, error) {
	if id, ok := known[name]; ok {
		return id, nil
	}

	status, err := i.authoring.StatusByName(ctx, name)
	if err != nil {
		return "", err
	}

	known[name] = status.ID

	return status.ID, nil
}

func (i *Importer) workflowID(ctx context.Context, known map[string]string, name string) (string, error) {
	if name == "" {
		return "", nil
	}

	if id, ok := known[name]; ok {
		return id, nil
	}

	workflow, err := i.authoring.WorkflowByName(ctx, name)
	if err != nil {
		return "", err
	}

	return workflow.ID, nil
}

func (r *ImportResult) count(created bool) {
	if created {
		r.Created++
	} else {
		r.Skipped++
	}
}

// findOrCreate returns the existing record, or creates it when the lookup reports it missing.
func findOrCreate[T any](find func() (*T, error), create func() (*T, error)) (*T, bool, error) {
	existing, err := find()
	if err == nil {
		return existing, false, nil
	}

	if !services.IsNotFound(err) {
		return nil, false, err
	}

	created, err := create()
	if err != nil {
		return nil, false, err
	}

	return created, true, nil
}
