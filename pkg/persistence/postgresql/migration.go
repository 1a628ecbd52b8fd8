package postgresql

import "github.com/pipecrm/wfm/pkg/persistence/sqlbase"

func migrations() []sqlbase.Migration {
	return []sqlbase.Migration{
		{Version: 1, Description: "workflow definitions, projects and history", SQL: `
			-- Step status catalog
			CREATE TABLE wfm_statuses (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				color VARCHAR(32) NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				is_archived BOOLEAN NOT NULL DEFAULT FALSE,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			-- Workflow definitions
			CREATE TABLE wfm_workflows (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				is_archived BOOLEAN NOT NULL DEFAULT FALSE,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				updated_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_wfm_workflows_is_archived ON wfm_workflows(is_archived);

			CREATE TABLE wfm_steps (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL REFERENCES wfm_workflows(id) ON DELETE CASCADE,
				status_id VARCHAR(64) NOT NULL REFERENCES wfm_statuses(id),
				step_order INT NOT NULL CHECK (step_order > 0),
				is_initial_step BOOLEAN NOT NULL DEFAULT FALSE,
				is_final_step BOOLEAN NOT NULL DEFAULT FALSE,
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				UNIQUE (workflow_id, step_order),
				UNIQUE (workflow_id, id)
			);

			-- Both endpoints of a transition must belong to the transition's workflow
			CREATE TABLE wfm_transitions (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL REFERENCES wfm_workflows(id) ON DELETE CASCADE,
				from_step_id VARCHAR(64) NOT NULL,
				to_step_id VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				FOREIGN KEY (workflow_id, from_step_id) REFERENCES wfm_steps(workflow_id, id) ON DELETE CASCADE,
				FOREIGN KEY (workflow_id, to_step_id) REFERENCES wfm_steps(workflow_id, id) ON DELETE CASCADE,
				UNIQUE (workflow_id, from_step_id, to_step_id)
			);

			CREATE INDEX idx_wfm_transitions_from_step ON wfm_transitions(from_step_id);

			CREATE TABLE wfm_project_types (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				default_workflow_id VARCHAR(64) REFERENCES wfm_workflows(id),
				icon_name VARCHAR(255) NOT NULL DEFAULT '',
				is_archived BOOLEAN NOT NULL DEFAULT FALSE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			-- The current step must be a step of the project's own workflow
			CREATE TABLE wfm_projects (
				id VARCHAR(64) PRIMARY KEY,
				workflow_id VARCHAR(64) NOT NULL REFERENCES wfm_workflows(id),
				project_type_id VARCHAR(64) REFERENCES wfm_project_types(id),
				current_step_id VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				updated_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				FOREIGN KEY (workflow_id, current_step_id) REFERENCES wfm_steps(workflow_id, id)
			);

			CREATE INDEX idx_wfm_projects_current_step ON wfm_projects(current_step_id);
			CREATE INDEX idx_wfm_projects_created_at ON wfm_projects(created_at);

			CREATE TABLE wfm_history (
				id VARCHAR(64) PRIMARY KEY,
				entity_id VARCHAR(64) NOT NULL,
				entity_kind VARCHAR(32) NOT NULL,
				actor_user_id VARCHAR(255) NOT NULL DEFAULT '',
				event_type VARCHAR(64) NOT NULL,
				payload JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_wfm_history_entity ON wfm_history(entity_kind, entity_id, created_at);
		`},
		{Version: 2, Description: "leads and deals", SQL: `
			-- CRM entities driven by WFM projects
			CREATE TABLE leads (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				contact_name VARCHAR(255) NOT NULL DEFAULT '',
				contact_email VARCHAR(255) NOT NULL DEFAULT '',
				source VARCHAR(255) NOT NULL DEFAULT '',
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				assigned_to_user_id VARCHAR(255) NOT NULL DEFAULT '',
				wfm_project_id VARCHAR(64) UNIQUE REFERENCES wfm_projects(id),
				is_qualified BOOLEAN NOT NULL DEFAULT FALSE,
				qualification_level DOUBLE PRECISION NOT NULL DEFAULT 0,
				stage_name VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE deals (
				id VARCHAR(64) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				amount DOUBLE PRECISION NOT NULL DEFAULT 0,
				currency VARCHAR(3) NOT NULL DEFAULT '',
				expected_close_date TIMESTAMP WITH TIME ZONE,
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				assigned_to_user_id VARCHAR(255) NOT NULL DEFAULT '',
				wfm_project_id VARCHAR(64) UNIQUE REFERENCES wfm_projects(id),
				deal_specific_probability DOUBLE PRECISION CHECK (deal_specific_probability BETWEEN 0 AND 1),
				step_probability DOUBLE PRECISION CHECK (step_probability BETWEEN 0 AND 1),
				stage_name VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_leads_assigned_to ON leads(assigned_to_user_id);
			CREATE INDEX idx_deals_assigned_to ON deals(assigned_to_user_id);
		`},
	}
}
