package sqlite

import "github.com/pipecrm/wfm/pkg/persistence/sqlbase"

func migrations() []sqlbase.Migration {
	return []sqlbase.Migration{
		{Version: 1, Description: "workflow definitions, projects and history", SQL: `
			CREATE TABLE wfm_statuses (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				color TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				is_archived BOOLEAN NOT NULL DEFAULT FALSE,
				created_by TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE wfm_workflows (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				is_archived BOOLEAN NOT NULL DEFAULT FALSE,
				created_by TEXT NOT NULL DEFAULT '',
				updated_by TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE wfm_steps (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES wfm_workflows(id) ON DELETE CASCADE,
				status_id TEXT NOT NULL REFERENCES wfm_statuses(id),
				step_order INTEGER NOT NULL CHECK (step_order > 0),
				is_initial_step BOOLEAN NOT NULL DEFAULT FALSE,
				is_final_step BOOLEAN NOT NULL DEFAULT FALSE,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (workflow_id, step_order),
				UNIQUE (workflow_id, id)
			);

			CREATE TABLE wfm_transitions (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES wfm_workflows(id) ON DELETE CASCADE,
				from_step_id TEXT NOT NULL,
				to_step_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (workflow_id, from_step_id) REFERENCES wfm_steps(workflow_id, id) ON DELETE CASCADE,
				FOREIGN KEY (workflow_id, to_step_id) REFERENCES wfm_steps(workflow_id, id) ON DELETE CASCADE,
				UNIQUE (workflow_id, from_step_id, to_step_id)
			);

			CREATE INDEX idx_wfm_transitions_from_step ON wfm_transitions(from_step_id);

			CREATE TABLE wfm_project_types (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				default_workflow_id TEXT REFERENCES wfm_workflows(id),
				icon_name TEXT NOT NULL DEFAULT '',
				is_archived BOOLEAN NOT NULL DEFAULT FALSE,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE wfm_projects (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL REFERENCES wfm_workflows(id),
				project_type_id TEXT REFERENCES wfm_project_types(id),
				current_step_id TEXT NOT NULL,
				name TEXT NOT NULL,
				created_by TEXT NOT NULL DEFAULT '',
				updated_by TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (workflow_id, current_step_id) REFERENCES wfm_steps(workflow_id, id)
			);

			CREATE INDEX idx_wfm_projects_current_step ON wfm_projects(current_step_id);
			CREATE INDEX idx_wfm_projects_created_at ON wfm_projects(created_at);

			CREATE TABLE wfm_history (
				id TEXT PRIMARY KEY,
				entity_id TEXT NOT NULL,
				entity_kind TEXT NOT NULL,
				actor_user_id TEXT NOT NULL DEFAULT '',
				event_type TEXT NOT NULL,
				payload TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX idx_wfm_history_entity ON wfm_history(entity_kind, entity_id, created_at);
		`},
		{Version: 2, Description: "leads and deals", SQL: `
			CREATE TABLE leads (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				contact_name TEXT NOT NULL DEFAULT '',
				contact_email TEXT NOT NULL DEFAULT '',
				source TEXT NOT NULL DEFAULT '',
				created_by TEXT NOT NULL DEFAULT '',
				assigned_to_user_id TEXT NOT NULL DEFAULT '',
				wfm_project_id TEXT UNIQUE REFERENCES wfm_projects(id),
				is_qualified BOOLEAN NOT NULL DEFAULT FALSE,
				qualification_level REAL NOT NULL DEFAULT 0,
				stage_name TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE TABLE deals (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				amount REAL NOT NULL DEFAULT 0,
				currency TEXT NOT NULL DEFAULT '',
				expected_close_date DATETIME,
				created_by TEXT NOT NULL DEFAULT '',
				assigned_to_user_id TEXT NOT NULL DEFAULT '',
				wfm_project_id TEXT UNIQUE REFERENCES wfm_projects(id),
				deal_specific_probability REAL CHECK (deal_specific_probability BETWEEN 0 AND 1),
				step_probability REAL CHECK (step_probability BETWEEN 0 AND 1),
				stage_name TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);

			CREATE INDEX idx_leads_assigned_to ON leads(assigned_to_user_id);
			CREATE INDEX idx_deals_assigned_to ON deals(assigned_to_user_id);
		`},
	}
}
