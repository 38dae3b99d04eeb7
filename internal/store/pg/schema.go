package pg

import (
	"fmt"

	"github.com/krew-solutions/protoflow/internal/session"
)

// Tables names every table the Store reads and writes, each overridable so
// a test suite can point at a scratch schema (mirrors PgOutbox's
// configurable outboxTable/offsetsTable).
type Tables struct {
	Projects             string
	TimingElements        string
	Variables             string
	MessageTemplates       string
	Nodes                  string
	NodeConditions         string
	Keywords               string
	Participants           string
	ParticipantVariables   string
	ParticipantMessages    string
	NodeExecutionLogs      string
	ScheduledJobs          string
}

// DefaultTables returns the production table names.
func DefaultTables() Tables {
	return Tables{
		Projects:             "projects",
		TimingElements:       "timing_elements",
		Variables:            "variables",
		MessageTemplates:     "message_templates",
		Nodes:                "nodes",
		NodeConditions:       "node_conditions",
		Keywords:             "keywords",
		Participants:         "participants",
		ParticipantVariables: "participant_variables",
		ParticipantMessages:  "participant_messages",
		NodeExecutionLogs:    "node_execution_logs",
		ScheduledJobs:        "scheduled_jobs",
	}
}

// Setup creates every table the Store needs, following original_source's
// SQLAlchemy model 1:1 in FK/cascade shape (spec.md's Open Question on
// physical schema, resolved in DESIGN.md), written the same way
// PgOutbox.Setup/createOutboxTable is: plain CREATE TABLE IF NOT EXISTS
// inside one transaction.
func (s *Store) Setup() error {
	return s.pool.Session(s.ctx, func(sess session.Session) error {
		return sess.Atomic(func(tx session.Session) error {
			db := tx.(session.DbSession)
			for _, stmt := range s.schemaStatements() {
				if _, err := db.Connection().Exec(stmt); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

func (s *Store) schemaStatements() []string {
	t := s.tables
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL
		)`, t.Projects),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			direction TEXT NOT NULL,
			days INTEGER NOT NULL DEFAULT 0,
			hours INTEGER NOT NULL DEFAULT 0,
			minutes INTEGER NOT NULL DEFAULT 0,
			seconds INTEGER NOT NULL DEFAULT 0
		)`, t.TimingElements, t.Projects),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			is_system BOOLEAN NOT NULL DEFAULT FALSE,
			is_agv BOOLEAN NOT NULL DEFAULT FALSE
		)`, t.Variables, t.Projects),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			text_en TEXT NOT NULL DEFAULT '',
			text_es TEXT NOT NULL DEFAULT '',
			variable_id TEXT REFERENCES %s(id) ON DELETE SET NULL,
			choices_en TEXT[] NOT NULL DEFAULT '{}',
			choices_es TEXT[] NOT NULL DEFAULT '{}'
		)`, t.MessageTemplates, t.Projects, t.Variables),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			message_template_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			schedule_timing_id TEXT REFERENCES %s(id) ON DELETE SET NULL,
			is_terminal BOOLEAN NOT NULL DEFAULT FALSE,
			activation_after_node_id TEXT REFERENCES %s(id) ON DELETE SET NULL,
			activation_after_poll_template_id TEXT REFERENCES %s(id) ON DELETE SET NULL,
			activation_after_datetime_var_id TEXT REFERENCES %s(id) ON DELETE SET NULL,
			activation_start_date_var_id TEXT REFERENCES %s(id) ON DELETE SET NULL
		)`, t.Nodes, t.Projects, t.MessageTemplates, t.TimingElements, t.Nodes, t.MessageTemplates, t.Variables, t.Variables),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			node_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			variable_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			operation TEXT NOT NULL,
			expected_answer TEXT NOT NULL DEFAULT ''
		)`, t.NodeConditions, t.Nodes, t.Variables),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			keyword_text TEXT NOT NULL,
			language TEXT NOT NULL DEFAULT '',
			action_type TEXT NOT NULL,
			referenced_node_id TEXT REFERENCES %s(id) ON DELETE SET NULL,
			referenced_variable_id TEXT REFERENCES %s(id) ON DELETE SET NULL
		)`, t.Keywords, t.Projects, t.Nodes, t.Variables),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_text_idx ON %s (project_id, keyword_text)`, t.Keywords, t.Keywords),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			language TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			external_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, t.Participants, t.Projects),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			participant_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			variable_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			value_text TEXT NOT NULL DEFAULT '',
			value_int BIGINT,
			value_datetime TIMESTAMPTZ,
			PRIMARY KEY (participant_id, variable_id)
		)`, t.ParticipantVariables, t.Participants, t.Variables),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			participant_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			direction TEXT NOT NULL,
			template_id TEXT REFERENCES %s(id) ON DELETE SET NULL,
			text TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, t.ParticipantMessages, t.Participants, t.MessageTemplates),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_participant_idx ON %s (participant_id, created_at)`, t.ParticipantMessages, t.ParticipantMessages),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			participant_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			node_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			executed_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, t.NodeExecutionLogs, t.Participants, t.Nodes),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			participant_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			node_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			run_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, t.ScheduledJobs, t.Participants, t.Nodes),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_due_idx ON %s (status, run_at)`, t.ScheduledJobs, t.ScheduledJobs),
	}
}
