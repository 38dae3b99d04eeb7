// Package pg is the pgx-backed implementation of store.Store, built the
// same way the teacher's outbox/inbox packages are: every method runs its
// SQL through a session.DbSession (acquired from an injected
// session.SessionPool when not already inside a transaction), with queries
// built by fmt.Sprintf against configurable table names.
package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/krew-solutions/protoflow/internal/flow"
	"github.com/krew-solutions/protoflow/internal/session"
	"github.com/krew-solutions/protoflow/internal/store"
)

// Store is the production store.Store, backed by Postgres through the
// session package's unit of work.
type Store struct {
	pool   session.Pool
	ctx    context.Context
	tables Tables
	// current is set while inside WithinTransaction; nil at the root,
	// where each method acquires its own pooled session.
	current session.DbSession
}

// New constructs a Store against pool, resolving table names to their
// defaults where zero-valued.
func New(pool session.Pool, ctx context.Context, tables Tables) *Store {
	if tables == (Tables{}) {
		tables = DefaultTables()
	}
	return &Store{pool: pool, ctx: ctx, tables: tables}
}

// withConn runs fn against the Store's current session if one is open
// (inside WithinTransaction), otherwise acquires one from the pool for the
// duration of fn, exactly like PgOutbox.ensureConsumerGroup does via
// sessionPool.Session.
func (s *Store) withConn(fn func(session.DbSession) error) error {
	if s.current != nil {
		return fn(s.current)
	}
	return s.pool.Session(s.ctx, func(sess session.Session) error {
		return fn(sess.(session.DbSession))
	})
}

// WithinTransaction runs fn once inside a single Atomic scope (or, if
// already inside one, a nested savepoint per session/pgx.TransactionSession),
// passing fn a Store bound to that scope so nested Store calls share it.
func (s *Store) WithinTransaction(fn func(store.Store) error) error {
	run := func(db session.DbSession) error {
		return db.Atomic(func(tx session.Session) error {
			scoped := &Store{pool: s.pool, ctx: s.ctx, tables: s.tables, current: tx.(session.DbSession)}
			return fn(scoped)
		})
	}
	if s.current != nil {
		return run(s.current)
	}
	return s.pool.Session(s.ctx, func(sess session.Session) error {
		return run(sess.(session.DbSession))
	})
}

func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// --- definitions ---

func (s *Store) GetProject(projectID string) (*flow.Project, error) {
	var out *flow.Project
	err := s.withConn(func(db session.DbSession) error {
		row := db.Connection().QueryRow(fmt.Sprintf(
			`SELECT id, name, status FROM %s WHERE id = $1`, s.tables.Projects), projectID)
		var p flow.Project
		if err := row.Scan(&p.ID, &p.Name, &p.Status); err != nil {
			if noRows(err) {
				return nil
			}
			return err
		}
		out = &p
		return nil
	})
	return out, err
}

func (s *Store) getTimingElement(db session.DbSession, timingID string) (*flow.TimingElement, error) {
	row := db.Connection().QueryRow(fmt.Sprintf(
		`SELECT id, project_id, name, direction, days, hours, minutes, seconds FROM %s WHERE id = $1`,
		s.tables.TimingElements), timingID)
	var t flow.TimingElement
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Direction, &t.Days, &t.Hours, &t.Minutes, &t.Seconds); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) getNodeConditions(db session.DbSession, nodeID string) ([]flow.NodeCondition, error) {
	rows, err := db.Connection().Query(fmt.Sprintf(
		`SELECT variable_id, operation, expected_answer FROM %s WHERE node_id = $1`, s.tables.NodeConditions), nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []flow.NodeCondition
	for rows.Next() {
		var c flow.NodeCondition
		if err := rows.Scan(&c.VariableID, &c.Operation, &c.ExpectedAnswer); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) scanNode(db session.DbSession, row session.Row) (*flow.Node, error) {
	var n flow.Node
	var scheduleTimingID *string
	var afterNode, afterPollTemplate, afterDateTimeVar, startDateVar *string

	if err := row.Scan(
		&n.ID, &n.ProjectID, &n.MessageTemplateID, &scheduleTimingID, &n.IsTerminal,
		&afterNode, &afterPollTemplate, &afterDateTimeVar, &startDateVar,
	); err != nil {
		if noRows(err) {
			return nil, nil
		}
		return nil, err
	}

	if scheduleTimingID != nil {
		timing, err := s.getTimingElement(db, *scheduleTimingID)
		if err != nil {
			return nil, err
		}
		n.ScheduleTiming = timing
	}

	switch {
	case afterNode != nil:
		n.Activation = flow.AfterNode{SourceNodeID: *afterNode}
	case afterPollTemplate != nil:
		n.Activation = flow.AfterPoll{SourceTemplateID: *afterPollTemplate}
	case afterDateTimeVar != nil:
		n.Activation = flow.AfterDateTimeVar{VariableID: *afterDateTimeVar}
	case startDateVar != nil:
		n.Activation = flow.StartDate{VariableID: *startDateVar}
	}

	conditions, err := s.getNodeConditions(db, n.ID)
	if err != nil {
		return nil, err
	}
	n.Conditions = conditions

	return &n, nil
}

const nodeColumns = `id, project_id, message_template_id, schedule_timing_id, is_terminal,
	activation_after_node_id, activation_after_poll_template_id, activation_after_datetime_var_id, activation_start_date_var_id`

func (s *Store) GetNode(nodeID string) (*flow.Node, error) {
	var out *flow.Node
	err := s.withConn(func(db session.DbSession) error {
		row := db.Connection().QueryRow(fmt.Sprintf(
			`SELECT %s FROM %s WHERE id = $1`, nodeColumns, s.tables.Nodes), nodeID)
		n, err := s.scanNode(db, row)
		if err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

func (s *Store) GetMessageTemplate(templateID string) (*flow.MessageTemplate, error) {
	var out *flow.MessageTemplate
	err := s.withConn(func(db session.DbSession) error {
		row := db.Connection().QueryRow(fmt.Sprintf(
			`SELECT id, project_id, type, text_en, text_es, variable_id, choices_en, choices_es FROM %s WHERE id = $1`,
			s.tables.MessageTemplates), templateID)
		var t flow.MessageTemplate
		var variableID *string
		if err := row.Scan(&t.ID, &t.ProjectID, &t.Type, &t.TextEN, &t.TextES, &variableID, &t.ChoicesEN, &t.ChoicesES); err != nil {
			if noRows(err) {
				return nil
			}
			return err
		}
		if variableID != nil {
			t.VariableID = *variableID
		}
		out = &t
		return nil
	})
	return out, err
}

func (s *Store) GetVariable(variableID string) (*flow.Variable, error) {
	var out *flow.Variable
	err := s.withConn(func(db session.DbSession) error {
		row := db.Connection().QueryRow(fmt.Sprintf(
			`SELECT id, project_id, name, type, is_system, is_agv FROM %s WHERE id = $1`, s.tables.Variables), variableID)
		var v flow.Variable
		if err := row.Scan(&v.ID, &v.ProjectID, &v.Name, &v.Type, &v.IsSystem, &v.IsAGV); err != nil {
			if noRows(err) {
				return nil
			}
			return err
		}
		out = &v
		return nil
	})
	return out, err
}

func (s *Store) GetVariableByName(projectID, name string) (*flow.Variable, error) {
	var out *flow.Variable
	err := s.withConn(func(db session.DbSession) error {
		row := db.Connection().QueryRow(fmt.Sprintf(
			`SELECT id, project_id, name, type, is_system, is_agv FROM %s WHERE project_id = $1 AND name = $2`,
			s.tables.Variables), projectID, name)
		var v flow.Variable
		if err := row.Scan(&v.ID, &v.ProjectID, &v.Name, &v.Type, &v.IsSystem, &v.IsAGV); err != nil {
			if noRows(err) {
				return nil
			}
			return err
		}
		out = &v
		return nil
	})
	return out, err
}

func (s *Store) ListNodesByActivation(projectID string, kind flow.ActivationKind, sourceKey string) ([]*flow.Node, error) {
	column, err := activationColumn(kind)
	if err != nil {
		return nil, err
	}

	var out []*flow.Node
	err = s.withConn(func(db session.DbSession) error {
		rows, err := db.Connection().Query(fmt.Sprintf(
			`SELECT %s FROM %s WHERE project_id = $1 AND %s = $2`, nodeColumns, s.tables.Nodes, column),
			projectID, sourceKey)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			n, err := s.scanNode(db, rows)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	return out, err
}

func activationColumn(kind flow.ActivationKind) (string, error) {
	switch kind {
	case flow.KindAfterNode:
		return "activation_after_node_id", nil
	case flow.KindAfterPoll:
		return "activation_after_poll_template_id", nil
	case flow.KindAfterDateTimeVar:
		return "activation_after_datetime_var_id", nil
	case flow.KindStartDate:
		return "activation_start_date_var_id", nil
	default:
		return "", fmt.Errorf("pg: unknown activation kind %q", kind)
	}
}

func (s *Store) ListKeywords(projectID, keywordText string, language *string) ([]flow.Keyword, error) {
	var out []flow.Keyword
	err := s.withConn(func(db session.DbSession) error {
		args := []any{projectID, keywordText}
		langFilter := ""
		if language != nil {
			langFilter = "AND language = $3"
			args = append(args, *language)
		}
		rows, err := db.Connection().Query(fmt.Sprintf(
			`SELECT id, project_id, keyword_text, language, action_type, referenced_node_id, referenced_variable_id
			 FROM %s WHERE project_id = $1 AND keyword_text = $2 %s`, s.tables.Keywords, langFilter), args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var k flow.Keyword
			if err := rows.Scan(&k.ID, &k.ProjectID, &k.KeywordText, &k.Language, &k.ActionType, &k.ReferencedNodeID, &k.ReferencedVariable); err != nil {
				return err
			}
			out = append(out, k)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) ListProjectVariables(projectID string) ([]flow.Variable, error) {
	var out []flow.Variable
	err := s.withConn(func(db session.DbSession) error {
		rows, err := db.Connection().Query(fmt.Sprintf(
			`SELECT id, project_id, name, type, is_system, is_agv FROM %s WHERE project_id = $1`, s.tables.Variables), projectID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var v flow.Variable
			if err := rows.Scan(&v.ID, &v.ProjectID, &v.Name, &v.Type, &v.IsSystem, &v.IsAGV); err != nil {
				return err
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	return out, err
}

// --- participants ---

func (s *Store) GetParticipant(participantID string) (*store.Participant, error) {
	var out *store.Participant
	err := s.withConn(func(db session.DbSession) error {
		row := db.Connection().QueryRow(fmt.Sprintf(
			`SELECT id, project_id, language, status, external_id, created_at FROM %s WHERE id = $1`,
			s.tables.Participants), participantID)
		var p store.Participant
		if err := row.Scan(&p.ID, &p.ProjectID, &p.Language, &p.Status, &p.ExternalID, &p.CreatedAt); err != nil {
			if noRows(err) {
				return nil
			}
			return err
		}
		out = &p
		return nil
	})
	return out, err
}

func (s *Store) InsertParticipant(p *store.Participant) error {
	return s.withConn(func(db session.DbSession) error {
		_, err := db.Connection().Exec(fmt.Sprintf(
			`INSERT INTO %s (id, project_id, language, status, external_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			s.tables.Participants), p.ID, p.ProjectID, p.Language, p.Status, p.ExternalID, p.CreatedAt)
		return err
	})
}

func (s *Store) UpdateParticipantStatus(participantID string, status store.ParticipantStatus) error {
	return s.withConn(func(db session.DbSession) error {
		res, err := db.Connection().Exec(fmt.Sprintf(
			`UPDATE %s SET status = $2 WHERE id = $1`, s.tables.Participants), participantID, status)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// --- participant state ---

func (s *Store) ListParticipantVariables(participantID string) ([]store.ParticipantVariable, error) {
	var out []store.ParticipantVariable
	err := s.withConn(func(db session.DbSession) error {
		rows, err := db.Connection().Query(fmt.Sprintf(
			`SELECT participant_id, variable_id, value_text, value_int, value_datetime FROM %s WHERE participant_id = $1`,
			s.tables.ParticipantVariables), participantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var v store.ParticipantVariable
			if err := rows.Scan(&v.ParticipantID, &v.VariableID, &v.ValueText, &v.ValueInt, &v.ValueDateTime); err != nil {
				return err
			}
			out = append(out, v)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) UpsertParticipantVariable(v store.ParticipantVariable) error {
	return s.withConn(func(db session.DbSession) error {
		_, err := db.Connection().Exec(fmt.Sprintf(`
			INSERT INTO %s (participant_id, variable_id, value_text, value_int, value_datetime)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (participant_id, variable_id) DO UPDATE SET
				value_text = EXCLUDED.value_text,
				value_int = EXCLUDED.value_int,
				value_datetime = EXCLUDED.value_datetime
		`, s.tables.ParticipantVariables), v.ParticipantID, v.VariableID, v.ValueText, v.ValueInt, v.ValueDateTime)
		return err
	})
}

func (s *Store) InsertParticipantMessage(m *store.ParticipantMessage) error {
	return s.withConn(func(db session.DbSession) error {
		_, err := db.Connection().Exec(fmt.Sprintf(
			`INSERT INTO %s (id, participant_id, direction, template_id, text, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			s.tables.ParticipantMessages), m.ID, m.ParticipantID, m.Direction, m.TemplateID, m.Text, m.CreatedAt)
		return err
	})
}

func (s *Store) InsertNodeExecutionLog(l *store.NodeExecutionLog) error {
	return s.withConn(func(db session.DbSession) error {
		_, err := db.Connection().Exec(fmt.Sprintf(
			`INSERT INTO %s (id, participant_id, node_id, executed_at) VALUES ($1, $2, $3, $4)`,
			s.tables.NodeExecutionLogs), l.ID, l.ParticipantID, l.NodeID, l.ExecutedAt)
		return err
	})
}

func (s *Store) LastOutboundPollMessage(participantID string) (*store.ParticipantMessage, *flow.MessageTemplate, error) {
	var msg *store.ParticipantMessage
	var tmpl *flow.MessageTemplate

	err := s.withConn(func(db session.DbSession) error {
		row := db.Connection().QueryRow(fmt.Sprintf(`
			SELECT m.id, m.participant_id, m.direction, m.template_id, m.text, m.created_at
			FROM %s m
			JOIN %s t ON t.id = m.template_id
			WHERE m.participant_id = $1 AND m.direction = $2 AND t.type = $3
			ORDER BY m.created_at DESC
			LIMIT 1
		`, s.tables.ParticipantMessages, s.tables.MessageTemplates), participantID, store.DirectionOutbound, flow.TemplatePoll)

		var m store.ParticipantMessage
		if err := row.Scan(&m.ID, &m.ParticipantID, &m.Direction, &m.TemplateID, &m.Text, &m.CreatedAt); err != nil {
			if noRows(err) {
				return nil
			}
			return err
		}
		msg = &m

		if m.TemplateID != nil {
			t, err := s.GetMessageTemplate(*m.TemplateID)
			if err != nil {
				return err
			}
			tmpl = t
		}
		return nil
	})
	return msg, tmpl, err
}

func (s *Store) ListMessages(participantID string) ([]store.ParticipantMessage, error) {
	var out []store.ParticipantMessage
	err := s.withConn(func(db session.DbSession) error {
		rows, err := db.Connection().Query(fmt.Sprintf(
			`SELECT id, participant_id, direction, template_id, text, created_at FROM %s WHERE participant_id = $1 ORDER BY created_at ASC`,
			s.tables.ParticipantMessages), participantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var m store.ParticipantMessage
			if err := rows.Scan(&m.ID, &m.ParticipantID, &m.Direction, &m.TemplateID, &m.Text, &m.CreatedAt); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

func (s *Store) ListExecutionLogs(participantID string) ([]store.NodeExecutionLog, error) {
	var out []store.NodeExecutionLog
	err := s.withConn(func(db session.DbSession) error {
		rows, err := db.Connection().Query(fmt.Sprintf(
			`SELECT id, participant_id, node_id, executed_at FROM %s WHERE participant_id = $1 ORDER BY executed_at ASC`,
			s.tables.NodeExecutionLogs), participantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var l store.NodeExecutionLog
			if err := rows.Scan(&l.ID, &l.ParticipantID, &l.NodeID, &l.ExecutedAt); err != nil {
				return err
			}
			out = append(out, l)
		}
		return rows.Err()
	})
	return out, err
}

// --- jobs ---

func (s *Store) InsertScheduledJob(j *store.ScheduledJob) error {
	return s.withConn(func(db session.DbSession) error {
		_, err := db.Connection().Exec(fmt.Sprintf(
			`INSERT INTO %s (id, participant_id, node_id, run_at, status, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			s.tables.ScheduledJobs), j.ID, j.ParticipantID, j.NodeID, j.RunAt, j.Status, j.CreatedAt)
		return err
	})
}

func (s *Store) ListDueJobs(now time.Time, limit int) ([]store.ScheduledJob, error) {
	var out []store.ScheduledJob
	err := s.withConn(func(db session.DbSession) error {
		rows, err := db.Connection().Query(fmt.Sprintf(
			`SELECT id, participant_id, node_id, run_at, status, created_at FROM %s
			 WHERE status = $1 AND run_at <= $2 ORDER BY run_at ASC, id ASC LIMIT $3`,
			s.tables.ScheduledJobs), store.JobPending, now, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var j store.ScheduledJob
			if err := rows.Scan(&j.ID, &j.ParticipantID, &j.NodeID, &j.RunAt, &j.Status, &j.CreatedAt); err != nil {
				return err
			}
			out = append(out, j)
		}
		return rows.Err()
	})
	return out, err
}

// ClaimJob performs the same conditional UPDATE ... WHERE status = 'Pending'
// race-safe claim the teacher's inbox/outbox offset tables rely on;
// RowsAffected() == 0 means another worker claimed it first.
func (s *Store) ClaimJob(jobID string) (bool, error) {
	var claimed bool
	err := s.withConn(func(db session.DbSession) error {
		res, err := db.Connection().Exec(fmt.Sprintf(
			`UPDATE %s SET status = $2 WHERE id = $1 AND status = $3`, s.tables.ScheduledJobs),
			jobID, store.JobRunning, store.JobPending)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		claimed = n > 0
		return nil
	})
	return claimed, err
}

func (s *Store) UpdateJobStatus(jobID string, status store.JobStatus) error {
	return s.withConn(func(db session.DbSession) error {
		res, err := db.Connection().Exec(fmt.Sprintf(
			`UPDATE %s SET status = $2 WHERE id = $1`, s.tables.ScheduledJobs), jobID, status)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (s *Store) CancelPendingJobs(participantID string) error {
	return s.withConn(func(db session.DbSession) error {
		_, err := db.Connection().Exec(fmt.Sprintf(
			`UPDATE %s SET status = $3 WHERE participant_id = $1 AND status = $2`, s.tables.ScheduledJobs),
			participantID, store.JobPending, store.JobCancelled)
		return err
	})
}

// --- administration ---

func (s *Store) DeleteProject(projectID string) error {
	return s.withConn(func(db session.DbSession) error {
		_, err := db.Connection().Exec(fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tables.Projects), projectID)
		return err
	})
}
