// Package memstore is an in-process store.Store double for fast,
// deterministic unit tests (spec.md §8: the Engine and Scheduler's
// properties and scenarios should not require a live Postgres). It is
// never a second production backend; internal/store/pg is that.
package memstore

import (
	"sort"
	"sync"
	"time"

	"github.com/krew-solutions/protoflow/internal/flow"
	"github.com/krew-solutions/protoflow/internal/store"
)

// MemStore implements store.Store entirely in memory, guarded by a single
// mutex. WithinTransaction gives it all-or-nothing semantics by snapshotting
// mutable state before running the callback and restoring it on error,
// mirroring what session.Session.Atomic gives the pgx-backed store.
type MemStore struct {
	mu sync.Mutex

	projects  map[string]flow.Project
	nodes     map[string]*flow.Node
	templates map[string]*flow.MessageTemplate
	variables map[string]*flow.Variable
	keywords  []flow.Keyword

	participants          map[string]store.Participant
	participantVariables  map[string]map[string]store.ParticipantVariable // participantID -> variableID -> value
	messages              []store.ParticipantMessage
	executionLogs         []store.NodeExecutionLog
	jobs                  map[string]store.ScheduledJob
}

// New returns an empty MemStore. Use the Seed* methods to load a flow
// definition before exercising the Engine against it.
func New() *MemStore {
	return &MemStore{
		projects:             make(map[string]flow.Project),
		nodes:                make(map[string]*flow.Node),
		templates:            make(map[string]*flow.MessageTemplate),
		variables:            make(map[string]*flow.Variable),
		participants:         make(map[string]store.Participant),
		participantVariables: make(map[string]map[string]store.ParticipantVariable),
		jobs:                 make(map[string]store.ScheduledJob),
	}
}

// --- seeding (test setup only; not part of store.Store) ---

func (m *MemStore) SeedProject(p flow.Project) { m.projects[p.ID] = p }

func (m *MemStore) SeedNode(n *flow.Node) { m.nodes[n.ID] = n }

func (m *MemStore) SeedTemplate(t *flow.MessageTemplate) { m.templates[t.ID] = t }

func (m *MemStore) SeedVariable(v *flow.Variable) { m.variables[v.ID] = v }

func (m *MemStore) SeedKeyword(k flow.Keyword) { m.keywords = append(m.keywords, k) }

// --- definitions ---

func (m *MemStore) GetProject(projectID string) (*flow.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemStore) GetNode(nodeID string) (*flow.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return nil, nil
	}
	return n, nil
}

func (m *MemStore) GetMessageTemplate(templateID string) (*flow.MessageTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[templateID]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (m *MemStore) GetVariable(variableID string) (*flow.Variable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variables[variableID]
	if !ok {
		return nil, nil
	}
	return v, nil
}

func (m *MemStore) GetVariableByName(projectID, name string) (*flow.Variable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.variables {
		if v.ProjectID == projectID && v.Name == name {
			return v, nil
		}
	}
	return nil, nil
}

func (m *MemStore) ListNodesByActivation(projectID string, kind flow.ActivationKind, sourceKey string) ([]*flow.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*flow.Node
	for _, n := range m.nodes {
		if n.ProjectID != projectID || n.Activation.Kind() != kind {
			continue
		}
		if activationSourceKey(n.Activation) == sourceKey {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func activationSourceKey(a flow.Activation) string {
	switch v := a.(type) {
	case flow.AfterNode:
		return v.SourceNodeID
	case flow.AfterPoll:
		return v.SourceTemplateID
	case flow.AfterDateTimeVar:
		return v.VariableID
	case flow.StartDate:
		return v.VariableID
	default:
		return ""
	}
}

func (m *MemStore) ListKeywords(projectID, keywordText string, language *string) ([]flow.Keyword, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []flow.Keyword
	for _, k := range m.keywords {
		if k.ProjectID != projectID || k.KeywordText != keywordText {
			continue
		}
		if language != nil && k.Language != *language {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func (m *MemStore) ListProjectVariables(projectID string) ([]flow.Variable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []flow.Variable
	for _, v := range m.variables {
		if v.ProjectID == projectID {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- participants ---

func (m *MemStore) GetParticipant(participantID string) (*store.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemStore) InsertParticipant(p *store.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[p.ID] = *p
	return nil
}

func (m *MemStore) UpdateParticipantStatus(participantID string, status store.ParticipantStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[participantID]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	m.participants[participantID] = p
	return nil
}

// --- participant state ---

func (m *MemStore) ListParticipantVariables(participantID string) ([]store.ParticipantVariable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vars := m.participantVariables[participantID]
	out := make([]store.ParticipantVariable, 0, len(vars))
	for _, v := range vars {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariableID < out[j].VariableID })
	return out, nil
}

func (m *MemStore) UpsertParticipantVariable(v store.ParticipantVariable) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.participantVariables[v.ParticipantID] == nil {
		m.participantVariables[v.ParticipantID] = make(map[string]store.ParticipantVariable)
	}
	m.participantVariables[v.ParticipantID][v.VariableID] = v
	return nil
}

func (m *MemStore) InsertParticipantMessage(msg *store.ParticipantMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *MemStore) InsertNodeExecutionLog(l *store.NodeExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executionLogs = append(m.executionLogs, *l)
	return nil
}

// LastOutboundPollMessage returns the most recent Outbound message bound to
// a Poll template, scanning history newest-first.
func (m *MemStore) LastOutboundPollMessage(participantID string) (*store.ParticipantMessage, *flow.MessageTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.messages) - 1; i >= 0; i-- {
		msg := m.messages[i]
		if msg.ParticipantID != participantID || msg.Direction != store.DirectionOutbound || msg.TemplateID == nil {
			continue
		}
		tmpl, ok := m.templates[*msg.TemplateID]
		if !ok || tmpl.Type != flow.TemplatePoll {
			continue
		}
		out := msg
		return &out, tmpl, nil
	}
	return nil, nil, nil
}

func (m *MemStore) ListMessages(participantID string) ([]store.ParticipantMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ParticipantMessage
	for _, msg := range m.messages {
		if msg.ParticipantID == participantID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *MemStore) ListExecutionLogs(participantID string) ([]store.NodeExecutionLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.NodeExecutionLog
	for _, l := range m.executionLogs {
		if l.ParticipantID == participantID {
			out = append(out, l)
		}
	}
	return out, nil
}

// --- jobs ---

func (m *MemStore) InsertScheduledJob(j *store.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = *j
	return nil
}

func (m *MemStore) ListDueJobs(now time.Time, limit int) ([]store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ScheduledJob
	for _, j := range m.jobs {
		if j.Status == store.JobPending && !j.RunAt.After(now) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RunAt.Equal(out[j].RunAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RunAt.Before(out[j].RunAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimJob performs the conditional Pending->Running transition the pg
// store does with a single UPDATE ... WHERE status='Pending'; here the
// mutex gives the same exclusion.
func (m *MemStore) ClaimJob(jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.Status != store.JobPending {
		return false, nil
	}
	j.Status = store.JobRunning
	m.jobs[jobID] = j
	return true, nil
}

func (m *MemStore) UpdateJobStatus(jobID string, status store.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return store.ErrNotFound
	}
	j.Status = status
	m.jobs[jobID] = j
	return nil
}

func (m *MemStore) CancelPendingJobs(participantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range m.jobs {
		if j.ParticipantID == participantID && j.Status == store.JobPending {
			j.Status = store.JobCancelled
			m.jobs[id] = j
		}
	}
	return nil
}

// --- administration ---

// DeleteProject removes the project and its definitions (nodes, templates,
// variables, keywords). It does not cascade to participant-owned state:
// the project's participants and their variables, messages, execution logs
// and jobs stay in the store.
func (m *MemStore) DeleteProject(projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, projectID)
	for id, n := range m.nodes {
		if n.ProjectID == projectID {
			delete(m.nodes, id)
		}
	}
	for id, t := range m.templates {
		if t.ProjectID == projectID {
			delete(m.templates, id)
		}
	}
	for id, v := range m.variables {
		if v.ProjectID == projectID {
			delete(m.variables, id)
		}
	}
	kept := m.keywords[:0]
	for _, k := range m.keywords {
		if k.ProjectID != projectID {
			kept = append(kept, k)
		}
	}
	m.keywords = kept
	return nil
}

// mutableSnapshot is the part of MemStore's state an operation can mutate;
// definitions (projects/nodes/templates/variables/keywords) are treated as
// fixed seed data and excluded, the same way the pg store never lets an
// Engine operation touch flow definitions.
type mutableSnapshot struct {
	participants         map[string]store.Participant
	participantVariables map[string]map[string]store.ParticipantVariable
	messages             []store.ParticipantMessage
	executionLogs        []store.NodeExecutionLog
	jobs                 map[string]store.ScheduledJob
}

func (m *MemStore) snapshot() mutableSnapshot {
	participants := make(map[string]store.Participant, len(m.participants))
	for k, v := range m.participants {
		participants[k] = v
	}
	participantVariables := make(map[string]map[string]store.ParticipantVariable, len(m.participantVariables))
	for pid, vars := range m.participantVariables {
		inner := make(map[string]store.ParticipantVariable, len(vars))
		for vid, v := range vars {
			inner[vid] = v
		}
		participantVariables[pid] = inner
	}
	jobs := make(map[string]store.ScheduledJob, len(m.jobs))
	for k, v := range m.jobs {
		jobs[k] = v
	}
	return mutableSnapshot{
		participants:         participants,
		participantVariables: participantVariables,
		messages:             append([]store.ParticipantMessage(nil), m.messages...),
		executionLogs:        append([]store.NodeExecutionLog(nil), m.executionLogs...),
		jobs:                 jobs,
	}
}

func (m *MemStore) restore(s mutableSnapshot) {
	m.participants = s.participants
	m.participantVariables = s.participantVariables
	m.messages = s.messages
	m.executionLogs = s.executionLogs
	m.jobs = s.jobs
}

// WithinTransaction gives fn all-or-nothing effect on participant-owned
// state: on error, every Insert/Upsert/status change fn made is undone.
// Nested calls run fn directly against the same store (MemStore has no
// savepoint concept to model, unlike session/pgx.TransactionSession).
func (m *MemStore) WithinTransaction(fn func(store.Store) error) error {
	before := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(before)
		return err
	}
	return nil
}
