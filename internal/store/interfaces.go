package store

import (
	"time"

	"github.com/krew-solutions/protoflow/internal/flow"
)

// Store is the capability set the Engine and Scheduler depend on (spec.md
// §4.A). It hides the underlying relational database; internal/store/pg
// implements it against Postgres via the session package's unit of work,
// internal/store/memstore implements it in-process for tests.
type Store interface {
	// Definitions (read-only to the Engine; seeded externally).
	GetProject(projectID string) (*flow.Project, error)
	GetNode(nodeID string) (*flow.Node, error)
	GetMessageTemplate(templateID string) (*flow.MessageTemplate, error)
	GetVariable(variableID string) (*flow.Variable, error)
	GetVariableByName(projectID, name string) (*flow.Variable, error)
	ListNodesByActivation(projectID string, kind flow.ActivationKind, sourceKey string) ([]*flow.Node, error)
	ListKeywords(projectID, keywordText string, language *string) ([]flow.Keyword, error)
	ListProjectVariables(projectID string) ([]flow.Variable, error)

	// Participants.
	GetParticipant(participantID string) (*Participant, error)
	InsertParticipant(p *Participant) error
	UpdateParticipantStatus(participantID string, status ParticipantStatus) error

	// Participant state.
	ListParticipantVariables(participantID string) ([]ParticipantVariable, error)
	UpsertParticipantVariable(v ParticipantVariable) error
	InsertParticipantMessage(m *ParticipantMessage) error
	InsertNodeExecutionLog(l *NodeExecutionLog) error
	LastOutboundPollMessage(participantID string) (*ParticipantMessage, *flow.MessageTemplate, error)
	ListMessages(participantID string) ([]ParticipantMessage, error)
	ListExecutionLogs(participantID string) ([]NodeExecutionLog, error)

	// Jobs.
	InsertScheduledJob(j *ScheduledJob) error
	ListDueJobs(now time.Time, limit int) ([]ScheduledJob, error)
	ClaimJob(jobID string) (bool, error) // conditional Pending->Running; false if already claimed
	UpdateJobStatus(jobID string, status JobStatus) error
	CancelPendingJobs(participantID string) error

	// Administration.
	DeleteProject(projectID string) error

	// WithinTransaction runs fn inside one transaction, committing exactly
	// once at the end, or rolling back as a whole on error. All other
	// Store methods may be called either standalone (each opens its own
	// transaction) or nested inside a WithinTransaction callback.
	WithinTransaction(fn func(Store) error) error
}

// ErrNotFound is returned by UpdateParticipantStatus and UpdateJobStatus
// when no row matches. Single-row getters return (nil, nil) instead.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "store: not found" }
