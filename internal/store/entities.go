// Package store defines the persistence-facing entities and the Store
// interface the Engine and Scheduler depend on. internal/store/pg is the
// pgx-backed production implementation; internal/store/memstore is an
// in-memory double used by fast unit tests.
package store

import "time"

// ParticipantStatus mirrors flow.ProjectStatus's Active/Inactive pair but
// is kept distinct since a participant's status is independently mutable
// state, not part of the read-only flow definition.
type ParticipantStatus string

const (
	ParticipantActive   ParticipantStatus = "Active"
	ParticipantInactive ParticipantStatus = "Inactive"
)

type Participant struct {
	ID         string
	ProjectID  string
	Language   string
	Status     ParticipantStatus
	ExternalID *string
	CreatedAt  time.Time
}

// ParticipantVariable carries one of ValueText/ValueInt/ValueDateTime
// depending on the referenced Variable's type; all three fields may be
// populated for an integer variable (spec.md: "persist both value_int
// (nullable) and value_text (always the raw)").
type ParticipantVariable struct {
	ParticipantID string
	VariableID    string
	ValueText     string
	ValueInt      *int64
	ValueDateTime *time.Time
}

type MessageDirection string

const (
	DirectionInbound  MessageDirection = "Inbound"
	DirectionOutbound MessageDirection = "Outbound"
)

type ParticipantMessage struct {
	ID            string
	ParticipantID string
	Direction     MessageDirection
	TemplateID    *string
	Text          string
	CreatedAt     time.Time
}

type NodeExecutionLog struct {
	ID            string
	ParticipantID string
	NodeID        string
	ExecutedAt    time.Time
}

type JobStatus string

const (
	JobPending   JobStatus = "Pending"
	JobRunning   JobStatus = "Running"
	JobDone      JobStatus = "Done"
	JobCancelled JobStatus = "Cancelled"
)

type ScheduledJob struct {
	ID            string
	ParticipantID string
	NodeID        string
	RunAt         time.Time
	Status        JobStatus
	CreatedAt     time.Time
}
