package engine

import (
	"time"

	"github.com/krew-solutions/protoflow/internal/store"
)

// Domain events published through the dispatch mediator (Engine.Mediator)
// when an operation succeeds, for the host process to subscribe to (e.g.
// to drive an outbound transport or analytics). Publishing is additive
// instrumentation: a subscriber's error is discarded, so it never changes
// what ExecuteNode/ProcessInbound return and never rolls back the
// operation being reported.
type ParticipantEnrolled struct {
	ParticipantID string
	ProjectID     string
	At            time.Time
}

type NodeExecuted struct {
	ParticipantID string
	NodeID        string
	Message       *store.ParticipantMessage
	At            time.Time
}

type ParticipantDeactivated struct {
	ParticipantID string
	At            time.Time
}

type PollAnswered struct {
	ParticipantID string
	TemplateID    string
	VariableID    string
	RawAnswer     string
	At            time.Time
}
