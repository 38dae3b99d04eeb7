package engine

import "errors"

// These name the preconditions ExecuteNode checks. None of them is
// returned: ExecuteNode answers every unmet precondition with (nil, nil),
// treating it as "the flow said don't fire", not as a bug, and no other
// code in this module returns or compares against these values.
var (
	ErrParticipantNotFound = errors.New("engine: participant not found")
	ErrParticipantInactive = errors.New("engine: participant inactive")
	ErrNodeNotFound        = errors.New("engine: node not found")
	ErrNodeWrongProject    = errors.New("engine: node does not belong to participant's project")
	ErrTemplateNotFound    = errors.New("engine: message template not found")
)
