package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krew-solutions/protoflow/internal/clock"
	"github.com/krew-solutions/protoflow/internal/engine"
	"github.com/krew-solutions/protoflow/internal/flow"
	"github.com/krew-solutions/protoflow/internal/store"
	"github.com/krew-solutions/protoflow/internal/store/memstore"
)

const projectID = "proj-1"

func strp(s string) *string { return &s }

type fixture struct {
	ms            *memstore.MemStore
	clk           *clock.Stepped
	eng           *engine.Engine
	welcomeNode   *flow.Node
	pollTemplate  *flow.MessageTemplate
	pollNode      *flow.Node
	followupNode  *flow.Node
	interestedVar *flow.Variable
	startDateVar  *flow.Variable
}

// newFixture seeds a small protocol: a welcome broadcast, a poll asking
// "interested?", and a follow-up node gated on an Integer answer > 5. It
// mirrors the shape of spec.md's Prototype scenarios (S1-S6) without
// reproducing its exact IDs.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ms := memstore.New()
	ms.SeedProject(flow.Project{ID: projectID, Name: "Prototype", Status: flow.ProjectActive})

	startDateVar := &flow.Variable{ID: "var-start-date", ProjectID: projectID, Name: flow.StartDateVariableName, Type: flow.VariableDateTime, IsSystem: true}
	interestedVar := &flow.Variable{ID: "var-interested", ProjectID: projectID, Name: "Interested", Type: flow.VariableInteger}
	ms.SeedVariable(startDateVar)
	ms.SeedVariable(interestedVar)

	welcomeTemplate := &flow.MessageTemplate{ID: "tpl-welcome", ProjectID: projectID, Type: flow.TemplateBroadcast, TextEN: "Welcome!", TextES: "Bienvenido!"}
	pollTemplate := &flow.MessageTemplate{ID: "tpl-poll", ProjectID: projectID, Type: flow.TemplatePoll, TextEN: "Interested? (1-10)", TextES: "", VariableID: interestedVar.ID}
	followupTemplate := &flow.MessageTemplate{ID: "tpl-followup", ProjectID: projectID, Type: flow.TemplateBroadcast, TextEN: "Great, let's continue."}
	ms.SeedTemplate(welcomeTemplate)
	ms.SeedTemplate(pollTemplate)
	ms.SeedTemplate(followupTemplate)

	welcomeNode := &flow.Node{ID: "node-welcome", ProjectID: projectID, MessageTemplateID: welcomeTemplate.ID, Activation: flow.StartDate{VariableID: startDateVar.ID}}
	pollNode := &flow.Node{
		ID:                "node-poll",
		ProjectID:         projectID,
		MessageTemplateID: pollTemplate.ID,
		ScheduleTiming:    &flow.TimingElement{Days: 1},
		Activation:        flow.AfterNode{SourceNodeID: welcomeNode.ID},
	}
	followupNode := &flow.Node{
		ID:                "node-followup",
		ProjectID:         projectID,
		MessageTemplateID: followupTemplate.ID,
		Activation:        flow.AfterPoll{SourceTemplateID: pollTemplate.ID},
		Conditions: []flow.NodeCondition{
			{VariableID: interestedVar.ID, Operation: flow.OpGT, ExpectedAnswer: "5"},
		},
	}
	ms.SeedNode(welcomeNode)
	ms.SeedNode(pollNode)
	ms.SeedNode(followupNode)

	ms.SeedKeyword(flow.Keyword{ID: "kw-select", ProjectID: projectID, KeywordText: "iselect", ActionType: flow.ActionActivateParticipant})
	ms.SeedKeyword(flow.Keyword{ID: "kw-exit", ProjectID: projectID, KeywordText: "iexit", ActionType: flow.ActionDeactivateParticipant})

	clk := clock.NewStepped(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return &fixture{
		ms: ms, clk: clk, eng: engine.New(ms, clk),
		welcomeNode: welcomeNode, pollTemplate: pollTemplate, pollNode: pollNode,
		followupNode: followupNode, interestedVar: interestedVar, startDateVar: startDateVar,
	}
}

func (f *fixture) enroll(t *testing.T) string {
	t.Helper()
	id, err := f.eng.EnrollParticipant(projectID, "English", nil)
	require.NoError(t, err)
	return id
}

func TestEnrollParticipant_CreatesActiveParticipant(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)

	p, err := f.ms.GetParticipant(id)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, store.ParticipantActive, p.Status)
	assert.Equal(t, "English", p.Language)
}

func TestExecuteNode_SendsMessageLogsAndSchedulesDependent(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)

	msg, err := f.eng.ExecuteNode(id, f.welcomeNode.ID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "Welcome!", msg.Text)
	assert.Equal(t, store.DirectionOutbound, msg.Direction)

	logs, err := f.ms.ListExecutionLogs(id)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, f.welcomeNode.ID, logs[0].NodeID)

	due, err := f.ms.ListDueJobs(f.clk.Now().Add(25*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, f.pollNode.ID, due[0].NodeID)
	assert.Equal(t, f.clk.Now().Add(24*time.Hour), due[0].RunAt)
}

func TestExecuteNode_ResolvesSpanishFallingBackToEnglishWhenMissing(t *testing.T) {
	f := newFixture(t)
	id, err := f.eng.EnrollParticipant(projectID, "Spanish", nil)
	require.NoError(t, err)

	msg, err := f.eng.ExecuteNode(id, f.pollNode.ID)
	require.NoError(t, err)
	require.NotNil(t, msg)
	// tpl-poll has no Spanish body; falls back to English (P5).
	assert.Equal(t, "Interested? (1-10)", msg.Text)
}

func TestExecuteNode_UnknownParticipantReturnsNilNil(t *testing.T) {
	f := newFixture(t)
	msg, err := f.eng.ExecuteNode("no-such-participant", f.welcomeNode.ID)
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestExecuteNode_InactiveParticipantReturnsNilNil(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)
	require.NoError(t, f.ms.UpdateParticipantStatus(id, store.ParticipantInactive))

	msg, err := f.eng.ExecuteNode(id, f.welcomeNode.ID)
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestExecuteNode_NodeFromOtherProjectReturnsNilNil(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)
	other := &flow.Node{ID: "node-other-project", ProjectID: "other-proj", MessageTemplateID: f.welcomeNode.MessageTemplateID}
	f.ms.SeedNode(other)

	msg, err := f.eng.ExecuteNode(id, other.ID)
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestProcessInbound_ActivateKeywordSetsStartDateAndSchedulesStartDateNodes(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)
	require.NoError(t, f.ms.UpdateParticipantStatus(id, store.ParticipantInactive))

	require.NoError(t, f.eng.ProcessInbound(id, "ISelect"))

	p, err := f.ms.GetParticipant(id)
	require.NoError(t, err)
	assert.Equal(t, store.ParticipantActive, p.Status)

	vars, err := f.ms.ListParticipantVariables(id)
	require.NoError(t, err)
	var sawStart bool
	for _, v := range vars {
		if v.VariableID == f.startDateVar.ID {
			sawStart = true
			require.NotNil(t, v.ValueDateTime)
			assert.True(t, v.ValueDateTime.Equal(f.clk.Now()))
		}
	}
	assert.True(t, sawStart)

	due, err := f.ms.ListDueJobs(f.clk.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, f.welcomeNode.ID, due[0].NodeID)
}

func TestProcessInbound_DeactivateKeywordCancelsPendingJobs(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)
	require.NoError(t, f.ms.InsertScheduledJob(&store.ScheduledJob{
		ID: "job-1", ParticipantID: id, NodeID: f.welcomeNode.ID,
		RunAt: f.clk.Now().Add(time.Hour), Status: store.JobPending, CreatedAt: f.clk.Now(),
	}))

	require.NoError(t, f.eng.ProcessInbound(id, "IExit"))

	p, err := f.ms.GetParticipant(id)
	require.NoError(t, err)
	assert.Equal(t, store.ParticipantInactive, p.Status)

	due, err := f.ms.ListDueJobs(f.clk.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestProcessInbound_PollAnswerSatisfyingConditionSchedulesFollowup(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)
	require.NoError(t, f.ms.InsertParticipantMessage(&store.ParticipantMessage{
		ID: "msg-poll", ParticipantID: id, Direction: store.DirectionOutbound,
		TemplateID: &f.pollTemplate.ID, Text: f.pollTemplate.TextEN, CreatedAt: f.clk.Now(),
	}))

	require.NoError(t, f.eng.ProcessInbound(id, "8"))

	vars, err := f.ms.ListParticipantVariables(id)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	require.NotNil(t, vars[0].ValueInt)
	assert.EqualValues(t, 8, *vars[0].ValueInt)

	due, err := f.ms.ListDueJobs(f.clk.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, f.followupNode.ID, due[0].NodeID)
}

func TestProcessInbound_PollAnswerFailingConditionDoesNotSchedule(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)
	require.NoError(t, f.ms.InsertParticipantMessage(&store.ParticipantMessage{
		ID: "msg-poll", ParticipantID: id, Direction: store.DirectionOutbound,
		TemplateID: &f.pollTemplate.ID, Text: f.pollTemplate.TextEN, CreatedAt: f.clk.Now(),
	}))

	require.NoError(t, f.eng.ProcessInbound(id, "2"))

	due, err := f.ms.ListDueJobs(f.clk.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestProcessInbound_TextWithNoPendingPollHasNoEffect(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)

	require.NoError(t, f.eng.ProcessInbound(id, "random text"))

	msgs, err := f.ms.ListMessages(id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.DirectionInbound, msgs[0].Direction)

	vars, err := f.ms.ListParticipantVariables(id)
	require.NoError(t, err)
	assert.Empty(t, vars)
}

func TestProcessInbound_RecordsInboundMessageEvenWhenUnrecognized(t *testing.T) {
	f := newFixture(t)
	id := f.enroll(t)

	require.NoError(t, f.eng.ProcessInbound(id, "gibberish"))

	msgs, err := f.ms.ListMessages(id)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "gibberish", msgs[0].Text)
}
