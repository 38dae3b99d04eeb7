// Package engine implements the stateful protocol operations: enroll,
// execute a single node (send + log + schedule dependents), and route an
// inbound participant text to keyword handling or poll-answer handling.
// Every public operation is registered as a dispatch request so that
// logging and future cross-cutting concerns wrap them uniformly, and each
// publishes a domain event on success for the host to subscribe to.
package engine

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/krew-solutions/protoflow/internal/clock"
	"github.com/krew-solutions/protoflow/internal/dispatch"
	"github.com/krew-solutions/protoflow/internal/evaluator"
	"github.com/krew-solutions/protoflow/internal/flow"
	"github.com/krew-solutions/protoflow/internal/store"
)

// newRecordID returns a lexically sortable id for rows a listing orders by
// insertion (ParticipantMessage, ScheduledJob, NodeExecutionLog): the pack's
// outbox/inbox analogue for a monotonic position column. Participant keeps a
// plain uuid since nothing lists participants in insertion order.
func newRecordID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

const defaultLanguage = "English"

// literal keyword texts that act even without a seeded Keyword row
// matching this exact action (spec.md §4.D).
const (
	literalExit   = "iexit"
	literalSelect = "iselect"
	literalBuy    = "ibuy"
)

// Engine is the stateful core: it reads/writes through Store and uses
// Evaluator for every pure decision.
type Engine struct {
	store    store.Store
	clock    clock.Clock
	mediator *dispatch.Mediator[store.Store]
}

// New constructs an Engine and registers its operations and the default
// structured-logging broadcast pipeline.
func New(st store.Store, clk clock.Clock) *Engine {
	e := &Engine{store: st, clock: clk, mediator: dispatch.New[store.Store]()}

	dispatch.Register(e.mediator, e.handleExecuteNode)
	dispatch.Register(e.mediator, e.handleProcessInbound)
	dispatch.Register(e.mediator, e.handleEnrollParticipant)

	dispatch.AddBroadcastPipeline(e.mediator, func(s store.Store, request any, next func(store.Store, any) (any, error)) (any, error) {
		log.Debug().Interface("request", request).Msg("engine: dispatching request")
		result, err := next(s, request)
		if err != nil {
			log.Error().Interface("request", request).Err(err).Msg("engine: request failed")
		}
		return result, err
	})

	return e
}

// Mediator returns the dispatch mediator the Engine publishes its domain
// events through, so a host can dispatch.Subscribe to them.
func (e *Engine) Mediator() *dispatch.Mediator[store.Store] {
	return e.mediator
}

// --- request types ---

type executeNodeRequest struct {
	dispatch.RequestBase[*store.ParticipantMessage]
	ParticipantID string
	NodeID        string
}

type processInboundRequest struct {
	dispatch.RequestBase[struct{}]
	ParticipantID string
	RawText       string
}

type enrollParticipantRequest struct {
	dispatch.RequestBase[string]
	ProjectID  string
	Language   string
	ExternalID *string
}

// --- public API ---

// ExecuteNode sends a node's message to a participant, logs the AGV entry,
// and schedules any AfterNode dependents whose conditions are satisfied.
// Returns (nil, nil) whenever a precondition is unmet (spec.md §4.D) —
// never an error for that case.
func (e *Engine) ExecuteNode(participantID, nodeID string) (*store.ParticipantMessage, error) {
	return dispatch.Send[store.Store, *store.ParticipantMessage](e.mediator, e.store, executeNodeRequest{
		ParticipantID: participantID,
		NodeID:        nodeID,
	})
}

// ProcessInbound records an inbound text and dispatches it as a keyword or
// poll answer (spec.md §4.D).
func (e *Engine) ProcessInbound(participantID, rawText string) error {
	_, err := dispatch.Send[store.Store, struct{}](e.mediator, e.store, processInboundRequest{
		ParticipantID: participantID,
		RawText:       rawText,
	})
	return err
}

// EnrollParticipant creates an Active participant. It schedules nothing;
// the caller is expected to send an activation keyword next (spec.md §6).
func (e *Engine) EnrollParticipant(projectID, language string, externalID *string) (string, error) {
	return dispatch.Send[store.Store, string](e.mediator, e.store, enrollParticipantRequest{
		ProjectID:  projectID,
		Language:   language,
		ExternalID: externalID,
	})
}

// --- handlers ---

func (e *Engine) handleEnrollParticipant(_ store.Store, r enrollParticipantRequest) (string, error) {
	language := r.Language
	if language == "" {
		language = defaultLanguage
	}
	p := &store.Participant{
		ID:         uuid.NewString(),
		ProjectID:  r.ProjectID,
		Language:   language,
		Status:     store.ParticipantActive,
		ExternalID: r.ExternalID,
		CreatedAt:  e.clock.Now(),
	}
	if err := e.store.InsertParticipant(p); err != nil {
		return "", err
	}
	_ = dispatch.Publish(e.mediator, e.store, ParticipantEnrolled{ParticipantID: p.ID, ProjectID: p.ProjectID, At: p.CreatedAt})
	return p.ID, nil
}

func (e *Engine) handleExecuteNode(sess store.Store, r executeNodeRequest) (*store.ParticipantMessage, error) {
	var msg *store.ParticipantMessage

	err := sess.WithinTransaction(func(s store.Store) error {
		participant, err := s.GetParticipant(r.ParticipantID)
		if err != nil {
			return ignoreNotFound(err)
		}
		if participant == nil || participant.Status != store.ParticipantActive {
			return nil
		}

		node, err := s.GetNode(r.NodeID)
		if err != nil {
			return ignoreNotFound(err)
		}
		if node == nil || node.ProjectID != participant.ProjectID {
			return nil
		}

		template, err := s.GetMessageTemplate(node.MessageTemplateID)
		if err != nil {
			return ignoreNotFound(err)
		}
		if template == nil {
			return nil
		}

		language := participant.Language
		if language == "" {
			language = defaultLanguage
		}
		text := evaluator.ResolveText(*template, language)

		now := e.clock.Now()
		outbound := &store.ParticipantMessage{
			ID:            newRecordID(now),
			ParticipantID: participant.ID,
			Direction:     store.DirectionOutbound,
			TemplateID:    &template.ID,
			Text:          text,
			CreatedAt:     now,
		}
		if err := s.InsertParticipantMessage(outbound); err != nil {
			return err
		}

		if err := s.InsertNodeExecutionLog(&store.NodeExecutionLog{
			ID:            newRecordID(now),
			ParticipantID: participant.ID,
			NodeID:        node.ID,
			ExecutedAt:    now,
		}); err != nil {
			return err
		}

		dependents, err := s.ListNodesByActivation(participant.ProjectID, flow.KindAfterNode, node.ID)
		if err != nil {
			return err
		}
		// Each dependent is scheduled at now + its own ScheduleTiming: the
		// delay belongs to the node being scheduled, not to the node that
		// fired (spec.md §4.D, §3 Node.schedule_timing_id).
		if err := scheduleDependentsIndividually(s, participant.ID, participant.ProjectID, flow.KindAfterNode, dependents, now); err != nil {
			return err
		}

		msg = outbound
		return nil
	})
	if err != nil {
		return nil, err
	}
	if msg != nil {
		_ = dispatch.Publish(e.mediator, e.store, NodeExecuted{ParticipantID: r.ParticipantID, NodeID: r.NodeID, Message: msg, At: msg.CreatedAt})
	}
	return msg, nil
}

func (e *Engine) handleProcessInbound(_ store.Store, r processInboundRequest) (struct{}, error) {
	text := strings.TrimSpace(r.RawText)
	key := strings.ToLower(text)

	err := e.store.WithinTransaction(func(s store.Store) error {
		participant, err := s.GetParticipant(r.ParticipantID)
		if err != nil {
			return ignoreNotFound(err)
		}
		if participant == nil {
			return nil
		}

		// Recorded before dispatch so history survives even when neither
		// stage recognizes the text (spec.md §4.D).
		now := e.clock.Now()
		if err := s.InsertParticipantMessage(&store.ParticipantMessage{
			ID:            newRecordID(now),
			ParticipantID: participant.ID,
			Direction:     store.DirectionInbound,
			Text:          text,
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		handled, err := e.dispatchKeyword(s, participant, key)
		if err != nil {
			return err
		}
		if handled {
			return nil
		}

		return e.dispatchPollAnswer(s, participant, text)
	})
	return struct{}{}, err
}

// dispatchKeyword implements Stage 1 (spec.md §4.D). Returns handled=true
// if a keyword matched (regardless of whether its action required
// anything further), so Stage 2 is skipped.
func (e *Engine) dispatchKeyword(s store.Store, participant *store.Participant, key string) (bool, error) {
	keywords, err := s.ListKeywords(participant.ProjectID, key, nil)
	if err != nil {
		return false, err
	}

	isExit := key == literalExit
	isActivate := key == literalSelect || key == literalBuy

	var kw *flow.Keyword
	if len(keywords) > 0 {
		kw = &keywords[0]
	}
	if kw == nil && !isExit && !isActivate {
		return false, nil
	}

	action := flow.KeywordAction("")
	var referencedNode *string
	if kw != nil {
		action = kw.ActionType
		referencedNode = kw.ReferencedNodeID
	}

	switch {
	case action == flow.ActionDeactivateParticipant || isExit:
		return true, e.deactivate(s, participant, referencedNode)
	case action == flow.ActionActivateParticipant || isActivate:
		return true, e.activate(s, participant, referencedNode)
	case action == flow.ActionMoveToNode:
		if referencedNode == nil {
			return true, nil
		}
		now := e.clock.Now()
		return true, s.InsertScheduledJob(&store.ScheduledJob{
			ID:            newRecordID(now),
			ParticipantID: participant.ID,
			NodeID:        *referencedNode,
			RunAt:         now,
			Status:        store.JobPending,
			CreatedAt:     now,
		})
	default:
		return false, nil
	}
}

func (e *Engine) deactivate(s store.Store, participant *store.Participant, referencedNode *string) error {
	if referencedNode != nil {
		if _, err := e.handleExecuteNode(s, executeNodeRequest{ParticipantID: participant.ID, NodeID: *referencedNode}); err != nil {
			return err
		}
	}

	if err := s.UpdateParticipantStatus(participant.ID, store.ParticipantInactive); err != nil {
		return err
	}
	if err := s.CancelPendingJobs(participant.ID); err != nil {
		return err
	}
	_ = dispatch.Publish(e.mediator, s, ParticipantDeactivated{ParticipantID: participant.ID, At: e.clock.Now()})
	return nil
}

func (e *Engine) activate(s store.Store, participant *store.Participant, referencedNode *string) error {
	if err := s.UpdateParticipantStatus(participant.ID, store.ParticipantActive); err != nil {
		return err
	}

	now := e.clock.Now()
	startVar, err := s.GetVariableByName(participant.ProjectID, flow.StartDateVariableName)
	if err != nil {
		return err
	}
	if startVar != nil {
		if err := s.UpsertParticipantVariable(store.ParticipantVariable{
			ParticipantID: participant.ID,
			VariableID:    startVar.ID,
			ValueDateTime: &now,
		}); err != nil {
			return err
		}
	}

	if referencedNode != nil {
		node, err := s.GetNode(*referencedNode)
		if err != nil {
			return ignoreNotFound(err)
		}
		if node != nil {
			runAt := now.Add(evaluator.TimingToDuration(node.ScheduleTiming))
			if err := s.InsertScheduledJob(&store.ScheduledJob{
				ID:            newRecordID(now),
				ParticipantID: participant.ID,
				NodeID:        node.ID,
				RunAt:         runAt,
				Status:        store.JobPending,
				CreatedAt:     now,
			}); err != nil {
				return err
			}
		}
	} else if startVar != nil {
		startNodes, err := s.ListNodesByActivation(participant.ProjectID, flow.KindStartDate, startVar.ID)
		if err != nil {
			return err
		}
		if err := scheduleDependentsIndividually(s, participant.ID, participant.ProjectID, flow.KindStartDate, startNodes, now); err != nil {
			return err
		}
	}

	return nil
}

// dispatchPollAnswer implements Stage 2 (spec.md §4.D): reached only when
// Stage 1 found no keyword.
func (e *Engine) dispatchPollAnswer(s store.Store, participant *store.Participant, rawText string) error {
	lastOut, template, err := s.LastOutboundPollMessage(participant.ID)
	if err != nil {
		return err
	}
	if lastOut == nil || template == nil {
		return nil // No poll waiting; inbound has no semantic effect.
	}

	if template.VariableID == "" {
		return nil
	}
	variable, err := s.GetVariable(template.VariableID)
	if err != nil {
		return ignoreNotFound(err)
	}
	if variable == nil {
		return nil
	}

	// The engine never rejects on an invalid answer: it stores what came
	// in. The accepted-choice set below only matters for what counts as a
	// "valid" answer elsewhere (e.g. host-side UX); here the raw text is
	// always persisted.
	_ = acceptedChoices(*template, rawText)

	pv := store.ParticipantVariable{
		ParticipantID: participant.ID,
		VariableID:    variable.ID,
		ValueText:     rawText,
	}
	if variable.Type.IsInteger() {
		if n, err := strconv.ParseInt(strings.TrimSpace(rawText), 10, 64); err == nil {
			pv.ValueInt = &n
		}
	}
	if err := s.UpsertParticipantVariable(pv); err != nil {
		return err
	}

	now := e.clock.Now()
	_ = dispatch.Publish(e.mediator, s, PollAnswered{ParticipantID: participant.ID, TemplateID: template.ID, VariableID: variable.ID, RawAnswer: rawText, At: now})

	dependents, err := s.ListNodesByActivation(participant.ProjectID, flow.KindAfterPoll, template.ID)
	if err != nil {
		return err
	}
	return scheduleDependentsIndividually(s, participant.ID, participant.ProjectID, flow.KindAfterPoll, dependents, now)
}

// acceptedChoices builds the set of inbound texts that count as a valid
// answer to this poll (spec.md §4.D): the union of both languages'
// choices, "1".."10" when the raw text parses as a rating 1-10, and the
// universal {yes,no,1..10} set when the template declares no choices.
func acceptedChoices(template flow.MessageTemplate, rawText string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, c := range template.ChoicesEN {
		set[strings.ToLower(c)] = struct{}{}
	}
	for _, c := range template.ChoicesES {
		set[strings.ToLower(c)] = struct{}{}
	}
	if n, err := strconv.Atoi(strings.TrimSpace(rawText)); err == nil && n >= 1 && n <= 10 {
		for i := 1; i <= 10; i++ {
			set[strconv.Itoa(i)] = struct{}{}
		}
	}
	if len(template.ChoicesEN) == 0 && len(template.ChoicesES) == 0 {
		for _, v := range []string{"yes", "no", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10"} {
			set[v] = struct{}{}
		}
	}
	return set
}

// scheduleDependentsIndividually schedules each node whose conditions hold
// at `now` plus its own timing (used for AfterNode dependents, AfterPoll
// dependents and StartDate nodes alike: each dependent's delay is its own,
// not the triggering node's).
func scheduleDependentsIndividually(s store.Store, participantID, projectID string, kind flow.ActivationKind, nodes []*flow.Node, now time.Time) error {
	if len(nodes) > 0 {
		log.Debug().Str("participant_id", participantID).Msg(flow.DescribeDependents(kind, len(nodes)))
	}
	for _, node := range nodes {
		if !conditionsSatisfiedFor(s, projectID, participantID, node.Conditions) {
			continue
		}
		runAt := now.Add(evaluator.TimingToDuration(node.ScheduleTiming))
		if err := s.InsertScheduledJob(&store.ScheduledJob{
			ID:            newRecordID(now),
			ParticipantID: participantID,
			NodeID:        node.ID,
			RunAt:         runAt,
			Status:        store.JobPending,
			CreatedAt:     now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func conditionsSatisfiedFor(s store.Store, projectID, participantID string, conditions []flow.NodeCondition) bool {
	if len(conditions) == 0 {
		return true
	}
	stored, err := s.ListParticipantVariables(participantID)
	if err != nil {
		return false
	}
	variables, err := s.ListProjectVariables(projectID)
	if err != nil {
		return false
	}
	varByID := make(map[string]*flow.Variable, len(variables))
	for i := range variables {
		v := variables[i]
		varByID[v.ID] = &v
	}
	values := make([]evaluator.ParticipantVariableValue, 0, len(stored))
	for _, pv := range stored {
		values = append(values, evaluator.ParticipantVariableValue{
			VariableID: pv.VariableID,
			ValueText:  pv.ValueText,
			ValueInt:   pv.ValueInt,
			HasValue:   true,
		})
	}
	return evaluator.ConditionsSatisfied(values, varByID, conditions)
}

func ignoreNotFound(err error) error {
	if err == store.ErrNotFound {
		return nil
	}
	return err
}
