// Package evaluator holds the engine's pure decision functions: text
// resolution, timing-to-duration conversion, and condition matching. None
// of these perform I/O; the Engine fetches whatever state they need (a
// template, a participant's stored variables) through the Store first.
package evaluator

import (
	"strconv"
	"strings"
	"time"

	"github.com/krew-solutions/protoflow/internal/flow"
)

// ResolveText picks the template body for a participant's language. If
// language is Spanish ("spanish" or "es", case-insensitive), text_es is
// preferred, falling back to text_en; otherwise the reverse. Empty only if
// both bodies are empty (P5).
func ResolveText(template flow.MessageTemplate, language string) string {
	if isSpanish(language) {
		if template.TextES != "" {
			return template.TextES
		}
		return template.TextEN
	}
	if template.TextEN != "" {
		return template.TextEN
	}
	return template.TextES
}

func isSpanish(language string) bool {
	l := strings.ToLower(strings.TrimSpace(language))
	return l == "spanish" || l == "es"
}

// TimingToDuration sums a TimingElement's four non-negative fields into a
// single duration. A nil timing is zero (P4: a monoid homomorphism from
// the 4-tuple to total seconds).
func TimingToDuration(timing *flow.TimingElement) time.Duration {
	if timing == nil {
		return 0
	}
	seconds := timing.Days*86400 + timing.Hours*3600 + timing.Minutes*60 + timing.Seconds
	return time.Duration(seconds) * time.Second
}

// ParticipantVariableValue is the minimal view of a stored
// ParticipantVariable the Evaluator needs; callers copy the fields over from
// the store package's richer type.
type ParticipantVariableValue struct {
	VariableID string
	ValueText  string
	ValueInt   *int64
	HasValue   bool // false means no row exists for this (participant, variable)
}

// legacyIntThreshold is the fixed fallback threshold preserved from the
// source system for unparseable integer conditions (B2).
const legacyIntThreshold = 5

// ConditionsSatisfied evaluates the AND of every condition against the
// participant's stored variables. A condition with no stored value always
// fails; all must pass for the overall result to be true.
func ConditionsSatisfied(vars []ParticipantVariableValue, variables map[string]*flow.Variable, conditions []flow.NodeCondition) bool {
	for _, cond := range conditions {
		if !conditionSatisfied(vars, variables, cond) {
			return false
		}
	}
	return true
}

func conditionSatisfied(vars []ParticipantVariableValue, variables map[string]*flow.Variable, cond flow.NodeCondition) bool {
	pv, found := findValue(vars, cond.VariableID)
	if !found {
		return false
	}

	v := variables[cond.VariableID]
	if v != nil && v.Type.IsInteger() {
		return intConditionSatisfied(pv, cond)
	}
	return textConditionSatisfied(pv, cond)
}

func findValue(vars []ParticipantVariableValue, variableID string) (ParticipantVariableValue, bool) {
	for _, v := range vars {
		if v.VariableID == variableID && v.HasValue {
			return v, true
		}
	}
	return ParticipantVariableValue{}, false
}

func intConditionSatisfied(pv ParticipantVariableValue, cond flow.NodeCondition) bool {
	if pv.ValueInt == nil {
		return false
	}
	val := *pv.ValueInt

	expected := strings.TrimSpace(cond.ExpectedAnswer)
	expVal, err := strconv.ParseInt(expected, 10, 64)
	if err != nil {
		// Unparseable: fall back to the fixed legacy threshold, only for
		// gt/lte (B2); every other operation fails closed.
		switch cond.Operation {
		case flow.OpGT:
			return val > legacyIntThreshold
		case flow.OpLTE:
			return val <= legacyIntThreshold
		default:
			return false
		}
	}

	switch cond.Operation {
	case flow.OpEqual:
		return val == expVal
	case flow.OpGT:
		return val > expVal
	case flow.OpGTE:
		return val >= expVal
	case flow.OpLT:
		return val < expVal
	case flow.OpLTE:
		return val <= expVal
	default:
		// Unknown operation => equality.
		return val == expVal
	}
}

func textConditionSatisfied(pv ParticipantVariableValue, cond flow.NodeCondition) bool {
	val := strings.ToLower(strings.TrimSpace(pv.ValueText))
	expected := strings.ToLower(strings.TrimSpace(cond.ExpectedAnswer))
	// Only equal is meaningful for text; every other operation falls back
	// to equality.
	return val == expected
}
