package flow

import (
	"fmt"

	"github.com/jinzhu/inflection"
)

// DescribeDependents renders a human-readable count of nodes waiting on an
// activation kind, for scheduler/engine debug logging ("3 nodes activate
// AfterPoll", "1 node activate StartDate"), pluralizing the same way
// specification/infrastructure's SQL alias generation does.
func DescribeDependents(kind ActivationKind, count int) string {
	noun := "node"
	if count != 1 {
		noun = inflection.Plural(noun)
	}
	return fmt.Sprintf("%d %s activate %s", count, noun, kind)
}

// Activation is the tagged variant that determines when a Node becomes
// eligible for scheduling, modeled as a Go sum type instead of the four
// mutually-exclusive nullable columns the on-disk schema uses (that
// nullable-column shape is a Store-layer compatibility detail, see
// internal/store/pg).
type Activation interface {
	isActivation()
	// Kind identifies the variant for Store persistence and diagnostics.
	Kind() ActivationKind
}

// ActivationKind names one of the four Activation variants.
type ActivationKind string

const (
	KindAfterNode        ActivationKind = "AfterNode"
	KindAfterPoll        ActivationKind = "AfterPoll"
	KindAfterDateTimeVar ActivationKind = "AfterDateTimeVar"
	KindStartDate        ActivationKind = "StartDate"
)

// AfterNode activates once SourceNodeID has fired.
type AfterNode struct {
	SourceNodeID string
}

func (AfterNode) isActivation()        {}
func (AfterNode) Kind() ActivationKind { return KindAfterNode }

// AfterPoll activates once SourceTemplateID (which must be a Poll) has
// received an answer. (I2)
type AfterPoll struct {
	SourceTemplateID string
}

func (AfterPoll) isActivation()        {}
func (AfterPoll) Kind() ActivationKind { return KindAfterPoll }

// AfterDateTimeVar activates relative to a DateTime variable. Reserved:
// the engine never lists or schedules nodes with this activation, but it
// is modeled so seed data can declare it without rejection.
type AfterDateTimeVar struct {
	VariableID string
}

func (AfterDateTimeVar) isActivation()        {}
func (AfterDateTimeVar) Kind() ActivationKind { return KindAfterDateTimeVar }

// StartDate activates relative to the Start_Date system variable being set
// (re)activation.
type StartDate struct {
	VariableID string
}

func (StartDate) isActivation()        {}
func (StartDate) Kind() ActivationKind { return KindStartDate }
