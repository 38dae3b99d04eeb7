package flow

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Build validates a project's definitions against invariants I1, I2 and I4
// (I3 concerns participant messages, not definitions, and is not checked) and
// returns every violation found (not just the first), the same "collect
// everything, fail once" shape the teacher's session rollback path uses
// multierror for.
func Build(project Project, nodes []Node, templates []MessageTemplate, variables []Variable, keywords []Keyword) (*Snapshot, error) {
	snap := &Snapshot{
		Project:   project,
		Nodes:     make(map[string]*Node, len(nodes)),
		Templates: make(map[string]*MessageTemplate, len(templates)),
		Variables: make(map[string]*Variable, len(variables)),
		Keywords:  keywords,
	}

	for i := range templates {
		t := templates[i]
		snap.Templates[t.ID] = &t
	}
	for i := range variables {
		v := variables[i]
		snap.Variables[v.ID] = &v
	}
	for i := range nodes {
		n := nodes[i]
		snap.Nodes[n.ID] = &n
	}

	var errs *multierror.Error

	for _, n := range nodes {
		tpl, ok := snap.Templates[n.MessageTemplateID]
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("node %s: message_template %s not found in project", n.ID, n.MessageTemplateID))
			continue
		}
		if tpl.ProjectID != project.ID { // I1
			errs = multierror.Append(errs, fmt.Errorf("node %s: message_template %s belongs to a different project", n.ID, tpl.ID))
		}
		if n.ScheduleTiming != nil && n.ScheduleTiming.ProjectID != project.ID { // I1
			errs = multierror.Append(errs, fmt.Errorf("node %s: schedule_timing belongs to a different project", n.ID))
		}

		if ap, ok := n.Activation.(AfterPoll); ok { // I2
			source, found := snap.Templates[ap.SourceTemplateID]
			if !found {
				errs = multierror.Append(errs, fmt.Errorf("node %s: AfterPoll source template %s not found", n.ID, ap.SourceTemplateID))
			} else if source.Type != TemplatePoll {
				errs = multierror.Append(errs, fmt.Errorf("node %s: AfterPoll source template %s is not a Poll", n.ID, ap.SourceTemplateID))
			}
		}

		if dtv, ok := n.Activation.(AfterDateTimeVar); ok {
			v, found := snap.Variables[dtv.VariableID]
			if !found {
				errs = multierror.Append(errs, fmt.Errorf("node %s: AfterDateTimeVar variable %s not found", n.ID, dtv.VariableID))
			} else if v.Type != VariableDateTime {
				errs = multierror.Append(errs, fmt.Errorf("node %s: AfterDateTimeVar variable %s is not DateTime", n.ID, dtv.VariableID))
			}
		}

		if sd, ok := n.Activation.(StartDate); ok {
			v, found := snap.Variables[sd.VariableID]
			if !found {
				errs = multierror.Append(errs, fmt.Errorf("node %s: StartDate variable %s not found", n.ID, sd.VariableID))
			} else if v.Name != StartDateVariableName {
				errs = multierror.Append(errs, fmt.Errorf("node %s: StartDate must reference %s", n.ID, StartDateVariableName))
			}
		}

		if an, ok := n.Activation.(AfterNode); ok {
			if _, found := snap.Nodes[an.SourceNodeID]; !found {
				errs = multierror.Append(errs, fmt.Errorf("node %s: AfterNode source node %s not found", n.ID, an.SourceNodeID))
			}
		}

		for _, cond := range n.Conditions {
			v, found := snap.Variables[cond.VariableID]
			if !found {
				errs = multierror.Append(errs, fmt.Errorf("node %s: condition variable %s not found", n.ID, cond.VariableID))
				continue
			}
			if v.ProjectID != project.ID { // I4
				errs = multierror.Append(errs, fmt.Errorf("node %s: condition variable %s belongs to a different project", n.ID, v.ID))
			}
		}
	}

	for _, t := range templates {
		if t.Type == TemplatePoll && t.VariableID != "" {
			if _, found := snap.Variables[t.VariableID]; !found {
				errs = multierror.Append(errs, fmt.Errorf("template %s: bound variable %s not found", t.ID, t.VariableID))
			}
		}
	}

	if errs.ErrorOrNil() != nil {
		return nil, errs
	}
	return snap, nil
}
