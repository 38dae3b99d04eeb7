package flow

// Snapshot is a pure, read-only, project-scoped view of a protocol
// definition, produced by Build. The Engine does not use it: it reads
// definitions through store.Store on each operation. Back-edges
// (e.g. AfterNode.SourceNodeID) are resolved by map lookup against this
// snapshot, never materialized as cyclic object graphs (see spec.md §9).
type Snapshot struct {
	Project   Project
	Nodes     map[string]*Node
	Templates map[string]*MessageTemplate
	Variables map[string]*Variable
	Keywords  []Keyword
}

// NodesByActivation returns every node in the snapshot whose activation
// matches the given kind and source key (source node id, source template
// id, or variable id depending on kind).
func (s *Snapshot) NodesByActivation(kind ActivationKind, sourceKey string) []*Node {
	var out []*Node
	for _, n := range s.Nodes {
		if n.Activation.Kind() != kind {
			continue
		}
		switch a := n.Activation.(type) {
		case AfterNode:
			if a.SourceNodeID == sourceKey {
				out = append(out, n)
			}
		case AfterPoll:
			if a.SourceTemplateID == sourceKey {
				out = append(out, n)
			}
		case AfterDateTimeVar:
			if a.VariableID == sourceKey {
				out = append(out, n)
			}
		case StartDate:
			if a.VariableID == sourceKey {
				out = append(out, n)
			}
		}
	}
	return out
}

// KeywordsByText returns every keyword matching the given lower-cased text,
// optionally narrowed by language.
func (s *Snapshot) KeywordsByText(text string, language *string) []Keyword {
	var out []Keyword
	for _, k := range s.Keywords {
		if k.KeywordText != text {
			continue
		}
		if language != nil && k.Language != *language {
			continue
		}
		out = append(out, k)
	}
	return out
}

// VariableByName looks up a project variable by its declared name (e.g.
// the Start_Date system variable).
func (s *Snapshot) VariableByName(name string) *Variable {
	for _, v := range s.Variables {
		if v.Name == name {
			return v
		}
	}
	return nil
}
