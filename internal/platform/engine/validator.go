package engine

import (
	"context"
	"fmt"
)

// ValidationError carries every problem found by a Validator.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 1 {
		return e.Messages[0]
	}
	return fmt.Sprintf("%d invalid proposition definitions: %v", len(e.Messages), e.Messages)
}

// Validator checks user-defined propositions before they reach the engine:
// every reference must resolve and the derivation graph must be acyclic.
type Validator struct {
	Knowledge KnowledgeSource
	// Target, when set, is checked along with the user definitions.
	Target   *PropositionDefinition
	messages []string
}

func NewValidator(ks KnowledgeSource) *Validator {
	return &Validator{Knowledge: ks}
}

// Messages returns the problems found by the last Validate call.
func (v *Validator) Messages() []string {
	return v.messages
}

// Validate reports whether userDefs are usable. An error is returned only
// when the knowledge source fails.
func (v *Validator) Validate(ctx context.Context, userDefs []*PropositionDefinition) (bool, error) {
	v.messages = nil

	defs := make(map[string]*PropositionDefinition, len(userDefs)+1)
	for _, d := range userDefs {
		defs[d.ID] = d
	}
	roots := userDefs
	if v.Target != nil {
		defs[v.Target.ID] = v.Target
		roots = append([]*PropositionDefinition{v.Target}, userDefs...)
	}

	lookup := func(id string) (*PropositionDefinition, error) {
		if d, ok := defs[id]; ok {
			return d, nil
		}
		if v.Knowledge == nil {
			return nil, nil
		}
		return v.Knowledge.ReadPropositionDefinition(ctx, id)
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int)
	reportedCycle := make(map[string]bool)

	var visit func(d *PropositionDefinition, path []string) error
	visit = func(d *PropositionDefinition, path []string) error {
		state[d.ID] = visiting
		path = append(path, d.ID)
		for _, ref := range d.References() {
			switch state[ref] {
			case visiting:
				if !reportedCycle[ref] {
					reportedCycle[ref] = true
					v.messages = append(v.messages, fmt.Sprintf("cycle detected: %s", cyclePath(path, ref)))
				}
				continue
			case done:
				continue
			}
			child, err := lookup(ref)
			if err != nil {
				return fmt.Errorf("read proposition definition %s: %w", ref, err)
			}
			if child == nil {
				v.messages = append(v.messages, fmt.Sprintf("%s references unknown proposition %s", d.ID, ref))
				state[ref] = done
				continue
			}
			// System definitions are trusted; only user definitions can
			// introduce cycles, so descend only into those.
			if _, user := defs[ref]; user {
				if err := visit(child, path); err != nil {
					return err
				}
			} else {
				state[ref] = done
			}
		}
		state[d.ID] = done
		return nil
	}

	for _, d := range roots {
		if state[d.ID] != 0 {
			continue
		}
		if err := visit(d, nil); err != nil {
			return false, err
		}
	}
	return len(v.messages) == 0, nil
}

func cyclePath(path []string, back string) string {
	start := 0
	for i, id := range path {
		if id == back {
			start = i
			break
		}
	}
	out := ""
	for _, id := range path[start:] {
		out += id + " -> "
	}
	return out + back
}
