package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StartKey is the reserved predecessor key that holds the workflow's
// initial input.
const StartKey = "start"

// ExecutorKind selects which capability runs a step.
type ExecutorKind string

const (
	KindAgent    ExecutorKind = "agent"
	KindWorkflow ExecutorKind = "workflow"
	KindSkill    ExecutorKind = "skill"
)

// ExecutorRef names the unit of work a step runs.
type ExecutorRef struct {
	Kind ExecutorKind `json:"kind"`
	ID   string       `json:"id"`
}

// Agent, SubWorkflow and Skill build typed references.
func Agent(id string) ExecutorRef       { return ExecutorRef{Kind: KindAgent, ID: id} }
func SubWorkflow(id string) ExecutorRef { return ExecutorRef{Kind: KindWorkflow, ID: id} }
func Skill(id string) ExecutorRef       { return ExecutorRef{Kind: KindSkill, ID: id} }

func (r ExecutorRef) String() string {
	return string(r.Kind) + ":" + r.ID
}

// ParseExecutorRef reads the "kind:id" encoding used by older stored
// definitions. A bare id is an agent.
func ParseExecutorRef(s string) (ExecutorRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ExecutorRef{}, fmt.Errorf("empty executor reference")
	}
	kind, id, found := strings.Cut(s, ":")
	if !found {
		return Agent(s), nil
	}
	if id == "" {
		return ExecutorRef{}, fmt.Errorf("executor reference %q has no id", s)
	}
	switch ExecutorKind(kind) {
	case KindAgent, KindWorkflow, KindSkill:
		return ExecutorRef{Kind: ExecutorKind(kind), ID: id}, nil
	default:
		return ExecutorRef{}, fmt.Errorf("executor reference %q has unknown kind %q", s, kind)
	}
}

// UnmarshalJSON accepts both the object form and the legacy string form.
func (r *ExecutorRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		ref, err := ParseExecutorRef(s)
		if err != nil {
			return err
		}
		*r = ref
		return nil
	}
	type plain ExecutorRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = ExecutorRef(p)
	return nil
}

// Step is one node of a workflow.
type Step struct {
	ID       string      `json:"id"`
	Executor ExecutorRef `json:"executor"`
	// InputMap maps parameter name to source step id. Empty means the
	// input is derived from the predecessors.
	InputMap    map[string]string `json:"input_map,omitempty"`
	NextStepIDs []string          `json:"next_step_ids,omitempty"`
	// NextStepID is the single-successor shorthand; it is merged into
	// NextStepIDs.
	NextStepID string `json:"next_step_id,omitempty"`
	// Condition is stored but not evaluated.
	Condition string `json:"condition,omitempty"`
}

// Successors returns NextStepIDs plus NextStepID, without blanks or repeats.
func (s Step) Successors() []string {
	out := make([]string, 0, len(s.NextStepIDs)+1)
	seen := make(map[string]bool, len(s.NextStepIDs)+1)
	for _, id := range append(append([]string(nil), s.NextStepIDs...), s.NextStepID) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Definition is a stored workflow.
type Definition struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Steps []Step `json:"steps"`
	// InitialStepID is informational. Every step without predecessors is
	// an entry point.
	InitialStepID string `json:"initial_step_id,omitempty"`
}

// Step returns the step with the given id.
func (d *Definition) Step(id string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}
