package workflow

import (
	"sort"

	afErrors "github.com/kbukum/autoflow/errors"
)

// Graph is the dependency structure of a Definition. Every step id is a key
// in both maps.
type Graph struct {
	WorkflowID   string
	Predecessors map[string][]string
	Successors   map[string][]string
	// Order lists step ids in definition order.
	Order []string

	unknown    []reference
	duplicates []string
	blank      bool
	reserved   bool
}

type reference struct {
	from, to string
}

// BuildGraph derives predecessor and successor lists from explicit
// NextStepIDs edges and implicit InputMap edges. References to steps that do
// not exist are left out of the maps and reported by Validate.
func BuildGraph(def *Definition) *Graph {
	g := &Graph{
		WorkflowID:   def.ID,
		Predecessors: make(map[string][]string, len(def.Steps)),
		Successors:   make(map[string][]string, len(def.Steps)),
		Order:        make([]string, 0, len(def.Steps)),
	}
	for _, s := range def.Steps {
		if s.ID == "" {
			g.blank = true
			continue
		}
		if s.ID == StartKey {
			g.reserved = true
			continue
		}
		if _, dup := g.Predecessors[s.ID]; dup {
			g.duplicates = append(g.duplicates, s.ID)
			continue
		}
		g.Predecessors[s.ID] = []string{}
		g.Successors[s.ID] = []string{}
		g.Order = append(g.Order, s.ID)
	}

	for _, s := range def.Steps {
		if s.ID == "" || s.ID == StartKey {
			continue
		}
		for _, next := range s.Successors() {
			g.addEdge(s.ID, next, reference{from: s.ID, to: next})
		}
		for _, param := range sortedKeys(s.InputMap) {
			src := s.InputMap[param]
			if src == "" || src == StartKey {
				continue
			}
			g.addEdge(src, s.ID, reference{from: s.ID, to: src})
		}
	}
	return g
}

func (g *Graph) addEdge(from, to string, ref reference) {
	_, okFrom := g.Predecessors[from]
	_, okTo := g.Predecessors[to]
	if !okFrom || !okTo {
		g.unknown = append(g.unknown, ref)
		return
	}
	if contains(g.Predecessors[to], from) {
		return
	}
	g.Predecessors[to] = append(g.Predecessors[to], from)
	g.Successors[from] = append(g.Successors[from], to)
}

// Validate reports blank, reserved or duplicate step ids, references to missing steps
// and dependency cycles.
func (g *Graph) Validate() error {
	if g.blank {
		return afErrors.InvalidInput("steps", "every step needs an id").WithDetail("workflow_id", g.WorkflowID)
	}
	if g.reserved {
		return afErrors.InvalidInput("steps", "step id "+StartKey+" is reserved for the workflow input").WithDetail("workflow_id", g.WorkflowID)
	}
	if len(g.duplicates) > 0 {
		return afErrors.InvalidInput("steps", "duplicate step id "+g.duplicates[0]).WithDetail("workflow_id", g.WorkflowID)
	}
	if len(g.unknown) > 0 {
		ref := g.unknown[0]
		return afErrors.UnknownStep(g.WorkflowID, ref.from, ref.to)
	}
	if stuck := g.stuck(); len(stuck) > 0 {
		return afErrors.WorkflowCycle(g.WorkflowID, stuck)
	}
	return nil
}

// Batches returns the execution waves: each inner slice holds the steps that
// become ready together. Steps caught in a cycle never appear.
func (g *Graph) Batches() [][]string {
	inDegree := g.inDegrees()
	ready := g.roots(inDegree)
	var batches [][]string
	for len(ready) > 0 {
		batches = append(batches, ready)
		ready = g.release(ready, inDegree)
	}
	return batches
}

// Terminals returns the steps with no successors in definition order.
func (g *Graph) Terminals() []string {
	var out []string
	for _, id := range g.Order {
		if len(g.Successors[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

func (g *Graph) inDegrees() map[string]int {
	inDegree := make(map[string]int, len(g.Order))
	for _, id := range g.Order {
		inDegree[id] = len(g.Predecessors[id])
	}
	return inDegree
}

func (g *Graph) roots(inDegree map[string]int) []string {
	var ready []string
	for _, id := range g.Order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

// release decrements the successors of a settled batch and returns the ones
// that reached zero, in definition order.
func (g *Graph) release(batch []string, inDegree map[string]int) []string {
	var next []string
	for _, id := range batch {
		for _, succ := range g.Successors[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				next = append(next, succ)
			}
		}
	}
	g.sortByOrder(next)
	return next
}

func (g *Graph) stuck() []string {
	inDegree := g.inDegrees()
	for ready := g.roots(inDegree); len(ready) > 0; {
		ready = g.release(ready, inDegree)
	}
	var stuck []string
	for _, id := range g.Order {
		if inDegree[id] > 0 {
			stuck = append(stuck, id)
		}
	}
	return stuck
}

func (g *Graph) sortByOrder(ids []string) {
	pos := make(map[string]int, len(g.Order))
	for i, id := range g.Order {
		pos[id] = i
	}
	sort.Slice(ids, func(i, j int) bool { return pos[ids[i]] < pos[ids[j]] })
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
