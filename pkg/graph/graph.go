// Package graph models the dialogue graph a call walks through: a directed,
// possibly cyclic set of nodes addressed by id. The graph is loaded once at
// session creation and is read-only afterwards, so a single instance is
// safely shared by every concurrent call.
package graph

import (
	"fmt"
)

// NodeKind is assigned at load time. Dispatch matches on the tag; the engine
// never infers a node's behavior from its content.
type NodeKind string

const (
	// KindScript nodes emit their literal text with no generation step.
	KindScript NodeKind = "script"
	// KindGenerative nodes carry an instruction fed to the language model.
	KindGenerative NodeKind = "generative"
)

// Transition is one outgoing edge: a semantic condition and its target.
// Order matters; the first listed transition is the timeout fallback.
type Transition struct {
	When   string `yaml:"when"`
	Target string `yaml:"target"`
}

// Variable declares a value the node extracts from the user's utterance.
// When Pattern is set the first regexp match is captured; otherwise the whole
// trimmed utterance is stored.
type Variable struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// Loop bounds how often a node may re-enter itself before the engine forces
// a different route.
type Loop struct {
	MaxRepeats int    `yaml:"max_repeats"`
	EscalateTo string `yaml:"escalate_to"`
}

type Node struct {
	ID          string       `yaml:"id"`
	Kind        NodeKind     `yaml:"kind"`
	Text        string       `yaml:"text"`
	Instruction string       `yaml:"instruction"`
	Transitions []Transition `yaml:"transitions"`
	Default     string       `yaml:"default"`
	Variables   []Variable   `yaml:"variables"`
	Loop        *Loop        `yaml:"loop"`
	EndCall     bool         `yaml:"end_call"`
}

// Graph is an arena of nodes indexed by id. Traversal is always by id
// lookup, never by pointer-following.
type Graph struct {
	Start string
	nodes map[string]*Node
	order []string
}

// New builds a graph from a node list without validating it; call Validate
// before handing it to a session.
func New(start string, nodes []Node) *Graph {
	g := &Graph{
		Start: start,
		nodes: make(map[string]*Node, len(nodes)),
	}
	for i := range nodes {
		n := nodes[i]
		if _, exists := g.nodes[n.ID]; exists {
			continue
		}
		g.nodes[n.ID] = &n
		g.order = append(g.order, n.ID)
	}
	return g
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// IDs returns node ids in declaration order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Validate checks the structural invariants a call depends on. It runs at
// session creation; a failing graph rejects the call before it connects.
func (g *Graph) Validate() error {
	start := g.Node(g.Start)
	if start == nil {
		return fmt.Errorf("start node %q not found", g.Start)
	}

	endCalls := 0
	for _, id := range g.order {
		n := g.nodes[id]
		if n.EndCall {
			endCalls++
		}
		switch n.Kind {
		case KindScript:
			if n.Text == "" {
				return fmt.Errorf("script node %q has no text", id)
			}
		case KindGenerative:
			if n.Instruction == "" {
				return fmt.Errorf("generative node %q has no instruction", id)
			}
		default:
			return fmt.Errorf("node %q has unknown kind %q", id, n.Kind)
		}
		for _, tr := range n.Transitions {
			if g.Node(tr.Target) == nil {
				return fmt.Errorf("node %q transition targets unknown node %q", id, tr.Target)
			}
		}
		if n.Default != "" && g.Node(n.Default) == nil {
			return fmt.Errorf("node %q default targets unknown node %q", id, n.Default)
		}
		if len(n.Transitions) > 1 && n.Default == "" {
			return fmt.Errorf("node %q has multiple transitions but no default", id)
		}
		if !n.EndCall && len(n.Transitions) == 0 && n.Default == "" {
			return fmt.Errorf("node %q is a dead end", id)
		}
		if n.Loop != nil && n.Loop.EscalateTo != "" && g.Node(n.Loop.EscalateTo) == nil {
			return fmt.Errorf("node %q escalates to unknown node %q", id, n.Loop.EscalateTo)
		}
	}
	if endCalls != 1 {
		return fmt.Errorf("graph must have exactly one end-call node, found %d", endCalls)
	}

	if unreachable := g.unreachableFrom(g.Start); len(unreachable) > 0 {
		return fmt.Errorf("nodes unreachable from start: %v", unreachable)
	}
	return nil
}

func (g *Graph) unreachableFrom(start string) []string {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		n := g.nodes[id]
		if n == nil {
			continue
		}
		next := make([]string, 0, len(n.Transitions)+2)
		for _, tr := range n.Transitions {
			next = append(next, tr.Target)
		}
		if n.Default != "" {
			next = append(next, n.Default)
		}
		if n.Loop != nil && n.Loop.EscalateTo != "" {
			next = append(next, n.Loop.EscalateTo)
		}
		for _, t := range next {
			if !seen[t] {
				seen[t] = true
				queue = append(queue, t)
			}
		}
	}
	var out []string
	for _, id := range g.order {
		if !seen[id] {
			out = append(out, id)
		}
	}
	return out
}
