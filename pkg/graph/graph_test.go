package graph

import (
	"strings"
	"testing"
)

func validNodes() []Node {
	return []Node{
		{ID: "greet", Kind: KindScript, Text: "Hi, this is Ava calling.", Transitions: []Transition{{When: "always", Target: "qualify"}}},
		{
			ID: "qualify", Kind: KindScript, Text: "Do you have a minute to talk?",
			Transitions: []Transition{
				{When: "yes", Target: "pitch"},
				{When: "no", Target: "goodbye"},
			},
			Default: "goodbye",
		},
		{ID: "pitch", Kind: KindGenerative, Instruction: "Pitch the offer briefly and ask for interest.", Transitions: []Transition{{When: "always", Target: "goodbye"}}},
		{ID: "goodbye", Kind: KindScript, Text: "Thanks for your time. Goodbye.", EndCall: true},
	}
}

func TestValidGraph(t *testing.T) {
	g := New("greet", validNodes())
	if err := g.Validate(); err != nil {
		t.Fatalf("expected valid graph: %v", err)
	}
	if g.Node("pitch") == nil {
		t.Fatal("lookup by id failed")
	}
}

func TestUnreachableNodeRejected(t *testing.T) {
	nodes := append(validNodes(), Node{ID: "orphan", Kind: KindScript, Text: "never", Transitions: []Transition{{When: "always", Target: "goodbye"}}})
	g := New("greet", nodes)
	err := g.Validate()
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}

func TestExactlyOneEndCallNode(t *testing.T) {
	nodes := validNodes()
	nodes[2].EndCall = true
	g := New("greet", nodes)
	err := g.Validate()
	if err == nil || !strings.Contains(err.Error(), "end-call") {
		t.Fatalf("expected end-call count error, got %v", err)
	}
}

func TestMultiTransitionNeedsDefault(t *testing.T) {
	nodes := validNodes()
	nodes[1].Default = ""
	g := New("greet", nodes)
	err := g.Validate()
	if err == nil || !strings.Contains(err.Error(), "no default") {
		t.Fatalf("expected missing default error, got %v", err)
	}
}

func TestUnknownTransitionTarget(t *testing.T) {
	nodes := validNodes()
	nodes[0].Transitions[0].Target = "nowhere"
	g := New("greet", nodes)
	if err := g.Validate(); err == nil {
		t.Fatal("expected unknown target error")
	}
}

func TestMissingStart(t *testing.T) {
	g := New("absent", validNodes())
	if err := g.Validate(); err == nil {
		t.Fatal("expected missing start error")
	}
}

func TestCyclesAreAllowed(t *testing.T) {
	nodes := []Node{
		{ID: "ask", Kind: KindGenerative, Instruction: "Ask for the account number.",
			Transitions: []Transition{
				{When: "provided", Target: "done"},
				{When: "unclear", Target: "ask"},
			},
			Default: "ask",
			Loop:    &Loop{MaxRepeats: 3, EscalateTo: "done"},
		},
		{ID: "done", Kind: KindScript, Text: "Got it, thank you.", EndCall: true},
	}
	g := New("ask", nodes)
	if err := g.Validate(); err != nil {
		t.Fatalf("cyclic graph must validate: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	doc := `
start: greet
nodes:
  - id: greet
    kind: script
    text: "Hello there."
    transitions:
      - when: always
        target: bye
  - id: bye
    kind: script
    text: "Goodbye."
    end_call: true
`
	g, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if g.Start != "greet" || g.Len() != 2 {
		t.Fatalf("unexpected graph shape: start=%q len=%d", g.Start, g.Len())
	}
}

func TestLoadInvalidGraphRejected(t *testing.T) {
	doc := `
start: greet
nodes:
  - id: greet
    kind: script
    text: "Hello."
`
	if _, err := Load([]byte(doc)); err == nil {
		t.Fatal("dead-end-only graph must be rejected at load")
	}
}
