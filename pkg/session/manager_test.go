package session

import (
	"errors"
	"testing"

	"github.com/Radicalscale/virevo-sub005/pkg/graph"
)

func validGraph() *graph.Graph {
	return graph.New("greet", []graph.Node{
		{
			ID:          "greet",
			Kind:        graph.KindScript,
			Text:        "Hello.",
			Transitions: []graph.Transition{{When: "anything", Target: "bye"}},
		},
		{ID: "bye", Kind: graph.KindScript, Text: "Bye.", EndCall: true},
	})
}

func TestCreateLookupDestroy(t *testing.T) {
	m := NewManager()
	sess, err := m.Create("CA1", validGraph())
	if err != nil {
		t.Fatal(err)
	}
	if sess.CurrentNode() != "greet" {
		t.Fatalf("start node = %s", sess.CurrentNode())
	}
	if !m.Has("CA1") || m.Has("CA2") {
		t.Fatal("locality check wrong")
	}
	if got, ok := m.Lookup("CA1"); !ok || got != sess {
		t.Fatal("lookup mismatch")
	}
	if err := m.Destroy("CA1"); err != nil {
		t.Fatal(err)
	}
	if m.Active() != 0 {
		t.Fatalf("active = %d", m.Active())
	}
	if err := m.Destroy("CA1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestCreateRejectsInvalidGraph(t *testing.T) {
	m := NewManager()
	bad := graph.New("missing", []graph.Node{
		{ID: "orphan", Kind: graph.KindScript, Text: "hi", EndCall: true},
	})
	if _, err := m.Create("CA1", bad); err == nil {
		t.Fatal("expected validation error")
	}
	if m.Active() != 0 {
		t.Fatal("failed create must not register a session")
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	m := NewManager()
	if _, err := m.Create("CA1", validGraph()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Create("CA1", validGraph()); !errors.Is(err, ErrExists) {
		t.Fatalf("err = %v", err)
	}
}
