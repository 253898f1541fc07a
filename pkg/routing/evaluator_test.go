package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/graph"
	"github.com/Radicalscale/virevo-sub005/pkg/metrics"
	"github.com/Radicalscale/virevo-sub005/pkg/providers/mock"
)

func qualifyNode() *graph.Node {
	return &graph.Node{
		ID:   "qualify",
		Kind: graph.KindScript,
		Text: "Am I speaking with the homeowner?",
		Transitions: []graph.Transition{
			{When: "caller confirms they are the homeowner", Target: "pitch"},
			{When: "caller says no or wrong number", Target: "goodbye"},
		},
		Default: "clarify",
	}
}

func TestFastPathAffirmative(t *testing.T) {
	adapter := mock.NewLLM()
	obs := metrics.NewMemoryObserver()
	ev := NewEvaluator(adapter, 0, obs)

	res := ev.Evaluate(context.Background(), "yeah, this is John", qualifyNode(), nil)
	if res.Path != PathFast {
		t.Fatalf("path = %s, want fast", res.Path)
	}
	if res.Target != "pitch" {
		t.Fatalf("target = %s, want pitch", res.Target)
	}
	if adapter.ChooseCalls() != 0 {
		t.Fatalf("model consulted %d times on fast path", adapter.ChooseCalls())
	}
	if obs.CountByName(metrics.EventRouteFastPath) != 1 {
		t.Fatal("fast path event not recorded")
	}
}

func TestFastPathNegative(t *testing.T) {
	ev := NewEvaluator(mock.NewLLM(), 0, nil)
	res := ev.Evaluate(context.Background(), "no, you've got the wrong guy", qualifyNode(), nil)
	if res.Path != PathFast || res.Target != "goodbye" {
		t.Fatalf("got %+v, want fast/goodbye", res)
	}
}

func TestAmbiguousUtteranceGoesToModel(t *testing.T) {
	adapter := mock.NewLLM()
	adapter.ChooseIndex = 1
	ev := NewEvaluator(adapter, 0, nil)

	res := ev.Evaluate(context.Background(), "well, my wife handles that stuff", qualifyNode(), nil)
	if res.Path != PathSlow {
		t.Fatalf("path = %s, want slow", res.Path)
	}
	if res.Target != "goodbye" {
		t.Fatalf("target = %s, want goodbye", res.Target)
	}
	if adapter.ChooseCalls() != 1 {
		t.Fatalf("choose calls = %d, want 1", adapter.ChooseCalls())
	}
}

func TestSingleTransitionSkipsEvaluation(t *testing.T) {
	adapter := mock.NewLLM()
	ev := NewEvaluator(adapter, 0, nil)
	node := &graph.Node{
		ID:          "greet",
		Kind:        graph.KindScript,
		Text:        "Hi there.",
		Transitions: []graph.Transition{{When: "anything", Target: "qualify"}},
	}
	res := ev.Evaluate(context.Background(), "whatever they said", node, nil)
	if res.Path != PathSingle || res.Target != "qualify" {
		t.Fatalf("got %+v, want single/qualify", res)
	}
	if adapter.ChooseCalls() != 0 {
		t.Fatal("single transition must not consult the model")
	}
}

func TestModelTimeoutFallsBackToDefault(t *testing.T) {
	adapter := mock.NewLLM()
	adapter.Delay = mock.Block()
	obs := metrics.NewMemoryObserver()
	ev := NewEvaluator(adapter, 20*time.Millisecond, obs)

	start := time.Now()
	res := ev.Evaluate(context.Background(), "hmm let me think", qualifyNode(), nil)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("evaluation blocked for %v", elapsed)
	}
	if res.Path != PathFallback {
		t.Fatalf("path = %s, want fallback", res.Path)
	}
	if res.Target != "clarify" {
		t.Fatalf("target = %s, want default clarify", res.Target)
	}
	if obs.CountByName(metrics.EventRouteFallback) != 1 {
		t.Fatal("fallback event not recorded")
	}
}

func TestModelErrorFallsBackToFirstTransitionWithoutDefault(t *testing.T) {
	adapter := mock.NewLLM()
	adapter.ChooseErr = errors.New("boom")
	ev := NewEvaluator(adapter, 0, nil)

	node := qualifyNode()
	node.Default = ""
	res := ev.Evaluate(context.Background(), "hmm", node, nil)
	if res.Path != PathFallback || res.Target != "pitch" {
		t.Fatalf("got %+v, want fallback/pitch", res)
	}
}

func TestOutOfRangeChoiceFallsBack(t *testing.T) {
	adapter := mock.NewLLM()
	adapter.ChooseIndex = 7
	ev := NewEvaluator(adapter, 0, nil)

	res := ev.Evaluate(context.Background(), "hmm", qualifyNode(), nil)
	if res.Path != PathFallback || res.Target != "clarify" {
		t.Fatalf("got %+v, want fallback/clarify", res)
	}
}

func TestClassifyUtterance(t *testing.T) {
	cases := []struct {
		in   string
		want Polarity
	}{
		{"Yeah, this is John", PolarityAffirmative},
		{"yes", PolarityAffirmative},
		{"Speaking.", PolarityAffirmative},
		{"Nope, wrong number", PolarityNegative},
		{"not interested, thanks", PolarityNegative},
		{"I don't know, maybe yes", PolarityUnknown},
		{"my wife handles that", PolarityUnknown},
		{"", PolarityUnknown},
		{"yesterday was fine", PolarityUnknown},
	}
	for _, tc := range cases {
		if got := classifyUtterance(tc.in); got != tc.want {
			t.Errorf("classifyUtterance(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestClassifyCondition(t *testing.T) {
	cases := []struct {
		in   string
		want Polarity
	}{
		{"caller confirms they are the homeowner", PolarityAffirmative},
		{"caller says no or wrong number", PolarityNegative},
		{"caller says yes or no", PolarityUnknown},
		{"caller asks about pricing", PolarityUnknown},
	}
	for _, tc := range cases {
		if got := classifyCondition(tc.in); got != tc.want {
			t.Errorf("classifyCondition(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
