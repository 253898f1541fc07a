package routing

import (
	"context"
	"log/slog"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/errorsx"
	"github.com/Radicalscale/virevo-sub005/pkg/graph"
	"github.com/Radicalscale/virevo-sub005/pkg/llm"
	"github.com/Radicalscale/virevo-sub005/pkg/logging"
	"github.com/Radicalscale/virevo-sub005/pkg/metrics"
)

// Path records which mechanism picked the transition, for logs and metrics.
type Path string

const (
	PathSingle   Path = "single"
	PathFast     Path = "fast"
	PathSlow     Path = "slow"
	PathFallback Path = "fallback"
)

type Result struct {
	Target string
	Path   Path
}

const defaultSlowPathTimeout = 1500 * time.Millisecond

// Evaluator picks the next node for an utterance. Pattern matching answers
// first when the utterance and exactly one condition share a clear stance;
// otherwise the model chooses under a hard deadline. Routing never blocks a
// live call: on any model failure the node's default transition wins, and
// with no default the first listed transition does.
type Evaluator struct {
	adapter  llm.Adapter
	timeout  time.Duration
	logger   *slog.Logger
	observer metrics.Observer
}

func NewEvaluator(adapter llm.Adapter, timeout time.Duration, observer metrics.Observer) *Evaluator {
	if timeout <= 0 || timeout > defaultSlowPathTimeout {
		timeout = defaultSlowPathTimeout
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Evaluator{
		adapter:  adapter,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(slog.Default(), "routing"),
		observer: observer,
	}
}

func (e *Evaluator) Evaluate(ctx context.Context, utterance string, node *graph.Node, history []llm.Turn) Result {
	if len(node.Transitions) == 0 {
		return Result{Target: node.Default, Path: PathSingle}
	}
	if len(node.Transitions) == 1 {
		return Result{Target: node.Transitions[0].Target, Path: PathSingle}
	}

	if target, ok := e.fastPath(utterance, node); ok {
		e.observer.RecordEvent(metrics.MetricsEvent{
			Name: metrics.EventRouteFastPath,
			Tags: map[string]string{"node": node.ID},
		})
		e.logger.Debug("fast path transition",
			slog.String("node", node.ID),
			slog.String("target", target))
		return Result{Target: target, Path: PathFast}
	}

	target, err := e.slowPath(ctx, utterance, node, history)
	if err == nil {
		e.observer.RecordEvent(metrics.MetricsEvent{
			Name: metrics.EventRouteSlowPath,
			Tags: map[string]string{"node": node.ID},
		})
		return Result{Target: target, Path: PathSlow}
	}

	fallback := node.Default
	if fallback == "" {
		fallback = node.Transitions[0].Target
	}
	e.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventRouteFallback,
		Tags: map[string]string{"node": node.ID},
	})
	e.logger.Warn("transition fallback",
		slog.String("node", node.ID),
		slog.String("target", fallback),
		slog.String("reason", string(errorsx.Reason(err))),
		slog.String("error", err.Error()))
	return Result{Target: fallback, Path: PathFallback}
}

// fastPath fires only when the utterance stance is clear and exactly one
// condition shares it. Two conditions with the same stance are ambiguous and
// go to the model.
func (e *Evaluator) fastPath(utterance string, node *graph.Node) (string, bool) {
	stance := classifyUtterance(utterance)
	if stance == PolarityUnknown {
		return "", false
	}
	match := ""
	for _, tr := range node.Transitions {
		if classifyCondition(tr.When) != stance {
			continue
		}
		if match != "" {
			return "", false
		}
		match = tr.Target
	}
	return match, match != ""
}

func (e *Evaluator) slowPath(ctx context.Context, utterance string, node *graph.Node, history []llm.Turn) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	options := make([]llm.Option, len(node.Transitions))
	for i, tr := range node.Transitions {
		options[i] = llm.Option{Index: i, Condition: tr.When}
	}
	idx, err := e.adapter.Choose(ctx, llm.ChooseRequest{
		Utterance: utterance,
		History:   history,
		Options:   options,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", errorsx.Wrap(err, errorsx.ReasonLLMTimeout)
		}
		return "", errorsx.Wrap(err, errorsx.ReasonLLMChoose)
	}
	if idx < 0 || idx >= len(node.Transitions) {
		return "", errorsx.Wrap(errOutOfRange(idx), errorsx.ReasonLLMChoose)
	}
	return node.Transitions[idx].Target, nil
}

type errOutOfRange int

func (e errOutOfRange) Error() string { return "choice index out of range" }
