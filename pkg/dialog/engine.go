package dialog

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/errorsx"
	"github.com/Radicalscale/virevo-sub005/pkg/graph"
	"github.com/Radicalscale/virevo-sub005/pkg/llm"
	"github.com/Radicalscale/virevo-sub005/pkg/logging"
	"github.com/Radicalscale/virevo-sub005/pkg/metrics"
	"github.com/Radicalscale/virevo-sub005/pkg/routing"
)

const (
	defaultGenerateTimeout = 5 * time.Second
	// Spoken when a generative node's model call fails and the node carries
	// no fallback text of its own.
	cannedRecovery = "Sorry, could you say that again?"
)

// Reply is what the engine wants spoken next, plus where the call now stands.
type Reply struct {
	Text    string
	NodeID  string
	EndCall bool
	Path    routing.Path
}

// Engine advances a session through the dialogue graph one user utterance at
// a time. It owns no audio; composed replies go back to the caller, who feeds
// them to synthesis.
type Engine struct {
	graph      *graph.Graph
	router     *routing.Evaluator
	adapter    llm.Adapter
	genTimeout time.Duration
	logger     *slog.Logger
	observer   metrics.Observer
}

func NewEngine(g *graph.Graph, router *routing.Evaluator, adapter llm.Adapter, observer metrics.Observer) *Engine {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	return &Engine{
		graph:      g,
		router:     router,
		adapter:    adapter,
		genTimeout: defaultGenerateTimeout,
		logger:     logging.NewComponentLogger(slog.Default(), "dialog"),
		observer:   observer,
	}
}

// Open composes the greeting for the start node without consuming a user
// utterance.
func (e *Engine) Open(ctx context.Context, sess *Session) (Reply, error) {
	node := e.graph.Node(sess.CurrentNode())
	if node == nil {
		return Reply{}, errorsx.Wrap(errUnknownNode(sess.CurrentNode()), errorsx.ReasonGraphInvalid)
	}
	return e.compose(ctx, sess, node)
}

// Advance records the utterance, extracts variables, routes to the next node
// and composes its reply. When the chosen target re-enters the current node
// past its loop bound, the loop's escalation target is taken instead.
func (e *Engine) Advance(ctx context.Context, sess *Session, utterance string) (Reply, error) {
	started := time.Now()
	node := e.graph.Node(sess.CurrentNode())
	if node == nil {
		return Reply{}, errorsx.Wrap(errUnknownNode(sess.CurrentNode()), errorsx.ReasonGraphInvalid)
	}

	sess.AppendTurn("user", utterance)
	sess.ResetCheckins()
	extractVariables(sess, node.Variables, utterance)

	if node.EndCall {
		sess.MarkEnded("graph_end")
		return Reply{NodeID: node.ID, EndCall: true}, nil
	}

	res := e.router.Evaluate(ctx, utterance, node, sess.History())
	target := res.Target
	if target == node.ID && node.Loop != nil {
		if n := sess.incrLoop(node.ID); n > node.Loop.MaxRepeats && node.Loop.EscalateTo != "" {
			e.logger.Info("loop bound reached",
				slog.String("call_id", sess.CallID()),
				slog.String("node", node.ID),
				slog.Int("repeats", n),
				slog.String("escalate_to", node.Loop.EscalateTo))
			target = node.Loop.EscalateTo
		}
	}

	next := e.graph.Node(target)
	if next == nil {
		return Reply{}, errorsx.Wrap(errUnknownNode(target), errorsx.ReasonGraphInvalid)
	}
	sess.setNode(next.ID)

	reply, err := e.compose(ctx, sess, next)
	if err != nil {
		return Reply{}, err
	}
	reply.Path = res.Path

	e.observer.RecordEvent(metrics.MetricsEvent{
		Name:  metrics.EventTurnLatency,
		Value: float64(time.Since(started).Milliseconds()),
		Tags:  map[string]string{"node": next.ID, "path": string(res.Path)},
	})
	return reply, nil
}

func (e *Engine) compose(ctx context.Context, sess *Session, node *graph.Node) (Reply, error) {
	var text string
	switch node.Kind {
	case graph.KindScript:
		text = renderTemplate(node.Text, sess.Vars())
	case graph.KindGenerative:
		text = e.generate(ctx, sess, node)
	}
	if text != "" {
		sess.AppendTurn("agent", text)
	}
	if node.EndCall {
		sess.MarkEnded("graph_end")
	}
	return Reply{Text: text, NodeID: node.ID, EndCall: node.EndCall}, nil
}

// generate asks the model for the node's reply. Failures degrade to the
// node's literal text, then to a canned recovery line; a generation problem
// must never strand the caller in silence.
func (e *Engine) generate(ctx context.Context, sess *Session, node *graph.Node) string {
	genCtx, cancel := context.WithTimeout(ctx, e.genTimeout)
	defer cancel()

	resp, err := e.adapter.Generate(genCtx, llm.GenerateRequest{
		Instruction: node.Instruction,
		History:     sess.History(),
		Variables:   sess.Vars(),
	})
	if err == nil && strings.TrimSpace(resp.Text) != "" {
		return strings.TrimSpace(resp.Text)
	}
	if err != nil {
		e.logger.Warn("generation failed",
			slog.String("call_id", sess.CallID()),
			slog.String("node", node.ID),
			slog.String("reason", string(errorsx.Reason(errorsx.Wrap(err, errorsx.ReasonLLMGenerate)))),
			slog.String("error", err.Error()))
	}
	if node.Text != "" {
		return renderTemplate(node.Text, sess.Vars())
	}
	return cannedRecovery
}

// renderTemplate substitutes {name} placeholders with captured variables.
// Unknown placeholders are left as-is so a missing capture is visible in
// transcripts rather than silently dropped.
func renderTemplate(text string, vars map[string]string) string {
	if !strings.Contains(text, "{") {
		return text
	}
	for k, v := range vars {
		text = strings.ReplaceAll(text, "{"+k+"}", v)
	}
	return text
}

type errUnknownNode string

func (e errUnknownNode) Error() string { return "unknown node " + string(e) }
