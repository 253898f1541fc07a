// Package engine wires transport, recognition, dialogue and synthesis into
// per-call pipelines. One Engine serves one worker process; calls it does not
// hold locally are reached through the coordinator's shared-store flags.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Radicalscale/virevo-sub005/pkg/adapters/stt"
	"github.com/Radicalscale/virevo-sub005/pkg/adapters/tts"
	"github.com/Radicalscale/virevo-sub005/pkg/coordinator"
	"github.com/Radicalscale/virevo-sub005/pkg/deadair"
	"github.com/Radicalscale/virevo-sub005/pkg/dialog"
	"github.com/Radicalscale/virevo-sub005/pkg/frames"
	"github.com/Radicalscale/virevo-sub005/pkg/graph"
	"github.com/Radicalscale/virevo-sub005/pkg/llm"
	"github.com/Radicalscale/virevo-sub005/pkg/logging"
	"github.com/Radicalscale/virevo-sub005/pkg/metrics"
	"github.com/Radicalscale/virevo-sub005/pkg/redact"
	"github.com/Radicalscale/virevo-sub005/pkg/routing"
	"github.com/Radicalscale/virevo-sub005/pkg/session"
	"github.com/Radicalscale/virevo-sub005/pkg/speech"
	"github.com/Radicalscale/virevo-sub005/pkg/store"
	"github.com/Radicalscale/virevo-sub005/pkg/transports"
	"github.com/Radicalscale/virevo-sub005/pkg/turn"
)

const (
	telephonySampleRate = 8000
	callMetaTTL         = time.Hour
)

// callRuntime bundles everything one live call owns: its recognition and
// synthesis streams, the dialogue session, the dead-air monitor, and the
// goroutines moving frames between them.
type callRuntime struct {
	callID   string
	streamID string
	traceID  string

	sess    *dialog.Session
	rec     stt.StreamingSTT
	speech  *speech.Session
	monitor *deadair.Monitor
	gate    *turn.Controller
	fsm     *turn.FSM

	cancel context.CancelFunc
	group  *errgroup.Group

	closeOnce sync.Once
}

// Engine is the per-worker call orchestrator. It dispatches transport frames
// to call runtimes, reacts to coordinator flags for calls it holds, and owns
// the shared model adapter and routing evaluator all calls go through.
type Engine struct {
	cfg      Config
	graph    *graph.Graph
	registry *Registry

	manager   *session.Manager
	st        store.Client
	coord     *coordinator.Coordinator
	transport transports.Transport
	adapter   llm.Adapter
	dlg       *dialog.Engine

	observer metrics.Observer
	logger   *slog.Logger

	mu      sync.Mutex
	calls   map[string]*callRuntime
	streams map[string]string
}

func New(cfg Config, g *graph.Graph, reg *Registry, st store.Client, observer metrics.Observer) (*Engine, error) {
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	redact.SetEnabled(cfg.LogRedactPII)
	transport, err := reg.BuildTransport(cfg.Transport.Provider, cfg.Transport.Settings)
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}
	adapter, err := reg.BuildLLM(cfg.Vendors.LLM.Provider, cfg.Vendors.LLM.Settings)
	if err != nil {
		return nil, fmt.Errorf("build llm adapter: %w", err)
	}
	if ba, ok := adapter.(*llm.BreakerAdapter); ok {
		ba.SetObserver(observer)
	}

	evaluator := routing.NewEvaluator(adapter,
		time.Duration(cfg.Routing.SlowPathTimeoutMS)*time.Millisecond, observer)

	e := &Engine{
		cfg:       cfg,
		graph:     g,
		registry:  reg,
		manager:   session.NewManager(),
		st:        st,
		transport: transport,
		adapter:   adapter,
		dlg:       dialog.NewEngine(g, evaluator, adapter, observer),
		observer:  observer,
		logger:    logging.NewComponentLogger(slog.Default(), "engine"),
		calls:     make(map[string]*callRuntime),
		streams:   make(map[string]string),
	}
	e.coord = coordinator.New(st, e.manager.Has)
	e.coord.Handle(coordinator.FlagAudioDone, e.onAudioDone)
	e.coord.Handle(coordinator.FlagHangup, e.onRemoteHangup)
	e.coord.Handle(coordinator.FlagInterrupt, e.onRemoteInterrupt)
	return e, nil
}

// Transport exposes the underlying transport for outbound dialing and
// readiness reporting.
func (e *Engine) Transport() transports.Transport { return e.transport }

// Coordinator exposes the flag coordinator, mainly so outer surfaces can
// publish signals for calls other workers hold.
func (e *Engine) Coordinator() *coordinator.Coordinator { return e.coord }

// Active returns the number of calls this worker currently holds.
func (e *Engine) Active() int { return e.manager.Active() }

// DialOutbound places a call through the transport when it supports dialing.
func (e *Engine) DialOutbound(ctx context.Context, to, from, webhookURL string, opts transports.DialOptions) (string, error) {
	if d, ok := e.transport.(transports.OutboundDialerWithOptions); ok {
		return d.DialWithOptions(ctx, to, from, webhookURL, opts)
	}
	if d, ok := e.transport.(transports.OutboundDialer); ok {
		return d.Dial(ctx, to, from, webhookURL)
	}
	return "", fmt.Errorf("transport %s cannot place outbound calls", e.transport.Name())
}

// Run starts the transport and dispatches its frames until the context is
// cancelled or the transport closes its receive channel.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer func() { _ = e.transport.Stop() }()

	e.logger.Info("engine running",
		slog.String("transport", e.transport.Name()),
		slog.String("environment", e.cfg.Environment))
	if rr, ok := e.transport.(transports.ReadyReporter); ok {
		e.logger.Info("transport ready", slog.Any("fields", rr.ReadyFields()))
	}

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case f, ok := <-e.transport.Recv():
			if !ok {
				e.shutdown()
				return nil
			}
			e.dispatch(ctx, f)
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, f frames.Frame) {
	switch f.Kind() {
	case frames.KindSystem:
		sf, ok := f.(frames.SystemFrame)
		if !ok {
			return
		}
		switch sf.Name() {
		case "call_start":
			e.handleCallStart(ctx, sf)
		case "call_end":
			e.handleCallEnd(ctx, sf)
		}
	case frames.KindAudio:
		af, ok := f.(frames.AudioFrame)
		if !ok {
			return
		}
		rt := e.runtimeByStream(af.Meta()[frames.MetaStreamID])
		if rt == nil {
			return
		}
		if err := rt.rec.SendAudio(af); err != nil {
			e.logger.Warn("recognition send failed",
				slog.String("call_id", rt.callID),
				slog.String("error", err.Error()))
		}
	case frames.KindControl:
		cf, ok := f.(frames.ControlFrame)
		if !ok {
			return
		}
		e.handleControl(ctx, cf)
	}
}

func (e *Engine) handleControl(ctx context.Context, cf frames.ControlFrame) {
	meta := cf.Meta()
	callID := meta[frames.MetaCallID]
	if callID == "" {
		if rt := e.runtimeByStream(meta[frames.MetaStreamID]); rt != nil {
			callID = rt.callID
		}
	}
	if callID == "" {
		return
	}
	switch cf.Code() {
	case frames.ControlAudioDone:
		if err := e.coord.Publish(ctx, callID, coordinator.FlagAudioDone); err != nil {
			e.logger.Warn("audio done publish failed",
				slog.String("call_id", callID),
				slog.String("error", err.Error()))
		}
	case frames.ControlDTMF:
		digit := meta[frames.MetaDTMFDigit]
		e.logger.Info("dtmf received",
			slog.String("call_id", callID),
			slog.String("digit", digit))
		if err := e.st.SetCallMeta(ctx, callID, "dtmf_last", digit, callMetaTTL); err != nil {
			e.logger.Warn("dtmf store failed",
				slog.String("call_id", callID),
				slog.String("error", err.Error()))
		}
		if rt := e.runtime(callID); rt != nil {
			// A key press is caller activity even without speech.
			rt.sess.TouchSilence()
		}
	case frames.ControlHangup:
		if rt := e.runtime(callID); rt != nil {
			rt.sess.MarkEnded(meta[frames.MetaReason])
			e.teardown(rt, meta[frames.MetaReason])
		}
	}
}

func (e *Engine) handleCallStart(ctx context.Context, sf frames.SystemFrame) {
	meta := sf.Meta()
	callID := meta[frames.MetaCallID]
	streamID := meta[frames.MetaStreamID]
	traceID := meta[frames.MetaTraceID]
	if callID == "" || streamID == "" {
		e.logger.Warn("call start missing identifiers", slog.Any("meta", meta))
		return
	}
	log := e.logger.With(
		slog.String("call_id", callID),
		slog.String("stream_id", streamID),
		slog.String("trace_id", traceID))

	sess, err := e.manager.Create(callID, e.graph)
	if err != nil {
		log.Error("rejecting call", slog.String("error", err.Error()))
		e.sendHangup(streamID, callID, "setup_failed")
		return
	}

	rec, err := e.registry.BuildSTT(e.cfg.Vendors.STT.Provider, e.cfg.Vendors.STT.Settings, stt.Config{
		StreamID:   streamID,
		CallID:     callID,
		TraceID:    traceID,
		SampleRate: telephonySampleRate,
		Language:   "en-US",
	})
	if err != nil {
		log.Error("recognition build failed", slog.String("error", err.Error()))
		e.abortCall(sess, streamID, callID)
		return
	}
	synth, err := e.registry.BuildTTS(e.cfg.Vendors.TTS.Provider, e.cfg.Vendors.TTS.Settings, tts.Config{
		StreamID:   streamID,
		CallID:     callID,
		SampleRate: telephonySampleRate,
		Channels:   1,
	})
	if err != nil {
		log.Error("synthesis build failed", slog.String("error", err.Error()))
		e.abortCall(sess, streamID, callID)
		return
	}

	callCtx, cancel := context.WithCancel(ctx)
	spk := speech.NewSession(speech.Config{
		StreamID:        streamID,
		CallID:          callID,
		FallbackCeiling: e.cfg.Speech.FallbackCeilingBytes,
		FallbackTimeout: time.Duration(e.cfg.Speech.FallbackTimeoutMS) * time.Millisecond,
	}, synth, e.observer)
	fsm := turn.NewFSM()
	spk.OnSpeakingChange(func(speaking bool) {
		sess.SetAgentSpeaking(speaking)
		if speaking {
			fsm.Set(turn.PhaseAgentSpeaking)
		} else if !sess.UserSpeaking() {
			fsm.Set(turn.PhaseIdle)
		}
	})

	rt := &callRuntime{
		callID:   callID,
		streamID: streamID,
		traceID:  traceID,
		sess:     sess,
		rec:      rec,
		speech:   spk,
		gate:     turn.NewController(),
		fsm:      fsm,
		cancel:   cancel,
	}
	rt.monitor = deadair.NewMonitor(deadair.Config{
		PollInterval:      time.Duration(e.cfg.DeadAir.PollIntervalMS) * time.Millisecond,
		SilenceThreshold:  time.Duration(e.cfg.DeadAir.SilenceThresholdMS) * time.Millisecond,
		ExtendedThreshold: time.Duration(e.cfg.DeadAir.ExtendedThresholdMS) * time.Millisecond,
		MaxCheckins:       e.cfg.DeadAir.MaxCheckins,
		CheckinPhrases:    e.cfg.DeadAir.CheckinPhrases,
	}, sess, e.coord,
		func(ctx context.Context, text string) error {
			return rt.speech.Say(ctx, text)
		},
		func(ctx context.Context, reason string) {
			e.hangupCall(rt, reason)
		},
		e.observer)

	if err := rec.Start(callCtx); err != nil {
		log.Error("recognition start failed", slog.String("error", err.Error()))
		cancel()
		e.abortCall(sess, streamID, callID)
		return
	}
	if err := spk.Start(callCtx); err != nil {
		log.Error("synthesis start failed", slog.String("error", err.Error()))
		_ = rec.Close()
		cancel()
		e.abortCall(sess, streamID, callID)
		return
	}

	e.mu.Lock()
	e.calls[callID] = rt
	e.streams[streamID] = callID
	e.mu.Unlock()

	if from := meta[frames.MetaFromNumber]; from != "" {
		if err := e.st.SetCallMeta(ctx, callID, "from_number", from, callMetaTTL); err != nil {
			log.Warn("call meta store failed", slog.String("error", err.Error()))
		}
	}

	group, gctx := errgroup.WithContext(callCtx)
	rt.group = group
	group.Go(func() error { return e.transcriptLoop(gctx, rt) })
	group.Go(func() error { return e.playbackLoop(gctx, rt) })
	group.Go(func() error { rt.monitor.Run(gctx); return nil })
	go func() {
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("call pipeline exited", slog.String("error", err.Error()))
		}
	}()

	log.Info("call started", slog.Int("active", e.manager.Active()))

	// Greet without waiting for the caller to speak first.
	go func() {
		reply, err := e.dlg.Open(callCtx, sess)
		if err != nil {
			log.Error("greeting failed", slog.String("error", err.Error()))
			e.hangupCall(rt, "setup_failed")
			return
		}
		e.speakReply(callCtx, rt, reply)
	}()
}

func (e *Engine) handleCallEnd(ctx context.Context, sf frames.SystemFrame) {
	meta := sf.Meta()
	callID := meta[frames.MetaCallID]
	if callID == "" {
		return
	}
	reason := meta[frames.MetaEndReason]
	if reason == "" {
		reason = "completed"
	}
	rt := e.runtime(callID)
	if rt == nil {
		// Status callbacks land on whichever worker the balancer picks; park
		// the hangup for the owner's next poll.
		if err := e.coord.Publish(ctx, callID, coordinator.FlagHangup); err != nil {
			e.logger.Warn("remote hangup publish failed",
				slog.String("call_id", callID),
				slog.String("error", err.Error()))
		}
		return
	}
	rt.sess.MarkEnded(reason)
	e.teardown(rt, reason)
}

// transcriptLoop drains recognition output: voice-activity controls adjust
// the turn state, transcripts go through the barge-in gate.
func (e *Engine) transcriptLoop(ctx context.Context, rt *callRuntime) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-rt.rec.Results():
			if !ok {
				return nil
			}
			switch f.Kind() {
			case frames.KindControl:
				cf, ok := f.(frames.ControlFrame)
				if !ok {
					continue
				}
				switch cf.Code() {
				case frames.ControlStartInterruption:
					rt.sess.SetUserSpeaking(true)
					rt.fsm.Set(turn.PhaseUserSpeaking)
				case frames.ControlFlush:
					rt.sess.SetUserSpeaking(false)
				}
			case frames.KindText:
				tf, ok := f.(frames.TextFrame)
				if !ok {
					continue
				}
				e.handleTranscript(ctx, rt, tf)
			}
		}
	}
}

func (e *Engine) handleTranscript(ctx context.Context, rt *callRuntime, tf frames.TextFrame) {
	text := strings.TrimSpace(tf.Text())
	if text == "" {
		return
	}
	isFinal := tf.Meta()[frames.MetaIsFinal] == "true"
	switch rt.gate.Assess(text, isFinal, rt.sess.AgentSpeaking()) {
	case turn.Ignore:
	case turn.Interrupt:
		rt.speech.Interrupt()
		rt.sess.SetUserSpeaking(true)
		rt.fsm.Set(turn.PhaseUserSpeaking)
		// The endpoint result for this utterance follows; with the agent now
		// silent it passes the gate as a normal turn. A final that itself
		// triggered the interruption is the whole utterance already.
		if isFinal {
			e.deliver(ctx, rt, text)
		}
	case turn.Deliver:
		e.deliver(ctx, rt, text)
	}
}

func (e *Engine) deliver(ctx context.Context, rt *callRuntime, text string) {
	rt.sess.SetUserSpeaking(false)
	rt.fsm.Set(turn.PhaseIdle)
	rt.monitor.NoteUtterance(text)
	e.logger.Debug("turn delivered",
		slog.String("call_id", rt.callID),
		slog.String("utterance", redact.Text(text)))

	reply, err := e.dlg.Advance(ctx, rt.sess, text)
	if err != nil {
		e.logger.Error("dialogue advance failed",
			slog.String("call_id", rt.callID),
			slog.String("error", err.Error()))
		return
	}
	e.speakReply(ctx, rt, reply)
}

// speakReply streams the reply sentence by sentence and then ends the reply,
// which flushes the vendor's text buffer and puts the playback-done marker
// behind the audio. The first fragment opens a new reply; a barge-in
// mid-stream drops the rest. A terminal reply leaves the hangup to the
// playback-done signal so the goodbye is heard in full.
func (e *Engine) speakReply(ctx context.Context, rt *callRuntime, reply dialog.Reply) {
	segs := splitSegments(reply.Text)
	if len(segs) == 0 {
		if reply.EndCall {
			// Nothing to play, nothing to wait for.
			e.hangupCall(rt, "graph_end")
		}
		return
	}
	for i, seg := range segs {
		err := rt.speech.StreamSegment(ctx, seg, i == 0)
		if errors.Is(err, speech.ErrInterrupted) {
			return
		}
		if err != nil {
			e.logger.Warn("segment synthesis failed",
				slog.String("call_id", rt.callID),
				slog.String("node", reply.NodeID),
				slog.String("error", err.Error()))
			break
		}
	}
	if err := rt.speech.EndReply(ctx); err != nil && !errors.Is(err, speech.ErrInterrupted) {
		e.logger.Warn("reply flush failed",
			slog.String("call_id", rt.callID),
			slog.String("node", reply.NodeID),
			slog.String("error", err.Error()))
	}
}

// playbackLoop forwards the synthesis queue to the transport in order:
// audio, then flush controls on interruption, then the playback-done marker
// trailing the last audio of a reply.
func (e *Engine) playbackLoop(ctx context.Context, rt *callRuntime) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-rt.speech.Output():
			if !ok {
				return nil
			}
			if err := e.transport.Send(f); err != nil {
				e.logger.Warn("transport send failed",
					slog.String("call_id", rt.callID),
					slog.String("error", err.Error()))
			}
		}
	}
}

// onAudioDone fires when the transport confirms queued audio actually played.
// It advances the shared playback-progress counter; once no further audio is
// queued the agent is genuinely silent, and a call past its terminal node can
// hang up without clipping the goodbye.
func (e *Engine) onAudioDone(ctx context.Context, callID string) {
	rt := e.runtime(callID)
	if rt == nil {
		return
	}
	if _, err := e.st.IncrProgress(ctx, callID, callMetaTTL); err != nil {
		e.logger.Warn("progress counter failed",
			slog.String("call_id", callID),
			slog.String("error", err.Error()))
	}
	if len(rt.speech.Output()) > 0 {
		return
	}
	rt.speech.Complete()
	if ended, reason := rt.sess.Ended(); ended {
		e.hangupCall(rt, reason)
	}
}

func (e *Engine) onRemoteHangup(_ context.Context, callID string) {
	rt := e.runtime(callID)
	if rt == nil {
		return
	}
	rt.sess.MarkEnded("remote_hangup")
	e.teardown(rt, "remote_hangup")
}

func (e *Engine) onRemoteInterrupt(_ context.Context, callID string) {
	if rt := e.runtime(callID); rt != nil {
		rt.speech.Interrupt()
	}
}

// hangupCall ends the call from our side and tears the runtime down. The
// transport acknowledges with its own call-end event, which finds no runtime
// and is ignored.
func (e *Engine) hangupCall(rt *callRuntime, reason string) {
	rt.sess.MarkEnded(reason)
	e.sendHangup(rt.streamID, rt.callID, reason)
	e.teardown(rt, reason)
}

func (e *Engine) sendHangup(streamID, callID, reason string) {
	meta := map[string]string{
		frames.MetaCallID: callID,
		frames.MetaReason: reason,
	}
	f := frames.NewControlFrame(streamID, time.Now().UnixNano(), frames.ControlHangup, meta)
	if err := e.transport.Send(f); err != nil {
		e.logger.Warn("hangup send failed",
			slog.String("call_id", callID),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) abortCall(sess *dialog.Session, streamID, callID string) {
	sess.MarkEnded("setup_failed")
	_ = e.manager.Destroy(callID)
	e.sendHangup(streamID, callID, "setup_failed")
}

func (e *Engine) teardown(rt *callRuntime, reason string) {
	rt.closeOnce.Do(func() {
		rt.cancel()
		if err := rt.rec.Close(); err != nil {
			e.logger.Debug("recognition close",
				slog.String("call_id", rt.callID),
				slog.String("error", err.Error()))
		}
		if err := rt.speech.Close(); err != nil {
			e.logger.Debug("synthesis close",
				slog.String("call_id", rt.callID),
				slog.String("error", err.Error()))
		}
		_ = e.manager.Destroy(rt.callID)
		e.mu.Lock()
		delete(e.calls, rt.callID)
		delete(e.streams, rt.streamID)
		e.mu.Unlock()
		e.logger.Info("call torn down",
			slog.String("call_id", rt.callID),
			slog.String("reason", reason),
			slog.Int("active", e.manager.Active()))
	})
}

func (e *Engine) shutdown() {
	e.mu.Lock()
	list := make([]*callRuntime, 0, len(e.calls))
	for _, rt := range e.calls {
		list = append(list, rt)
	}
	e.mu.Unlock()
	for _, rt := range list {
		rt.sess.MarkEnded("shutdown")
		e.teardown(rt, "shutdown")
	}
}

func (e *Engine) runtime(callID string) *callRuntime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[callID]
}

func (e *Engine) runtimeByStream(streamID string) *callRuntime {
	if streamID == "" {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[e.streams[streamID]]
}
