package speech

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/adapters/tts"
	"github.com/Radicalscale/virevo-sub005/pkg/errorsx"
	"github.com/Radicalscale/virevo-sub005/pkg/frames"
	"github.com/Radicalscale/virevo-sub005/pkg/logging"
	"github.com/Radicalscale/virevo-sub005/pkg/metrics"
)

type State int32

const (
	StateIdle State = iota
	StateSpeaking
	StateInterrupted
)

func (s State) String() string {
	switch s {
	case StateSpeaking:
		return "speaking"
	case StateInterrupted:
		return "interrupted"
	default:
		return "idle"
	}
}

// ErrInterrupted is returned for segments dropped because the caller barged
// in mid-reply.
var ErrInterrupted = errors.New("utterance interrupted")

const (
	defaultFallbackCeiling = 64 * 1024
	defaultFallbackTimeout = 5 * time.Second
)

type Config struct {
	StreamID string
	CallID   string
	// FallbackCeiling caps how many bytes of one-shot audio may be queued
	// when the persistent stream fails. Zero means 64KiB, about 8 seconds
	// of telephony audio.
	FallbackCeiling int
	// FallbackTimeout bounds the one-shot request itself. Zero means 5s; a
	// fallback that blocks longer than that is worse dead air than silence.
	FallbackTimeout time.Duration
}

// Session wraps one persistent synthesis connection for the lifetime of a
// call. Replies stream through it segment by segment, and the pump goroutine
// pipelines vendor audio into the playback queue so later segments synthesize
// while earlier ones play.
//
// A barge-in raises the interrupted latch; segments already in flight for the
// old reply see the latch and drop. The first segment of the next reply
// clears the latch before checking it, so a reply composed in response to the
// interruption itself is never swallowed by the stale latch.
type Session struct {
	cfg     Config
	synth   tts.StreamingTTS
	oneShot tts.OneShot

	out chan frames.Frame

	state       atomic.Int32
	interrupted atomic.Bool

	pumpOnce sync.Once
	pumpCtx  context.Context
	pumpStop context.CancelFunc

	firstAudio atomic.Bool

	onSpeaking func(bool)

	logger   *slog.Logger
	observer metrics.Observer
	pts      *frames.PTSGen
}

func NewSession(cfg Config, synth tts.StreamingTTS, observer metrics.Observer) *Session {
	if cfg.FallbackCeiling <= 0 {
		cfg.FallbackCeiling = defaultFallbackCeiling
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = defaultFallbackTimeout
	}
	if observer == nil {
		observer = metrics.NoopObserver{}
	}
	s := &Session{
		cfg:      cfg,
		synth:    synth,
		out:      make(chan frames.Frame, 512),
		logger:   logging.NewComponentLogger(slog.Default(), "speech"),
		observer: observer,
		pts:      frames.NewPTSGen(),
	}
	if os, ok := synth.(tts.OneShot); ok {
		s.oneShot = os
	}
	return s
}

// OnSpeakingChange registers a callback fired when the session starts or
// stops speaking. Set it before Start.
func (s *Session) OnSpeakingChange(fn func(bool)) {
	s.onSpeaking = fn
}

func (s *Session) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.synth.Start(ctx); err != nil {
		return err
	}
	s.pumpCtx, s.pumpStop = context.WithCancel(ctx)
	s.pumpOnce.Do(func() { go s.pump() })
	return nil
}

func (s *Session) Close() error {
	if s.pumpStop != nil {
		s.pumpStop()
	}
	return s.synth.Close()
}

// Output is the playback queue the transport drains.
func (s *Session) Output() <-chan frames.Frame { return s.out }

func (s *Session) State() State { return State(s.state.Load()) }

// StreamSegment queues one text fragment of the current reply. first marks
// the opening fragment of a new reply; it resets the interrupted latch before
// the drop check runs. Later fragments of a reply that has since been
// interrupted return ErrInterrupted and queue nothing.
func (s *Session) StreamSegment(ctx context.Context, text string, first bool) error {
	if first {
		s.interrupted.Store(false)
		s.firstAudio.Store(false)
	}
	if s.interrupted.Load() {
		return ErrInterrupted
	}
	s.setState(StateSpeaking)

	if err := s.synth.SendText(text); err != nil {
		s.logger.Warn("streaming synthesis failed, trying one-shot",
			slog.String("call_id", s.cfg.CallID),
			slog.String("error", err.Error()))
		return s.fallback(ctx, text)
	}
	return nil
}

// EndReply flushes the vendor's text buffer once every fragment of the reply
// has been streamed. The vendor answers with the remaining audio and the
// reply-done control; skipping it leaves short tails unsynthesized and the
// playback-done chain never fires. When the persistent stream is down the done
// marker is queued here, behind whatever the one-shot path produced.
func (s *Session) EndReply(ctx context.Context) error {
	if s.interrupted.Load() {
		return ErrInterrupted
	}
	if err := s.synth.EndReply(); err != nil {
		meta := map[string]string{
			frames.MetaCallID: s.cfg.CallID,
			frames.MetaSource: "one_shot",
		}
		f := frames.NewControlFrame(s.cfg.StreamID, s.pts.Next(s.cfg.StreamID), frames.ControlAudioDone, meta)
		select {
		case s.out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Say streams a complete single-fragment reply, for check-ins and other
// one-liners that bypass the dialogue engine.
func (s *Session) Say(ctx context.Context, text string) error {
	if err := s.StreamSegment(ctx, text, true); err != nil {
		return err
	}
	return s.EndReply(ctx)
}

// Interrupt halts playback for a barge-in. It is idempotent: concurrent or
// repeated calls flush the vendor stream and drain the queue exactly once,
// and exactly one flush control frame reaches the transport.
func (s *Session) Interrupt() {
	if !s.interrupted.CompareAndSwap(false, true) {
		return
	}
	s.synth.Flush()
	s.drainQueue()

	meta := map[string]string{
		frames.MetaCallID: s.cfg.CallID,
		frames.MetaReason: "barge_in",
	}
	s.out <- frames.NewControlFrame(s.cfg.StreamID, s.pts.Next(s.cfg.StreamID), frames.ControlFlush, meta)
	s.setState(StateInterrupted)

	s.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventInterruption,
		Tags: map[string]string{"call_id": s.cfg.CallID},
	})
	s.logger.Info("playback interrupted",
		slog.String("call_id", s.cfg.CallID),
		slog.String("stream_id", s.cfg.StreamID))
}

// Complete marks the current reply fully queued. The transport learns the
// true end of playback from its own progress marks; this only returns the
// session to idle for state observers.
func (s *Session) Complete() {
	if s.State() == StateSpeaking {
		s.setState(StateIdle)
	}
}

func (s *Session) pump() {
	for {
		select {
		case <-s.pumpCtx.Done():
			return
		case f, ok := <-s.synth.Results():
			if !ok {
				return
			}
			if s.interrupted.Load() {
				frames.ReleaseAudioFrame(f)
				continue
			}
			if f.Kind() == frames.KindAudio && s.firstAudio.CompareAndSwap(false, true) {
				s.observer.RecordEvent(metrics.MetricsEvent{
					Name: metrics.EventFirstAudio,
					Time: time.Now(),
					Tags: map[string]string{"call_id": s.cfg.CallID},
				})
			}
			select {
			case s.out <- f:
			case <-s.pumpCtx.Done():
				return
			}
		}
	}
}

// fallback synthesizes the segment in one request and queues it in playback
// sized chunks, up to the ceiling. Without a one-shot surface the segment is
// lost and the error propagates.
func (s *Session) fallback(ctx context.Context, text string) error {
	if s.oneShot == nil {
		return errorsx.Wrap(errors.New("no one-shot synthesis available"), errorsx.ReasonSynthFallback)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FallbackTimeout)
	defer cancel()
	blob, err := s.oneShot.Synthesize(ctx, text)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSynthFallback)
	}
	if len(blob) > s.cfg.FallbackCeiling {
		s.logger.Warn("one-shot audio truncated",
			slog.String("call_id", s.cfg.CallID),
			slog.Int("bytes", len(blob)),
			slog.Int("ceiling", s.cfg.FallbackCeiling))
		blob = blob[:s.cfg.FallbackCeiling]
	}
	meta := map[string]string{
		frames.MetaCallID:   s.cfg.CallID,
		frames.MetaSource:   "one_shot",
		frames.MetaEncoding: "ulaw",
	}
	const chunk = 1600 // 200ms of 8kHz mu-law
	for off := 0; off < len(blob); off += chunk {
		if s.interrupted.Load() {
			return ErrInterrupted
		}
		end := off + chunk
		if end > len(blob) {
			end = len(blob)
		}
		f := frames.NewAudioFrame(s.cfg.StreamID, s.pts.Next(s.cfg.StreamID), blob[off:end], 8000, 1, meta)
		select {
		case s.out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Session) drainQueue() {
	for {
		select {
		case f := <-s.out:
			frames.ReleaseAudioFrame(f)
		default:
			return
		}
	}
}

func (s *Session) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	if s.onSpeaking == nil {
		return
	}
	wasSpeaking := prev == StateSpeaking
	isSpeaking := next == StateSpeaking
	if wasSpeaking != isSpeaking {
		s.onSpeaking(isSpeaking)
	}
}
