package speech

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/frames"
	"github.com/Radicalscale/virevo-sub005/pkg/metrics"
	"github.com/Radicalscale/virevo-sub005/pkg/providers/mock"
)

func newTestSession(t *testing.T) (*Session, *mock.StreamingTTS) {
	t.Helper()
	synth := mock.NewTTS(mock.TTSConfig{StreamID: "MZ1", CallID: "CA1"})
	sess := NewSession(Config{StreamID: "MZ1", CallID: "CA1"}, synth, metrics.NewMemoryObserver())
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess, synth
}

func collectAudio(t *testing.T, sess *Session, want int) []frames.Frame {
	t.Helper()
	var got []frames.Frame
	deadline := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case f := <-sess.Output():
			if f.Kind() == frames.KindAudio {
				got = append(got, f)
			}
		case <-deadline:
			t.Fatalf("timed out with %d/%d audio frames", len(got), want)
		}
	}
	return got
}

func TestSegmentsFlowToPlaybackQueue(t *testing.T) {
	sess, synth := newTestSession(t)

	if err := sess.StreamSegment(context.Background(), "Hi there.", true); err != nil {
		t.Fatal(err)
	}
	if err := sess.StreamSegment(context.Background(), "How are you?", false); err != nil {
		t.Fatal(err)
	}
	if err := sess.EndReply(context.Background()); err != nil {
		t.Fatal(err)
	}
	collectAudio(t, sess, 4)
	if got := synth.Sent(); len(got) != 2 {
		t.Fatalf("sent fragments = %v", got)
	}
	if sess.State() != StateSpeaking {
		t.Fatalf("state = %s, want speaking", sess.State())
	}
}

func TestEndReplyFlushesVendorAndSignalsDone(t *testing.T) {
	sess, synth := newTestSession(t)

	// The vendor buffers short fragments; nothing finalizes until the reply
	// is ended.
	if err := sess.StreamSegment(context.Background(), "Okay.", true); err != nil {
		t.Fatal(err)
	}
	if synth.EndReplies() != 0 {
		t.Fatal("reply ended before EndReply was called")
	}
	if err := sess.EndReply(context.Background()); err != nil {
		t.Fatal(err)
	}
	if synth.EndReplies() != 1 {
		t.Fatalf("vendor end-reply count = %d, want 1", synth.EndReplies())
	}

	sawAudio := false
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-sess.Output():
			if f.Kind() == frames.KindAudio {
				sawAudio = true
				continue
			}
			cf, ok := f.(frames.ControlFrame)
			if !ok || cf.Code() != frames.ControlAudioDone {
				t.Fatalf("unexpected frame %v", f)
			}
			if !sawAudio {
				t.Fatal("done control arrived ahead of the reply audio")
			}
			return
		case <-deadline:
			t.Fatal("reply-done control never queued")
		}
	}
}

func TestInterruptDropsRemainingSegments(t *testing.T) {
	sess, _ := newTestSession(t)

	if err := sess.StreamSegment(context.Background(), "Long pitch part one.", true); err != nil {
		t.Fatal(err)
	}
	sess.Interrupt()

	err := sess.StreamSegment(context.Background(), "part two that must drop", false)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if sess.State() != StateInterrupted {
		t.Fatalf("state = %s", sess.State())
	}
}

func TestFirstSegmentClearsStaleInterruptLatch(t *testing.T) {
	sess, synth := newTestSession(t)

	if err := sess.StreamSegment(context.Background(), "old reply", true); err != nil {
		t.Fatal(err)
	}
	sess.Interrupt()

	// The reply answering the barge-in starts a fresh utterance. A latch
	// left set from the previous reply must not swallow it.
	if err := sess.StreamSegment(context.Background(), "new reply", true); err != nil {
		t.Fatalf("first segment of new reply dropped: %v", err)
	}
	if err := sess.EndReply(context.Background()); err != nil {
		t.Fatal(err)
	}
	collectAudio(t, sess, 2)
	sent := synth.Sent()
	if len(sent) != 2 || sent[1] != "new reply" {
		t.Fatalf("sent = %v", sent)
	}
}

func TestInterruptIsIdempotent(t *testing.T) {
	sess, synth := newTestSession(t)

	if err := sess.StreamSegment(context.Background(), "something", true); err != nil {
		t.Fatal(err)
	}
	sess.Interrupt()
	sess.Interrupt()
	sess.Interrupt()

	if synth.Flushes() != 1 {
		t.Fatalf("vendor flushed %d times, want 1", synth.Flushes())
	}

	flushes := 0
	timeout := time.After(200 * time.Millisecond)
drain:
	for {
		select {
		case f := <-sess.Output():
			if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == frames.ControlFlush {
				flushes++
			}
		case <-timeout:
			break drain
		}
	}
	if flushes != 1 {
		t.Fatalf("flush control frames = %d, want exactly 1", flushes)
	}
}

func TestInterruptDrainsQueuedAudio(t *testing.T) {
	sess, _ := newTestSession(t)

	if err := sess.StreamSegment(context.Background(), "lots of audio", true); err != nil {
		t.Fatal(err)
	}
	if err := sess.EndReply(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Let the pump move vendor audio into the playback queue.
	time.Sleep(50 * time.Millisecond)
	sess.Interrupt()

	select {
	case f := <-sess.Output():
		if f.Kind() == frames.KindAudio {
			t.Fatal("audio survived the interrupt drain")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected the flush control frame")
	}
}

func TestOneShotFallbackWhenStreamFails(t *testing.T) {
	sess, synth := newTestSession(t)
	synth.SendErr = errors.New("socket closed")

	if err := sess.StreamSegment(context.Background(), "please hold", true); err != nil {
		t.Fatal(err)
	}
	got := collectAudio(t, sess, 1)
	if got[0].Meta()[frames.MetaSource] != "one_shot" {
		t.Fatalf("meta = %v", got[0].Meta())
	}
	if shots := synth.OneShots(); len(shots) != 1 || shots[0] != "please hold" {
		t.Fatalf("one shots = %v", shots)
	}
}

func TestFallbackCeilingTruncates(t *testing.T) {
	synth := mock.NewTTS(mock.TTSConfig{StreamID: "MZ1", CallID: "CA1", FramesPerFragment: 100})
	synth.SendErr = errors.New("socket closed")
	sess := NewSession(Config{StreamID: "MZ1", CallID: "CA1", FallbackCeiling: 320}, synth, nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	if err := sess.StreamSegment(context.Background(), "very long reply", true); err != nil {
		t.Fatal(err)
	}
	total := 0
	timeout := time.After(time.Second)
count:
	for {
		select {
		case f := <-sess.Output():
			if af, ok := f.(frames.AudioFrame); ok {
				total += len(af.RawPayload())
			}
		case <-timeout:
			break count
		}
		if total >= 320 {
			break
		}
	}
	if total > 320 {
		t.Fatalf("queued %d bytes past the ceiling", total)
	}
}

// stallingSynth hangs its one-shot request until the context expires, the way
// a wedged HTTP backend would.
type stallingSynth struct {
	*mock.StreamingTTS
}

func (s *stallingSynth) Synthesize(ctx context.Context, _ string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFallbackGivesUpWithinTimeout(t *testing.T) {
	synth := &stallingSynth{mock.NewTTS(mock.TTSConfig{StreamID: "MZ1", CallID: "CA1"})}
	synth.SendErr = errors.New("socket closed")
	sess := NewSession(Config{
		StreamID:        "MZ1",
		CallID:          "CA1",
		FallbackTimeout: 50 * time.Millisecond,
	}, synth, nil)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	start := time.Now()
	err := sess.StreamSegment(context.Background(), "please hold", true)
	if err == nil {
		t.Fatal("want error from a stalled one-shot")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("fallback blocked %s past its deadline", elapsed)
	}
}

func TestFallbackReplyStillSignalsDone(t *testing.T) {
	sess, synth := newTestSession(t)
	synth.SendErr = errors.New("socket closed")

	if err := sess.StreamSegment(context.Background(), "please hold", true); err != nil {
		t.Fatal(err)
	}
	// The persistent stream is down, so the vendor can't mark the reply; the
	// session has to queue the done control itself or playback never ends.
	if err := sess.EndReply(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-sess.Output():
			if cf, ok := f.(frames.ControlFrame); ok && cf.Code() == frames.ControlAudioDone {
				if cf.Meta()[frames.MetaSource] != "one_shot" {
					t.Fatalf("done meta = %v", cf.Meta())
				}
				return
			}
		case <-deadline:
			t.Fatal("no done control after fallback reply")
		}
	}
}

func TestFallbackErrorPropagates(t *testing.T) {
	sess, synth := newTestSession(t)
	synth.SendErr = errors.New("socket closed")
	synth.OneShotErr = errors.New("http 500")

	err := sess.StreamSegment(context.Background(), "anything", true)
	if err == nil {
		t.Fatal("expected error when both paths fail")
	}
}

func TestSpeakingCallback(t *testing.T) {
	synth := mock.NewTTS(mock.TTSConfig{StreamID: "MZ1", CallID: "CA1"})
	sess := NewSession(Config{StreamID: "MZ1", CallID: "CA1"}, synth, nil)
	var changes []bool
	sess.OnSpeakingChange(func(v bool) { changes = append(changes, v) })
	if err := sess.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	if err := sess.StreamSegment(context.Background(), "hello", true); err != nil {
		t.Fatal(err)
	}
	sess.Complete()
	if len(changes) != 2 || !changes[0] || changes[1] {
		t.Fatalf("changes = %v", changes)
	}
}
