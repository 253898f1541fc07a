package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/adapters/tts"
	"github.com/Radicalscale/virevo-sub005/pkg/audio"
	"github.com/Radicalscale/virevo-sub005/pkg/frames"
)

type TTSConfig struct {
	StreamID string
	CallID   string
	// FramesPerFragment controls how many 20ms audio frames each SendText
	// fragment expands to. Zero means 2.
	FramesPerFragment int
}

// StreamingTTS synthesizes silence with the real vendors' buffering contract:
// SendText only records and buffers the fragment, and audio plus the reply-done
// control come out on EndReply, so tests fail if a caller forgets to end the
// reply. Flush discards the buffer, like an interruption does. SendErr makes
// the persistent path fail, which exercises the one-shot fallback.
type StreamingTTS struct {
	cfg        TTSConfig
	out        chan frames.Frame
	mu         sync.Mutex
	started    bool
	sent       []string
	pending    []string
	flushes    int
	endReplies int
	SendErr    error
	// OneShotErr fails Synthesize too, for the no-audio-at-all path.
	OneShotErr error
	oneShots   []string
}

func NewTTS(cfg TTSConfig) *StreamingTTS {
	if cfg.FramesPerFragment <= 0 {
		cfg.FramesPerFragment = 2
	}
	return &StreamingTTS{
		cfg: cfg,
		out: make(chan frames.Frame, 256),
	}
}

func (s *StreamingTTS) Name() string { return "mock_tts" }

func (s *StreamingTTS) Start(context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *StreamingTTS) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	s.started = false
	return nil
}

func (s *StreamingTTS) SendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("not started")
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.sent = append(s.sent, text)
	s.pending = append(s.pending, text)
	return nil
}

// EndReply expands every buffered fragment into deterministic mu-law frames
// and trails them with the reply-done control, mirroring the real vendor's
// flush/isFinal exchange.
func (s *StreamingTTS) EndReply() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("not started")
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	s.endReplies++
	pending := s.pending
	s.pending = nil
	if s.out == nil {
		return nil
	}
	meta := map[string]string{
		frames.MetaCallID:   s.cfg.CallID,
		frames.MetaSource:   "tts",
		frames.MetaEncoding: "ulaw",
	}
	for range pending {
		for i := 0; i < s.cfg.FramesPerFragment; i++ {
			f := frames.NewAudioFrame(s.cfg.StreamID, time.Now().UnixNano(), audio.Silence(1), audio.SampleRate, 1, meta)
			select {
			case s.out <- f:
			default:
			}
		}
	}
	done := frames.NewControlFrame(s.cfg.StreamID, time.Now().UnixNano(), frames.ControlAudioDone, meta)
	select {
	case s.out <- done:
	default:
	}
	return nil
}

func (s *StreamingTTS) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	s.pending = nil
	if s.out == nil {
		return
	}
	for {
		select {
		case <-s.out:
		default:
			return
		}
	}
}

func (s *StreamingTTS) Results() <-chan frames.Frame { return s.out }

// Synthesize implements the one-shot fallback surface.
func (s *StreamingTTS) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OneShotErr != nil {
		return nil, s.OneShotErr
	}
	s.oneShots = append(s.oneShots, text)
	return audio.Silence(s.cfg.FramesPerFragment), nil
}

func (s *StreamingTTS) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *StreamingTTS) OneShots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.oneShots...)
}

func (s *StreamingTTS) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func (s *StreamingTTS) EndReplies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReplies
}

var (
	_ tts.StreamingTTS = (*StreamingTTS)(nil)
	_ tts.OneShot      = (*StreamingTTS)(nil)
)
