package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/adapters/stt"
	"github.com/Radicalscale/virevo-sub005/pkg/frames"
)

type STTConfig struct {
	StreamID string
	CallID   string
}

// StreamingSTT is a scriptable STT fake. Tests push transcripts with
// EmitPartial/EmitFinal; audio sent to it is counted and discarded.
type StreamingSTT struct {
	cfg     STTConfig
	out     chan frames.Frame
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	audioIn int
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	return &StreamingSTT{
		cfg: cfg,
		out: make(chan frames.Frame, 64),
	}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	s.started = false
	return nil
}

func (s *StreamingSTT) SendAudio(frames.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errors.New("not started")
	}
	s.audioIn++
	return nil
}

func (s *StreamingSTT) AudioFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioIn
}

func (s *StreamingSTT) Results() <-chan frames.Frame { return s.out }

func (s *StreamingSTT) EmitPartial(text string) {
	s.emit(text, false)
}

func (s *StreamingSTT) EmitFinal(text string) {
	s.emit(text, true)
}

func (s *StreamingSTT) emit(text string, final bool) {
	meta := map[string]string{
		frames.MetaStreamID: s.cfg.StreamID,
		frames.MetaCallID:   s.cfg.CallID,
		frames.MetaSource:   "stt",
		frames.MetaIsFinal:  "false",
	}
	if final {
		meta[frames.MetaIsFinal] = "true"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return
	}
	s.out <- frames.NewTextFrame(s.cfg.StreamID, time.Now().UnixNano(), text, meta)
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
