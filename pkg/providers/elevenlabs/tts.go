package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Radicalscale/virevo-sub005/pkg/adapters/tts"
	"github.com/Radicalscale/virevo-sub005/pkg/errorsx"
	"github.com/Radicalscale/virevo-sub005/pkg/frames"
	"github.com/Radicalscale/virevo-sub005/pkg/resilience"
)

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	SampleRate   int
	StreamID     string
	CallID       string
}

// TTS keeps one stream-input websocket open for the lifetime of a call. Text
// fragments go out through writeCh; decoded mu-law audio comes back on the
// Results channel. A 15s keepalive prevents the vendor's idle timeout from
// killing the connection between turns.
type TTS struct {
	cfg     Config
	conn    *websocket.Conn
	out     chan frames.Frame
	writeCh chan wsMessage
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	http    *http.Client
}

type wsMessage struct {
	text  string
	flush bool
}

func New(cfg Config) *TTS {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "ulaw_8000"
	}
	return &TTS{
		cfg:     cfg,
		out:     make(chan frames.Frame, 256),
		writeCh: make(chan wsMessage, 256),
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

func (s *TTS) Name() string { return "elevenlabs_tts" }

func (s *TTS) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" || s.cfg.VoiceID == "" {
		return errorsx.Wrap(errors.New("missing elevenlabs config"), errorsx.ReasonSynthConnect)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.Dial(s.streamURL(), http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			slog.Error("elevenlabs rate limit exceeded",
				slog.String("stream_id", s.cfg.StreamID),
				slog.String("status", resp.Status))
			return resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		slog.Error("failed to connect to elevenlabs",
			slog.String("stream_id", s.cfg.StreamID),
			slog.String("error", err.Error()))
		return errorsx.Wrap(err, errorsx.ReasonSynthConnect)
	}
	s.conn = conn

	slog.Info("connected to elevenlabs",
		slog.String("stream_id", s.cfg.StreamID),
		slog.String("output_format", s.cfg.OutputFormat))

	_ = s.send(map[string]any{
		"text":                   " ",
		"try_trigger_generation": true,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	})
	go s.readLoop()
	go s.writeLoop()
	return nil
}

func (s *TTS) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slog.Info("tts close called", slog.String("stream_id", s.cfg.StreamID))
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return s.conn.Close()
	}
	return nil
}

func (s *TTS) SendText(text string) error {
	if s.conn == nil {
		return errorsx.Wrap(errors.New("not connected"), errorsx.ReasonSynthSend)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	// Trailing space tells the vendor the fragment boundary is a word boundary.
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	select {
	case s.writeCh <- wsMessage{text: text}:
	default:
		return errorsx.Wrap(errors.New("tts write queue full"), errorsx.ReasonSynthSend)
	}
	return nil
}

// EndReply flushes the vendor-side text buffer. Stream-input holds short
// fragments until a flush arrives; without it the tail of a reply never
// synthesizes and no isFinal comes back.
func (s *TTS) EndReply() error {
	if s.conn == nil {
		return errorsx.Wrap(errors.New("not connected"), errorsx.ReasonSynthSend)
	}
	select {
	case s.writeCh <- wsMessage{text: " ", flush: true}:
	default:
		return errorsx.Wrap(errors.New("tts write queue full"), errorsx.ReasonSynthSend)
	}
	return nil
}

// Flush stops generation and drains anything already buffered so interrupted
// audio never reaches the caller.
func (s *TTS) Flush() {
	select {
	case s.writeCh <- wsMessage{text: " ", flush: true}:
	default:
	}
drainLoop:
	for {
		select {
		case <-s.out:
		default:
			break drainLoop
		}
	}
	slog.Info("tts channel purged", slog.String("stream_id", s.cfg.StreamID))
}

func (s *TTS) Results() <-chan frames.Frame { return s.out }

// Synthesize is the one-shot HTTP fallback used when the persistent stream is
// unavailable. Transport-level failures are retried briefly; this path is the
// last chance to get audio to the caller.
func (s *TTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": s.cfg.ModelID,
	})
	if err != nil {
		return nil, err
	}
	u := "https://api.elevenlabs.io/v1/text-to-speech/" + s.cfg.VoiceID +
		"?output_format=" + url.QueryEscape(s.cfg.OutputFormat)

	var blob []byte
	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("xi-api-key", s.cfg.APIKey)

		resp, err := s.http.Do(req)
		if err != nil {
			return errorsx.Wrap(err, errorsx.ReasonSynthFallback)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			return resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(resp.Body)
			return errorsx.Wrap(errors.New(string(raw)), errorsx.ReasonSynthFallback)
		}
		blob, err = io.ReadAll(resp.Body)
		return err
	}
	if err := resilience.NewRetryPolicy(2, 200*time.Millisecond).Do(attempt); err != nil {
		return nil, err
	}
	return blob, nil
}

func (s *TTS) streamURL() string {
	base := "wss://api.elevenlabs.io/v1/text-to-speech/" + s.cfg.VoiceID + "/stream-input"
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", s.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	return base + "?" + q.Encode()
}

func (s *TTS) writeLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.writeCh:
			payload := map[string]any{"text": msg.text}
			if msg.flush {
				payload["flush"] = true
			}
			_ = s.send(payload)
		case <-ticker.C:
			_ = s.send(map[string]any{"text": " "})
		}
	}
}

func (s *TTS) readLoop() {
	for {
		select {
		case <-s.ctx.Done():
			slog.Info("tts read loop exit",
				slog.String("stream_id", s.cfg.StreamID),
				slog.String("reason", "context_cancelled"))
			return
		default:
			_, data, err := s.conn.ReadMessage()
			if err != nil {
				if s.ctx.Err() == nil {
					slog.Error("tts read loop error",
						slog.String("stream_id", s.cfg.StreamID),
						slog.String("error", err.Error()))
				}
				return
			}
			s.handleMessage(data)
		}
	}
}

func (s *TTS) handleMessage(data []byte) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("tts websocket raw data", "data", string(data))
		return
	}
	if fin, ok := msg["isFinal"].(bool); ok && fin {
		meta := map[string]string{
			frames.MetaCallID: s.cfg.CallID,
			frames.MetaSource: "elevenlabs",
		}
		cf := frames.NewControlFrame(s.cfg.StreamID, time.Now().UnixNano(), frames.ControlAudioDone, meta)
		select {
		case s.out <- cf:
		default:
		}
		return
	}
	encoded, ok := msg["audio"].(string)
	if !ok {
		if a, ok := msg["audio_base_64"].(string); ok {
			encoded = a
		} else if a, ok := msg["audio_base64"].(string); ok {
			encoded = a
		} else {
			if _, isAlign := msg["alignment"]; !isAlign {
				slog.Debug("tts websocket message", "payload", msg)
			}
			return
		}
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		slog.Error("tts audio decode error", "error", err)
		return
	}

	meta := map[string]string{
		frames.MetaStreamID: s.cfg.StreamID,
		frames.MetaCallID:   s.cfg.CallID,
		frames.MetaSource:   "elevenlabs",
	}
	if strings.Contains(s.cfg.OutputFormat, "ulaw") {
		meta[frames.MetaEncoding] = "ulaw"
	}

	f := frames.NewAudioFrame(s.cfg.StreamID, time.Now().UnixNano(), raw, s.cfg.SampleRate, 1, meta)
	select {
	case s.out <- f:
	default:
		slog.Warn("tts output buffer full", slog.String("stream_id", s.cfg.StreamID))
	}
}

func (s *TTS) send(payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

var (
	_ tts.StreamingTTS = (*TTS)(nil)
	_ tts.OneShot      = (*TTS)(nil)
)
