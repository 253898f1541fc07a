package engine

import (
	"fmt"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/adapters/stt"
	"github.com/Radicalscale/virevo-sub005/pkg/adapters/tts"
	"github.com/Radicalscale/virevo-sub005/pkg/configutil"
	"github.com/Radicalscale/virevo-sub005/pkg/llm"
	"github.com/Radicalscale/virevo-sub005/pkg/providers/deepgram"
	"github.com/Radicalscale/virevo-sub005/pkg/providers/elevenlabs"
	"github.com/Radicalscale/virevo-sub005/pkg/providers/mock"
	"github.com/Radicalscale/virevo-sub005/pkg/providers/openai"
	"github.com/Radicalscale/virevo-sub005/pkg/resilience"
	"github.com/Radicalscale/virevo-sub005/pkg/transports"
	transportmock "github.com/Radicalscale/virevo-sub005/pkg/transports/mock"
	"github.com/Radicalscale/virevo-sub005/pkg/transports/twilio"
)

type (
	STTFactory       func(settings map[string]any, cfg stt.Config) (stt.StreamingSTT, error)
	TTSFactory       func(settings map[string]any, cfg tts.Config) (tts.StreamingTTS, error)
	LLMFactory       func(settings map[string]any) (llm.Adapter, error)
	TransportFactory func(settings map[string]any) (transports.Transport, error)
)

// Registry maps provider names from config to constructors. Vendors are
// swappable per deployment without touching engine code.
type Registry struct {
	stt        map[string]STTFactory
	tts        map[string]TTSFactory
	llm        map[string]LLMFactory
	transports map[string]TransportFactory
}

func NewRegistry() *Registry {
	return &Registry{
		stt:        make(map[string]STTFactory),
		tts:        make(map[string]TTSFactory),
		llm:        make(map[string]LLMFactory),
		transports: make(map[string]TransportFactory),
	}
}

func (r *Registry) RegisterSTT(name string, f STTFactory)             { r.stt[name] = f }
func (r *Registry) RegisterTTS(name string, f TTSFactory)             { r.tts[name] = f }
func (r *Registry) RegisterLLM(name string, f LLMFactory)             { r.llm[name] = f }
func (r *Registry) RegisterTransport(name string, f TransportFactory) { r.transports[name] = f }

func (r *Registry) BuildSTT(name string, settings map[string]any, cfg stt.Config) (stt.StreamingSTT, error) {
	f, ok := r.stt[name]
	if !ok {
		return nil, fmt.Errorf("unknown stt provider %q", name)
	}
	return f(settings, cfg)
}

func (r *Registry) BuildTTS(name string, settings map[string]any, cfg tts.Config) (tts.StreamingTTS, error) {
	f, ok := r.tts[name]
	if !ok {
		return nil, fmt.Errorf("unknown tts provider %q", name)
	}
	return f(settings, cfg)
}

func (r *Registry) BuildLLM(name string, settings map[string]any) (llm.Adapter, error) {
	f, ok := r.llm[name]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
	return f(settings)
}

func (r *Registry) BuildTransport(name string, settings map[string]any) (transports.Transport, error) {
	f, ok := r.transports[name]
	if !ok {
		return nil, fmt.Errorf("unknown transport provider %q", name)
	}
	return f(settings)
}

// DefaultRegistry wires the built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterSTT("deepgram", func(settings map[string]any, cfg stt.Config) (stt.StreamingSTT, error) {
		var s struct {
			APIKey         string `mapstructure:"api_key"`
			Model          string `mapstructure:"model"`
			Interim        bool   `mapstructure:"interim"`
			VADEvents      bool   `mapstructure:"vad_events"`
			UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		return deepgram.New(deepgram.Config{
			APIKey:         s.APIKey,
			Model:          s.Model,
			Language:       cfg.Language,
			SampleRate:     cfg.SampleRate,
			Interim:        s.Interim,
			VADEvents:      s.VADEvents,
			UtteranceEndMS: s.UtteranceEndMS,
			StreamID:       cfg.StreamID,
			CallID:         cfg.CallID,
			TraceID:        cfg.TraceID,
		}), nil
	})
	r.RegisterSTT("mock", func(_ map[string]any, cfg stt.Config) (stt.StreamingSTT, error) {
		return mock.NewSTT(mock.STTConfig{StreamID: cfg.StreamID, CallID: cfg.CallID}), nil
	})

	r.RegisterTTS("elevenlabs", func(settings map[string]any, cfg tts.Config) (tts.StreamingTTS, error) {
		var s struct {
			APIKey       string `mapstructure:"api_key"`
			VoiceID      string `mapstructure:"voice_id"`
			ModelID      string `mapstructure:"model_id"`
			OutputFormat string `mapstructure:"output_format"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.VoiceID, "vendors.tts.settings.voice_id"); err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       s.APIKey,
			VoiceID:      s.VoiceID,
			ModelID:      s.ModelID,
			OutputFormat: s.OutputFormat,
			SampleRate:   cfg.SampleRate,
			StreamID:     cfg.StreamID,
			CallID:       cfg.CallID,
		}), nil
	})
	r.RegisterTTS("mock", func(_ map[string]any, cfg tts.Config) (tts.StreamingTTS, error) {
		return mock.NewTTS(mock.TTSConfig{StreamID: cfg.StreamID, CallID: cfg.CallID}), nil
	})

	r.RegisterLLM("openai", func(settings map[string]any) (llm.Adapter, error) {
		var s struct {
			APIKey            string `mapstructure:"api_key"`
			Model             string `mapstructure:"model"`
			BaseURL           string `mapstructure:"base_url"`
			UseCircuitBreaker *bool  `mapstructure:"use_circuit_breaker"`
			CircuitThreshold  int    `mapstructure:"circuit_threshold"`
			CircuitCooldownMS int    `mapstructure:"circuit_cooldown_ms"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(s.APIKey, "vendors.llm.settings.api_key"); err != nil {
			return nil, err
		}
		a := openai.NewAdapter(s.APIKey, s.Model)
		if s.BaseURL != "" {
			a.BaseURL = s.BaseURL
		}
		if s.UseCircuitBreaker != nil && !*s.UseCircuitBreaker {
			return a, nil
		}
		breaker := resilience.NewCircuitBreaker(s.CircuitThreshold,
			time.Duration(s.CircuitCooldownMS)*time.Millisecond)
		return llm.NewBreakerAdapter(a, breaker), nil
	})
	r.RegisterLLM("mock", func(_ map[string]any) (llm.Adapter, error) {
		return mock.NewLLM(), nil
	})

	r.RegisterTransport("twilio", func(settings map[string]any) (transports.Transport, error) {
		var cfg twilio.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, err
		}
		return twilio.New(cfg), nil
	})
	r.RegisterTransport("mock", func(_ map[string]any) (transports.Transport, error) {
		return transportmock.New(), nil
	})

	return r
}
