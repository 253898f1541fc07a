package engine

import (
	"strings"
	"testing"

	"github.com/Radicalscale/virevo-sub005/pkg/adapters/stt"
	"github.com/Radicalscale/virevo-sub005/pkg/adapters/tts"
)

func TestDefaultRegistryBuildsMocks(t *testing.T) {
	reg := DefaultRegistry()

	rec, err := reg.BuildSTT("mock", nil, stt.Config{StreamID: "MS1", CallID: "CA1"})
	if err != nil {
		t.Fatalf("BuildSTT: %v", err)
	}
	if rec.Name() != "mock_stt" {
		t.Fatalf("stt name = %q", rec.Name())
	}
	synth, err := reg.BuildTTS("mock", nil, tts.Config{StreamID: "MS1", CallID: "CA1"})
	if err != nil {
		t.Fatalf("BuildTTS: %v", err)
	}
	if synth.Name() != "mock_tts" {
		t.Fatalf("tts name = %q", synth.Name())
	}
	if _, err := reg.BuildLLM("mock", nil); err != nil {
		t.Fatalf("BuildLLM: %v", err)
	}
	if _, err := reg.BuildTransport("mock", nil); err != nil {
		t.Fatalf("BuildTransport: %v", err)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	reg := DefaultRegistry()
	if _, err := reg.BuildSTT("whisperx", nil, stt.Config{}); err == nil || !strings.Contains(err.Error(), "unknown stt provider") {
		t.Fatalf("want unknown provider error, got %v", err)
	}
}

func TestDeepgramFactoryRequiresAPIKey(t *testing.T) {
	reg := DefaultRegistry()
	_, err := reg.BuildSTT("deepgram", map[string]any{"model": "nova-2"}, stt.Config{StreamID: "MS1"})
	if err == nil || !strings.Contains(err.Error(), "api_key") {
		t.Fatalf("want api_key error, got %v", err)
	}
}

func TestElevenLabsFactoryRequiresVoice(t *testing.T) {
	reg := DefaultRegistry()
	_, err := reg.BuildTTS("elevenlabs", map[string]any{"api_key": "k"}, tts.Config{StreamID: "MS1"})
	if err == nil || !strings.Contains(err.Error(), "voice_id") {
		t.Fatalf("want voice_id error, got %v", err)
	}
}
