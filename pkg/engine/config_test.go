package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaultsAndEnvExpansion(t *testing.T) {
	t.Setenv("TEST_DG_KEY", "dg-secret")
	path := writeConfig(t, `
graph_path: /etc/virevo/outreach.yaml
transport:
  provider: twilio
  settings:
    auth_token: ${TEST_DG_KEY}
vendors:
  stt:
    provider: deepgram
    settings:
      api_key: ${TEST_DG_KEY}
  tts:
    provider: elevenlabs
    settings:
      api_key: secret
      voice_id: v1
  llm:
    provider: openai
    settings:
      api_key: secret
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.LogFormat != "json" {
		t.Fatalf("log_format default = %q, want json", cfg.LogFormat)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("store backend default = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Routing.SlowPathTimeoutMS != 1500 {
		t.Fatalf("slow path timeout default = %d, want 1500", cfg.Routing.SlowPathTimeoutMS)
	}
	if cfg.DeadAir.SilenceThresholdMS != 7000 || cfg.DeadAir.MaxCheckins != 3 {
		t.Fatalf("dead air defaults wrong: %+v", cfg.DeadAir)
	}
	if cfg.Speech.FallbackCeilingBytes != 65536 || cfg.Speech.FallbackTimeoutMS != 5000 {
		t.Fatalf("speech defaults wrong: %+v", cfg.Speech)
	}
	if got := cfg.Vendors.STT.Settings["api_key"]; got != "dg-secret" {
		t.Fatalf("env var not expanded, got %v", got)
	}
	if got := cfg.Transport.Settings["auth_token"]; got != "dg-secret" {
		t.Fatalf("transport env var not expanded, got %v", got)
	}
}

func TestLoadConfigRejectsMissingProviders(t *testing.T) {
	path := writeConfig(t, `
graph_path: /tmp/graph.yaml
transport:
  provider: twilio
vendors:
  stt:
    provider: deepgram
  tts:
    provider: elevenlabs
`)
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "llm.provider") {
		t.Fatalf("want llm provider error, got %v", err)
	}
}

func TestLoadConfigRejectsUnknownStoreBackend(t *testing.T) {
	path := writeConfig(t, `
graph_path: /tmp/graph.yaml
transport:
  provider: mock
store:
  backend: dynamo
vendors:
  stt: {provider: mock}
  tts: {provider: mock}
  llm: {provider: mock}
`)
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "store.backend") {
		t.Fatalf("want store backend error, got %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("want error for missing config file")
	}
}
