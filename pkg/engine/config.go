package engine

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type StoreConfig struct {
	Backend  string `mapstructure:"backend"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RoutingConfig struct {
	SlowPathTimeoutMS int `mapstructure:"slow_path_timeout_ms"`
}

type DeadAirConfig struct {
	PollIntervalMS      int      `mapstructure:"poll_interval_ms"`
	SilenceThresholdMS  int      `mapstructure:"silence_threshold_ms"`
	ExtendedThresholdMS int      `mapstructure:"extended_threshold_ms"`
	MaxCheckins         int      `mapstructure:"max_checkins"`
	CheckinPhrases      []string `mapstructure:"checkin_phrases"`
}

type SpeechConfig struct {
	FallbackCeilingBytes int `mapstructure:"fallback_ceiling_bytes"`
	FallbackTimeoutMS    int `mapstructure:"fallback_timeout_ms"`
}

type Config struct {
	Environment  string          `mapstructure:"environment"`
	LogLevel     string          `mapstructure:"log_level"`
	LogFormat    string          `mapstructure:"log_format"`
	LogRedactPII bool            `mapstructure:"log_redact_pii"`
	GraphPath    string          `mapstructure:"graph_path"`
	Vendors      VendorsConfig   `mapstructure:"vendors"`
	Transport    TransportConfig `mapstructure:"transport"`
	Store        StoreConfig     `mapstructure:"store"`
	Routing      RoutingConfig   `mapstructure:"routing"`
	DeadAir      DeadAirConfig   `mapstructure:"dead_air"`
	Speech       SpeechConfig    `mapstructure:"speech"`
}

// LoadConfig reads a YAML config file. String values may reference
// environment variables with ${VAR}; secrets stay out of the file.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.addr", "localhost:6379")
	v.SetDefault("routing.slow_path_timeout_ms", 1500)
	v.SetDefault("dead_air.poll_interval_ms", 500)
	v.SetDefault("dead_air.silence_threshold_ms", 7000)
	v.SetDefault("dead_air.extended_threshold_ms", 25000)
	v.SetDefault("dead_air.max_checkins", 3)
	v.SetDefault("speech.fallback_ceiling_bytes", 65536)
	v.SetDefault("speech.fallback_timeout_ms", 5000)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.GraphPath) == "" {
		return fmt.Errorf("graph_path is required")
	}
	if strings.TrimSpace(c.Transport.Provider) == "" {
		return fmt.Errorf("transport.provider is required")
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("store.backend must be memory or redis, got %q", c.Store.Backend)
	}
	return nil
}

func expandEnv(cfg *Config) {
	cfg.GraphPath = os.ExpandEnv(cfg.GraphPath)
	cfg.Store.Addr = os.ExpandEnv(cfg.Store.Addr)
	cfg.Store.Password = os.ExpandEnv(cfg.Store.Password)
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Transport.Settings = expandSettings(cfg.Transport.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	default:
		return v
	}
}
