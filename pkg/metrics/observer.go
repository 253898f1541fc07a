package metrics

import "time"

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Event names recorded by the engine.
const (
	EventTurnLatency   = "turn_latency"
	EventInterruption  = "interruption"
	EventCheckin       = "deadair_checkin"
	EventFirstAudio    = "synth_first_audio"
	EventRouteFastPath = "route_fast_path"
	EventRouteSlowPath = "route_slow_path"
	EventRouteFallback = "route_fallback"
	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"
)

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
