package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"

	ReasonSynthConnect  ReasonCode = "synth_connect"
	ReasonSynthSend     ReasonCode = "synth_send"
	ReasonSynthFallback ReasonCode = "synth_fallback"

	ReasonLLMGenerate ReasonCode = "llm_generate"
	ReasonLLMChoose   ReasonCode = "llm_choose"
	ReasonLLMTimeout  ReasonCode = "llm_timeout"

	ReasonRouteFallback ReasonCode = "route_fallback"

	ReasonGraphInvalid ReasonCode = "graph_invalid"

	ReasonStoreUnavailable ReasonCode = "store_unavailable"

	ReasonAudioDecode ReasonCode = "audio_decode"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
)
