package tts

import (
	"context"

	"github.com/Radicalscale/virevo-sub005/pkg/frames"
)

// StreamingTTS defines the contract for any synthesis vendor implementation
// that keeps a persistent bidirectional stream open per call.
type StreamingTTS interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the synthesis connection.
	Start(ctx context.Context) error
	// Close shuts down the synthesis connection.
	Close() error
	// SendText streams a text fragment for synthesis. Vendors buffer short
	// fragments; audio is only guaranteed out after EndReply.
	SendText(text string) error
	// EndReply forces synthesis of any buffered text and asks the vendor to
	// mark the end of the reply on its Results channel.
	EndReply() error
	// Flush stops current synthesis and clears buffered audio.
	Flush()
	// Results returns a channel of audio frames in generation order.
	Results() <-chan frames.Frame
}

// OneShot is the fallback surface: one text blob in, one audio blob out.
// Streaming adapters that also expose a single-request API implement it;
// the speech session type-asserts when the persistent connection drops.
type OneShot interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config contains vendor-agnostic synthesis configuration.
type Config struct {
	StreamID   string
	CallID     string
	SampleRate int
	Channels   int
}
