package transports

import (
	"context"

	"github.com/Radicalscale/virevo-sub005/pkg/frames"
)

// Transport is the vendor-agnostic boundary a call's frames cross. Inbound
// caller audio and telephony events arrive on Recv; outbound synthesis audio
// and control signals leave through Send. Implementations own their network
// lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
	Send(frames.Frame) error
}

// OutboundDialer initiates calls from this side.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callID string, err error)
}

// DialOptions carries optional outbound dial settings.
type DialOptions struct {
	SendDigits string
}

// OutboundDialerWithOptions extends dialing with optional parameters.
type OutboundDialerWithOptions interface {
	DialWithOptions(ctx context.Context, to, from, url string, opts DialOptions) (callID string, err error)
}

// DTMFSender plays DTMF digits into an active call.
type DTMFSender interface {
	SendDTMF(ctx context.Context, callID, digits string) error
}

// HangupController terminates an active call from this side.
type HangupController interface {
	Hangup(ctx context.Context, callID string) error
}

// ReadyReporter exposes readiness metadata such as webhook URLs, for
// informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
