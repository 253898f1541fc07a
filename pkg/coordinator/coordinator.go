package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/logging"
	"github.com/Radicalscale/virevo-sub005/pkg/store"
)

// Flags exchanged between workers. A flag is a one-shot signal: consuming it
// deletes it, so exactly one poll observes each publication.
const (
	FlagAudioDone = "audio_done"
	FlagHangup    = "hangup"
	FlagInterrupt = "interrupt"
)

const defaultFlagTTL = 10 * time.Second

// Handler reacts to a flag for a call this worker owns.
type Handler func(ctx context.Context, callID string)

// Coordinator bridges signal producers and the worker holding a call's live
// session. Telephony status callbacks land on whichever worker the load
// balancer picks; when that worker does not hold the session, the signal is
// parked in the shared store and the owning worker's poll picks it up.
type Coordinator struct {
	store  store.Client
	local  func(callID string) bool
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]Handler
}

// New builds a coordinator. local reports whether this worker holds the
// session for a call id.
func New(st store.Client, local func(callID string) bool) *Coordinator {
	return &Coordinator{
		store:    st,
		local:    local,
		ttl:      defaultFlagTTL,
		logger:   logging.NewComponentLogger(slog.Default(), "coordinator"),
		handlers: make(map[string]Handler),
	}
}

// Handle registers the reaction for a flag on calls this worker owns.
func (c *Coordinator) Handle(flag string, h Handler) {
	c.mu.Lock()
	c.handlers[flag] = h
	c.mu.Unlock()
}

// Publish delivers a signal for a call. A locally held session is handled in
// process; otherwise the flag goes to the shared store with a TTL so signals
// for dead calls age out instead of leaking.
func (c *Coordinator) Publish(ctx context.Context, callID, flag string) error {
	if c.local != nil && c.local(callID) {
		c.apply(ctx, callID, flag)
		return nil
	}
	c.logger.Debug("publishing remote flag",
		slog.String("call_id", callID),
		slog.String("flag", flag))
	return c.store.SetFlag(ctx, callID, flag, c.ttl)
}

// Poll consumes and applies every registered flag pending for a call. Consume
// is an atomic read-and-delete, so concurrent polls across workers apply each
// publication at most once.
func (c *Coordinator) Poll(ctx context.Context, callID string) {
	c.mu.Lock()
	flags := make([]string, 0, len(c.handlers))
	for flag := range c.handlers {
		flags = append(flags, flag)
	}
	c.mu.Unlock()

	for _, flag := range flags {
		ok, err := c.store.ConsumeFlag(ctx, callID, flag)
		if err != nil {
			c.logger.Warn("flag poll failed",
				slog.String("call_id", callID),
				slog.String("flag", flag),
				slog.String("error", err.Error()))
			continue
		}
		if !ok {
			continue
		}
		c.logger.Info("consumed remote flag",
			slog.String("call_id", callID),
			slog.String("flag", flag))
		c.apply(ctx, callID, flag)
	}
}

func (c *Coordinator) apply(ctx context.Context, callID, flag string) {
	c.mu.Lock()
	h := c.handlers[flag]
	c.mu.Unlock()
	if h == nil {
		c.logger.Debug("no handler for flag",
			slog.String("call_id", callID),
			slog.String("flag", flag))
		return
	}
	h(ctx, callID)
}
