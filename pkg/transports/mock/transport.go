package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Radicalscale/virevo-sub005/pkg/frames"
)

// Transport is an in-memory transport for tests and local runs. Push injects
// what a caller would produce; Sent exposes what would go back down the wire.
type Transport struct {
	recvCh chan frames.Frame
	sentCh chan frames.Frame
	closed atomic.Bool
	mu     sync.Mutex

	dialed  []string
	hangups []string
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan frames.Frame, 256),
		sentCh: make(chan frames.Frame, 256),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		t.mu.Lock()
		close(t.recvCh)
		close(t.sentCh)
		t.mu.Unlock()
	}
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

func (t *Transport) Send(f frames.Frame) error {
	if t.closed.Load() {
		return nil
	}
	select {
	case t.sentCh <- f:
	default:
	}
	return nil
}

// Push injects an inbound frame into the transport.
func (t *Transport) Push(f frames.Frame) {
	if t.closed.Load() {
		return
	}
	select {
	case t.recvCh <- f:
	default:
	}
}

// Sent exposes outbound frames for inspection.
func (t *Transport) Sent() <-chan frames.Frame { return t.sentCh }

func (t *Transport) Dial(_ context.Context, to, _, _ string) (string, error) {
	t.mu.Lock()
	t.dialed = append(t.dialed, to)
	t.mu.Unlock()
	return "CA-mock-" + to, nil
}

func (t *Transport) Hangup(_ context.Context, callID string) error {
	t.mu.Lock()
	t.hangups = append(t.hangups, callID)
	t.mu.Unlock()
	return nil
}

func (t *Transport) Hangups() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.hangups...)
}
