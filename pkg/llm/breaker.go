package llm

import (
	"context"
	"errors"

	"github.com/Radicalscale/virevo-sub005/pkg/metrics"
	"github.com/Radicalscale/virevo-sub005/pkg/resilience"
)

// ErrBreakerOpen is returned while the circuit is open; callers fall back the
// same way they do for any other model failure.
var ErrBreakerOpen = errors.New("llm circuit open")

// BreakerAdapter wraps an Adapter with a rate-limit circuit breaker. Repeated
// 429s open the circuit and fail calls immediately for the cooldown, instead
// of burning the per-turn latency budget on requests the vendor will refuse.
type BreakerAdapter struct {
	inner    Adapter
	breaker  *resilience.CircuitBreaker
	observer metrics.Observer
}

func NewBreakerAdapter(inner Adapter, breaker *resilience.CircuitBreaker) *BreakerAdapter {
	b := &BreakerAdapter{inner: inner, breaker: breaker, observer: metrics.NoopObserver{}}
	breaker.OnStateChange(func(open bool) {
		name := metrics.EventBreakerClose
		if open {
			name = metrics.EventBreakerOpen
		}
		b.observer.RecordEvent(metrics.MetricsEvent{
			Name: name,
			Tags: map[string]string{"adapter": inner.Name()},
		})
	})
	return b
}

// SetObserver routes breaker open/close/denied events to obs. Call it before
// the adapter serves traffic.
func (b *BreakerAdapter) SetObserver(obs metrics.Observer) {
	if obs != nil {
		b.observer = obs
	}
}

func (b *BreakerAdapter) Name() string { return b.inner.Name() }

func (b *BreakerAdapter) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	if !b.breaker.Allow() {
		b.recordDenied()
		return GenerateResponse{}, ErrBreakerOpen
	}
	resp, err := b.inner.Generate(ctx, req)
	if err != nil {
		b.breaker.OnError(err)
		return GenerateResponse{}, err
	}
	b.breaker.OnSuccess()
	return resp, nil
}

func (b *BreakerAdapter) Choose(ctx context.Context, req ChooseRequest) (int, error) {
	if !b.breaker.Allow() {
		b.recordDenied()
		return 0, ErrBreakerOpen
	}
	idx, err := b.inner.Choose(ctx, req)
	if err != nil {
		b.breaker.OnError(err)
		return 0, err
	}
	b.breaker.OnSuccess()
	return idx, nil
}

func (b *BreakerAdapter) recordDenied() {
	b.observer.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventBreakerDenied,
		Tags: map[string]string{"adapter": b.inner.Name()},
	})
}

var _ Adapter = (*BreakerAdapter)(nil)
