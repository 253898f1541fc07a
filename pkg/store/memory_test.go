package store

import (
	"context"
	"testing"
	"time"
)

func TestConsumeFlagOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.SetFlag(ctx, "CA123", "audio_done", time.Second); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	// Publishing twice must still yield a single consumption.
	if err := m.SetFlag(ctx, "CA123", "audio_done", time.Second); err != nil {
		t.Fatalf("set flag again: %v", err)
	}

	ok, err := m.ConsumeFlag(ctx, "CA123", "audio_done")
	if err != nil || !ok {
		t.Fatalf("expected first consume to hit, got ok=%v err=%v", ok, err)
	}
	ok, err = m.ConsumeFlag(ctx, "CA123", "audio_done")
	if err != nil || ok {
		t.Fatalf("expected second consume to miss, got ok=%v err=%v", ok, err)
	}
}

func TestConsumeAbsentIsNoop(t *testing.T) {
	m := NewMemory()
	ok, err := m.ConsumeFlag(context.Background(), "CA999", "never_set")
	if err != nil {
		t.Fatalf("consume absent: %v", err)
	}
	if ok {
		t.Fatal("absent flag must not report a hit")
	}
}

func TestFlagExpiry(t *testing.T) {
	m := NewMemory()
	base := time.Now()
	clock := base
	m.SetClock(func() time.Time { return clock })

	if err := m.SetFlag(context.Background(), "CA123", "hangup", 10*time.Second); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	clock = base.Add(11 * time.Second)
	ok, err := m.ConsumeFlag(context.Background(), "CA123", "hangup")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ok {
		t.Fatal("expired flag must not be consumable")
	}
}

func TestProgressCounter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		n, err := m.IncrProgress(ctx, "CA123", time.Minute)
		if err != nil {
			t.Fatalf("incr: %v", err)
		}
		if n != want {
			t.Fatalf("expected counter %d, got %d", want, n)
		}
	}
}

func TestCallMeta(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if err := m.SetCallMeta(ctx, "CA123", "from_number", "+15550109999", time.Minute); err != nil {
		t.Fatalf("set meta: %v", err)
	}
	v, err := m.GetCallMeta(ctx, "CA123", "from_number")
	if err != nil {
		t.Fatalf("get meta: %v", err)
	}
	if v != "+15550109999" {
		t.Fatalf("expected stored number, got %q", v)
	}
	v, err = m.GetCallMeta(ctx, "CA123", "missing")
	if err != nil || v != "" {
		t.Fatalf("absent field must read empty, got %q err=%v", v, err)
	}
}
