package coordinator

import (
	"context"
	"testing"

	"github.com/Radicalscale/virevo-sub005/pkg/store"
)

func TestLocalSessionAppliesInProcess(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	applied := 0
	c := New(st, func(callID string) bool { return callID == "CA1" })
	c.Handle(FlagAudioDone, func(context.Context, string) { applied++ })

	if err := c.Publish(context.Background(), "CA1", FlagAudioDone); err != nil {
		t.Fatal(err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
	// Nothing should have been parked in the store.
	ok, err := st.ConsumeFlag(context.Background(), "CA1", FlagAudioDone)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("local publish must not write the store")
	}
}

func TestRemoteSessionGoesThroughStore(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	// Worker A does not hold the session.
	a := New(st, func(string) bool { return false })
	if err := a.Publish(context.Background(), "CA2", FlagHangup); err != nil {
		t.Fatal(err)
	}

	// Worker B does, and polls.
	applied := 0
	b := New(st, func(string) bool { return true })
	b.Handle(FlagHangup, func(context.Context, string) { applied++ })
	b.Poll(context.Background(), "CA2")
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}

	// Second poll must be a no-op: the consume deleted the flag.
	b.Poll(context.Background(), "CA2")
	if applied != 1 {
		t.Fatalf("flag applied twice: %d", applied)
	}
}

func TestPollSkipsUnpublishedFlags(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	applied := map[string]int{}
	c := New(st, func(string) bool { return true })
	c.Handle(FlagAudioDone, func(_ context.Context, id string) { applied[FlagAudioDone]++ })
	c.Handle(FlagHangup, func(_ context.Context, id string) { applied[FlagHangup]++ })

	if err := st.SetFlag(context.Background(), "CA3", FlagAudioDone, 0); err != nil {
		t.Fatal(err)
	}
	c.Poll(context.Background(), "CA3")

	if applied[FlagAudioDone] != 1 || applied[FlagHangup] != 0 {
		t.Fatalf("applied = %v", applied)
	}
}

func TestUnhandledFlagIsDroppedQuietly(t *testing.T) {
	st := store.NewMemory()
	defer st.Close()

	c := New(st, func(string) bool { return true })
	// No handler registered; Publish must not panic.
	if err := c.Publish(context.Background(), "CA4", FlagInterrupt); err != nil {
		t.Fatal(err)
	}
}
