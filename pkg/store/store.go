// Package store wraps the external key/value store used for cross-process
// call state: short-lived flags, playback-progress counters, and call
// metadata with expiry. Absence of a key is a normal, expected state.
package store

import (
	"context"
	"fmt"
	"time"
)

// Client is the typed surface the rest of the engine depends on. The Redis
// implementation backs multi-worker deployments; Memory backs tests and
// single-process runs.
type Client interface {
	// SetFlag publishes a namespaced flag with the given expiry.
	SetFlag(ctx context.Context, callID, name string, ttl time.Duration) error
	// ConsumeFlag atomically reads and deletes a flag. Returns false with a
	// nil error when the flag is absent; consuming twice yields one true.
	ConsumeFlag(ctx context.Context, callID, name string) (bool, error)
	// IncrProgress advances the playback-progress counter for a call.
	IncrProgress(ctx context.Context, callID string, ttl time.Duration) (int64, error)
	// SetCallMeta stores a metadata field for a call with expiry.
	SetCallMeta(ctx context.Context, callID, field, value string, ttl time.Duration) error
	// GetCallMeta reads a metadata field; empty string when absent.
	GetCallMeta(ctx context.Context, callID, field string) (string, error)
	Close() error
}

func flagKey(callID, name string) string {
	return fmt.Sprintf("flag:%s:%s", callID, name)
}

func progressKey(callID string) string {
	return fmt.Sprintf("progress:%s", callID)
}

func metaKey(callID, field string) string {
	return fmt.Sprintf("call:%s:%s", callID, field)
}
