package provider

import (
	"context"
	"sync"
)

// CallOutcome records how a tool call ended. Handlers report failures as
// error results rather than Go errors, so the outcome is how middleware learns
// why a call failed.
type CallOutcome struct {
	mu      sync.Mutex
	err     error
	invalid bool
}

type callOutcomeContextKey struct{}

// WithCallOutcome returns a context carrying a fresh outcome.
func WithCallOutcome(ctx context.Context) (context.Context, *CallOutcome) {
	o := &CallOutcome{}
	return context.WithValue(ctx, callOutcomeContextKey{}, o), o
}

// Err returns the error the call failed with, if any.
func (o *CallOutcome) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Invalid reports whether the call was rejected before reaching the upstream
// because of its arguments.
func (o *CallOutcome) Invalid() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.invalid
}

func recordOutcome(ctx context.Context, err error, invalid bool) {
	o, ok := ctx.Value(callOutcomeContextKey{}).(*CallOutcome)
	if !ok {
		return
	}
	o.mu.Lock()
	o.err = err
	o.invalid = invalid
	o.mu.Unlock()
}
