package workflow

import (
	"context"
	"sync/atomic"
)

// CancelFlag is a cooperative cancellation signal shared between a
// workflow execution and whoever may cancel it (e.g. the operation
// manager handling a cancel request). Unlike context cancellation (which
// tears down in-flight I/O immediately), the flag is only checked at step
// boundaries: an already-running step's network call is allowed to
// finish, but its output is discarded and the workflow stops before the
// next step starts.
type CancelFlag struct {
	set atomic.Bool
}

// Cancel marks the flag. Safe to call from any goroutine, any number of
// times.
func (f *CancelFlag) Cancel() {
	f.set.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (f *CancelFlag) Cancelled() bool {
	return f.set.Load()
}

// cancelFlagKey is the context key under which a CancelFlag travels.
type cancelFlagKey struct{}

// WithCancelFlag returns a context carrying flag, so every step boundary
// inside Execute observes a Cancel from another goroutine.
func WithCancelFlag(ctx context.Context, flag *CancelFlag) context.Context {
	return context.WithValue(ctx, cancelFlagKey{}, flag)
}

// IsCancelled reports whether ctx carries a cancellation flag that has
// been set. A context with no flag attached is never considered
// cancelled by this mechanism (ctx.Err() still governs ordinary
// deadline/cancel behavior independently).
func IsCancelled(ctx context.Context) bool {
	flag, ok := ctx.Value(cancelFlagKey{}).(*CancelFlag)
	return ok && flag != nil && flag.Cancelled()
}
